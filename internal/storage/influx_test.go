package storage

import (
	"context"
	"testing"
	"time"

	"github.com/warehouse-ops/pipeline/internal/event"
)

func pointFields(a *InfluxAdapter, record event.Record) map[string]any {
	fields := map[string]any{}
	for _, f := range a.point(record).FieldList() {
		fields[f.Key] = f.Value
	}
	return fields
}

func pointTags(a *InfluxAdapter, record event.Record) map[string]string {
	tags := map[string]string{}
	for _, tag := range a.point(record).TagList() {
		tags[tag.Key] = tag.Value
	}
	return tags
}

func TestInfluxPoint_MeasurementInference(t *testing.T) {
	a := NewInfluxAdapter(InfluxConfig{})

	cases := []struct {
		record event.Record
		want   string
	}{
		{event.Record{"measurement": "custom"}, "custom"},
		{event.Record{"event_type": "stock_in"}, "stock_in"},
		{event.Record{"metric_name": "latency"}, "latency"},
		{event.Record{}, "warehouse_metric"},
	}
	for _, c := range cases {
		if got := a.point(c.record).Name(); got != c.want {
			t.Errorf("measurement for %v = %q, want %q", c.record, got, c.want)
		}
	}
}

func TestInfluxPoint_TagsAndFields(t *testing.T) {
	a := NewInfluxAdapter(InfluxConfig{})

	record := event.Record{
		"event_type":  "inventory",
		"location_id": "L1",
		"severity":    "high",
		"tags":        map[string]any{"region": "eu"},
		"fields":      map[string]any{"custom": 3.5},
		"quantity":    50.0,
		"confidence_score": 0.9,
		"notes":       "not promoted",
	}

	tags := pointTags(a, record)
	if tags["event_type"] != "inventory" || tags["location_id"] != "L1" || tags["severity"] != "high" {
		t.Errorf("missing promoted tags: %v", tags)
	}
	if tags["region"] != "eu" {
		t.Errorf("explicit tags map not applied: %v", tags)
	}
	if _, ok := tags["notes"]; ok {
		t.Error("non-indexed field must not become a tag")
	}

	fields := pointFields(a, record)
	if fields["quantity"] != 50.0 || fields["confidence_score"] != 0.9 {
		t.Errorf("numeric allow-list fields missing: %v", fields)
	}
	if fields["custom"] != 3.5 {
		t.Errorf("explicit fields map not applied: %v", fields)
	}
	if _, ok := fields["event_count"]; ok {
		t.Error("default field must not be added when real fields exist")
	}
}

func TestInfluxPoint_DefaultEventCount(t *testing.T) {
	a := NewInfluxAdapter(InfluxConfig{})

	fields := pointFields(a, event.Record{"event_type": "heartbeat"})
	if len(fields) != 1 {
		t.Fatalf("expected only the default field, got %v", fields)
	}
	if _, ok := fields["event_count"]; !ok {
		t.Errorf("expected event_count default, got %v", fields)
	}
}

func TestInfluxPoint_Timestamp(t *testing.T) {
	a := NewInfluxAdapter(InfluxConfig{})
	a.now = func() time.Time { return time.Date(2024, 3, 11, 12, 0, 0, 0, time.UTC) }

	at := a.point(event.Record{"timestamp": "2024-03-11T10:00:00Z"}).Time()
	if !at.Equal(time.Date(2024, 3, 11, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("expected parsed timestamp, got %v", at)
	}

	fallback := a.point(event.Record{}).Time()
	if !fallback.Equal(time.Date(2024, 3, 11, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("expected now() fallback, got %v", fallback)
	}
}

func TestInfluxBatchStore_NotConnected(t *testing.T) {
	a := NewInfluxAdapter(InfluxConfig{})
	err := a.BatchStore(context.Background(), []event.Record{{}})
	if _, ok := err.(*ConnectionError); !ok {
		t.Fatalf("expected ConnectionError, got %T: %v", err, err)
	}
}
