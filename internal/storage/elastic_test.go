package storage

import (
	"testing"
	"time"

	"github.com/warehouse-ops/pipeline/internal/event"
)

func TestIndexName(t *testing.T) {
	cases := []struct {
		name   string
		record event.Record
		want   string
	}{
		{"alert event type", event.Record{"event_type": "alert"}, indexAlerts},
		{"error level", event.Record{"level": "error"}, indexAlerts},
		{"critical level", event.Record{"level": "CRITICAL"}, indexAlerts},
		{"alert key", event.Record{"alert": map[string]any{}}, indexAlerts},
		{"audit event type", event.Record{"event_type": "audit"}, indexAudit},
		{"audit source", event.Record{"source": "audit-service"}, indexAudit},
		{"plain log", event.Record{"level": "info", "message": "ok"}, indexLogs},
		{"bare record", event.Record{}, indexLogs},
	}
	for _, c := range cases {
		if got := indexName(c.record); got != c.want {
			t.Errorf("%s: indexName = %q, want %q", c.name, got, c.want)
		}
	}
}

func TestPrepareDocument(t *testing.T) {
	a := NewElasticAdapter(ElasticConfig{})
	a.now = func() time.Time { return time.Date(2024, 3, 11, 12, 0, 0, 0, time.UTC) }

	doc := a.prepareDocument(event.Record{
		"timestamp": "2024-03-11T10:00:00Z",
		"message":   "processed",
		"empty":     "",
		"missing":   nil,
		"level":     42,
		"offset":    "1234",
		"quantity":  "12.5",
	})

	if doc.String("@timestamp") != "2024-03-11T10:00:00Z" {
		t.Errorf("@timestamp: got %q", doc.String("@timestamp"))
	}
	if _, ok := doc["empty"]; ok {
		t.Error("empty string field should be stripped")
	}
	if _, ok := doc["missing"]; ok {
		t.Error("null field should be stripped")
	}
	if doc["level"] != "42" {
		t.Errorf("level should be coerced to string, got %T %v", doc["level"], doc["level"])
	}
	if doc["offset"] != int64(1234) {
		t.Errorf("offset should be coerced to integer, got %T %v", doc["offset"], doc["offset"])
	}
	if doc["quantity"] != 12.5 {
		t.Errorf("quantity should be coerced to float, got %T %v", doc["quantity"], doc["quantity"])
	}
}

func TestPrepareDocument_EpochTimestamp(t *testing.T) {
	a := NewElasticAdapter(ElasticConfig{})

	doc := a.prepareDocument(event.Record{"timestamp": 1705314600.0})
	if doc.String("@timestamp") != "2024-01-15T10:30:00Z" {
		t.Errorf("@timestamp from epoch: got %q", doc.String("@timestamp"))
	}
	if doc.String("timestamp") != "2024-01-15T10:30:00Z" {
		t.Errorf("numeric timestamp should be rewritten to ISO form, got %v", doc["timestamp"])
	}
}

func TestPrepareDocument_MissingTimestampUsesNow(t *testing.T) {
	a := NewElasticAdapter(ElasticConfig{})
	a.now = func() time.Time { return time.Date(2024, 3, 11, 12, 0, 0, 0, time.UTC) }

	doc := a.prepareDocument(event.Record{"message": "no timestamp"})
	if doc.String("@timestamp") != "2024-03-11T12:00:00Z" {
		t.Errorf("@timestamp fallback: got %q", doc.String("@timestamp"))
	}
}

func TestDocumentID(t *testing.T) {
	if id := documentID(event.Record{"id": "X", "correlation_id": "Y"}); id != "X" {
		t.Errorf("explicit id should win, got %q", id)
	}
	if id := documentID(event.Record{"correlation_id": "Y"}); id != "Y" {
		t.Errorf("correlation_id fallback, got %q", id)
	}
	if id := documentID(event.Record{}); id != "" {
		t.Errorf("no id should be empty, got %q", id)
	}
}
