package storage

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/warehouse-ops/pipeline/internal/event"
)

// Tags are the indexed dimensions; promoted from the record when present.
var influxTagFields = []string{
	"event_type", "topic", "source", "warehouse_zone", "location_id",
	"item_category", "action", "severity", "alert_type",
}

// Numeric fields promoted from the top level of the record.
var influxValueFields = []string{
	"quantity", "processing_time_ms", "anomaly_score", "confidence_score",
	"value", "count", "duration_ms", "error_count", "success_rate",
	"throughput", "latency_p95", "latency_p99",
}

type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// InfluxAdapter writes time-series points.
type InfluxAdapter struct {
	cfg      InfluxConfig
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	now      func() time.Time
}

func NewInfluxAdapter(cfg InfluxConfig) *InfluxAdapter {
	return &InfluxAdapter{cfg: cfg, now: time.Now}
}

func (a *InfluxAdapter) Connect(ctx context.Context) error {
	client := influxdb2.NewClient(a.cfg.URL, a.cfg.Token)

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return &ConnectionError{Backend: AdapterInfluxDB, Err: err}
	}
	if health.Status != "pass" {
		client.Close()
		return &ConnectionError{Backend: AdapterInfluxDB, Err: fmt.Errorf("health status %s", health.Status)}
	}

	a.client = client
	a.writeAPI = client.WriteAPIBlocking(a.cfg.Org, a.cfg.Bucket)
	return nil
}

func (a *InfluxAdapter) Disconnect(_ context.Context) error {
	if a.client != nil {
		a.client.Close()
		a.client = nil
		a.writeAPI = nil
	}
	return nil
}

func (a *InfluxAdapter) HealthCheck(ctx context.Context) bool {
	if a.client == nil {
		return false
	}
	health, err := a.client.Health(ctx)
	return err == nil && health.Status == "pass"
}

func (a *InfluxAdapter) Store(ctx context.Context, record event.Record) error {
	return a.BatchStore(ctx, []event.Record{record})
}

func (a *InfluxAdapter) BatchStore(ctx context.Context, records []event.Record) error {
	if a.writeAPI == nil {
		return &ConnectionError{Backend: AdapterInfluxDB, Err: fmt.Errorf("not connected")}
	}

	points := make([]*write.Point, 0, len(records))
	for _, record := range records {
		points = append(points, a.point(record))
	}
	if len(points) == 0 {
		return nil
	}
	if err := a.writeAPI.WritePoint(ctx, points...); err != nil {
		return &WriteError{Backend: AdapterInfluxDB, Err: err}
	}
	return nil
}

func (a *InfluxAdapter) point(record event.Record) *write.Point {
	measurement := record.String("measurement")
	if measurement == "" {
		measurement = record.String("event_type")
	}
	if measurement == "" {
		measurement = record.String("metric_name")
	}
	if measurement == "" {
		measurement = "warehouse_metric"
	}

	timestamp, ok := event.ParseTimestamp(record["timestamp"])
	if !ok {
		timestamp = a.now().UTC()
	}

	point := influxdb2.NewPointWithMeasurement(measurement).SetTime(timestamp)

	for key, value := range record.Map("tags") {
		if value != nil {
			point.AddTag(key, fmt.Sprintf("%v", value))
		}
	}
	for _, key := range influxTagFields {
		if value, ok := record[key]; ok && value != nil {
			point.AddTag(key, fmt.Sprintf("%v", value))
		}
	}

	fieldCount := 0
	for key, value := range record.Map("fields") {
		if value != nil {
			point.AddField(key, value)
			fieldCount++
		}
	}
	for _, key := range influxValueFields {
		if _, present := record[key]; !present {
			continue
		}
		if value, ok := record.Float(key); ok {
			point.AddField(key, value)
			fieldCount++
		}
	}

	// A point with no fields is rejected by the server.
	if fieldCount == 0 {
		point.AddField("event_count", 1)
	}
	return point
}
