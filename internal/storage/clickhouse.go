package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/warehouse-ops/pipeline/internal/event"
)

const (
	tableRawEvents          = "raw_events"
	tableInventoryMetrics   = "inventory_metrics"
	tableAlertEvents        = "alert_events"
	tablePerformanceMetrics = "performance_metrics"
)

type ClickHouseConfig struct {
	URL      string
	Username string
	Password string
	Database string
	Timeout  time.Duration
}

// ClickHouseAdapter speaks the HTTP interface directly: a ping endpoint for
// health and multi-row INSERT statements for writes.
type ClickHouseAdapter struct {
	cfg       ClickHouseConfig
	client    *http.Client
	connected bool
	now       func() time.Time
}

func NewClickHouseAdapter(cfg ClickHouseConfig) *ClickHouseAdapter {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &ClickHouseAdapter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		now:    time.Now,
	}
}

func (a *ClickHouseAdapter) Connect(ctx context.Context) error {
	if err := a.ping(ctx); err != nil {
		return &ConnectionError{Backend: AdapterClickHouse, Err: err}
	}

	query := fmt.Sprintf("SELECT 1 FROM system.databases WHERE name = '%s'", escapeString(a.cfg.Database))
	body, err := a.execute(ctx, query)
	if err != nil {
		return &ConnectionError{Backend: AdapterClickHouse, Err: err}
	}
	if strings.TrimSpace(body) == "" {
		return &ConnectionError{Backend: AdapterClickHouse, Err: fmt.Errorf("database %q not accessible", a.cfg.Database)}
	}

	a.connected = true
	return nil
}

func (a *ClickHouseAdapter) Disconnect(_ context.Context) error {
	a.connected = false
	a.client.CloseIdleConnections()
	return nil
}

func (a *ClickHouseAdapter) HealthCheck(ctx context.Context) bool {
	if !a.connected {
		return false
	}
	return a.ping(ctx) == nil
}

func (a *ClickHouseAdapter) Store(ctx context.Context, record event.Record) error {
	return a.BatchStore(ctx, []event.Record{record})
}

// BatchStore groups the records by target table and issues one multi-row
// INSERT per table.
func (a *ClickHouseAdapter) BatchStore(ctx context.Context, records []event.Record) error {
	if !a.connected {
		return &ConnectionError{Backend: AdapterClickHouse, Err: fmt.Errorf("not connected")}
	}
	if len(records) == 0 {
		return nil
	}

	tables := map[string][]event.Record{}
	for _, record := range records {
		table := tableFor(record)
		tables[table] = append(tables[table], record)
	}

	for table, group := range tables {
		var query string
		switch table {
		case tableRawEvents:
			query = a.rawEventsInsert(group)
		case tableAlertEvents:
			query = a.alertEventsInsert(group)
		case tablePerformanceMetrics:
			query = a.performanceMetricsInsert(group)
		case tableInventoryMetrics:
			query = a.inventoryMetricsInsert(group)
		}
		if _, err := a.execute(ctx, query); err != nil {
			return &WriteError{Backend: AdapterClickHouse, Err: fmt.Errorf("insert into %s: %w", table, err)}
		}
	}
	return nil
}

func (a *ClickHouseAdapter) ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.URL+"/ping", nil)
	if err != nil {
		return err
	}
	a.auth(req)
	res, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("ping returned %d", res.StatusCode)
	}
	return nil
}

func (a *ClickHouseAdapter) execute(ctx context.Context, query string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.URL, strings.NewReader(query))
	if err != nil {
		return "", err
	}
	a.auth(req)
	res, err := a.client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("query returned %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return string(body), nil
}

func (a *ClickHouseAdapter) auth(req *http.Request) {
	if a.cfg.Username != "" {
		req.SetBasicAuth(a.cfg.Username, a.cfg.Password)
	}
}

// tableFor mirrors the manager's inference but maps onto warehouse tables.
func tableFor(record event.Record) string {
	eventType := strings.ToLower(record.String("event_type"))
	if strings.Contains(eventType, "alert") || record.String("severity") != "" {
		return tableAlertEvents
	}
	if strings.Contains(eventType, "metric") || record.String("metric_name") != "" {
		return tablePerformanceMetrics
	}
	if strings.Contains(strings.ToLower(record.String("data_type")), "aggregated") {
		return tableInventoryMetrics
	}
	return tableRawEvents
}

func (a *ClickHouseAdapter) rawEventsInsert(records []event.Record) string {
	columns := []string{
		"event_id", "timestamp", "event_type", "topic", "partition", "offset",
		"source", "correlation_id", "user_id",
		"item_id", "action", "quantity", "location_id", "warehouse_zone", "item_category",
		"raw_data", "processing_timestamp",
	}

	rows := make([]string, 0, len(records))
	for _, record := range records {
		eventID := record.String("event_id")
		if eventID == "" {
			eventID = record.String("correlation_id")
		}
		quantity, _ := record.Float("quantity")
		raw, _ := json.Marshal(record)

		rows = append(rows, row(
			quoted(eventID),
			a.formatTimestamp(record["timestamp"]),
			quoted(defaulted(record.String("event_type"), "unknown")),
			quoted(record.String("topic")),
			formatValue(record["partition"]),
			formatValue(record["offset"]),
			quoted(record.String("source")),
			quoted(record.String("correlation_id")),
			quoted(record.String("user")),
			quoted(record.String("item_id")),
			quoted(record.String("action")),
			formatValue(quantity),
			quoted(record.String("location_id")),
			quoted(record.String("warehouse_zone")),
			quoted(record.String("item_category")),
			quoted(string(raw)),
			a.formatTimestamp(a.now().UTC()),
		))
	}
	return insertQuery(a.cfg.Database, tableRawEvents, columns, rows)
}

func (a *ClickHouseAdapter) alertEventsInsert(records []event.Record) string {
	columns := []string{
		"alert_id", "timestamp", "alert_type", "severity", "source",
		"title", "description", "confidence_score",
		"affected_item_id", "affected_location", "warehouse_zone",
		"resolved", "source_correlation_id",
	}

	rows := make([]string, 0, len(records))
	for _, record := range records {
		alertID := record.String("alert_id")
		if alertID == "" {
			alertID = record.String("correlation_id")
		}
		alertType := record.String("alert_type")
		if alertType == "" {
			alertType = record.String("anomaly_type")
		}
		if alertType == "" {
			alertType = record.String("event_type")
		}
		title := record.String("title")
		if title == "" {
			title = record.String("message")
		}
		confidence, _ := record.Float("confidence")
		if confidence == 0 {
			confidence, _ = record.Float("confidence_score")
		}

		rows = append(rows, row(
			quoted(alertID),
			a.formatTimestamp(record["timestamp"]),
			quoted(alertType),
			quoted(defaulted(record.String("severity"), "info")),
			quoted(record.String("source")),
			quoted(title),
			quoted(record.String("description")),
			formatValue(confidence),
			quoted(record.String("item_id")),
			quoted(record.String("location_id")),
			quoted(record.String("warehouse_zone")),
			"0",
			quoted(record.String("correlation_id")),
		))
	}
	return insertQuery(a.cfg.Database, tableAlertEvents, columns, rows)
}

func (a *ClickHouseAdapter) performanceMetricsInsert(records []event.Record) string {
	columns := []string{
		"timestamp", "metric_name", "metric_type", "service_name",
		"value", "count", "labels", "duration_ms",
	}

	rows := make([]string, 0, len(records))
	for _, record := range records {
		name := record.String("metric_name")
		if name == "" {
			name = record.String("name")
		}
		service := record.String("service_name")
		if service == "" {
			service = record.String("source")
		}
		value, _ := record.Float("value")
		count, ok := record.Float("count")
		if !ok {
			count = 1
		}
		labels, _ := json.Marshal(record.Map("labels"))

		rows = append(rows, row(
			a.formatTimestamp(record["timestamp"]),
			quoted(name),
			quoted(defaulted(record.String("metric_type"), "gauge")),
			quoted(service),
			formatValue(value),
			formatValue(count),
			quoted(string(labels)),
			formatValue(record["duration_ms"]),
		))
	}
	return insertQuery(a.cfg.Database, tablePerformanceMetrics, columns, rows)
}

func (a *ClickHouseAdapter) inventoryMetricsInsert(records []event.Record) string {
	columns := []string{
		"timestamp", "window", "transaction_count", "total_volume", "total_value",
		"unique_items", "unique_locations", "snapshot",
	}

	rows := make([]string, 0, len(records))
	for _, record := range records {
		summary := record.Map("window_metrics").Map("5min")
		transactions, _ := summary.Float("transaction_count")
		volume, _ := summary.Float("total_volume")
		value, _ := summary.Float("total_value")
		items, _ := summary.Float("unique_items")
		locations, _ := summary.Float("unique_locations")
		snapshot, _ := json.Marshal(record)

		rows = append(rows, row(
			a.formatTimestamp(record["timestamp"]),
			quoted("5min"),
			formatValue(transactions),
			formatValue(volume),
			formatValue(value),
			formatValue(items),
			formatValue(locations),
			quoted(string(snapshot)),
		))
	}
	return insertQuery(a.cfg.Database, tableInventoryMetrics, columns, rows)
}

func insertQuery(database, table string, columns, rows []string) string {
	return fmt.Sprintf("INSERT INTO %s.%s (%s) VALUES %s",
		database, table, strings.Join(columns, ", "), strings.Join(rows, ", "))
}

func row(values ...string) string {
	return "(" + strings.Join(values, ", ") + ")"
}

// formatTimestamp renders a DateTime64 literal at millisecond precision, or
// now64() when the value cannot be parsed.
func (a *ClickHouseAdapter) formatTimestamp(v any) string {
	ts, ok := event.ParseTimestamp(v)
	if !ok {
		return "now64()"
	}
	return "'" + ts.Format("2006-01-02 15:04:05.000") + "'"
}

func formatValue(v any) string {
	switch value := v.(type) {
	case nil:
		return "NULL"
	case string:
		return quoted(value)
	case bool:
		if value {
			return "1"
		}
		return "0"
	case float64:
		return fmt.Sprintf("%g", value)
	case float32:
		return fmt.Sprintf("%g", value)
	default:
		return fmt.Sprintf("%v", value)
	}
}

func quoted(s string) string {
	return "'" + escapeString(s) + "'"
}

func escapeString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "'", `\'`)
}

func defaulted(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
