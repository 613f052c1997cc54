package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/warehouse-ops/pipeline/internal/event"
)

const (
	indexLogs   = "warehouse-logs"
	indexAlerts = "warehouse-alerts"
	indexAudit  = "warehouse-audit"
)

// Coerced to strings so the index maps them as keywords.
var elasticKeywordFields = []string{
	"level", "logger", "topic", "action", "location_id", "user_id",
	"correlation_id", "source", "warehouse_zone", "item_category",
	"alert_type", "severity",
}

var elasticNumericFields = []string{
	"partition", "offset", "quantity", "processing_time_ms",
	"anomaly_score", "confidence_score",
}

type ElasticConfig struct {
	URL      string
	Username string
	Password string
}

// ElasticAdapter indexes documents for search.
type ElasticAdapter struct {
	cfg    ElasticConfig
	client *elasticsearch.Client
	now    func() time.Time
}

func NewElasticAdapter(cfg ElasticConfig) *ElasticAdapter {
	return &ElasticAdapter{cfg: cfg, now: time.Now}
}

func (a *ElasticAdapter) Connect(ctx context.Context) error {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{a.cfg.URL},
		Username:  a.cfg.Username,
		Password:  a.cfg.Password,
	})
	if err != nil {
		return &ConnectionError{Backend: AdapterElasticsearch, Err: err}
	}

	status, err := clusterStatus(ctx, client)
	if err != nil {
		return &ConnectionError{Backend: AdapterElasticsearch, Err: err}
	}
	if status == "red" {
		return &ConnectionError{Backend: AdapterElasticsearch, Err: fmt.Errorf("cluster status is red")}
	}

	a.client = client
	return nil
}

func (a *ElasticAdapter) Disconnect(_ context.Context) error {
	a.client = nil
	return nil
}

func (a *ElasticAdapter) HealthCheck(ctx context.Context) bool {
	if a.client == nil {
		return false
	}
	status, err := clusterStatus(ctx, a.client)
	if err != nil {
		return false
	}
	return status == "green" || status == "yellow"
}

func clusterStatus(ctx context.Context, client *elasticsearch.Client) (string, error) {
	res, err := client.Cluster.Health(client.Cluster.Health.WithContext(ctx))
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	if res.IsError() {
		return "", fmt.Errorf("cluster health: %s", res.Status())
	}
	var health struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(res.Body).Decode(&health); err != nil {
		return "", err
	}
	return health.Status, nil
}

func (a *ElasticAdapter) Store(ctx context.Context, record event.Record) error {
	return a.BatchStore(ctx, []event.Record{record})
}

// BatchStore bulk-indexes the records without waiting for refresh. Per
// document failures inside an accepted bulk request are logged, not raised.
func (a *ElasticAdapter) BatchStore(ctx context.Context, records []event.Record) error {
	if a.client == nil {
		return &ConnectionError{Backend: AdapterElasticsearch, Err: fmt.Errorf("not connected")}
	}
	if len(records) == 0 {
		return nil
	}

	var body bytes.Buffer
	for _, record := range records {
		action := map[string]any{"index": map[string]any{"_index": indexName(record)}}
		if id := documentID(record); id != "" {
			action["index"].(map[string]any)["_id"] = id
		}
		meta, err := json.Marshal(action)
		if err != nil {
			return &WriteError{Backend: AdapterElasticsearch, Err: err}
		}
		doc, err := json.Marshal(a.prepareDocument(record))
		if err != nil {
			return &WriteError{Backend: AdapterElasticsearch, Err: err}
		}
		body.Write(meta)
		body.WriteByte('\n')
		body.Write(doc)
		body.WriteByte('\n')
	}

	res, err := a.client.Bulk(bytes.NewReader(body.Bytes()),
		a.client.Bulk.WithContext(ctx),
		a.client.Bulk.WithRefresh("false"),
	)
	if err != nil {
		return &WriteError{Backend: AdapterElasticsearch, Err: err}
	}
	defer res.Body.Close()
	if res.IsError() {
		return &WriteError{Backend: AdapterElasticsearch, Err: fmt.Errorf("bulk request: %s", res.Status())}
	}

	var bulk struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Error any `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulk); err == nil && bulk.Errors {
		logged := 0
		for _, item := range bulk.Items {
			if op, ok := item["index"]; ok && op.Error != nil {
				log.Printf("storage: elasticsearch index error: %v", op.Error)
				logged++
				if logged >= 5 {
					break
				}
			}
		}
	}
	return nil
}

func documentID(record event.Record) string {
	if id := record.String("id"); id != "" {
		return id
	}
	return record.String("correlation_id")
}

// prepareDocument stamps @timestamp, strips nulls and empty strings, and
// coerces the declared keyword and numeric fields.
func (a *ElasticAdapter) prepareDocument(record event.Record) event.Record {
	doc := record.Clone()

	if _, ok := doc["@timestamp"]; !ok {
		if ts, ok := event.ParseTimestamp(doc["timestamp"]); ok {
			doc["@timestamp"] = ts.Format(time.RFC3339)
		} else {
			doc["@timestamp"] = a.now().UTC().Format(time.RFC3339)
		}
	}
	if raw, ok := doc["timestamp"]; ok {
		if _, isString := raw.(string); !isString {
			if ts, ok := event.ParseTimestamp(raw); ok {
				doc["timestamp"] = ts.Format(time.RFC3339)
			}
		}
	}

	for key, value := range doc {
		if value == nil || value == "" {
			delete(doc, key)
		}
	}

	for _, key := range elasticKeywordFields {
		if value, ok := doc[key]; ok {
			if _, isString := value.(string); !isString {
				doc[key] = fmt.Sprintf("%v", value)
			}
		}
	}
	for _, key := range elasticNumericFields {
		value, ok := doc[key].(string)
		if !ok {
			continue
		}
		if strings.Contains(value, ".") {
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				doc[key] = f
			}
		} else if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			doc[key] = n
		}
	}
	return doc
}

// indexName routes alerts and audit records to their own indices; anything
// else is a log document.
func indexName(record event.Record) string {
	eventType := strings.ToLower(record.String("event_type"))
	level := strings.ToLower(record.String("level"))

	if _, hasAlert := record["alert"]; eventType == "alert" || level == "error" || level == "critical" || hasAlert {
		return indexAlerts
	}
	if eventType == "audit" || strings.Contains(strings.ToLower(record.String("source")), "audit") {
		return indexAudit
	}
	return indexLogs
}
