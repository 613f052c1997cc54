package worker

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/warehouse-ops/pipeline/internal/alerting"
	"github.com/warehouse-ops/pipeline/internal/bus"
	"github.com/warehouse-ops/pipeline/internal/event"
	"github.com/warehouse-ops/pipeline/internal/metrics"
)

// AlertManager is the slice of the alerting manager the alert worker drives.
type AlertManager interface {
	Create(ctx context.Context, id, title, description string, severity alerting.Severity, source string, metadata event.Record) *alerting.Alert
	EvaluateRules(ctx context.Context, data event.Record) []*alerting.Alert
}

// Alerts consumes the alerts topic and turns detector payloads into managed
// alerts: dedup, severity gating and channel fan-out all happen in the
// alerting manager. Records the manager itself re-emitted are skipped to
// keep the loop from feeding back.
type Alerts struct {
	id       string
	consumer Fetcher
	alerts   AlertManager
	met      *metrics.Metrics

	batchSize int
	batchWait time.Duration
}

type AlertsOptions struct {
	ID        string
	Consumer  Fetcher
	Alerts    AlertManager
	Metrics   *metrics.Metrics
	BatchSize int
	BatchWait time.Duration
}

func NewAlerts(opts AlertsOptions) *Alerts {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.BatchWait <= 0 {
		opts.BatchWait = defaultBatchWait
	}
	return &Alerts{
		id:        opts.ID,
		consumer:  opts.Consumer,
		alerts:    opts.Alerts,
		met:       opts.Metrics,
		batchSize: opts.BatchSize,
		batchWait: opts.BatchWait,
	}
}

func (a *Alerts) ID() string { return a.id }

func (a *Alerts) Run(ctx context.Context) {
	if a.met != nil {
		a.met.ActiveConsumers.WithLabelValues("alerting").Inc()
		defer a.met.ActiveConsumers.WithLabelValues("alerting").Dec()
	}
	log.Printf("worker: %s started", a.id)

	for {
		select {
		case <-ctx.Done():
			log.Printf("worker: %s stopping", a.id)
			return
		default:
		}

		batch, err := a.consumer.FetchBatch(ctx, a.batchSize, a.batchWait)
		if err != nil {
			log.Printf("worker: %s fetch: %v", a.id, err)
			continue
		}
		if len(batch) == 0 {
			continue
		}

		a.handleBatch(ctx, batch)

		if err := a.consumer.Commit(ctx, batch...); err != nil {
			log.Printf("worker: %s commit: %v", a.id, err)
		}
	}
}

func (a *Alerts) handleBatch(ctx context.Context, batch []kafka.Message) {
	for _, msg := range batch {
		rec, err := bus.Decode(msg)
		if err != nil {
			a.count(msg.Topic, "error")
			log.Printf("worker: %s drop undecodable message at %s[%d]@%d: %v", a.id, msg.Topic, msg.Partition, msg.Offset, err)
			continue
		}
		// already-managed alerts re-emitted by the manager carry alert_id
		if rec.String("alert_id") != "" {
			continue
		}

		if rec.String("type") == "inventory_anomaly" {
			a.createFromAnomaly(ctx, rec)
		}
		a.alerts.EvaluateRules(ctx, rec)
		a.count(msg.Topic, "success")
	}
}

// createFromAnomaly derives a stable alert id from the anomaly type and the
// item, so a detector firing repeatedly on the same item dedups until the
// alert is resolved.
func (a *Alerts) createFromAnomaly(ctx context.Context, rec event.Record) {
	anomalyType := rec.String("anomaly_type")
	itemID := rec.String("item_id")
	confidence, _ := rec.Float("confidence")

	a.alerts.Create(ctx,
		fmt.Sprintf("anomaly_%s_%s", anomalyType, itemID),
		fmt.Sprintf("Inventory anomaly: %s", strings.ReplaceAll(anomalyType, "_", " ")),
		fmt.Sprintf("Detector flagged %s on item %s with confidence %.2f", anomalyType, itemID, confidence),
		alertSeverity(rec.String("severity")),
		"anomaly_detector",
		rec.Clone(),
	)
}

// alertSeverity maps detector severities onto the alert scale. The
// high-confidence alert rule escalates further to critical.
func alertSeverity(detectorSeverity string) alerting.Severity {
	switch detectorSeverity {
	case "high":
		return alerting.SeverityError
	case "medium":
		return alerting.SeverityWarning
	default:
		return alerting.SeverityInfo
	}
}

func (a *Alerts) count(topic, status string) {
	if a.met != nil {
		a.met.MessagesProcessed.WithLabelValues(topic, status).Inc()
	}
}
