// Package worker runs the consume-process-produce loops: the processing
// worker that turns raw warehouse events into enriched output, and the
// storage sink that lands finished records in the analytical backends.
package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/warehouse-ops/pipeline/internal/aggregate"
	"github.com/warehouse-ops/pipeline/internal/anomaly"
	"github.com/warehouse-ops/pipeline/internal/bus"
	"github.com/warehouse-ops/pipeline/internal/enrich"
	"github.com/warehouse-ops/pipeline/internal/event"
	"github.com/warehouse-ops/pipeline/internal/metrics"
	"github.com/warehouse-ops/pipeline/internal/process"
)

const (
	defaultBatchSize = 100
	defaultBatchWait = time.Second
)

// Fetcher is the consumer side of the bus a worker polls.
type Fetcher interface {
	FetchBatch(ctx context.Context, max int, timeout time.Duration) ([]kafka.Message, error)
	Commit(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Sender is the producer side of the bus a worker writes to.
type Sender interface {
	Send(ctx context.Context, topic, key string, value any) error
}

// Processing consumes raw warehouse events, runs them through
// process/enrich/detect, produces the enriched records and an aggregated
// snapshot per batch, and commits offsets only after every produce
// confirmed.
type Processing struct {
	id         string
	consumer   Fetcher
	producer   Sender
	processor  *process.Processor
	enricher   *enrich.Enricher
	detector   *anomaly.Detector
	aggregator *aggregate.Aggregator
	met        *metrics.Metrics

	batchSize int
	batchWait time.Duration
}

type ProcessingOptions struct {
	ID         string
	Consumer   Fetcher
	Producer   Sender
	Processor  *process.Processor
	Enricher   *enrich.Enricher
	Detector   *anomaly.Detector
	Aggregator *aggregate.Aggregator
	Metrics    *metrics.Metrics
	BatchSize  int
	BatchWait  time.Duration
}

func NewProcessing(opts ProcessingOptions) *Processing {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.BatchWait <= 0 {
		opts.BatchWait = defaultBatchWait
	}
	return &Processing{
		id:         opts.ID,
		consumer:   opts.Consumer,
		producer:   opts.Producer,
		processor:  opts.Processor,
		enricher:   opts.Enricher,
		detector:   opts.Detector,
		aggregator: opts.Aggregator,
		met:        opts.Metrics,
		batchSize:  opts.BatchSize,
		batchWait:  opts.BatchWait,
	}
}

func (w *Processing) ID() string { return w.id }

// Run polls until the context is cancelled. A batch that fails on the
// produce side is retried on the next poll because its offsets are never
// committed.
func (w *Processing) Run(ctx context.Context) {
	if w.met != nil {
		w.met.ActiveConsumers.WithLabelValues("processing").Inc()
		defer w.met.ActiveConsumers.WithLabelValues("processing").Dec()
	}
	log.Printf("worker: %s started", w.id)

	for {
		select {
		case <-ctx.Done():
			log.Printf("worker: %s stopping", w.id)
			return
		default:
		}

		batch, err := w.consumer.FetchBatch(ctx, w.batchSize, w.batchWait)
		if err != nil {
			log.Printf("worker: %s fetch: %v", w.id, err)
			continue
		}
		if len(batch) == 0 {
			continue
		}
		if err := w.handleBatch(ctx, batch); err != nil {
			log.Printf("worker: %s batch not committed: %v", w.id, err)
			continue
		}
		if err := w.consumer.Commit(ctx, batch...); err != nil {
			log.Printf("worker: %s commit: %v", w.id, err)
		}
	}
}

// handleBatch processes every message and produces the results. Per-message
// decode and validation failures are dropped and counted; a produce failure
// aborts the batch so nothing gets committed.
func (w *Processing) handleBatch(ctx context.Context, batch []kafka.Message) error {
	var snapshot event.Record

	for _, msg := range batch {
		start := time.Now()

		out, err := w.handleMessage(ctx, msg)
		if err != nil {
			w.count(msg.Topic, "error")
			log.Printf("worker: %s drop message at %s[%d]@%d: %v", w.id, msg.Topic, msg.Partition, msg.Offset, err)
			continue
		}
		if out == nil {
			// produce failed, retry the whole batch
			w.count(msg.Topic, "error")
			return &produceError{topic: msg.Topic, offset: msg.Offset}
		}

		if w.aggregator != nil {
			snapshot = w.aggregator.Aggregate(ctx, out)
		}
		w.count(msg.Topic, "success")
		if w.met != nil {
			w.met.ProcessingTime.WithLabelValues(msg.Topic).Observe(time.Since(start).Seconds())
		}
	}

	if snapshot != nil {
		if err := w.producer.Send(ctx, bus.TopicAggregatedMetrics, w.id, snapshot); err != nil {
			return err
		}
	}
	return nil
}

// handleMessage returns (nil, err) for a drop, (nil, nil) for a produce
// failure and (record, nil) on success.
func (w *Processing) handleMessage(ctx context.Context, msg kafka.Message) (event.Record, error) {
	data, err := bus.Decode(msg)
	if err != nil {
		return nil, err
	}
	// the required-field invariant applies to inventory transactions only;
	// order, shipment, alert, audit and metric records pass through as-is
	if msg.Topic == bus.TopicInventory {
		if err := process.Validate(data); err != nil {
			return nil, err
		}
	}

	out := w.processor.Process(data, bus.MessageMetadata(msg))
	out = w.enricher.Enrich(ctx, out)

	result := w.detector.Detect(ctx, out)
	out["anomaly_detected"] = result.IsAnomaly
	if result.IsAnomaly {
		out["anomaly"] = result.AsRecord()
	}

	key := out.String("item_id")
	if key == "" {
		key = string(msg.Key)
	}
	if processed := bus.ProcessedTopic(msg.Topic); processed != "" {
		if err := w.producer.Send(ctx, processed, key, out); err != nil {
			log.Printf("worker: %s produce to %s: %v", w.id, processed, err)
			return nil, nil
		}
	}

	if result.IsAnomaly {
		timestamp, _ := out.Time("timestamp_parsed")
		alert := event.Record{
			"type":         "inventory_anomaly",
			"item_id":      key,
			"anomaly_type": result.Type,
			"confidence":   result.Confidence,
			"severity":     result.Severity,
			"details":      result.Details,
			"timestamp":    timestamp.UTC().Format(time.RFC3339),
		}
		if err := w.producer.Send(ctx, bus.TopicAlerts, key, alert); err != nil {
			log.Printf("worker: %s produce alert: %v", w.id, err)
			return nil, nil
		}
	}
	return out, nil
}

func (w *Processing) count(topic, status string) {
	if w.met != nil {
		w.met.MessagesProcessed.WithLabelValues(topic, status).Inc()
	}
}

type produceError struct {
	topic  string
	offset int64
}

func (e *produceError) Error() string {
	return fmt.Sprintf("produce failed for message %s@%d", e.topic, e.offset)
}
