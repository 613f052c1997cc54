package worker

import (
	"context"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/warehouse-ops/pipeline/internal/bus"
	"github.com/warehouse-ops/pipeline/internal/event"
	"github.com/warehouse-ops/pipeline/internal/metrics"
)

// Storer is the slice of the storage manager the sink needs.
type Storer interface {
	BatchStore(ctx context.Context, records []event.Record, dataType string) map[string]bool
}

// Sink consumes finished records from the storage topics and lands them in
// the analytical backends. Offsets commit after dispatch; a backend that is
// down loses its copy rather than stalling the bus.
type Sink struct {
	id       string
	consumer Fetcher
	store    Storer
	met      *metrics.Metrics

	batchSize int
	batchWait time.Duration
}

type SinkOptions struct {
	ID        string
	Consumer  Fetcher
	Store     Storer
	Metrics   *metrics.Metrics
	BatchSize int
	BatchWait time.Duration
}

func NewSink(opts SinkOptions) *Sink {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.BatchWait <= 0 {
		opts.BatchWait = defaultBatchWait
	}
	return &Sink{
		id:        opts.ID,
		consumer:  opts.Consumer,
		store:     opts.Store,
		met:       opts.Metrics,
		batchSize: opts.BatchSize,
		batchWait: opts.BatchWait,
	}
}

func (s *Sink) ID() string { return s.id }

func (s *Sink) Run(ctx context.Context) {
	if s.met != nil {
		s.met.ActiveConsumers.WithLabelValues("storage_sink").Inc()
		defer s.met.ActiveConsumers.WithLabelValues("storage_sink").Dec()
	}
	log.Printf("worker: %s started", s.id)

	for {
		select {
		case <-ctx.Done():
			log.Printf("worker: %s stopping", s.id)
			return
		default:
		}

		batch, err := s.consumer.FetchBatch(ctx, s.batchSize, s.batchWait)
		if err != nil {
			log.Printf("worker: %s fetch: %v", s.id, err)
			continue
		}
		if len(batch) == 0 {
			continue
		}

		s.handleBatch(ctx, batch)

		if err := s.consumer.Commit(ctx, batch...); err != nil {
			log.Printf("worker: %s commit: %v", s.id, err)
		}
	}
}

func (s *Sink) handleBatch(ctx context.Context, batch []kafka.Message) {
	records := make([]event.Record, 0, len(batch))
	for _, msg := range batch {
		rec, err := bus.Decode(msg)
		if err != nil {
			s.count(msg.Topic, "error")
			log.Printf("worker: %s drop undecodable message at %s[%d]@%d: %v", s.id, msg.Topic, msg.Partition, msg.Offset, err)
			continue
		}
		if rec.String("source_topic") == "" {
			rec["source_topic"] = msg.Topic
		}
		records = append(records, rec)
		s.count(msg.Topic, "success")
	}
	if len(records) == 0 {
		return
	}

	results := s.store.BatchStore(ctx, records, "")
	for backend, ok := range results {
		if !ok {
			log.Printf("worker: %s batch write to %s failed", s.id, backend)
		}
	}
}

func (s *Sink) count(topic, status string) {
	if s.met != nil {
		s.met.MessagesProcessed.WithLabelValues(topic, status).Inc()
	}
}
