// Package pipeline supervises the worker loops and reports overall health.
package pipeline

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/warehouse-ops/pipeline/internal/event"
)

const (
	healthInterval      = 30 * time.Second
	healthRetryInterval = 60 * time.Second
	healthSnapshotKey   = "pipeline:health"
	healthSnapshotTTL   = 5 * time.Minute
	workerStopTimeout   = 10 * time.Second
)

// Worker is a run-until-cancelled consumer loop.
type Worker interface {
	ID() string
	Run(ctx context.Context)
}

// BackendChecker reports per-backend storage health.
type BackendChecker interface {
	HealthCheckAll(ctx context.Context) map[string]bool
}

// Manager starts the workers, runs the periodic health check and handles
// graceful shutdown.
type Manager struct {
	workers  []Worker
	backends BackendChecker
	rdb      *redis.Client

	checkInterval time.Duration
	retryInterval time.Duration
	stopTimeout   time.Duration
	now           func() time.Time

	mu         sync.RWMutex
	lastHealth event.Record

	cancel context.CancelFunc
	done   chan struct{}
}

type ManagerOptions struct {
	Workers []Worker
	// Backends is optional; without it health reports workers only.
	Backends BackendChecker
	// Redis is optional; without it health snapshots stay in-process.
	Redis *redis.Client
}

func NewManager(opts ManagerOptions) *Manager {
	return &Manager{
		workers:       opts.Workers,
		backends:      opts.Backends,
		rdb:           opts.Redis,
		checkInterval: healthInterval,
		retryInterval: healthRetryInterval,
		stopTimeout:   workerStopTimeout,
		now:           time.Now,
	}
}

// Start launches every worker and the health loop. It returns immediately;
// use Stop to shut down.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	var wg sync.WaitGroup
	for _, w := range m.workers {
		wg.Add(1)
		go func(w Worker) {
			defer wg.Done()
			w.Run(ctx)
		}(w)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		m.healthLoop(ctx)
	}()

	go func() {
		wg.Wait()
		close(m.done)
	}()

	log.Printf("pipeline: started %d workers", len(m.workers))
}

// Stop cancels the workers and waits for them to drain, bounded by the stop
// timeout per worker.
func (m *Manager) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()

	limit := time.Duration(len(m.workers)+1) * m.stopTimeout
	select {
	case <-m.done:
		log.Print("pipeline: all workers stopped")
	case <-time.After(limit):
		log.Printf("pipeline: shutdown timed out after %s", limit)
	}
}

// healthLoop checks backend health on a fixed interval, backing off to the
// retry interval after a degraded check so a flapping backend is not
// hammered.
func (m *Manager) healthLoop(ctx context.Context) {
	timer := time.NewTimer(m.checkInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		healthy := m.checkOnce(ctx)
		next := m.checkInterval
		if !healthy {
			next = m.retryInterval
		}
		timer.Reset(next)
	}
}

func (m *Manager) checkOnce(ctx context.Context) bool {
	snapshot := event.Record{
		"timestamp": m.now().UTC().Format(time.RFC3339),
		"workers":   len(m.workers),
	}

	healthy := true
	if m.backends != nil {
		backends := m.backends.HealthCheckAll(ctx)
		statuses := event.Record{}
		for name, ok := range backends {
			statuses[name] = ok
			if !ok {
				healthy = false
				log.Printf("pipeline: backend %s unhealthy", name)
			}
		}
		snapshot["backends"] = statuses
	}
	if healthy {
		snapshot["status"] = "healthy"
	} else {
		snapshot["status"] = "degraded"
	}

	m.mu.Lock()
	m.lastHealth = snapshot
	m.mu.Unlock()

	m.cacheHealth(ctx, snapshot)
	return healthy
}

func (m *Manager) cacheHealth(ctx context.Context, snapshot event.Record) {
	if m.rdb == nil {
		return
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		log.Printf("pipeline: marshal health snapshot: %v", err)
		return
	}
	if err := m.rdb.Set(ctx, healthSnapshotKey, payload, healthSnapshotTTL).Err(); err != nil {
		log.Printf("pipeline: cache health snapshot: %v", err)
	}
}

// Health returns the most recent health snapshot, running a check first if
// none has completed yet.
func (m *Manager) Health(ctx context.Context) event.Record {
	m.mu.RLock()
	last := m.lastHealth
	m.mu.RUnlock()
	if last != nil {
		return last
	}

	m.checkOnce(ctx)
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastHealth
}
