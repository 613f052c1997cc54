package storage

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/warehouse-ops/pipeline/internal/event"
)

// Adapter names used in routing rules and result maps.
const (
	AdapterInfluxDB      = "influxdb"
	AdapterElasticsearch = "elasticsearch"
	AdapterClickHouse    = "clickhouse"
)

var defaultRoutes = map[string][]string{
	"metrics":     {AdapterInfluxDB},
	"logs":        {AdapterElasticsearch},
	"alerts":      {AdapterElasticsearch, AdapterClickHouse},
	"events":      {AdapterClickHouse},
	"aggregated":  {AdapterClickHouse},
	"performance": {AdapterInfluxDB, AdapterClickHouse},
}

// Manager routes records to adapters by data type. It never retries; the
// upstream at-least-once batch semantics handle redelivery.
type Manager struct {
	adapters map[string]Adapter
	routes   map[string][]string
}

func NewManager() *Manager {
	routes := make(map[string][]string, len(defaultRoutes))
	for k, v := range defaultRoutes {
		routes[k] = append([]string(nil), v...)
	}
	return &Manager{
		adapters: map[string]Adapter{},
		routes:   routes,
	}
}

// Register adds an adapter under the given name. Unregistered adapters
// referenced by a route report failure for every dispatch.
func (m *Manager) Register(name string, adapter Adapter) {
	m.adapters[name] = adapter
}

func (m *Manager) Adapters() []string {
	names := make([]string, 0, len(m.adapters))
	for name := range m.adapters {
		names = append(names, name)
	}
	return names
}

func (m *Manager) ConnectAll(ctx context.Context) map[string]bool {
	results := make(map[string]bool, len(m.adapters))
	for name, adapter := range m.adapters {
		if err := adapter.Connect(ctx); err != nil {
			results[name] = false
			log.Printf("storage: connect %s: %v", name, err)
			continue
		}
		results[name] = true
		log.Printf("storage: connected to %s", name)
	}
	return results
}

func (m *Manager) DisconnectAll(ctx context.Context) {
	var wg sync.WaitGroup
	for name, adapter := range m.adapters {
		wg.Add(1)
		go func(name string, adapter Adapter) {
			defer wg.Done()
			if err := adapter.Disconnect(ctx); err != nil {
				log.Printf("storage: disconnect %s: %v", name, err)
			}
		}(name, adapter)
	}
	wg.Wait()
}

func (m *Manager) HealthCheckAll(ctx context.Context) map[string]bool {
	results := make(map[string]bool, len(m.adapters))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for name, adapter := range m.adapters {
		wg.Add(1)
		go func(name string, adapter Adapter) {
			defer wg.Done()
			healthy := adapter.HealthCheck(ctx)
			mu.Lock()
			results[name] = healthy
			mu.Unlock()
		}(name, adapter)
	}
	wg.Wait()
	return results
}

// Store fans a single record out to every adapter routed for its type. The
// result map holds one entry per targeted adapter; failures are independent.
func (m *Manager) Store(ctx context.Context, record event.Record, dataType string) map[string]bool {
	if dataType == "" {
		dataType = InferDataType(record)
	}
	return m.dispatch(ctx, m.targets(dataType), func(ctx context.Context, adapter Adapter) error {
		return adapter.Store(ctx, record)
	})
}

// BatchStore groups records by data type when none is given, then issues one
// batch per (type, adapter) pair. An adapter's result is the conjunction of
// its per-group outcomes.
func (m *Manager) BatchStore(ctx context.Context, records []event.Record, dataType string) map[string]bool {
	if len(records) == 0 {
		return map[string]bool{}
	}
	if dataType != "" {
		return m.batchStoreTyped(ctx, records, dataType)
	}

	groups := map[string][]event.Record{}
	for _, record := range records {
		inferred := InferDataType(record)
		groups[inferred] = append(groups[inferred], record)
	}

	results := map[string]bool{}
	for groupType, group := range groups {
		for adapter, ok := range m.batchStoreTyped(ctx, group, groupType) {
			if prev, seen := results[adapter]; seen {
				results[adapter] = prev && ok
			} else {
				results[adapter] = ok
			}
		}
	}
	return results
}

func (m *Manager) batchStoreTyped(ctx context.Context, records []event.Record, dataType string) map[string]bool {
	return m.dispatch(ctx, m.targets(dataType), func(ctx context.Context, adapter Adapter) error {
		return adapter.BatchStore(ctx, records)
	})
}

func (m *Manager) dispatch(ctx context.Context, targets []string, op func(context.Context, Adapter) error) map[string]bool {
	results := make(map[string]bool, len(targets))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, name := range targets {
		adapter, ok := m.adapters[name]
		if !ok {
			results[name] = false
			log.Printf("storage: adapter %s not available", name)
			continue
		}
		wg.Add(1)
		go func(name string, adapter Adapter) {
			defer wg.Done()
			err := op(ctx, adapter)
			if err != nil {
				log.Printf("storage: %s: %v", name, err)
			}
			mu.Lock()
			results[name] = err == nil
			mu.Unlock()
		}(name, adapter)
	}
	wg.Wait()
	return results
}

func (m *Manager) targets(dataType string) []string {
	if targets, ok := m.routes[dataType]; ok {
		return targets
	}
	return []string{AdapterClickHouse}
}

// InferDataType classifies a record by its content. The checks run in a
// fixed order; the first match wins, so a record carrying both severity and
// a message is an alert, not a log.
func InferDataType(record event.Record) string {
	if _, ok := record["metric_name"]; ok {
		return "metrics"
	}
	if _, ok := record["measurement"]; ok {
		return "metrics"
	}
	if record.String("severity") != "" || strings.Contains(strings.ToLower(record.String("event_type")), "alert") {
		return "alerts"
	}
	if strings.Contains(strings.ToLower(record.String("data_type")), "aggregated") {
		return "aggregated"
	}
	if strings.Contains(strings.ToLower(record.String("source")), "performance") {
		return "performance"
	}
	if record.String("level") != "" || record.String("message") != "" {
		return "logs"
	}
	return "events"
}
