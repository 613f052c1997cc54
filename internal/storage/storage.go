// Package storage fans pipeline records out to the configured backends. A
// Manager routes each record by data type to one or more adapters; adapters
// fail independently and the caller decides what a partial failure means.
package storage

import (
	"context"
	"fmt"

	"github.com/warehouse-ops/pipeline/internal/event"
)

// Adapter is the contract every storage backend implements. Store and
// BatchStore return a ConnectionError or WriteError; HealthCheck never
// errors, an unreachable backend is simply unhealthy.
type Adapter interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	HealthCheck(ctx context.Context) bool
	Store(ctx context.Context, record event.Record) error
	BatchStore(ctx context.Context, records []event.Record) error
}

// ConnectionError means the backend could not be reached at all.
type ConnectionError struct {
	Backend string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s connection failed: %v", e.Backend, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// WriteError means the backend was reachable but refused the records.
type WriteError struct {
	Backend string
	Err     error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s write failed: %v", e.Backend, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
