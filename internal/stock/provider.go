// Package stock resolves current stock levels for the anomaly detector. The
// authoritative ledger lives in the transactional backend; the pipeline only
// reads it, and falls back to a deterministic baseline when no backend is
// configured.
package stock

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/warehouse-ops/pipeline/internal/enrich"
)

// Provider returns the best-known stock level for an item before the
// current transaction is applied.
type Provider interface {
	StockLevel(ctx context.Context, itemID string) (float64, error)
}

// BaselineProvider is the stand-in used when DATABASE_URL is not set: a
// stable per-item pseudo level derived from the item id hash. It keeps the
// negative-stock and depletion detectors reproducible in dev and tests.
type BaselineProvider struct{}

func (BaselineProvider) StockLevel(_ context.Context, itemID string) (float64, error) {
	return float64(enrich.StableHash(itemID)%1000 + 100), nil
}

// PostgresProvider reads stock levels from the warehouse backend's
// inventory tables.
type PostgresProvider struct {
	pool *pgxpool.Pool
}

func NewPostgresProvider(ctx context.Context, databaseURL string) (*PostgresProvider, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping stock backend: %w", err)
	}
	return &PostgresProvider{pool: pool}, nil
}

func (p *PostgresProvider) StockLevel(ctx context.Context, itemID string) (float64, error) {
	var level float64
	err := p.pool.QueryRow(ctx,
		`SELECT quantity_on_hand FROM inventory_items WHERE item_id = $1`, itemID,
	).Scan(&level)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query stock level for %s: %w", itemID, err)
	}
	return level, nil
}

func (p *PostgresProvider) Close() {
	p.pool.Close()
}
