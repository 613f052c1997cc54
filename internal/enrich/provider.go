package enrich

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/warehouse-ops/pipeline/internal/event"
)

// MetadataProvider resolves item and location master data. Production wires
// a backend-backed implementation; StandinProvider is the documented
// fallback when no backend is configured.
type MetadataProvider interface {
	ItemDetails(ctx context.Context, itemID string) (event.Record, error)
	LocationDetails(ctx context.Context, locationID string) (event.Record, error)
}

// StandinProvider synthesizes deterministic metadata keyed by a stable hash
// of the id. Two lookups of the same id always agree, which keeps
// enrichment and the detectors reproducible without a metadata backend.
type StandinProvider struct{}

var (
	itemCategories = []string{"Electronics", "Clothing", "Food", "Tools", "Books"}
	itemSuppliers  = []string{"Supplier_A", "Supplier_B", "Supplier_C", "Supplier_D"}
	locationZones  = []string{"A", "B", "C", "D"}
	locationTypes  = []string{"storage", "picking", "shipping", "receiving"}
)

// StableHash maps an id onto a stable small integer. Shared with the stock
// baseline so the stand-in world stays internally consistent.
func StableHash(id string) int {
	h := fnv.New32a()
	h.Write([]byte(id))
	return int(h.Sum32())
}

func (StandinProvider) ItemDetails(_ context.Context, itemID string) (event.Record, error) {
	hv := StableHash(itemID) % 1000
	return event.Record{
		"name":          "Item_" + itemID,
		"category":      itemCategories[hv%len(itemCategories)],
		"supplier":      itemSuppliers[hv%len(itemSuppliers)],
		"unit_cost":     math.Round((10+float64(hv%100))*100) / 100,
		"weight":        math.Round((0.1+float64(hv%50)*0.1)*10) / 10,
		"perishable":    hv%4 == 0,
		"high_value":    hv%10 == 0,
		"reorder_point": 50 + hv%100,
		"max_stock":     500 + hv%1000,
	}, nil
}

func (StandinProvider) LocationDetails(_ context.Context, locationID string) (event.Record, error) {
	hv := StableHash(locationID) % 100
	return event.Record{
		"zone":                   locationZones[hv%len(locationZones)],
		"type":                   locationTypes[hv%len(locationTypes)],
		"capacity":               1000 + hv%5000,
		"temperature_controlled": hv%5 == 0,
		"automated":              hv%3 == 0,
	}, nil
}
