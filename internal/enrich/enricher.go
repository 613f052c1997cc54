package enrich

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/warehouse-ops/pipeline/internal/event"
	"github.com/warehouse-ops/pipeline/internal/metrics"
)

const cacheTTL = time.Hour

// Enricher attaches item/location metadata and derived classifications to a
// processed event. Lookups go L1 (in-process TTL map), then L2 (Redis when
// configured), then the metadata provider.
type Enricher struct {
	provider  MetadataProvider
	rdb       *redis.Client
	met       *metrics.Metrics
	items     *ttlCache
	locations *ttlCache
}

// New creates an Enricher. rdb and met may be nil; provider must not be.
func New(provider MetadataProvider, rdb *redis.Client, met *metrics.Metrics) *Enricher {
	if provider == nil {
		provider = StandinProvider{}
	}
	return &Enricher{
		provider:  provider,
		rdb:       rdb,
		met:       met,
		items:     newTTLCache(cacheTTL),
		locations: newTTLCache(cacheTTL),
	}
}

// Enrich copies data and attaches item_details, location_details,
// classification, risk_assessment and seasonal_context. Enrichment is
// idempotent: all computed fields are functions of the inputs, so a second
// pass recomputes identical values.
func (e *Enricher) Enrich(ctx context.Context, data event.Record) event.Record {
	out := data.Clone()

	if itemID := out.String("item_id"); itemID != "" {
		if details := e.lookup(ctx, e.items, "item:"+itemID, func() (event.Record, error) {
			return e.provider.ItemDetails(ctx, itemID)
		}); details != nil {
			out["item_details"] = details
		}
	}

	if locationID := out.String("location_id"); locationID != "" {
		if details := e.lookup(ctx, e.locations, "location:"+locationID, func() (event.Record, error) {
			return e.provider.LocationDetails(ctx, locationID)
		}); details != nil {
			out["location_details"] = details
		}
	}

	out["classification"] = classify(out)
	out["risk_assessment"] = assessRisk(out)
	out["seasonal_context"] = seasonalContext(out)
	return out
}

func (e *Enricher) lookup(ctx context.Context, l1 *ttlCache, key string, fetch func() (event.Record, error)) event.Record {
	if cached, ok := l1.get(key); ok {
		return cached
	}

	if e.rdb != nil {
		raw, err := e.rdb.Get(ctx, key).Result()
		switch {
		case err == nil:
			e.countRedis("get", "success")
			var details event.Record
			if jsonErr := json.Unmarshal([]byte(raw), &details); jsonErr == nil {
				l1.set(key, details)
				return details
			}
		case err != redis.Nil:
			e.countRedis("get", "error")
			log.Printf("enrich: redis lookup %s: %v", key, err)
		}
	}

	details, err := fetch()
	if err != nil {
		log.Printf("enrich: metadata lookup %s: %v", key, err)
		return nil
	}
	l1.set(key, details)

	if e.rdb != nil {
		payload, _ := json.Marshal(details)
		if err := e.rdb.Set(ctx, key, payload, cacheTTL).Err(); err != nil {
			e.countRedis("set", "error")
			log.Printf("enrich: redis cache %s: %v", key, err)
		} else {
			e.countRedis("set", "success")
		}
	}
	return details
}

func (e *Enricher) countRedis(op, status string) {
	if e.met != nil {
		e.met.RedisOperations.WithLabelValues(op, status).Inc()
	}
}

func classify(data event.Record) event.Record {
	eventType := data.String("normalized_action")
	if eventType == "" {
		eventType = "unknown"
	}
	return event.Record{
		"event_type":      eventType,
		"volume_category": volumeCategory(data),
		"value_category":  valueCategory(data),
		"urgency":         urgencyLevel(data),
	}
}

func volumeCategory(data event.Record) string {
	quantity, _ := data.Float("quantity_abs")
	switch {
	case quantity < 10:
		return "low"
	case quantity < 100:
		return "medium"
	case quantity < 1000:
		return "high"
	default:
		return "bulk"
	}
}

func valueCategory(data event.Record) string {
	total, ok := data.Float("total_value")
	if !ok || total == 0 {
		return "unknown"
	}
	switch {
	case total < 100:
		return "low"
	case total < 1000:
		return "medium"
	case total < 10000:
		return "high"
	default:
		return "critical"
	}
}

func urgencyLevel(data event.Record) string {
	item := data.Map("item_details")
	if item.Bool("perishable") || item.Bool("high_value") {
		return "high"
	}
	if data.String("action") == "stock_out" {
		return "medium"
	}
	return "low"
}

func assessRisk(data event.Record) event.Record {
	var factors []string
	score := 0

	if data.Map("item_details").Bool("high_value") {
		factors = append(factors, "high_value_item")
		score += 3
	}
	if data.Map("classification").String("volume_category") == "bulk" {
		factors = append(factors, "bulk_transaction")
		score += 2
	}
	if !data.Map("business_context").Bool("is_business_hours") {
		factors = append(factors, "after_hours")
		score++
	}
	if data.Map("item_details").Bool("perishable") {
		factors = append(factors, "perishable_item")
		score++
	}

	level := "low"
	switch {
	case score >= 5:
		level = "high"
	case score >= 3:
		level = "medium"
	}

	if factors == nil {
		factors = []string{}
	}
	return event.Record{
		"score":   score,
		"level":   level,
		"factors": factors,
	}
}

func seasonalContext(data event.Record) event.Record {
	timestamp, ok := data.Time("timestamp_parsed")
	if !ok {
		return event.Record{}
	}

	month := int(timestamp.Month())
	var season string
	switch {
	case month == 12 || month <= 2:
		season = "winter"
	case month <= 5:
		season = "spring"
	case month <= 8:
		season = "summer"
	default:
		season = "fall"
	}

	demand := "normal"
	category := data.Map("item_details").String("category")
	if (season == "winter" && category == "Clothing") || (season == "summer" && category == "Electronics") {
		demand = "high"
	}

	return event.Record{
		"season":          season,
		"month":           month,
		"seasonal_demand": demand,
	}
}
