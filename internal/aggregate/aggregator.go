// Package aggregate computes sliding-window metrics over the enriched event
// stream: running totals, distributions, volume/value statistics, throughput
// and data-quality scores.
package aggregate

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/warehouse-ops/pipeline/internal/event"
)

const (
	topItemsLimit   = 10
	metricsCacheTTL = time.Hour
)

var windowSizes = []struct {
	name string
	size time.Duration
}{
	{"1min", time.Minute},
	{"5min", 5 * time.Minute},
	{"15min", 15 * time.Minute},
	{"1hour", time.Hour},
}

// Aggregator is owned by a single consumer worker; it is not safe for
// concurrent use.
type Aggregator struct {
	rdb *redis.Client
	now func() time.Time

	windows map[string]*TimeWindow

	totalTransactions int
	totalVolume       float64
	totalValue        float64
	itemCounts        map[string]int
	locationCounts    map[string]int
	actionCounts      map[string]int
	supplierCounts    map[string]int
}

// New creates an Aggregator with the standard 1min/5min/15min/1hour windows.
// rdb may be nil, in which case snapshots are kept in memory only.
func New(rdb *redis.Client) *Aggregator {
	windows := make(map[string]*TimeWindow, len(windowSizes))
	for _, w := range windowSizes {
		windows[w.name] = NewTimeWindow(w.size)
	}
	return &Aggregator{
		rdb:            rdb,
		now:            time.Now,
		windows:        windows,
		itemCounts:     map[string]int{},
		locationCounts: map[string]int{},
		actionCounts:   map[string]int{},
		supplierCounts: map[string]int{},
	}
}

// Aggregate folds one enriched event into every window and returns the full
// metrics snapshot as of that event.
func (a *Aggregator) Aggregate(ctx context.Context, data event.Record) event.Record {
	timestamp, ok := data.Time("timestamp_parsed")
	if !ok {
		timestamp = a.now().UTC()
	}

	for _, w := range a.windows {
		w.Add(timestamp, data)
	}
	a.updateRunning(data)

	snapshot := event.Record{
		"timestamp":             timestamp.Format(time.RFC3339),
		"window_metrics":        a.windowMetrics(),
		"running_totals":        a.runningTotals(),
		"top_items":             a.topItems(),
		"location_distribution": distribution(a.locationCounts, a.totalTransactions),
		"action_distribution":   distribution(a.actionCounts, a.totalTransactions),
		"supplier_metrics":      a.supplierMetrics(),
		"volume_metrics":        a.volumeMetrics(),
		"value_metrics":         a.valueMetrics(),
		"throughput_metrics":    a.throughputMetrics(),
		"quality_metrics":       a.qualityMetrics(),
	}

	a.cacheSnapshot(ctx, snapshot, timestamp)
	return snapshot
}

// WindowData exposes the raw contents of a named window, mainly for
// inspection endpoints and tests.
func (a *Aggregator) WindowData(name string) []event.Record {
	w, ok := a.windows[name]
	if !ok {
		return nil
	}
	return w.Data()
}

func (a *Aggregator) updateRunning(data event.Record) {
	a.totalTransactions++

	if quantity, ok := data.Float("quantity_abs"); ok {
		a.totalVolume += quantity
	}
	if value, ok := data.Float("total_value"); ok {
		a.totalValue += value
	}
	if item := data.String("item_id"); item != "" {
		a.itemCounts[item]++
	}
	if location := data.String("location_id"); location != "" {
		a.locationCounts[location]++
	}
	if action := data.String("action"); action != "" {
		a.actionCounts[action]++
	}
	if supplier := data.Map("item_details").String("supplier"); supplier != "" {
		a.supplierCounts[supplier]++
	}
}

func (a *Aggregator) runningTotals() event.Record {
	return event.Record{
		"total_transactions": a.totalTransactions,
		"total_volume":       a.totalVolume,
		"total_value":        a.totalValue,
		"unique_items":       len(a.itemCounts),
		"unique_locations":   len(a.locationCounts),
		"unique_suppliers":   len(a.supplierCounts),
	}
}

func (a *Aggregator) topItems() []event.Record {
	type itemCount struct {
		id    string
		count int
	}
	items := make([]itemCount, 0, len(a.itemCounts))
	for id, count := range a.itemCounts {
		items = append(items, itemCount{id, count})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].count != items[j].count {
			return items[i].count > items[j].count
		}
		return items[i].id < items[j].id
	})
	if len(items) > topItemsLimit {
		items = items[:topItemsLimit]
	}

	out := make([]event.Record, 0, len(items))
	for _, item := range items {
		out = append(out, event.Record{"item_id": item.id, "transaction_count": item.count})
	}
	return out
}

func distribution(counts map[string]int, total int) event.Record {
	if total == 0 {
		return event.Record{}
	}
	out := make(event.Record, len(counts))
	for key, count := range counts {
		out[key] = event.Record{
			"count":      count,
			"percentage": float64(count) / float64(total) * 100,
		}
	}
	return out
}

func (a *Aggregator) supplierMetrics() event.Record {
	out := make(event.Record, len(a.supplierCounts))
	for supplier, count := range a.supplierCounts {
		percentage := 0.0
		if a.totalTransactions > 0 {
			percentage = float64(count) / float64(a.totalTransactions) * 100
		}
		out[supplier] = event.Record{
			"transaction_count": count,
			"percentage":        percentage,
		}
	}
	return out
}

func (a *Aggregator) volumeMetrics() event.Record {
	data := a.windows["5min"].Data()
	if len(data) == 0 {
		return event.Record{"error": "no_data"}
	}

	volumes := make([]float64, 0, len(data))
	byAction := map[string][]float64{}
	for _, d := range data {
		quantity, _ := d.Float("quantity_abs")
		volumes = append(volumes, quantity)

		action := d.String("action")
		if action == "" {
			action = "unknown"
		}
		byAction[action] = append(byAction[action], quantity)
	}

	overall := basicStats(volumes)
	for k, v := range percentileStats(volumes) {
		overall[k] = v
	}

	actionStats := make(event.Record, len(byAction))
	for action, values := range byAction {
		actionStats[action] = basicStats(values)
	}

	return event.Record{
		"overall":   overall,
		"by_action": actionStats,
		"trend":     trendDirection(volumes),
	}
}

func (a *Aggregator) valueMetrics() event.Record {
	data := a.windows["5min"].Data()
	if len(data) == 0 {
		return event.Record{"error": "no_data"}
	}

	var values []float64
	for _, d := range data {
		if value, ok := d.Float("total_value"); ok && value != 0 {
			values = append(values, value)
		}
	}
	if len(values) == 0 {
		return event.Record{"error": "no_value_data"}
	}

	stats := basicStats(values)
	for k, v := range percentileStats(values) {
		stats[k] = v
	}

	m, _ := stats.Float("mean")
	sd, _ := stats.Float("std")
	threshold := m + 2*sd
	highValue := 0
	for _, v := range values {
		if v > threshold {
			highValue++
		}
	}

	return event.Record{
		"overall": stats,
		"high_value_transactions": event.Record{
			"count":      highValue,
			"threshold":  threshold,
			"percentage": float64(highValue) / float64(len(values)) * 100,
		},
		"trend": trendDirection(values),
	}
}

func (a *Aggregator) throughputMetrics() event.Record {
	out := event.Record{}
	for _, w := range windowSizes {
		data := a.windows[w.name].Data()
		if len(data) == 0 {
			continue
		}

		totalVolume := 0.0
		for _, d := range data {
			quantity, _ := d.Float("quantity_abs")
			totalVolume += quantity
		}
		minutes := w.size.Minutes()

		out[w.name] = event.Record{
			"transactions_per_minute": float64(len(data)) / minutes,
			"volume_per_minute":       totalVolume / minutes,
			"transaction_count":       len(data),
			"total_volume":            totalVolume,
		}
	}
	return out
}

func (a *Aggregator) qualityMetrics() event.Record {
	data := a.windows["5min"].Data()
	if len(data) == 0 {
		return event.Record{"error": "no_data"}
	}

	total := len(data)
	missingItem, missingLocation, invalidQuantity, anomalies := 0, 0, 0, 0
	for _, d := range data {
		if d.String("item_id") == "" {
			missingItem++
		}
		if d.String("location_id") == "" {
			missingLocation++
		}
		if quantity, ok := d.Float("quantity_abs"); !ok || quantity <= 0 {
			invalidQuantity++
		}
		if d.Bool("anomaly_detected") {
			anomalies++
		}
	}

	ratio := func(bad int) float64 {
		return float64(total-bad) / float64(total) * 100
	}

	return event.Record{
		"data_completeness": event.Record{
			"item_id_completeness":  ratio(missingItem),
			"location_completeness": ratio(missingLocation),
			"quantity_validity":     ratio(invalidQuantity),
		},
		"anomaly_rate":          float64(anomalies) / float64(total) * 100,
		"overall_quality_score": qualityScore(missingItem, missingLocation, invalidQuantity, anomalies, total),
	}
}

// qualityScore starts at 100 and subtracts weighted penalties for each class
// of defect, floored at 0.
func qualityScore(missingItem, missingLocation, invalidQuantity, anomalies, total int) float64 {
	if total == 0 {
		return 100.0
	}
	pct := func(n int) float64 { return float64(n) / float64(total) * 100 }

	score := 100.0
	score -= pct(missingItem) * 0.3
	score -= pct(missingLocation) * 0.2
	score -= pct(invalidQuantity) * 0.3
	score -= pct(anomalies) * 0.2
	if score < 0 {
		return 0
	}
	return score
}

func (a *Aggregator) windowMetrics() event.Record {
	out := make(event.Record, len(windowSizes))
	for _, w := range windowSizes {
		out[w.name] = summarizeWindow(a.windows[w.name].Data(), w.name)
	}
	return out
}

func summarizeWindow(data []event.Record, name string) event.Record {
	if len(data) == 0 {
		return event.Record{"error": "no_data", "window": name}
	}

	totalVolume, totalValue := 0.0, 0.0
	actionCounts := event.Record{}
	items := map[string]struct{}{}
	locations := map[string]struct{}{}
	var first, last time.Time
	for _, d := range data {
		if quantity, ok := d.Float("quantity_abs"); ok {
			totalVolume += quantity
		}
		if value, ok := d.Float("total_value"); ok {
			totalValue += value
		}

		action := d.String("action")
		if action == "" {
			action = "unknown"
		}
		count, _ := actionCounts[action].(int)
		actionCounts[action] = count + 1

		if item := d.String("item_id"); item != "" {
			items[item] = struct{}{}
		}
		if location := d.String("location_id"); location != "" {
			locations[location] = struct{}{}
		}
		if ts, ok := d.Time("timestamp_parsed"); ok {
			if first.IsZero() || ts.Before(first) {
				first = ts
			}
			if ts.After(last) {
				last = ts
			}
		}
	}

	timeRange := event.Record{}
	if !first.IsZero() {
		timeRange["start"] = first.Format(time.RFC3339)
		timeRange["end"] = last.Format(time.RFC3339)
	}

	return event.Record{
		"window":                         name,
		"time_range":                     timeRange,
		"transaction_count":              len(data),
		"total_volume":                   totalVolume,
		"total_value":                    totalValue,
		"average_volume_per_transaction": totalVolume / float64(len(data)),
		"action_distribution":            actionCounts,
		"unique_items":                   len(items),
		"unique_locations":               len(locations),
	}
}

// cacheSnapshot keeps the latest snapshot per minute in Redis so dashboards
// can read aggregates without consuming the metrics topic.
func (a *Aggregator) cacheSnapshot(ctx context.Context, snapshot event.Record, timestamp time.Time) {
	if a.rdb == nil {
		return
	}
	key := "metrics:inventory:" + timestamp.Format("2006-01-02_15-04")
	payload, err := json.Marshal(snapshot)
	if err != nil {
		log.Printf("aggregate: marshal snapshot: %v", err)
		return
	}
	if err := a.rdb.Set(ctx, key, payload, metricsCacheTTL).Err(); err != nil {
		log.Printf("aggregate: cache snapshot %s: %v", key, err)
	}
}
