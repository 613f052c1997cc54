// Package anomaly flags suspicious warehouse transactions. The detector
// keeps a bounded FIFO window of recent enriched events and runs a set of
// statistical and inventory-specific checks against it.
package anomaly

import (
	"context"
	"log"
	"math"
	"sort"
	"time"

	"github.com/warehouse-ops/pipeline/internal/event"
	"github.com/warehouse-ops/pipeline/internal/metrics"
	"github.com/warehouse-ops/pipeline/internal/stock"
)

const (
	defaultWindowSize = 1000
	defaultZThreshold = 3.0

	negativeStockThreshold   = -10
	rapidDepletionThreshold  = 0.8
	unusualLocationThreshold = 0.05
)

// Detector runs all checks against a single event. It is owned by one
// consumer worker and is not safe for concurrent use.
type Detector struct {
	windowSize int
	zThreshold float64
	stocks     stock.Provider
	met        *metrics.Metrics

	window []event.Record
}

// New creates a Detector with the default window size of 1000 events. stocks
// must not be nil; met may be.
func New(stocks stock.Provider, met *metrics.Metrics) *Detector {
	return &Detector{
		windowSize: defaultWindowSize,
		zThreshold: defaultZThreshold,
		stocks:     stocks,
		met:        met,
	}
}

// Detect adds data to the analysis window, then runs every check and returns
// the strongest hit. The event under inspection is part of its own history,
// so a first-ever event can never be anomalous on statistical grounds.
func (d *Detector) Detect(ctx context.Context, data event.Record) Result {
	d.addToWindow(data)

	checks := []func(context.Context, event.Record) *Result{
		d.detectVolume,
		d.detectTimeBased,
		d.detectFrequency,
		d.detectNegativeStock,
		d.detectRapidDepletion,
		d.detectUnusualLocation,
		d.detectHighValueCombination,
		d.detectSupplierPattern,
	}

	var best *Result
	for _, check := range checks {
		hit := check(ctx, data)
		if hit == nil {
			continue
		}
		if best == nil || better(*hit, *best) {
			best = hit
		}
	}

	if best == nil {
		return None()
	}
	if d.met != nil {
		d.met.AnomaliesDetected.WithLabelValues(best.Type).Inc()
	}
	return *best
}

func (d *Detector) addToWindow(data event.Record) {
	d.window = append(d.window, data)
	if len(d.window) > d.windowSize {
		d.window = d.window[1:]
	}
}

func matchesPattern(a, b event.Record) bool {
	return a.String("action") == b.String("action") && a.String("item_id") == b.String("item_id")
}

func (d *Detector) detectVolume(_ context.Context, data event.Record) *Result {
	current, ok := data.Float("quantity_abs")
	if !ok {
		return nil
	}

	var historical []float64
	for _, e := range d.window {
		if !matchesPattern(e, data) {
			continue
		}
		if v, ok := e.Float("quantity_abs"); ok {
			historical = append(historical, v)
		}
	}
	if len(historical) < 5 {
		return nil
	}

	z := zScore(current, historical)
	if z <= d.zThreshold {
		return nil
	}

	severity := "medium"
	if z > 5 {
		severity = "high"
	}
	return &Result{
		IsAnomaly:  true,
		Confidence: math.Min(z/d.zThreshold, 1.0),
		Type:       "volume_anomaly",
		Severity:   severity,
		Details: event.Record{
			"z_score":         z,
			"current_value":   current,
			"historical_mean": mean(historical),
			"historical_std":  stddev(historical),
		},
	}
}

func (d *Detector) detectTimeBased(_ context.Context, data event.Record) *Result {
	timestamp, ok := data.Time("timestamp_parsed")
	if !ok {
		return nil
	}
	if data.Map("business_context").Bool("is_business_hours") {
		return nil
	}

	action := data.String("action")
	freq := d.afterHoursFrequency(action)
	if freq >= 0.1 {
		return nil
	}

	return &Result{
		IsAnomaly:  true,
		Confidence: 0.7,
		Type:       "unusual_timing",
		Severity:   "medium",
		Details: event.Record{
			"reason":             "activity_after_hours",
			"hour":               timestamp.Hour(),
			"expected_frequency": freq,
		},
	}
}

// afterHoursFrequency is the fraction of same-action events in the window
// that fell outside business hours. With an empty history it returns 0.5,
// meaning unknown.
func (d *Detector) afterHoursFrequency(action string) float64 {
	total, afterHours := 0, 0
	for _, e := range d.window {
		if e.String("action") != action {
			continue
		}
		total++
		if !e.Map("business_context").Bool("is_business_hours") {
			afterHours++
		}
	}
	if total == 0 {
		return 0.5
	}
	return float64(afterHours) / float64(total)
}

// detectFrequency compares the last hour's event count for the pattern
// against hourly counts computed over the rest of the window. Counts are
// bucketed by truncated hour; the current event's own hour bucket is
// excluded so it does not dilute the history it is compared against.
func (d *Detector) detectFrequency(_ context.Context, data event.Record) *Result {
	current, ok := data.Time("timestamp_parsed")
	if !ok {
		return nil
	}

	cutoff := current.Add(-time.Hour)
	currentHour := current.Truncate(time.Hour)
	recentCount := 0
	buckets := map[time.Time]int{}
	for _, e := range d.window {
		if !matchesPattern(e, data) {
			continue
		}
		ts, ok := e.Time("timestamp_parsed")
		if !ok {
			continue
		}
		if ts.After(cutoff) {
			recentCount++
		}
		hour := ts.Truncate(time.Hour)
		if !hour.Equal(currentHour) {
			buckets[hour]++
		}
	}
	if len(buckets) < 5 {
		return nil
	}

	historical := make([]float64, 0, len(buckets))
	for _, count := range buckets {
		historical = append(historical, float64(count))
	}

	z := zScore(float64(recentCount), historical)
	if z <= d.zThreshold {
		return nil
	}

	return &Result{
		IsAnomaly:  true,
		Confidence: math.Min(z/d.zThreshold, 1.0),
		Type:       "frequency_anomaly",
		Severity:   "medium",
		Details: event.Record{
			"recent_count":    recentCount,
			"z_score":         z,
			"historical_mean": mean(historical),
		},
	}
}

func (d *Detector) detectNegativeStock(ctx context.Context, data event.Record) *Result {
	if data.String("action") != "stock_out" {
		return nil
	}
	itemID := data.String("item_id")
	quantity, _ := data.Float("quantity_normalized")

	current, err := d.currentStock(ctx, itemID)
	if err != nil {
		log.Printf("anomaly: stock level for %s: %v", itemID, err)
		return nil
	}

	projected := current + quantity
	if projected >= negativeStockThreshold {
		return nil
	}

	return &Result{
		IsAnomaly:  true,
		Confidence: 0.9,
		Type:       "negative_stock_risk",
		Severity:   "high",
		Details: event.Record{
			"current_stock":        current,
			"transaction_quantity": math.Abs(quantity),
			"projected_stock":      projected,
			"item_id":              itemID,
		},
	}
}

func (d *Detector) detectRapidDepletion(ctx context.Context, data event.Record) *Result {
	if data.String("action") != "stock_out" {
		return nil
	}
	current, ok := data.Time("timestamp_parsed")
	if !ok {
		return nil
	}
	itemID := data.String("item_id")

	cutoff := current.Add(-time.Hour)
	totalDepleted := 0.0
	transactions := 0
	for _, e := range d.window {
		if e.String("item_id") != itemID || e.String("action") != "stock_out" {
			continue
		}
		ts, ok := e.Time("timestamp_parsed")
		if !ok || !ts.After(cutoff) {
			continue
		}
		quantity, _ := e.Float("quantity_abs")
		totalDepleted += quantity
		transactions++
	}

	currentStock, err := d.currentStock(ctx, itemID)
	if err != nil {
		log.Printf("anomaly: stock level for %s: %v", itemID, err)
		return nil
	}
	if currentStock <= 0 {
		return nil
	}

	rate := totalDepleted / currentStock
	if rate <= rapidDepletionThreshold {
		return nil
	}

	return &Result{
		IsAnomaly:  true,
		Confidence: math.Min(rate, 1.0),
		Type:       "rapid_stock_depletion",
		Severity:   "high",
		Details: event.Record{
			"depletion_rate":    rate,
			"total_depleted_1h": totalDepleted,
			"current_stock":     currentStock,
			"transaction_count": transactions,
		},
	}
}

func (d *Detector) detectUnusualLocation(_ context.Context, data event.Record) *Result {
	locationID := data.String("location_id")
	itemID := data.String("item_id")
	if locationID == "" || itemID == "" {
		return nil
	}

	counts := map[string]int{}
	total := 0
	for _, e := range d.window {
		if e.String("item_id") != itemID {
			continue
		}
		if loc := e.String("location_id"); loc != "" {
			counts[loc]++
			total++
		}
	}
	if total < 5 {
		return nil
	}

	freq := float64(counts[locationID]) / float64(total)
	if freq >= unusualLocationThreshold {
		return nil
	}

	type locCount struct {
		id    string
		count int
	}
	common := make([]locCount, 0, len(counts))
	for id, count := range counts {
		common = append(common, locCount{id, count})
	}
	sort.Slice(common, func(i, j int) bool {
		if common[i].count != common[j].count {
			return common[i].count > common[j].count
		}
		return common[i].id < common[j].id
	})
	if len(common) > 3 {
		common = common[:3]
	}
	top := make([]event.Record, 0, len(common))
	for _, c := range common {
		top = append(top, event.Record{"location_id": c.id, "count": c.count})
	}

	return &Result{
		IsAnomaly:  true,
		Confidence: 1 - freq,
		Type:       "unusual_location",
		Severity:   "medium",
		Details: event.Record{
			"location_id":          locationID,
			"historical_frequency": freq,
			"common_locations":     top,
		},
	}
}

func (d *Detector) detectHighValueCombination(_ context.Context, data event.Record) *Result {
	itemDetails := data.Map("item_details")
	if !itemDetails.Bool("high_value") {
		return nil
	}

	factors, _ := data.Map("risk_assessment")["factors"].([]string)
	if factors == nil {
		// Factors arrive as []any after a JSON round trip.
		if raw, ok := data.Map("risk_assessment")["factors"].([]any); ok {
			for _, f := range raw {
				if s, ok := f.(string); ok {
					factors = append(factors, s)
				}
			}
		}
	}

	highRisk := map[string]bool{"after_hours": true, "bulk_transaction": true, "unusual_location": true}
	var present []string
	for _, f := range factors {
		if highRisk[f] {
			present = append(present, f)
		}
	}
	if len(present) < 2 {
		return nil
	}

	unitCost, _ := itemDetails.Float("unit_cost")
	totalValue, _ := data.Float("total_value")
	return &Result{
		IsAnomaly:  true,
		Confidence: 0.8,
		Type:       "high_value_risk_combination",
		Severity:   "high",
		Details: event.Record{
			"item_value":   unitCost,
			"risk_factors": present,
			"total_value":  totalValue,
		},
	}
}

func (d *Detector) detectSupplierPattern(_ context.Context, data event.Record) *Result {
	if data.String("action") != "stock_in" {
		return nil
	}
	supplier := data.Map("item_details").String("supplier")
	if supplier == "" {
		return nil
	}
	if !data.Map("business_context").Bool("is_weekend") {
		return nil
	}

	// History excludes the delivery under inspection (the window's last
	// entry); a weekend event comparing against itself could never fall
	// under the 10% threshold.
	var deliveries []event.Record
	for _, e := range d.window[:len(d.window)-1] {
		if e.String("action") == "stock_in" && e.Map("item_details").String("supplier") == supplier {
			deliveries = append(deliveries, e)
		}
	}
	if len(deliveries) < 3 {
		return nil
	}

	recent := deliveries
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	weekend := 0
	for _, e := range recent {
		if e.Map("business_context").Bool("is_weekend") {
			weekend++
		}
	}
	rate := float64(weekend) / float64(len(recent))
	if rate >= 0.1 {
		return nil
	}

	return &Result{
		IsAnomaly:  true,
		Confidence: 0.7,
		Type:       "unusual_supplier_delivery_timing",
		Severity:   "low",
		Details: event.Record{
			"supplier":              supplier,
			"weekend_delivery_rate": rate,
			"is_weekend":            true,
		},
	}
}

// currentStock estimates the item's present stock: the provider baseline
// adjusted by every signed quantity for the item seen in the window, clamped
// at zero.
func (d *Detector) currentStock(ctx context.Context, itemID string) (float64, error) {
	baseline, err := d.stocks.StockLevel(ctx, itemID)
	if err != nil {
		return 0, err
	}
	sum := 0.0
	for _, e := range d.window {
		if e.String("item_id") != itemID {
			continue
		}
		if quantity, ok := e.Float("quantity_normalized"); ok {
			sum += quantity
		}
	}
	return math.Max(baseline+sum, 0), nil
}
