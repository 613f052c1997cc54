package process

import (
	"fmt"
	"math"
	"time"

	"github.com/warehouse-ops/pipeline/internal/bus"
	"github.com/warehouse-ops/pipeline/internal/event"
)

var actionMappings = map[string]string{
	"stock_in":   "inbound",
	"stock_out":  "outbound",
	"adjustment": "adjustment",
	"transfer":   "transfer",
}

var validActions = map[string]bool{
	"stock_in":   true,
	"stock_out":  true,
	"adjustment": true,
	"transfer":   true,
}

// Processor performs per-event normalization: action mapping, signed
// quantity derivation, timestamp parsing and business-hours context. It is
// deterministic and does no I/O.
type Processor struct {
	now func() time.Time
}

func New() *Processor {
	return &Processor{now: time.Now}
}

// Process copies data and attaches the derived fields. It never fails for a
// well-formed JSON record; validation of required fields happens upstream.
func (p *Processor) Process(data event.Record, meta bus.Metadata) event.Record {
	out := data.Clone()

	processing := event.Record{
		"processed_at":   p.now().UTC(),
		"processor":      "inventory_processor",
		"kafka_metadata": meta.AsRecord(),
	}

	if action := out.String("action"); action != "" {
		if normalized, ok := actionMappings[action]; ok {
			out["normalized_action"] = normalized
		} else {
			out["normalized_action"] = action
		}
	}

	quantity, _ := out.Float("quantity")
	out["quantity_abs"] = math.Abs(quantity)
	if out.String("action") == "stock_out" {
		out["quantity_direction"] = "negative"
		out["quantity_normalized"] = -math.Abs(quantity)
	} else {
		out["quantity_direction"] = "positive"
		out["quantity_normalized"] = math.Abs(quantity)
	}

	parsed, ok := event.ParseTimestamp(out["timestamp"])
	if !ok {
		parsed = p.now().UTC()
		processing["timestamp_fallback"] = true
	}
	out["timestamp_parsed"] = parsed
	out["business_context"] = businessContext(parsed)

	if price, ok := out.Float("unit_price"); ok {
		abs, _ := out.Float("quantity_abs")
		out["total_value"] = abs * price
	}

	out["processing"] = processing
	return out
}

// Validate checks the inventory payload contract: required fields present,
// action in the allowed set, numeric quantity, and non-negative quantity for
// stock_in.
func Validate(data event.Record) error {
	for _, field := range []string{"item_id", "action", "quantity", "timestamp"} {
		if _, ok := data[field]; !ok {
			return fmt.Errorf("missing required field %q", field)
		}
	}

	action := data.String("action")
	if !validActions[action] {
		return fmt.Errorf("invalid action %q", action)
	}

	quantity, ok := data.Float("quantity")
	if !ok {
		return fmt.Errorf("quantity %v is not numeric", data["quantity"])
	}
	if quantity < 0 && action == "stock_in" {
		return fmt.Errorf("negative quantity %v for stock_in", quantity)
	}
	return nil
}

func businessContext(t time.Time) event.Record {
	hour := t.Hour()
	dayOfWeek := (int(t.Weekday()) + 6) % 7 // 0 = Monday, 6 = Sunday

	return event.Record{
		"hour":              hour,
		"day_of_week":       dayOfWeek,
		"is_business_hours": hour >= 8 && hour <= 18 && dayOfWeek < 5,
		"is_weekend":        dayOfWeek >= 5,
		"shift":             shift(hour),
	}
}

func shift(hour int) string {
	switch {
	case hour >= 6 && hour < 14:
		return "morning"
	case hour >= 14 && hour < 22:
		return "afternoon"
	default:
		return "night"
	}
}
