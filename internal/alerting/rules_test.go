package alerting

import (
	"testing"

	"github.com/warehouse-ops/pipeline/internal/event"
)

func TestCondition_Matches(t *testing.T) {
	cases := []struct {
		name      string
		condition Condition
		data      event.Record
		want      bool
	}{
		{"gt true", Condition{"error_rate", "gt", 0.1}, event.Record{"error_rate": 0.5}, true},
		{"gt false", Condition{"error_rate", "gt", 0.1}, event.Record{"error_rate": 0.05}, false},
		{"gt equal is false", Condition{"count", "gt", 10}, event.Record{"count": 10.0}, false},
		{"gt missing field", Condition{"error_rate", "gt", 0.1}, event.Record{}, false},
		{"gt non-numeric field", Condition{"error_rate", "gt", 0.1}, event.Record{"error_rate": "lots"}, false},
		{"lt true", Condition{"stock", "lt", 5}, event.Record{"stock": 2.0}, true},
		{"lt false", Condition{"stock", "lt", 5}, event.Record{"stock": 9.0}, false},
		{"eq numeric", Condition{"count", "eq", 3}, event.Record{"count": 3.0}, true},
		{"eq numeric mismatch", Condition{"count", "eq", 3}, event.Record{"count": 4.0}, false},
		{"eq string", Condition{"status", "eq", "failed"}, event.Record{"status": "failed"}, true},
		{"eq string mismatch", Condition{"status", "eq", "failed"}, event.Record{"status": "ok"}, false},
		{"contains true", Condition{"message", "contains", "timeout"}, event.Record{"message": "read timeout on shard 3"}, true},
		{"contains false", Condition{"message", "contains", "timeout"}, event.Record{"message": "all good"}, false},
		{"regex true", Condition{"item_id", "regex", `^ITEM-\d+$`}, event.Record{"item_id": "ITEM-42"}, true},
		{"regex false", Condition{"item_id", "regex", `^ITEM-\d+$`}, event.Record{"item_id": "SKU-42"}, false},
		{"regex bad pattern", Condition{"item_id", "regex", `([`}, event.Record{"item_id": "ITEM-42"}, false},
		{"regex non-string pattern", Condition{"item_id", "regex", 42}, event.Record{"item_id": "42"}, false},
		{"unknown operator", Condition{"x", "between", 1}, event.Record{"x": 1}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.condition.matches(c.data); got != c.want {
				t.Errorf("matches(%v) = %v, want %v", c.data, got, c.want)
			}
		})
	}
}

func TestRule_Matches(t *testing.T) {
	rule := Rule{
		Name: "degraded",
		Conditions: []Condition{
			{Field: "latency_ms", Operator: "gt", Value: 500},
			{Field: "error_rate", Operator: "gt", Value: 0.05},
		},
	}

	data := event.Record{"latency_ms": 900.0, "error_rate": 0.01}
	if !rule.Matches(data, MatchAny) {
		t.Error("any mode should fire on one matching condition")
	}
	if rule.Matches(data, MatchAll) {
		t.Error("all mode must not fire on a partial match")
	}

	full := event.Record{"latency_ms": 900.0, "error_rate": 0.5}
	if !rule.Matches(full, MatchAll) {
		t.Error("all mode should fire when every condition matches")
	}

	empty := Rule{Name: "empty"}
	if empty.Matches(full, MatchAny) || empty.Matches(full, MatchAll) {
		t.Error("a rule without conditions must never fire")
	}
}

func TestRule_ModeOverride(t *testing.T) {
	rule := Rule{
		Name: "strict",
		Mode: MatchAll,
		Conditions: []Condition{
			{Field: "latency_ms", Operator: "gt", Value: 500},
			{Field: "error_rate", Operator: "gt", Value: 0.05},
		},
	}

	partial := event.Record{"latency_ms": 900.0}
	if rule.Matches(partial, MatchAny) {
		t.Error("per-rule all mode must override the manager's any mode")
	}
	if !rule.Matches(event.Record{"latency_ms": 900.0, "error_rate": 0.5}, MatchAny) {
		t.Error("full match should fire under the per-rule mode")
	}
}

func TestToFloat(t *testing.T) {
	if v, ok := toFloat(3); !ok || v != 3 {
		t.Errorf("toFloat(int) = %v, %v", v, ok)
	}
	if v, ok := toFloat(int64(7)); !ok || v != 7 {
		t.Errorf("toFloat(int64) = %v, %v", v, ok)
	}
	if v, ok := toFloat(float32(1.5)); !ok || v != 1.5 {
		t.Errorf("toFloat(float32) = %v, %v", v, ok)
	}
	if _, ok := toFloat("12"); ok {
		t.Error("strings must not coerce")
	}
}
