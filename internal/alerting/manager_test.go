package alerting

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/warehouse-ops/pipeline/internal/bus"
	"github.com/warehouse-ops/pipeline/internal/event"
)

type fakeChannel struct {
	mu    sync.Mutex
	name  string
	err   error
	sent  []*Alert
	order *callOrder
}

func (c *fakeChannel) Name() string { return c.name }

func (c *fakeChannel) Send(_ context.Context, alert *Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, alert)
	if c.order != nil {
		c.order.record("channel:" + c.name)
	}
	return c.err
}

func (c *fakeChannel) sends() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

type fakePublisher struct {
	mu     sync.Mutex
	topics []string
	keys   []string
	values []any
	err    error
	order  *callOrder
}

func (p *fakePublisher) Send(_ context.Context, topic, key string, value any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.keys = append(p.keys, key)
	p.values = append(p.values, value)
	if p.order != nil {
		p.order.record("publish")
	}
	return p.err
}

type callOrder struct {
	mu    sync.Mutex
	calls []string
}

func (o *callOrder) record(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, name)
}

func newTestManager(opts ManagerOptions) *Manager {
	m := NewManager(opts)
	base := time.Date(2024, 3, 11, 10, 0, 0, 0, time.UTC)
	tick := 0
	m.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return m
}

func TestCreate_DeduplicatesActiveID(t *testing.T) {
	channel := &fakeChannel{name: "test"}
	m := newTestManager(ManagerOptions{Channels: []Channel{channel}})

	first := m.Create(context.Background(), "A1", "High error rate", "errors above 10%", SeverityCritical, "monitor", nil)
	second := m.Create(context.Background(), "A1", "High error rate again", "", SeverityCritical, "monitor", nil)

	if first != second {
		t.Error("second create for an active id must return the existing alert")
	}
	if got := len(m.ActiveAlerts("")); got != 1 {
		t.Fatalf("active alerts = %d, want 1", got)
	}
	if channel.sends() != 1 {
		t.Errorf("channel sends = %d, want 1", channel.sends())
	}
}

func TestCreate_GeneratesIDWhenEmpty(t *testing.T) {
	m := newTestManager(ManagerOptions{})

	a := m.Create(context.Background(), "", "Something", "", SeverityInfo, "test", nil)
	b := m.Create(context.Background(), "", "Something else", "", SeverityInfo, "test", nil)

	if a.ID == "" || b.ID == "" {
		t.Fatal("expected generated ids")
	}
	if a.ID == b.ID {
		t.Error("generated ids must be unique")
	}
}

func TestCreate_PublishesBeforeNotifying(t *testing.T) {
	order := &callOrder{}
	channel := &fakeChannel{name: "test", order: order}
	publisher := &fakePublisher{order: order}
	m := newTestManager(ManagerOptions{Channels: []Channel{channel}, Publisher: publisher})

	m.Create(context.Background(), "A1", "Latency spike", "", SeverityError, "monitor", nil)

	if len(order.calls) != 2 || order.calls[0] != "publish" || order.calls[1] != "channel:test" {
		t.Fatalf("call order = %v, want publish before channel send", order.calls)
	}
	if publisher.topics[0] != bus.TopicAlerts {
		t.Errorf("published to %q, want %q", publisher.topics[0], bus.TopicAlerts)
	}
	if publisher.keys[0] != "A1" {
		t.Errorf("publish key = %q", publisher.keys[0])
	}
	rec, ok := publisher.values[0].(event.Record)
	if !ok || rec.String("alert_id") != "A1" {
		t.Errorf("publish value = %v", publisher.values[0])
	}
}

func TestCreate_PublishFailureStillNotifies(t *testing.T) {
	channel := &fakeChannel{name: "test"}
	publisher := &fakePublisher{err: errors.New("broker down")}
	m := newTestManager(ManagerOptions{Channels: []Channel{channel}, Publisher: publisher})

	m.Create(context.Background(), "A1", "Latency spike", "", SeverityError, "monitor", nil)

	if channel.sends() != 1 {
		t.Errorf("channel sends = %d, want 1 despite publish failure", channel.sends())
	}
	if m.Get("A1") == nil {
		t.Error("alert must stay active despite publish failure")
	}
}

func TestNotify_SeverityGate(t *testing.T) {
	channel := &fakeChannel{name: "test"}
	m := newTestManager(ManagerOptions{Channels: []Channel{channel}, MinSeverity: SeverityError})

	m.Create(context.Background(), "low", "Info alert", "", SeverityInfo, "test", nil)
	m.Create(context.Background(), "mid", "Warning alert", "", SeverityWarning, "test", nil)
	if channel.sends() != 0 {
		t.Fatalf("below-threshold severities must not notify, got %d sends", channel.sends())
	}

	m.Create(context.Background(), "high", "Error alert", "", SeverityError, "test", nil)
	if channel.sends() != 1 {
		t.Errorf("sends = %d, want 1", channel.sends())
	}
	if got := len(m.ActiveAlerts("")); got != 3 {
		t.Errorf("all alerts stay active regardless of gating, got %d", got)
	}
}

func TestNotify_AllChannelsRunDespiteFailure(t *testing.T) {
	failing := &fakeChannel{name: "bad", err: errors.New("unreachable")}
	working := &fakeChannel{name: "good"}
	m := newTestManager(ManagerOptions{Channels: []Channel{failing, working}})

	m.Create(context.Background(), "A1", "Disk filling", "", SeverityCritical, "monitor", nil)

	if failing.sends() != 1 || working.sends() != 1 {
		t.Errorf("sends = %d/%d, want both channels attempted", failing.sends(), working.sends())
	}
}

func TestAcknowledgeAndResolve(t *testing.T) {
	m := newTestManager(ManagerOptions{})
	m.Create(context.Background(), "A1", "Stuck consumer", "", SeverityWarning, "monitor", nil)

	if !m.Acknowledge("A1", "alice") {
		t.Fatal("acknowledge failed")
	}
	alert := m.Get("A1")
	if alert.Status != StatusAcknowledged || alert.AcknowledgedBy != "alice" || alert.AcknowledgedAt == nil {
		t.Errorf("after ack: %+v", alert)
	}

	if !m.Resolve("A1") {
		t.Fatal("resolve failed")
	}
	if m.Get("A1") != nil {
		t.Error("resolved alert must leave the active set")
	}

	// the id is free again
	again := m.Create(context.Background(), "A1", "Stuck consumer", "", SeverityWarning, "monitor", nil)
	if again.Status != StatusActive {
		t.Errorf("recreated alert status = %s", again.Status)
	}

	if m.Acknowledge("missing", "bob") {
		t.Error("acknowledge of unknown id must return false")
	}
	if m.Resolve("missing") {
		t.Error("resolve of unknown id must return false")
	}
}

func TestActiveAlerts_Ordering(t *testing.T) {
	m := newTestManager(ManagerOptions{})
	m.Create(context.Background(), "w1", "first warning", "", SeverityWarning, "test", nil)
	m.Create(context.Background(), "c1", "critical", "", SeverityCritical, "test", nil)
	m.Create(context.Background(), "w2", "second warning", "", SeverityWarning, "test", nil)
	m.Create(context.Background(), "i1", "info", "", SeverityInfo, "test", nil)

	alerts := m.ActiveAlerts("")
	got := make([]string, len(alerts))
	for i, a := range alerts {
		got[i] = a.ID
	}
	want := []string{"c1", "w1", "w2", "i1"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}

	warnings := m.ActiveAlerts(SeverityWarning)
	if len(warnings) != 2 {
		t.Errorf("severity filter returned %d alerts, want 2", len(warnings))
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	m := newTestManager(ManagerOptions{})
	m.Create(context.Background(), "A1", "original", "", SeverityInfo, "test", nil)

	copy1 := m.Get("A1")
	copy1.Title = "mutated"

	if m.Get("A1").Title != "original" {
		t.Error("Get must return a copy, not the stored alert")
	}
}

func TestEvaluateRules(t *testing.T) {
	channel := &fakeChannel{name: "test"}
	rules := []Rule{
		{
			Name:     "high_error_rate",
			Severity: SeverityCritical,
			Conditions: []Condition{
				{Field: "error_rate", Operator: "gt", Value: 0.1},
			},
		},
		{
			Name:     "slow_and_erroring",
			Severity: SeverityError,
			Conditions: []Condition{
				{Field: "latency_ms", Operator: "gt", Value: 500},
				{Field: "error_rate", Operator: "gt", Value: 0.01},
			},
		},
	}
	m := newTestManager(ManagerOptions{Channels: []Channel{channel}, Rules: rules})

	triggered := m.EvaluateRules(context.Background(), event.Record{
		"error_rate":     0.25,
		"correlation_id": "evt-7",
		"source":         "processor",
	})
	if len(triggered) != 1 {
		t.Fatalf("triggered = %d rules, want 1", len(triggered))
	}
	alert := triggered[0]
	if alert.ID != "high_error_rate_evt-7" {
		t.Errorf("alert id = %q", alert.ID)
	}
	if alert.Title != "Alert: high_error_rate" {
		t.Errorf("default title = %q", alert.Title)
	}
	if alert.Source != "alert_rules" {
		t.Errorf("default source = %q", alert.Source)
	}
	if alert.Metadata.String("triggered_by") != "processor" {
		t.Errorf("metadata = %v", alert.Metadata)
	}

	// same event again dedups on the derived id
	m.EvaluateRules(context.Background(), event.Record{"error_rate": 0.25, "correlation_id": "evt-7"})
	if got := len(m.ActiveAlerts("")); got != 1 {
		t.Errorf("active alerts = %d, want 1 after duplicate evaluation", got)
	}
}

func TestEvaluateRules_AllMode(t *testing.T) {
	rules := []Rule{
		{
			Name:     "slow_and_erroring",
			Severity: SeverityError,
			Conditions: []Condition{
				{Field: "latency_ms", Operator: "gt", Value: 500},
				{Field: "error_rate", Operator: "gt", Value: 0.01},
			},
		},
	}
	m := newTestManager(ManagerOptions{Rules: rules, RuleMode: MatchAll})

	if got := m.EvaluateRules(context.Background(), event.Record{"latency_ms": 900.0}); len(got) != 0 {
		t.Errorf("partial match fired in all mode: %v", got)
	}
	if got := m.EvaluateRules(context.Background(), event.Record{"latency_ms": 900.0, "error_rate": 0.5}); len(got) != 1 {
		t.Errorf("full match did not fire in all mode: %v", got)
	}
}

func TestStats(t *testing.T) {
	m := newTestManager(ManagerOptions{
		Channels: []Channel{&fakeChannel{name: "a"}, &fakeChannel{name: "b"}},
		Rules:    []Rule{{Name: "r1", Conditions: []Condition{{Field: "x", Operator: "gt", Value: 1}}}},
	})
	m.Create(context.Background(), "c1", "critical", "", SeverityCritical, "test", nil)
	m.Create(context.Background(), "c2", "critical too", "", SeverityCritical, "test", nil)
	m.Create(context.Background(), "i1", "info", "", SeverityInfo, "test", nil)

	stats := m.Stats()
	if stats["active_alerts"] != 3 {
		t.Errorf("active_alerts = %v", stats["active_alerts"])
	}
	breakdown := stats["severity_breakdown"].(event.Record)
	if breakdown["critical"] != 2 || breakdown["info"] != 1 || breakdown["warning"] != 0 {
		t.Errorf("breakdown = %v", breakdown)
	}
	if stats["notification_channels"] != 2 || stats["alert_rules"] != 1 {
		t.Errorf("stats = %v", stats)
	}
}
