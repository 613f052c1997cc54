package alerting

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warehouse-ops/pipeline/internal/bus"
	"github.com/warehouse-ops/pipeline/internal/event"
)

// Channel delivers one alert to one destination. Implementations live in the
// channels subpackage.
type Channel interface {
	Name() string
	Send(ctx context.Context, alert *Alert) error
}

// Publisher is the slice of the bus producer the manager needs to re-emit
// alerts before notifying.
type Publisher interface {
	Send(ctx context.Context, topic, key string, value any) error
}

type Manager struct {
	mu     sync.RWMutex
	active map[string]*Alert
	rules  []Rule

	channels    []Channel
	publisher   Publisher
	minSeverity Severity
	ruleMode    RuleMode
	now         func() time.Time
}

type ManagerOptions struct {
	Channels []Channel
	// Publisher re-emits created alerts to the bus before notification
	// fan-out; nil disables re-emission.
	Publisher   Publisher
	Rules       []Rule
	MinSeverity Severity
	RuleMode    RuleMode
}

func NewManager(opts ManagerOptions) *Manager {
	if !opts.MinSeverity.Valid() {
		opts.MinSeverity = SeverityWarning
	}
	if opts.RuleMode == "" {
		opts.RuleMode = MatchAny
	}
	return &Manager{
		active:      map[string]*Alert{},
		rules:       opts.Rules,
		channels:    opts.Channels,
		publisher:   opts.Publisher,
		minSeverity: opts.MinSeverity,
		ruleMode:    opts.RuleMode,
		now:         time.Now,
	}
}

// Create registers an alert and dispatches notifications. Creating an id
// that is already active is a no-op returning the existing alert, so a
// flapping detector cannot re-notify. The alert is published to the bus
// before any notification channel runs; a failed fan-out never loses the
// alert itself.
func (m *Manager) Create(ctx context.Context, id, title, description string, severity Severity, source string, metadata event.Record) *Alert {
	if id == "" {
		id = uuid.NewString()
	}
	if metadata == nil {
		metadata = event.Record{}
	}

	m.mu.Lock()
	if existing, ok := m.active[id]; ok && existing.Status == StatusActive {
		m.mu.Unlock()
		log.Printf("alerting: alert %s already active, skipping", id)
		return existing
	}
	alert := &Alert{
		ID:          id,
		Title:       title,
		Description: description,
		Severity:    severity,
		Source:      source,
		Timestamp:   m.now().UTC(),
		Metadata:    metadata,
		Status:      StatusActive,
	}
	m.active[id] = alert
	m.mu.Unlock()

	log.Printf("alerting: created alert %s severity=%s source=%s", id, severity, source)

	if m.publisher != nil {
		if err := m.publisher.Send(ctx, bus.TopicAlerts, id, alert.AsRecord()); err != nil {
			log.Printf("alerting: publish alert %s: %v", id, err)
		}
	}

	m.notify(ctx, alert)
	return alert
}

func (m *Manager) notify(ctx context.Context, alert *Alert) {
	if alert.Severity.Level() < m.minSeverity.Level() {
		return
	}
	if len(m.channels) == 0 {
		return
	}

	var (
		wg        sync.WaitGroup
		successMu sync.Mutex
		successes int
	)
	for _, channel := range m.channels {
		wg.Add(1)
		go func(channel Channel) {
			defer wg.Done()
			if err := channel.Send(ctx, alert); err != nil {
				log.Printf("alerting: %s notification for %s: %v", channel.Name(), alert.ID, err)
				return
			}
			successMu.Lock()
			successes++
			successMu.Unlock()
		}(channel)
	}
	wg.Wait()

	log.Printf("alerting: notifications for %s: %d/%d succeeded", alert.ID, successes, len(m.channels))
}

func (m *Manager) Acknowledge(id, user string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	alert, ok := m.active[id]
	if !ok {
		log.Printf("alerting: alert %s not found for acknowledgment", id)
		return false
	}
	alert.acknowledge(user, m.now().UTC())
	return true
}

// Resolve closes an alert and removes it from the active set, freeing the
// id for future alerts.
func (m *Manager) Resolve(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	alert, ok := m.active[id]
	if !ok {
		log.Printf("alerting: alert %s not found for resolution", id)
		return false
	}
	alert.resolve(m.now().UTC())
	delete(m.active, id)
	return true
}

// Get returns a copy of the alert, or nil when the id is not active.
func (m *Manager) Get(id string) *Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	alert, ok := m.active[id]
	if !ok {
		return nil
	}
	snapshot := *alert
	return &snapshot
}

// ActiveAlerts returns a snapshot sorted by severity (critical first) then
// ascending timestamp. An empty severity means no filter.
func (m *Manager) ActiveAlerts(severity Severity) []*Alert {
	m.mu.RLock()
	alerts := make([]*Alert, 0, len(m.active))
	for _, alert := range m.active {
		if severity != "" && alert.Severity != severity {
			continue
		}
		snapshot := *alert
		alerts = append(alerts, &snapshot)
	}
	m.mu.RUnlock()

	sort.Slice(alerts, func(i, j int) bool {
		if alerts[i].Severity.Level() != alerts[j].Severity.Level() {
			return alerts[i].Severity.Level() > alerts[j].Severity.Level()
		}
		return alerts[i].Timestamp.Before(alerts[j].Timestamp)
	})
	return alerts
}

// EvaluateRules runs every rule against the record and creates an alert per
// firing rule. Alert ids derive from the rule name and the record's
// correlation id, so the same rule firing on the same event dedups.
func (m *Manager) EvaluateRules(ctx context.Context, data event.Record) []*Alert {
	m.mu.RLock()
	rules := m.rules
	mode := m.ruleMode
	m.mu.RUnlock()

	var triggered []*Alert
	for _, rule := range rules {
		if !rule.Matches(data, mode) {
			continue
		}

		correlationID := data.String("correlation_id")
		if correlationID == "" {
			correlationID = "unknown"
		}
		severity := rule.Severity
		if !severity.Valid() {
			severity = SeverityWarning
		}
		title := rule.Title
		if title == "" {
			title = "Alert: " + rule.Name
		}
		source := rule.Source
		if source == "" {
			source = "alert_rules"
		}

		alert := m.Create(ctx, rule.Name+"_"+correlationID, title, rule.Description, severity, source, event.Record{
			"rule_name":      rule.Name,
			"triggered_by":   data.String("source"),
			"correlation_id": data.String("correlation_id"),
		})
		triggered = append(triggered, alert)
	}
	return triggered
}

// Stats summarizes the manager's state for the operations API.
func (m *Manager) Stats() event.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	breakdown := event.Record{
		string(SeverityInfo):     0,
		string(SeverityWarning):  0,
		string(SeverityError):    0,
		string(SeverityCritical): 0,
	}
	for _, alert := range m.active {
		count, _ := breakdown[string(alert.Severity)].(int)
		breakdown[string(alert.Severity)] = count + 1
	}

	return event.Record{
		"active_alerts":         len(m.active),
		"severity_breakdown":    breakdown,
		"notification_channels": len(m.channels),
		"alert_rules":           len(m.rules),
	}
}
