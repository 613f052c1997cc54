// Package alerting tracks active alerts, evaluates alert rules and fans
// notifications out to the configured channels.
package alerting

import (
	"time"

	"github.com/warehouse-ops/pipeline/internal/event"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

var severityLevels = map[Severity]int{
	SeverityInfo:     0,
	SeverityWarning:  1,
	SeverityError:    2,
	SeverityCritical: 3,
}

// Level returns the numeric rank used for gating and sorting. Unknown
// severities rank lowest.
func (s Severity) Level() int {
	return severityLevels[s]
}

func (s Severity) Valid() bool {
	_, ok := severityLevels[s]
	return ok
}

type Status string

const (
	StatusActive       Status = "active"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
)

type Alert struct {
	ID             string       `json:"alert_id"`
	Title          string       `json:"title"`
	Description    string       `json:"description"`
	Severity       Severity     `json:"severity"`
	Source         string       `json:"source"`
	Timestamp      time.Time    `json:"timestamp"`
	Metadata       event.Record `json:"metadata"`
	Status         Status       `json:"status"`
	AcknowledgedBy string       `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time   `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time   `json:"resolved_at,omitempty"`
}

func (a *Alert) acknowledge(user string, at time.Time) {
	a.Status = StatusAcknowledged
	a.AcknowledgedBy = user
	a.AcknowledgedAt = &at
}

func (a *Alert) resolve(at time.Time) {
	a.Status = StatusResolved
	a.ResolvedAt = &at
}

// AsRecord renders the alert in the bus/storage wire shape.
func (a *Alert) AsRecord() event.Record {
	rec := event.Record{
		"alert_id":    a.ID,
		"title":       a.Title,
		"description": a.Description,
		"severity":    string(a.Severity),
		"source":      a.Source,
		"timestamp":   a.Timestamp.Format(time.RFC3339),
		"metadata":    a.Metadata,
		"status":      string(a.Status),
	}
	if a.AcknowledgedBy != "" {
		rec["acknowledged_by"] = a.AcknowledgedBy
	}
	if a.AcknowledgedAt != nil {
		rec["acknowledged_at"] = a.AcknowledgedAt.Format(time.RFC3339)
	}
	if a.ResolvedAt != nil {
		rec["resolved_at"] = a.ResolvedAt.Format(time.RFC3339)
	}
	return rec
}
