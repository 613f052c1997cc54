package anomaly

import "github.com/warehouse-ops/pipeline/internal/event"

// Result is the outcome of running the detectors against one event. A
// non-anomalous result has Type "none" and zero confidence.
type Result struct {
	IsAnomaly  bool         `json:"is_anomaly"`
	Confidence float64      `json:"confidence"`
	Type       string       `json:"anomaly_type"`
	Severity   string       `json:"severity"`
	Details    event.Record `json:"details"`
}

// None is the result returned when no detector fires.
func None() Result {
	return Result{Type: "none", Details: event.Record{}}
}

func (r Result) AsRecord() event.Record {
	return event.Record{
		"is_anomaly":   r.IsAnomaly,
		"confidence":   r.Confidence,
		"anomaly_type": r.Type,
		"severity":     r.Severity,
		"details":      r.Details,
	}
}

var severityRank = map[string]int{"low": 0, "medium": 1, "high": 2}

// better reports whether a should win over b: highest confidence first,
// then severity, then the earlier detector (a precedes b in run order).
func better(a, b Result) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	return severityRank[a.Severity] > severityRank[b.Severity]
}
