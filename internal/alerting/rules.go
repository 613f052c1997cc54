package alerting

import (
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/warehouse-ops/pipeline/internal/event"
)

// Condition compares a single record field against a literal. Fields absent
// from the record never match.
type Condition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"` // gt, lt, eq, contains, regex
	Value    any    `json:"value"`
}

// RuleMode decides how a rule's conditions combine.
type RuleMode string

const (
	// MatchAny fires on the first matching condition.
	MatchAny RuleMode = "any"
	// MatchAll requires every condition to match.
	MatchAll RuleMode = "all"
)

type Rule struct {
	Name        string      `json:"name"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Severity    Severity    `json:"severity"`
	Source      string      `json:"source"`
	Conditions  []Condition `json:"conditions"`
	// Mode overrides the manager-wide rule mode when set.
	Mode RuleMode `json:"match,omitempty"`
}

// Matches evaluates the rule against a record under the given mode. A rule
// carrying its own mode ignores the argument.
func (r Rule) Matches(data event.Record, mode RuleMode) bool {
	if r.Mode != "" {
		mode = r.Mode
	}
	if len(r.Conditions) == 0 {
		return false
	}
	for _, condition := range r.Conditions {
		matched := condition.matches(data)
		if mode == MatchAll && !matched {
			return false
		}
		if mode != MatchAll && matched {
			return true
		}
	}
	return mode == MatchAll
}

func (c Condition) matches(data event.Record) bool {
	raw, ok := data[c.Field]
	if !ok {
		return false
	}

	switch c.Operator {
	case "gt", "lt":
		left, okLeft := data.Float(c.Field)
		right, okRight := toFloat(c.Value)
		if !okLeft || !okRight {
			return false
		}
		if c.Operator == "gt" {
			return left > right
		}
		return left < right
	case "eq":
		if left, okLeft := data.Float(c.Field); okLeft {
			if right, okRight := toFloat(c.Value); okRight {
				return left == right
			}
		}
		return fmt.Sprintf("%v", raw) == fmt.Sprintf("%v", c.Value)
	case "contains":
		return strings.Contains(fmt.Sprintf("%v", raw), fmt.Sprintf("%v", c.Value))
	case "regex":
		pattern, isString := c.Value.(string)
		if !isString {
			return false
		}
		matched, err := regexp.MatchString(pattern, fmt.Sprintf("%v", raw))
		if err != nil {
			log.Printf("alerting: bad regex in rule condition %q: %v", pattern, err)
			return false
		}
		return matched
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch value := v.(type) {
	case float64:
		return value, true
	case float32:
		return float64(value), true
	case int:
		return float64(value), true
	case int64:
		return float64(value), true
	default:
		return 0, false
	}
}
