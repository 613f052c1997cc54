package event

import (
	"strconv"
	"time"
)

// Record is a JSON-shaped event as it travels through the pipeline. All
// domain fields not understood by a stage pass through unchanged.
type Record map[string]any

// Clone returns a shallow copy. Stages copy before mutating so that the
// caller's view of the record is never changed underneath it.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// String returns the value under key as a string, or "" when absent or not
// a string.
func (r Record) String(key string) string {
	s, _ := r[key].(string)
	return s
}

// Float returns the value under key as a float64. JSON numbers decode as
// float64; int, int64 and numeric strings are accepted too.
func (r Record) Float(key string) (float64, bool) {
	switch v := r[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Bool returns the value under key as a bool, false when absent.
func (r Record) Bool(key string) bool {
	b, _ := r[key].(bool)
	return b
}

// Map returns the value under key as a nested Record. Both Record and plain
// map[string]any values (as produced by encoding/json) are accepted.
func (r Record) Map(key string) Record {
	switch v := r[key].(type) {
	case Record:
		return v
	case map[string]any:
		return Record(v)
	default:
		return nil
	}
}

// Time returns the value under key when it is an already-parsed time.Time.
func (r Record) Time(key string) (time.Time, bool) {
	t, ok := r[key].(time.Time)
	return t, ok
}

// ParseTimestamp normalizes the supported timestamp representations to UTC:
// an already-parsed time.Time, ISO-8601 strings (with or without the Z
// suffix), and epoch seconds as int, float or numeric string. The second
// return is false when the value could not be parsed.
func ParseTimestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), true
	case float64:
		sec := int64(t)
		nsec := int64((t - float64(sec)) * float64(time.Second))
		return time.Unix(sec, nsec).UTC(), true
	case int:
		return time.Unix(int64(t), 0).UTC(), true
	case int64:
		return time.Unix(t, 0).UTC(), true
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed.UTC(), true
		}
		if parsed, err := time.Parse("2006-01-02T15:04:05", t); err == nil {
			return parsed.UTC(), true
		}
		if epoch, err := strconv.ParseFloat(t, 64); err == nil {
			return ParseTimestamp(epoch)
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}
