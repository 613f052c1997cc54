package aggregate

import (
	"time"

	"github.com/warehouse-ops/pipeline/internal/event"
)

type windowEntry struct {
	at   time.Time
	data event.Record
}

// TimeWindow is a time-bounded sliding window. Eviction happens on Add,
// relative to the added entry's timestamp, so out-of-order events within the
// window are kept but anything older than size falls off immediately.
type TimeWindow struct {
	size    time.Duration
	entries []windowEntry
}

func NewTimeWindow(size time.Duration) *TimeWindow {
	return &TimeWindow{size: size}
}

func (w *TimeWindow) Add(at time.Time, data event.Record) {
	w.entries = append(w.entries, windowEntry{at: at, data: data})
	cutoff := at.Add(-w.size)
	drop := 0
	for drop < len(w.entries) && w.entries[drop].at.Before(cutoff) {
		drop++
	}
	if drop > 0 {
		w.entries = w.entries[drop:]
	}
}

func (w *TimeWindow) Data() []event.Record {
	out := make([]event.Record, len(w.entries))
	for i, e := range w.entries {
		out[i] = e.data
	}
	return out
}

func (w *TimeWindow) Len() int {
	return len(w.entries)
}

func (w *TimeWindow) Size() time.Duration {
	return w.size
}
