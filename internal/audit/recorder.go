package audit

import (
	"sync"

	"github.com/quanttide/breakout-bot/internal/events"
)

// DefaultCapacity bounds the in-memory audit trail. The oldest record
// is evicted once the bound is reached.
const DefaultCapacity = 5000

// Recorder keeps a bounded trail of every event the core publishes so a
// session can be exported and replayed after the fact.
type Recorder struct {
	mu       sync.Mutex
	records  []events.Event
	capacity int
	dropped  uint64
}

// NewRecorder creates a recorder with the given capacity. Non-positive
// capacity falls back to DefaultCapacity.
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Recorder{capacity: capacity}
}

// Record appends one event. Register it as a bus handler.
func (r *Recorder) Record(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = append(r.records, e)
	if len(r.records) > r.capacity {
		r.records = r.records[len(r.records)-r.capacity:]
		r.dropped++
	}
}

// Events returns a copy of the retained trail, oldest first.
func (r *Recorder) Events() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]events.Event, len(r.records))
	copy(out, r.records)
	return out
}

// Len returns the number of retained events.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Dropped returns how many evictions the bound has forced.
func (r *Recorder) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}
