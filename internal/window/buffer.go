// Package window implements the sliding event window buffer that holds the
// recent normalized events available for correlation. Entries age out FIFO by
// timestamp once they exceed the configured maximum age, or once the buffer
// grows past its maximum count, whichever bound is hit first.
package window

import (
	"iter"
	"sort"
	"time"

	"github.com/telhawk-systems/causeway/internal/models"
)

// Buffer holds the sliding window of events for one partition. It is owned by
// a single partition worker and is not safe for concurrent use.
type Buffer struct {
	maxAge    time.Duration
	maxEvents int
	now       func() time.Time

	events []*models.NormalizedEvent // sorted by timestamp ascending
	byID   map[string]*models.NormalizedEvent
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithNowFunc overrides the clock used for age-based eviction. Tests use this
// to advance time deterministically.
func WithNowFunc(now func() time.Time) Option {
	return func(b *Buffer) {
		b.now = now
	}
}

// New creates a buffer with the given bounds.
func New(maxAge time.Duration, maxEvents int, opts ...Option) *Buffer {
	b := &Buffer{
		maxAge:    maxAge,
		maxEvents: maxEvents,
		now:       time.Now,
		byID:      make(map[string]*models.NormalizedEvent),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Admit inserts an event into the window, evicting entries that fall outside
// the age or count bounds. Returns false when an event with the same
// identifier is already buffered.
func (b *Buffer) Admit(ev *models.NormalizedEvent) bool {
	if _, dup := b.byID[ev.ID]; dup {
		return false
	}

	idx := sort.Search(len(b.events), func(i int) bool {
		return b.events[i].Timestamp.After(ev.Timestamp)
	})
	b.events = append(b.events, nil)
	copy(b.events[idx+1:], b.events[idx:])
	b.events[idx] = ev
	b.byID[ev.ID] = ev

	b.evict()
	return true
}

// evict drops expired entries from the front, then trims oldest-first down to
// the count bound. Events dropped here may still be referenced by in-flight
// candidate groups; callers treat such references as evidence only.
func (b *Buffer) evict() {
	cutoff := b.now().Add(-b.maxAge)

	drop := 0
	for drop < len(b.events) && b.events[drop].Timestamp.Before(cutoff) {
		drop++
	}
	if over := len(b.events) - drop - b.maxEvents; over > 0 {
		drop += over
	}
	if drop == 0 {
		return
	}

	for _, ev := range b.events[:drop] {
		delete(b.byID, ev.ID)
	}
	b.events = append(b.events[:0], b.events[drop:]...)
}

// Get returns a buffered event by identifier. Events past the age bound are
// reported as absent even if not yet physically evicted.
func (b *Buffer) Get(id string) (*models.NormalizedEvent, bool) {
	ev, ok := b.byID[id]
	if !ok {
		return nil, false
	}
	if ev.Timestamp.Before(b.now().Add(-b.maxAge)) {
		return nil, false
	}
	return ev, true
}

// Filter selects events by indexed fields. Zero values match everything.
type Filter struct {
	Source      string
	Type        string
	MinSeverity models.Severity
	Tags        map[string]string
}

// Matches reports whether the event satisfies every set filter field.
func (f Filter) Matches(ev *models.NormalizedEvent) bool {
	if f.Source != "" && ev.Source != f.Source {
		return false
	}
	if f.Type != "" && ev.Type != f.Type {
		return false
	}
	if f.MinSeverity != "" && ev.Severity.Rank() < f.MinSeverity.Rank() {
		return false
	}
	for k, v := range f.Tags {
		if ev.Tags[k] != v {
			return false
		}
	}
	return true
}

// Query returns the buffered events matching the filter within [from, to],
// ordered by timestamp ascending, as a lazy restartable sequence. Zero from
// or to bounds are open. Entries past the age bound are skipped.
func (b *Buffer) Query(f Filter, from, to time.Time) iter.Seq[*models.NormalizedEvent] {
	return func(yield func(*models.NormalizedEvent) bool) {
		cutoff := b.now().Add(-b.maxAge)
		for _, ev := range b.events {
			if ev.Timestamp.Before(cutoff) {
				continue
			}
			if !from.IsZero() && ev.Timestamp.Before(from) {
				continue
			}
			if !to.IsZero() && ev.Timestamp.After(to) {
				break
			}
			if !f.Matches(ev) {
				continue
			}
			if !yield(ev) {
				return
			}
		}
	}
}

// All returns every live buffered event in timestamp order.
func (b *Buffer) All() iter.Seq[*models.NormalizedEvent] {
	return b.Query(Filter{}, time.Time{}, time.Time{})
}

// Len returns the number of physically buffered events, including entries
// past the age bound that have not been evicted yet.
func (b *Buffer) Len() int {
	return len(b.events)
}

// Stats reports the current window span.
type Stats struct {
	Count  int       `json:"count"`
	Oldest time.Time `json:"oldest,omitempty"`
	Newest time.Time `json:"newest,omitempty"`
}

// Stats returns count and span of the buffered events.
func (b *Buffer) Stats() Stats {
	s := Stats{Count: len(b.events)}
	if len(b.events) > 0 {
		s.Oldest = b.events[0].Timestamp
		s.Newest = b.events[len(b.events)-1].Timestamp
	}
	return s
}
