package pattern

import (
	"fmt"

	"github.com/telhawk-systems/causeway/internal/models"
)

// Library holds registered patterns in registration order. Classification is
// deterministic: when several patterns match a group, the first-registered
// one is authoritative. The library is immutable after startup and safe for
// concurrent reads.
type Library struct {
	patterns []Pattern
	byName   map[string]int
}

// NewLibrary creates an empty pattern library.
func NewLibrary() *Library {
	return &Library{byName: make(map[string]int)}
}

// Register validates and appends a pattern. Names must be unique.
func (l *Library) Register(p Pattern) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if _, dup := l.byName[p.Name]; dup {
		return fmt.Errorf("pattern %s: already registered", p.Name)
	}
	l.byName[p.Name] = len(l.patterns)
	l.patterns = append(l.patterns, p)
	return nil
}

// RegisterAll registers the given patterns in order, stopping at the first
// invalid one.
func (l *Library) RegisterAll(patterns []Pattern) error {
	for _, p := range patterns {
		if err := l.Register(p); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of registered patterns.
func (l *Library) Len() int {
	return len(l.patterns)
}

// Classify matches the group's ordered member sequence against the library
// and finalizes its type and confidence in place. On a match the group takes
// the pattern's type and name, and its confidence is the strength blended
// with the pattern's certainty. On no match the strategy-derived type stands
// and confidence defaults to the strength.
func (l *Library) Classify(corr *models.EventCorrelation) {
	for _, p := range l.patterns {
		if matchSequence(p.Steps, corr.Events) {
			corr.Type = p.Type
			corr.Pattern = p.Name
			corr.Confidence = clamp01((corr.Strength + p.Certainty) / 2)
			return
		}
	}
	corr.Confidence = clamp01(corr.Strength)
}

// matchSequence reports whether the pattern steps match an ordered
// subsequence of the group's member events, honoring each step's maximum lag
// from the previously matched member. Later members may satisfy an earlier
// step better than a greedy pick would, so the search backtracks.
func matchSequence(steps []Step, events []models.CorrelatedEvent) bool {
	if len(steps) > len(events) {
		return false
	}
	return matchFrom(steps, events, 0, 0, -1)
}

func matchFrom(steps []Step, events []models.CorrelatedEvent, stepIdx, searchFrom, prevMatched int) bool {
	if stepIdx == len(steps) {
		return true
	}
	step := steps[stepIdx]
	for i := searchFrom; i <= len(events)-(len(steps)-stepIdx); i++ {
		ref := events[i].Event
		if !step.matches(ref) {
			continue
		}
		if stepIdx > 0 {
			lag := ref.Timestamp.Sub(events[prevMatched].Event.Timestamp)
			if lag < 0 || lag > step.MaxLag {
				continue
			}
		}
		if matchFrom(steps, events, stepIdx+1, i+1, i) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
