package correlation

import (
	"time"

	"github.com/telhawk-systems/causeway/internal/models"
	"github.com/telhawk-systems/causeway/internal/window"
)

// TemporalStrategy relates events whose timestamps fall within a proximity
// window and that share at least one grouping attribute. The pair score
// decays linearly from 1.0 at zero gap to 0.0 at the window boundary, so
// co-occurrence alone never groups unrelated traffic.
type TemporalStrategy struct {
	params TemporalParams
}

// NewTemporalStrategy creates a temporal proximity strategy.
func NewTemporalStrategy(params TemporalParams) *TemporalStrategy {
	return &TemporalStrategy{params: params}
}

// Name returns the strategy name.
func (s *TemporalStrategy) Name() string { return "temporal" }

// Weight returns the configured strategy weight.
func (s *TemporalStrategy) Weight() float64 { return s.params.Weight }

// Propose collects window events within the proximity window that share a
// grouping attribute with the trigger. The proposal strength is the best
// pair score, so the closest related event dominates.
func (s *TemporalStrategy) Propose(trigger *models.NormalizedEvent, buf *window.Buffer) (Proposal, bool) {
	from := trigger.Timestamp.Add(-s.params.Window)
	to := trigger.Timestamp.Add(s.params.Window)

	var related []*models.NormalizedEvent
	best := 0.0
	for ev := range buf.Query(window.Filter{}, from, to) {
		if ev.ID == trigger.ID {
			continue
		}
		if !sharedTag(trigger, ev) {
			continue
		}
		score := s.proximity(trigger.Timestamp, ev.Timestamp)
		if score <= 0 {
			continue
		}
		related = append(related, ev)
		if score > best {
			best = score
		}
	}
	if len(related) == 0 {
		return Proposal{}, false
	}
	return Proposal{
		Strategy: s.Name(),
		Type:     models.TypeTemporal,
		Related:  related,
		Strength: best,
	}, true
}

// proximity maps a timestamp gap to [0,1], 1.0 at zero gap and 0.0 at or
// beyond the window boundary.
func (s *TemporalStrategy) proximity(a, b time.Time) float64 {
	gap := a.Sub(b)
	if gap < 0 {
		gap = -gap
	}
	if gap >= s.params.Window {
		return 0
	}
	return 1 - float64(gap)/float64(s.params.Window)
}
