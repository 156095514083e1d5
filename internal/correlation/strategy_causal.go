package correlation

import (
	"github.com/telhawk-systems/causeway/internal/models"
	"github.com/telhawk-systems/causeway/internal/window"
)

// CausalStrategy follows explicit parent event hints in both directions: the
// trigger's declared parent, and any buffered events that declared the
// trigger as their parent. Producer-declared causality scores 1.0 and types
// the group as a causal chain.
type CausalStrategy struct {
	params CausalParams
}

// NewCausalStrategy creates a causal hint strategy.
func NewCausalStrategy(params CausalParams) *CausalStrategy {
	return &CausalStrategy{params: params}
}

// Name returns the strategy name.
func (s *CausalStrategy) Name() string { return "causal" }

// Weight returns the configured strategy weight.
func (s *CausalStrategy) Weight() float64 { return s.params.Weight }

// Propose links the trigger to its buffered parent and to buffered children.
// A parent hint pointing outside the window is kept as evidence on the
// trigger itself but produces no link, since the referenced event's identity
// cannot be confirmed.
func (s *CausalStrategy) Propose(trigger *models.NormalizedEvent, buf *window.Buffer) (Proposal, bool) {
	var related []*models.NormalizedEvent
	var links []models.CausalLink

	if trigger.ParentEventID != "" {
		if parent, ok := buf.Get(trigger.ParentEventID); ok {
			related = append(related, parent)
			links = append(links, models.CausalLink{
				CauseEventID:  parent.ID,
				EffectEventID: trigger.ID,
				Relationship:  "causes",
				Lag:           trigger.Timestamp.Sub(parent.Timestamp),
			})
		}
	}

	for ev := range buf.All() {
		if ev.ID == trigger.ID || ev.ParentEventID != trigger.ID {
			continue
		}
		related = append(related, ev)
		links = append(links, models.CausalLink{
			CauseEventID:  trigger.ID,
			EffectEventID: ev.ID,
			Relationship:  "causes",
			Lag:           ev.Timestamp.Sub(trigger.Timestamp),
		})
	}

	if len(related) == 0 {
		return Proposal{}, false
	}
	return Proposal{
		Strategy: s.Name(),
		Type:     models.TypeCausalChain,
		Related:  related,
		Strength: 1.0,
		Links:    links,
	}, true
}
