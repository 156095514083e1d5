package correlation

import (
	"github.com/telhawk-systems/causeway/internal/models"
	"github.com/telhawk-systems/causeway/internal/window"
)

// InheritedStrategy groups events that arrive carrying the same upstream
// correlation id. The producer already declared them related, so matches
// score 1.0 and short-circuit any weaker statistical signal.
type InheritedStrategy struct {
	params InheritedParams
}

// NewInheritedStrategy creates an inherited correlation id strategy.
func NewInheritedStrategy(params InheritedParams) *InheritedStrategy {
	return &InheritedStrategy{params: params}
}

// Name returns the strategy name.
func (s *InheritedStrategy) Name() string { return "inherited" }

// Weight returns the configured strategy weight.
func (s *InheritedStrategy) Weight() float64 { return s.params.Weight }

// Propose collects every window event with the trigger's correlation id.
func (s *InheritedStrategy) Propose(trigger *models.NormalizedEvent, buf *window.Buffer) (Proposal, bool) {
	if trigger.CorrelationID == "" {
		return Proposal{}, false
	}

	var related []*models.NormalizedEvent
	for ev := range buf.All() {
		if ev.ID == trigger.ID {
			continue
		}
		if ev.CorrelationID == trigger.CorrelationID {
			related = append(related, ev)
		}
	}
	if len(related) == 0 {
		return Proposal{}, false
	}
	return Proposal{
		Strategy: s.Name(),
		Type:     models.TypeCausalChain,
		Related:  related,
		Strength: 1.0,
	}, true
}
