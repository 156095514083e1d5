package correlation

import (
	"github.com/telhawk-systems/causeway/internal/models"
	"github.com/telhawk-systems/causeway/internal/window"
)

// Proposal is one strategy's view of a candidate group: the buffered events
// it relates to the trigger, a raw strength in [0,1], and the correlation
// type the strategy would assign.
type Proposal struct {
	Strategy string
	Type     models.CorrelationType
	Related  []*models.NormalizedEvent
	Strength float64
	// Links carries directed cause/effect pairs when the strategy derives
	// them from explicit hints.
	Links []models.CausalLink
}

// Strategy relates a trigger event to buffered events. Implementations are
// stateless; all inputs come from the trigger and the window.
type Strategy interface {
	// Name identifies the strategy in logs and proposals.
	Name() string

	// Weight scales the strategy's contribution to the combined strength.
	Weight() float64

	// Propose inspects the window and returns a candidate grouping for the
	// trigger event, or false when the strategy finds nothing.
	Propose(trigger *models.NormalizedEvent, buf *window.Buffer) (Proposal, bool)
}

// sharedTag reports whether two events carry at least one shared grouping
// attribute: same source, same inherited correlation id, or any identical
// tag key/value pair.
func sharedTag(a, b *models.NormalizedEvent) bool {
	if a.Source != "" && a.Source == b.Source {
		return true
	}
	if a.CorrelationID != "" && a.CorrelationID == b.CorrelationID {
		return true
	}
	for k, v := range a.Tags {
		if bv, ok := b.Tags[k]; ok && bv == v {
			return true
		}
	}
	return false
}
