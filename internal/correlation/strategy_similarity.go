package correlation

import (
	"github.com/telhawk-systems/causeway/internal/models"
	"github.com/telhawk-systems/causeway/internal/window"
)

// SimilarityStrategy relates events by Jaccard overlap of their tag sets.
// Tags are compared as key=value pairs, so events tagged with the same
// service and region group even when their sources differ.
type SimilarityStrategy struct {
	params SimilarityParams
}

// NewSimilarityStrategy creates a tag similarity strategy.
func NewSimilarityStrategy(params SimilarityParams) *SimilarityStrategy {
	return &SimilarityStrategy{params: params}
}

// Name returns the strategy name.
func (s *SimilarityStrategy) Name() string { return "similarity" }

// Weight returns the configured strategy weight.
func (s *SimilarityStrategy) Weight() float64 { return s.params.Weight }

// Propose collects window events whose tag overlap with the trigger meets
// the configured minimum. The proposal strength is the best overlap.
func (s *SimilarityStrategy) Propose(trigger *models.NormalizedEvent, buf *window.Buffer) (Proposal, bool) {
	if len(trigger.Tags) == 0 {
		return Proposal{}, false
	}

	var related []*models.NormalizedEvent
	best := 0.0
	for ev := range buf.All() {
		if ev.ID == trigger.ID {
			continue
		}
		overlap := tagOverlap(trigger.Tags, ev.Tags)
		if overlap < s.params.MinOverlap {
			continue
		}
		related = append(related, ev)
		if overlap > best {
			best = overlap
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

// tagOverlap computes the Jaccard overlap of two tag maps treated as sets
// of key=value pairs. Two empty maps overlap not at all rather than fully,
// so untagged events never group on similarity.
func tagOverlap(a, b map[string]string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for k, v := range a {
		if bv, ok := b[k]; ok && bv == v {
			shared++
		}
	}
	union := len(a) + len(b) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}
