// Package rootcause orders a correlated group into a causal chain and picks
// the most likely originating event. Explicit parent hints are preferred;
// without them the earliest event with no incoming link inside the group is
// the provisional root. The analysis fails closed: on an empty group or a
// cycle in the hints, no root cause is produced and the group is emitted
// without one.
package rootcause

import (
	"fmt"
	"sort"

	"github.com/telhawk-systems/causeway/internal/correlation"
	"github.com/telhawk-systems/causeway/internal/models"
)

const (
	// tiePenalty is subtracted per additional equally-early root candidate.
	tiePenalty = 0.1
	// fullSpanBoost is added when the hint chain connects every member.
	fullSpanBoost = 0.15
)

// Analyzer derives root cause analyses from candidate groups. It is
// stateless and safe for concurrent use.
type Analyzer struct{}

// NewAnalyzer creates an analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Analyze identifies the group's root event, causal chain, contributing
// factors, and recommended actions. Returns nil when the group is empty or
// its parent hints form a cycle; callers emit the group without a root
// cause in that case.
func (a *Analyzer) Analyze(group *correlation.Group) *models.RootCauseAnalysis {
	if group == nil || len(group.Members) == 0 {
		return nil
	}

	members := make([]*models.NormalizedEvent, len(group.Members))
	copy(members, group.Members)
	sort.Slice(members, func(i, j int) bool {
		if !members[i].Timestamp.Equal(members[j].Timestamp) {
			return members[i].Timestamp.Before(members[j].Timestamp)
		}
		return members[i].ID < members[j].ID
	})

	inGroup := make(map[string]*models.NormalizedEvent, len(members))
	for _, ev := range members {
		inGroup[ev.ID] = ev
	}

	// Parent hints pointing outside the group carry no weight here; only
	// links between members shape the chain.
	children := make(map[string][]*models.NormalizedEvent)
	hasParent := make(map[string]bool)
	linked := 0
	for _, ev := range members {
		if ev.ParentEventID == "" {
			continue
		}
		if _, ok := inGroup[ev.ParentEventID]; !ok {
			continue
		}
		children[ev.ParentEventID] = append(children[ev.ParentEventID], ev)
		hasParent[ev.ID] = true
		linked++
	}

	if hasCycle(members, children) {
		return nil
	}

	roots := make([]*models.NormalizedEvent, 0, len(members))
	for _, ev := range members {
		if !hasParent[ev.ID] {
			roots = append(roots, ev)
		}
	}
	// A cycle-free group always has at least one rootless member.
	root := roots[0]

	ties := 0
	for _, ev := range roots[1:] {
		if ev.Timestamp.Equal(root.Timestamp) {
			ties++
		}
	}

	chain := buildChain(root, children)

	confidence := group.Correlation.Strength - tiePenalty*float64(ties)
	if len(chain) == len(members)-1 && len(members) > 1 {
		confidence += fullSpanBoost
	}

	return &models.RootCauseAnalysis{
		RootEventID:         root.ID,
		Confidence:          clamp01(confidence),
		CausalChain:         chain,
		ContributingFactors: sharedFactors(members),
		Recommendations:     recommendationsFor(group.Correlation.Type),
	}
}

// ApplyRoles rewrites member roles from a completed analysis: the root
// event, the chain's effects, and contributors for everything else. Without
// an analysis all members stay related.
func ApplyRoles(corr *models.EventCorrelation, analysis *models.RootCauseAnalysis) {
	if analysis == nil {
		return
	}
	effects := make(map[string]bool, len(analysis.CausalChain))
	for _, link := range analysis.CausalChain {
		effects[link.EffectEventID] = true
	}
	for i := range corr.Events {
		id := corr.Events[i].Event.EventID
		switch {
		case id == analysis.RootEventID:
			corr.Events[i].Role = models.RoleRootCause
		case effects[id]:
			corr.Events[i].Role = models.RoleEffect
		default:
			corr.Events[i].Role = models.RoleContributor
		}
	}
}

// buildChain walks the hint tree from the root in timestamp order and emits
// one link per parent/child edge. Members outside the root's tree are left
// to their contributor roles.
func buildChain(root *models.NormalizedEvent, children map[string][]*models.NormalizedEvent) []models.CausalLink {
	var chain []models.CausalLink
	stack := []*models.NormalizedEvent{root}
	for len(stack) > 0 {
		parent := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		kids := children[parent.ID]
		sort.Slice(kids, func(i, j int) bool {
			if !kids[i].Timestamp.Equal(kids[j].Timestamp) {
				return kids[i].Timestamp.Before(kids[j].Timestamp)
			}
			return kids[i].ID < kids[j].ID
		})
		// Push in reverse so the earliest child is walked first.
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, kids[i])
		}
		for _, kid := range kids {
			chain = append(chain, models.CausalLink{
				CauseEventID:  parent.ID,
				EffectEventID: kid.ID,
				Relationship:  "causes",
				Lag:           kid.Timestamp.Sub(parent.Timestamp),
			})
		}
	}
	return chain
}

// hasCycle reports whether the parent hint edges contain a cycle.
func hasCycle(members []*models.NormalizedEvent, children map[string][]*models.NormalizedEvent) bool {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(members))

	var visit func(id string) bool
	visit = func(id string) bool {
		switch state[id] {
		case visiting:
			return true
		case done:
			return false
		}
		state[id] = visiting
		for _, kid := range children[id] {
			if visit(kid.ID) {
				return true
			}
		}
		state[id] = done
		return false
	}

	for _, ev := range members {
		if state[ev.ID] == unvisited && visit(ev.ID) {
			return true
		}
	}
	return false
}

// sharedFactors returns the deduplicated key=value tags present on at least
// half of the group's members, sorted for determinism.
func sharedFactors(members []*models.NormalizedEvent) []string {
	counts := make(map[string]int)
	for _, ev := range members {
		for k, v := range ev.Tags {
			counts[fmt.Sprintf("%s=%s", k, v)]++
		}
	}

	var factors []string
	for factor, n := range counts {
		if n*2 >= len(members) {
			factors = append(factors, factor)
		}
	}
	sort.Strings(factors)
	return factors
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
