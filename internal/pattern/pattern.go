// Package pattern implements the library of named causal patterns used to
// classify promoted correlation groups. A pattern is an ordered sequence of
// source/type wildcard steps with a maximum lag between consecutive steps
// and a declared certainty.
package pattern

import (
	"fmt"
	"time"

	"github.com/telhawk-systems/causeway/internal/models"
)

// Wildcard matches any source module or event type in a step.
const Wildcard = "*"

// Step is one position in a pattern's ordered sequence. Source and EventType
// may be the wildcard. MaxLag bounds the gap to the previous matched step
// and is ignored on the first step.
type Step struct {
	Source    string        `yaml:"source"`
	EventType string        `yaml:"event_type"`
	MaxLag    time.Duration `yaml:"-"`
}

// matches reports whether a member event satisfies the step's wildcards.
func (s Step) matches(ref models.EventRef) bool {
	if s.Source != Wildcard && s.Source != ref.Source {
		return false
	}
	if s.EventType != Wildcard && s.EventType != ref.Type {
		return false
	}
	return true
}

// Pattern is a named causal signature. Matching a group against it assigns
// the pattern's correlation type and blends its certainty into the group's
// confidence.
type Pattern struct {
	Name      string
	Type      models.CorrelationType
	Certainty float64
	Steps     []Step
}

// Validate checks a pattern definition before registration.
func (p *Pattern) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("pattern name is required")
	}
	if !p.Type.IsValid() {
		return fmt.Errorf("pattern %s: unknown correlation type %q", p.Name, p.Type)
	}
	if p.Certainty < 0 || p.Certainty > 1 {
		return fmt.Errorf("pattern %s: certainty must be in [0,1]", p.Name)
	}
	if len(p.Steps) < 2 {
		return fmt.Errorf("pattern %s: requires at least two steps", p.Name)
	}
	for i, step := range p.Steps {
		if step.Source == "" || step.EventType == "" {
			return fmt.Errorf("pattern %s: step %d must set source and event_type (use %q to match any)", p.Name, i, Wildcard)
		}
		if i > 0 && step.MaxLag <= 0 {
			return fmt.Errorf("pattern %s: step %d requires a positive max_lag", p.Name, i)
		}
	}
	return nil
}

// Builtins returns the default pattern library registered when no pattern
// file is configured. Callers may register further patterns after these.
func Builtins() []Pattern {
	return []Pattern{
		{
			Name:      "security-breach-cascade",
			Type:      models.TypeSecurityIncident,
			Certainty: 0.9,
			Steps: []Step{
				{Source: Wildcard, EventType: "security_alert"},
				{Source: Wildcard, EventType: "policy_violation", MaxLag: 15 * time.Minute},
				{Source: Wildcard, EventType: "cost_spike", MaxLag: 30 * time.Minute},
			},
		},
		{
			Name:      "performance-degradation",
			Type:      models.TypePerformanceDegradation,
			Certainty: 0.75,
			Steps: []Step{
				{Source: Wildcard, EventType: "metric_threshold"},
				{Source: Wildcard, EventType: "latency_breach", MaxLag: 5 * time.Minute},
			},
		},
		{
			Name:      "cost-overrun",
			Type:      models.TypeCostImpact,
			Certainty: 0.8,
			Steps: []Step{
				{Source: Wildcard, EventType: "budget_warning"},
				{Source: Wildcard, EventType: "cost_spike", MaxLag: 30 * time.Minute},
			},
		},
		{
			Name:      "compliance-cascade",
			Type:      models.TypeComplianceCascade,
			Certainty: 0.7,
			Steps: []Step{
				{Source: Wildcard, EventType: "policy_violation"},
				{Source: Wildcard, EventType: "policy_violation", MaxLag: time.Hour},
				{Source: Wildcard, EventType: "audit_finding", MaxLag: time.Hour},
			},
		},
	}
}
