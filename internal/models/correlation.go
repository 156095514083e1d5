package models

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"time"
)

// CorrelationType classifies what kind of relationship a correlation captures.
type CorrelationType string

const (
	TypeCausalChain            CorrelationType = "causal_chain"
	TypeTemporal               CorrelationType = "temporal"
	TypePatternMatch           CorrelationType = "pattern_match"
	TypeAnomaly                CorrelationType = "anomaly"
	TypeCostImpact             CorrelationType = "cost_impact"
	TypeSecurityIncident       CorrelationType = "security_incident"
	TypePerformanceDegradation CorrelationType = "performance_degradation"
	TypeComplianceCascade      CorrelationType = "compliance_cascade"
)

// IsValid checks if the correlation type is valid.
func (ct CorrelationType) IsValid() bool {
	switch ct {
	case TypeCausalChain, TypeTemporal, TypePatternMatch, TypeAnomaly,
		TypeCostImpact, TypeSecurityIncident, TypePerformanceDegradation, TypeComplianceCascade:
		return true
	default:
		return false
	}
}

// EventRole is the role an event plays within a correlation group.
type EventRole string

const (
	RoleRootCause   EventRole = "root_cause"
	RoleContributor EventRole = "contributor"
	RoleEffect      EventRole = "effect"
	RoleRelated     EventRole = "related"
)

// CorrelatedEvent references a member event of a correlation group together
// with its role and the numeric metrics extracted from its payload.
type CorrelatedEvent struct {
	Event   EventRef           `json:"event"`
	Role    EventRole          `json:"role"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

// EventCorrelation is the engine's central output: a group of events judged
// related, with a strength (statistical co-occurrence) and a confidence
// (certainty of the classified type), both bounded in [0,1].
type EventCorrelation struct {
	ID          string            `json:"id"`
	Type        CorrelationType   `json:"type"`
	Events      []CorrelatedEvent `json:"events"`
	Strength    float64           `json:"strength"`
	Confidence  float64           `json:"confidence"`
	WindowStart time.Time         `json:"window_start"`
	WindowEnd   time.Time         `json:"window_end"`
	Pattern     string            `json:"pattern,omitempty"`
	DetectedAt  time.Time         `json:"detected_at"`
}

// MemberIDs returns the sorted member event identifiers.
func (c *EventCorrelation) MemberIDs() []string {
	ids := make([]string, 0, len(c.Events))
	for _, ce := range c.Events {
		ids = append(ids, ce.Event.EventID)
	}
	sort.Strings(ids)
	return ids
}

// DedupKey returns the deduplication key for the group: a hash of the sorted
// member event identifier set. Two candidate groups over the same events
// always produce the same key regardless of discovery order.
func (c *EventCorrelation) DedupKey() string {
	joined := strings.Join(c.MemberIDs(), "|")
	sum := sha256.Sum256([]byte(joined))
	return fmt.Sprintf("%x", sum)
}

// Validate checks the correlation invariants before emission.
func (c *EventCorrelation) Validate() error {
	if c.Strength < 0 || c.Strength > 1 {
		return &InconsistentStateError{Subject: "correlation " + c.ID, Reason: fmt.Sprintf("strength %f out of [0,1]", c.Strength)}
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return &InconsistentStateError{Subject: "correlation " + c.ID, Reason: fmt.Sprintf("confidence %f out of [0,1]", c.Confidence)}
	}
	if !c.Type.IsValid() {
		return &InconsistentStateError{Subject: "correlation " + c.ID, Reason: fmt.Sprintf("unknown correlation type %q", c.Type)}
	}

	seen := make(map[string]bool, len(c.Events))
	for _, ce := range c.Events {
		seen[ce.Event.EventID] = true
	}
	if len(seen) < 2 {
		return &InconsistentStateError{Subject: "correlation " + c.ID, Reason: "correlation requires at least two distinct events"}
	}

	for _, ce := range c.Events {
		ts := ce.Event.Timestamp
		if ts.Before(c.WindowStart) || ts.After(c.WindowEnd) {
			return &InconsistentStateError{
				Subject: "correlation " + c.ID,
				Reason:  fmt.Sprintf("event %s at %s outside window [%s, %s]", ce.Event.EventID, ts, c.WindowStart, c.WindowEnd),
			}
		}
	}

	return nil
}

// AnomalyCategory classifies which statistical signature flagged an anomaly.
type AnomalyCategory string

const (
	CategorySpike             AnomalyCategory = "spike"
	CategoryDrop              AnomalyCategory = "drop"
	CategoryPatternDeviation  AnomalyCategory = "pattern_deviation"
	CategoryFrequencyChange   AnomalyCategory = "frequency_change"
	CategoryDistributionShift AnomalyCategory = "distribution_shift"
)

// AnomalyEvent is a normalized event flagged as statistically anomalous
// against its rolling baseline. It is consumed as a detector seed and is not
// independently persisted.
type AnomalyEvent struct {
	Event         EventRef        `json:"event"`
	Category      AnomalyCategory `json:"category"`
	Deviation     float64         `json:"deviation"`
	Score         float64         `json:"score"` // deviation normalized to [0,1]
	Observed      float64         `json:"observed"`
	BaselineMean  float64         `json:"baseline_mean"`
	BaselineStdev float64         `json:"baseline_stdev"`
}

// AnomalyCorrelation groups flagged anomalies with an optional root cause and
// a mandatory impact assessment.
type AnomalyCorrelation struct {
	ID         string             `json:"id"`
	Anomalies  []AnomalyEvent     `json:"anomalies"`
	RootCause  *RootCauseAnalysis `json:"root_cause,omitempty"`
	Impact     ImpactAssessment   `json:"impact"`
	DetectedAt time.Time          `json:"detected_at"`
}

// Validate checks that a present root cause references one of the grouped
// anomalies' underlying events.
func (a *AnomalyCorrelation) Validate() error {
	if len(a.Anomalies) == 0 {
		return &InconsistentStateError{Subject: "anomaly correlation " + a.ID, Reason: "requires at least one anomaly"}
	}
	if a.RootCause == nil {
		return nil
	}
	for _, an := range a.Anomalies {
		if an.Event.EventID == a.RootCause.RootEventID {
			return nil
		}
	}
	return &InconsistentStateError{
		Subject: "anomaly correlation " + a.ID,
		Reason:  fmt.Sprintf("root cause event %s is not a grouped anomaly", a.RootCause.RootEventID),
	}
}

// CausalLink is one directed cause -> effect step in a causal chain.
type CausalLink struct {
	CauseEventID  string        `json:"cause_event_id"`
	EffectEventID string        `json:"effect_event_id"`
	Relationship  string        `json:"relationship"`
	Lag           time.Duration `json:"lag"`
}

// RootCauseAnalysis identifies the most likely originating event of a group.
type RootCauseAnalysis struct {
	RootEventID         string       `json:"root_event_id"`
	Confidence          float64      `json:"confidence"`
	CausalChain         []CausalLink `json:"causal_chain,omitempty"`
	ContributingFactors []string     `json:"contributing_factors,omitempty"`
	Recommendations     []string     `json:"recommendations,omitempty"`
}

// Validate checks chain invariants: the first link starts at the declared
// root and no event identifier is revisited along the chain.
func (r *RootCauseAnalysis) Validate() error {
	if r.RootEventID == "" {
		return &InconsistentStateError{Subject: "root cause analysis", Reason: "root event id is required"}
	}
	if len(r.CausalChain) == 0 {
		return nil
	}
	if r.CausalChain[0].CauseEventID != r.RootEventID {
		return &InconsistentStateError{
			Subject: "root cause analysis",
			Reason:  fmt.Sprintf("chain starts at %s, declared root is %s", r.CausalChain[0].CauseEventID, r.RootEventID),
		}
	}

	visited := map[string]bool{r.RootEventID: true}
	for _, link := range r.CausalChain {
		if visited[link.EffectEventID] {
			return &InconsistentStateError{
				Subject: "root cause analysis",
				Reason:  fmt.Sprintf("causal chain revisits event %s", link.EffectEventID),
			}
		}
		visited[link.EffectEventID] = true
	}
	return nil
}

// ImpactScore is one bounded impact dimension with its justification.
type ImpactScore struct {
	Score  float64 `json:"score"`
	Detail string  `json:"detail"`
}

// ImpactAssessment is the multi-dimensional severity judgement for a
// root-caused group. Overall is the maximum qualitative bucket of the four
// sub-scores, so a single catastrophic dimension dominates.
type ImpactAssessment struct {
	Overall     Severity    `json:"overall"`
	Performance ImpactScore `json:"performance"`
	Cost        ImpactScore `json:"cost"`
	Security    ImpactScore `json:"security"`
	Business    ImpactScore `json:"business"`
}
