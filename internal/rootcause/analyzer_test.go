package rootcause

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/causeway/internal/correlation"
	"github.com/telhawk-systems/causeway/internal/models"
)

var rcBase = time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)

func chainEvent(id, source string, at time.Time, parentID string) *models.NormalizedEvent {
	return &models.NormalizedEvent{
		ID:            id,
		Timestamp:     at,
		Source:        source,
		Type:          "metric_threshold",
		Severity:      models.SeverityHigh,
		ParentEventID: parentID,
	}
}

func groupOf(strength float64, ctype models.CorrelationType, members ...*models.NormalizedEvent) *correlation.Group {
	events := make([]models.CorrelatedEvent, 0, len(members))
	for _, ev := range members {
		events = append(events, models.CorrelatedEvent{Event: models.RefOf(ev), Role: models.RoleRelated})
	}
	return &correlation.Group{
		Correlation: &models.EventCorrelation{
			ID:       "corr-1",
			Type:     ctype,
			Events:   events,
			Strength: strength,
		},
		Members: members,
	}
}

func TestAnalyzer_FullHintChain(t *testing.T) {
	a := NewAnalyzer()

	root := chainEvent("evt-a", "auth-service", rcBase, "")
	mid := chainEvent("evt-b", "policy-engine", rcBase.Add(30*time.Second), "evt-a")
	leaf := chainEvent("evt-c", "billing", rcBase.Add(60*time.Second), "evt-b")
	for _, ev := range []*models.NormalizedEvent{root, mid, leaf} {
		ev.Tags = map[string]string{"service": "payments"}
	}

	group := groupOf(0.8, models.TypeSecurityIncident, root, mid, leaf)
	analysis := a.Analyze(group)
	require.NotNil(t, analysis)
	require.NoError(t, analysis.Validate())

	assert.Equal(t, "evt-a", analysis.RootEventID)
	assert.InDelta(t, 0.95, analysis.Confidence, 0.001, "full hint span boosts confidence")

	require.Len(t, analysis.CausalChain, 2)
	assert.Equal(t, "evt-a", analysis.CausalChain[0].CauseEventID)
	assert.Equal(t, "evt-b", analysis.CausalChain[0].EffectEventID)
	assert.Equal(t, 30*time.Second, analysis.CausalChain[0].Lag)
	assert.Equal(t, "evt-b", analysis.CausalChain[1].CauseEventID)
	assert.Equal(t, "evt-c", analysis.CausalChain[1].EffectEventID)

	assert.Equal(t, []string{"service=payments"}, analysis.ContributingFactors)
	assert.NotEmpty(t, analysis.Recommendations)
}

func TestAnalyzer_EarliestRootWithoutHints(t *testing.T) {
	a := NewAnalyzer()

	first := chainEvent("evt-a", "model-gateway", rcBase, "")
	second := chainEvent("evt-b", "model-gateway", rcBase.Add(10*time.Second), "")
	third := chainEvent("evt-c", "model-gateway", rcBase.Add(20*time.Second), "")

	analysis := a.Analyze(groupOf(0.85, models.TypeTemporal, third, first, second))
	require.NotNil(t, analysis)

	assert.Equal(t, "evt-a", analysis.RootEventID, "earliest event is the provisional root")
	assert.Empty(t, analysis.CausalChain)
	assert.Equal(t, 0.85, analysis.Confidence, "no ties, no boost")
}

func TestAnalyzer_AmbiguousTiePenalty(t *testing.T) {
	a := NewAnalyzer()

	left := chainEvent("evt-a", "billing", rcBase, "")
	right := chainEvent("evt-b", "audit-log", rcBase, "")

	analysis := a.Analyze(groupOf(0.9, models.TypeTemporal, left, right))
	require.NotNil(t, analysis)

	assert.Equal(t, "evt-a", analysis.RootEventID, "ties break on identifier")
	assert.InDelta(t, 0.8, analysis.Confidence, 0.001, "one equally-early candidate costs 0.1")
}

func TestAnalyzer_FailsClosed(t *testing.T) {
	a := NewAnalyzer()

	t.Run("cycle in hints", func(t *testing.T) {
		one := chainEvent("evt-a", "billing", rcBase, "evt-b")
		two := chainEvent("evt-b", "billing", rcBase.Add(time.Second), "evt-a")
		assert.Nil(t, a.Analyze(groupOf(0.9, models.TypeCausalChain, one, two)))
	})

	t.Run("empty group", func(t *testing.T) {
		assert.Nil(t, a.Analyze(groupOf(0.9, models.TypeTemporal)))
	})

	t.Run("nil group", func(t *testing.T) {
		assert.Nil(t, a.Analyze(nil))
	})
}

func TestAnalyzer_PartialHintSpan(t *testing.T) {
	a := NewAnalyzer()

	root := chainEvent("evt-a", "auth-service", rcBase, "")
	child := chainEvent("evt-b", "policy-engine", rcBase.Add(10*time.Second), "evt-a")
	bystander := chainEvent("evt-c", "billing", rcBase.Add(20*time.Second), "")

	group := groupOf(0.8, models.TypeCausalChain, root, child, bystander)
	analysis := a.Analyze(group)
	require.NotNil(t, analysis)

	assert.Equal(t, "evt-a", analysis.RootEventID)
	require.Len(t, analysis.CausalChain, 1)
	assert.Equal(t, 0.8, analysis.Confidence, "partial span earns no boost")

	ApplyRoles(group.Correlation, analysis)
	roles := map[string]models.EventRole{}
	for _, ce := range group.Correlation.Events {
		roles[ce.Event.EventID] = ce.Role
	}
	assert.Equal(t, models.RoleRootCause, roles["evt-a"])
	assert.Equal(t, models.RoleEffect, roles["evt-b"])
	assert.Equal(t, models.RoleContributor, roles["evt-c"])
}

func TestAnalyzer_ParentOutsideGroupIgnored(t *testing.T) {
	a := NewAnalyzer()

	first := chainEvent("evt-a", "billing", rcBase, "")
	second := chainEvent("evt-b", "billing", rcBase.Add(5*time.Second), "evt-evicted")

	analysis := a.Analyze(groupOf(0.85, models.TypeTemporal, first, second))
	require.NotNil(t, analysis)

	assert.Equal(t, "evt-a", analysis.RootEventID)
	assert.Empty(t, analysis.CausalChain, "hints pointing outside the group build no links")
	assert.Equal(t, 0.85, analysis.Confidence)
}

func TestAnalyzer_SharedFactorsThreshold(t *testing.T) {
	a := NewAnalyzer()

	events := []*models.NormalizedEvent{
		chainEvent("evt-a", "billing", rcBase, ""),
		chainEvent("evt-b", "billing", rcBase.Add(time.Second), ""),
		chainEvent("evt-c", "billing", rcBase.Add(2*time.Second), ""),
		chainEvent("evt-d", "billing", rcBase.Add(3*time.Second), ""),
	}
	events[0].Tags = map[string]string{"region": "eu-west", "service": "payments", "tier": "gold"}
	events[1].Tags = map[string]string{"region": "eu-west", "service": "payments"}
	events[2].Tags = map[string]string{"region": "eu-west"}
	events[3].Tags = map[string]string{}

	analysis := a.Analyze(groupOf(0.9, models.TypeTemporal, events...))
	require.NotNil(t, analysis)

	// region on 3/4, service on 2/4, tier on 1/4.
	assert.Equal(t, []string{"region=eu-west", "service=payments"}, analysis.ContributingFactors)
}

func TestRecommendationsByType(t *testing.T) {
	costRecs := recommendationsFor(models.TypeCostImpact)
	require.NotEmpty(t, costRecs)
	assert.Contains(t, costRecs[0], "budget")

	securityRecs := recommendationsFor(models.TypeSecurityIncident)
	assert.NotEqual(t, costRecs, securityRecs)

	fallback := recommendationsFor(models.CorrelationType("unmapped"))
	assert.NotEmpty(t, fallback)
}
