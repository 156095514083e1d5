package correlation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/causeway/internal/models"
	"github.com/telhawk-systems/causeway/internal/window"
)

var detectorBase = time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)

func newTestBuffer() *window.Buffer {
	return window.New(24*time.Hour, 1000, window.WithNowFunc(func() time.Time {
		return detectorBase.Add(30 * time.Minute)
	}))
}

func newTestEvent(id, source string, at time.Time) *models.NormalizedEvent {
	return &models.NormalizedEvent{
		ID:        id,
		Timestamp: at,
		Source:    source,
		Type:      "metric_threshold",
		Severity:  models.SeverityMedium,
		Payload:   models.TelemetryPayload{Metric: "latency_p99", Value: 250, Unit: "ms"},
	}
}

func TestDetector_InheritedShortCircuit(t *testing.T) {
	buf := newTestBuffer()
	det := NewDetector(DefaultConfig(), 24*time.Hour)

	first := newTestEvent("evt-1", "model-gateway", detectorBase)
	first.CorrelationID = "corr-abc"
	second := newTestEvent("evt-2", "billing", detectorBase.Add(10*time.Second))
	second.CorrelationID = "corr-abc"

	require.True(t, buf.Admit(first))
	require.True(t, buf.Admit(second))

	groups := det.Process(second, buf)
	require.Len(t, groups, 1)

	g := groups[0]
	assert.Equal(t, 1.0, g.Correlation.Strength)
	assert.Equal(t, models.TypeCausalChain, g.Correlation.Type)
	assert.ElementsMatch(t, []string{"evt-1", "evt-2"}, g.Correlation.MemberIDs())
	assert.Equal(t, first.Timestamp, g.Correlation.WindowStart)
	assert.Equal(t, second.Timestamp, g.Correlation.WindowEnd)

	require.True(t, det.Promote(g))
	require.NoError(t, g.Correlation.Validate())
}

func TestDetector_CausalHintLinks(t *testing.T) {
	buf := newTestBuffer()
	det := NewDetector(DefaultConfig(), 24*time.Hour)

	parent := newTestEvent("evt-parent", "model-gateway", detectorBase)
	child := newTestEvent("evt-child", "billing", detectorBase.Add(45*time.Second))
	child.ParentEventID = "evt-parent"

	require.True(t, buf.Admit(parent))
	require.True(t, buf.Admit(child))

	groups := det.Process(child, buf)
	require.Len(t, groups, 1)

	g := groups[0]
	assert.Equal(t, 1.0, g.Correlation.Strength)
	assert.Equal(t, models.TypeCausalChain, g.Correlation.Type)
	require.Len(t, g.Links, 1)
	assert.Equal(t, "evt-parent", g.Links[0].CauseEventID)
	assert.Equal(t, "evt-child", g.Links[0].EffectEventID)
	assert.Equal(t, 45*time.Second, g.Links[0].Lag)
	assert.True(t, det.Promote(g))
}

func TestDetector_TemporalDecay(t *testing.T) {
	t.Run("half window gap scores half strength", func(t *testing.T) {
		buf := newTestBuffer()
		det := NewDetector(DefaultConfig(), 24*time.Hour)

		first := newTestEvent("evt-1", "model-gateway", detectorBase)
		second := newTestEvent("evt-2", "model-gateway", detectorBase.Add(150*time.Second))
		require.True(t, buf.Admit(first))
		require.True(t, buf.Admit(second))

		groups := det.Process(second, buf)
		require.Len(t, groups, 1)
		assert.InDelta(t, 0.5, groups[0].Correlation.Strength, 0.001)
		assert.Equal(t, models.TypeTemporal, groups[0].Correlation.Type)
		assert.False(t, det.Promote(groups[0]), "half strength stays below the promotion threshold")
	})

	t.Run("near events promote", func(t *testing.T) {
		buf := newTestBuffer()
		det := NewDetector(DefaultConfig(), 24*time.Hour)

		first := newTestEvent("evt-1", "model-gateway", detectorBase)
		second := newTestEvent("evt-2", "model-gateway", detectorBase.Add(30*time.Second))
		require.True(t, buf.Admit(first))
		require.True(t, buf.Admit(second))

		groups := det.Process(second, buf)
		require.Len(t, groups, 1)
		assert.InDelta(t, 0.9, groups[0].Correlation.Strength, 0.001)
		assert.True(t, det.Promote(groups[0]))
	})

	t.Run("proximity without any shared tag finds nothing", func(t *testing.T) {
		buf := newTestBuffer()
		det := NewDetector(DefaultConfig(), 24*time.Hour)

		first := newTestEvent("evt-1", "model-gateway", detectorBase)
		second := newTestEvent("evt-2", "billing", detectorBase.Add(5*time.Second))
		require.True(t, buf.Admit(first))
		require.True(t, buf.Admit(second))

		assert.Empty(t, det.Process(second, buf))
	})
}

func TestDetector_TagSimilarity(t *testing.T) {
	buf := newTestBuffer()
	det := NewDetector(DefaultConfig(), 24*time.Hour)

	// Ten minutes apart so temporal proximity cannot contribute.
	first := newTestEvent("evt-1", "model-gateway", detectorBase)
	first.Tags = map[string]string{"service": "payments", "region": "eu-west"}
	second := newTestEvent("evt-2", "billing", detectorBase.Add(10*time.Minute))
	second.Tags = map[string]string{"service": "payments", "region": "eu-west", "tier": "gold"}

	require.True(t, buf.Admit(first))
	require.True(t, buf.Admit(second))

	groups := det.Process(second, buf)
	require.Len(t, groups, 1)

	// Jaccard 2/3 scaled by the similarity weight 0.8.
	assert.InDelta(t, 2.0/3.0*0.8, groups[0].Correlation.Strength, 0.001)
	assert.False(t, det.Promote(groups[0]))
}

func TestDetector_WeightedMaximumNotSum(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Inherited.Weight = 0.6
	cfg.Temporal.Weight = 0.5

	buf := newTestBuffer()
	det := NewDetector(cfg, 24*time.Hour)

	first := newTestEvent("evt-1", "model-gateway", detectorBase)
	first.CorrelationID = "corr-xyz"
	second := newTestEvent("evt-2", "model-gateway", detectorBase.Add(time.Second))
	second.CorrelationID = "corr-xyz"

	require.True(t, buf.Admit(first))
	require.True(t, buf.Admit(second))

	groups := det.Process(second, buf)
	require.Len(t, groups, 1)

	// Inherited contributes 1.0*0.6, temporal roughly 0.997*0.5. A summing
	// combiner would report ~1.1 clamped to 1.0.
	assert.InDelta(t, 0.6, groups[0].Correlation.Strength, 0.001)
}

func TestDetector_PromoteOncePerMemberSet(t *testing.T) {
	buf := newTestBuffer()
	det := NewDetector(DefaultConfig(), 24*time.Hour)

	first := newTestEvent("evt-1", "model-gateway", detectorBase)
	first.CorrelationID = "corr-abc"
	second := newTestEvent("evt-2", "billing", detectorBase.Add(10*time.Second))
	second.CorrelationID = "corr-abc"

	require.True(t, buf.Admit(first))
	require.True(t, buf.Admit(second))

	groups := det.Process(second, buf)
	require.Len(t, groups, 1)
	require.True(t, det.Promote(groups[0]))

	// The same pair rediscovered from the other side must not emit again.
	again := det.Process(first, buf)
	require.Len(t, again, 1)
	assert.Equal(t, groups[0].Correlation.DedupKey(), again[0].Correlation.DedupKey())
	assert.False(t, det.Promote(again[0]))
}

func TestDetector_DistinctMemberSetsStaySeparate(t *testing.T) {
	buf := newTestBuffer()
	det := NewDetector(DefaultConfig(), 24*time.Hour)

	parent := newTestEvent("evt-parent", "model-gateway", detectorBase)
	other := newTestEvent("evt-other", "model-gateway", detectorBase.Add(10*time.Second))
	trigger := newTestEvent("evt-trigger", "model-gateway", detectorBase.Add(20*time.Second))
	trigger.ParentEventID = "evt-parent"

	require.True(t, buf.Admit(parent))
	require.True(t, buf.Admit(other))
	require.True(t, buf.Admit(trigger))

	groups := det.Process(trigger, buf)
	require.Len(t, groups, 2)

	// Strongest first: the explicit causal pair, then the temporal cluster.
	assert.Equal(t, 1.0, groups[0].Correlation.Strength)
	assert.ElementsMatch(t, []string{"evt-parent", "evt-trigger"}, groups[0].Correlation.MemberIDs())
	assert.ElementsMatch(t, []string{"evt-parent", "evt-other", "evt-trigger"}, groups[1].Correlation.MemberIDs())
	assert.Greater(t, groups[0].Correlation.Strength, groups[1].Correlation.Strength)

	assert.True(t, det.Promote(groups[0]))
	assert.True(t, det.Promote(groups[1]))
}

func TestDetector_EmptyWindow(t *testing.T) {
	buf := newTestBuffer()
	det := NewDetector(DefaultConfig(), 24*time.Hour)

	only := newTestEvent("evt-1", "model-gateway", detectorBase)
	require.True(t, buf.Admit(only))

	assert.Empty(t, det.Process(only, buf))
}
