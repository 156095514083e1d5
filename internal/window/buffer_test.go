package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/causeway/internal/models"
)

func event(id string, ts time.Time) *models.NormalizedEvent {
	return &models.NormalizedEvent{
		ID:        id,
		Timestamp: ts,
		Source:    "api-gateway",
		Type:      "latency_regression",
		Severity:  models.SeverityMedium,
	}
}

func collect(seq func(func(*models.NormalizedEvent) bool)) []*models.NormalizedEvent {
	var out []*models.NormalizedEvent
	seq(func(ev *models.NormalizedEvent) bool {
		out = append(out, ev)
		return true
	})
	return out
}

func TestBufferAdmitAndQueryOrder(t *testing.T) {
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	now := base
	b := New(time.Hour, 100, WithNowFunc(func() time.Time { return now }))

	// Out of order arrival still yields ascending query order
	require.True(t, b.Admit(event("evt-2", base.Add(20*time.Second))))
	require.True(t, b.Admit(event("evt-1", base.Add(10*time.Second))))
	require.True(t, b.Admit(event("evt-3", base.Add(30*time.Second))))

	got := collect(b.Query(Filter{}, time.Time{}, time.Time{}))
	require.Len(t, got, 3)
	assert.Equal(t, "evt-1", got[0].ID)
	assert.Equal(t, "evt-2", got[1].ID)
	assert.Equal(t, "evt-3", got[2].ID)

	t.Run("duplicate id rejected", func(t *testing.T) {
		assert.False(t, b.Admit(event("evt-2", base.Add(40*time.Second))))
		assert.Equal(t, 3, b.Len())
	})

	t.Run("query is restartable", func(t *testing.T) {
		seq := b.Query(Filter{}, time.Time{}, time.Time{})
		first := collect(seq)
		second := collect(seq)
		assert.Equal(t, len(first), len(second))
	})
}

func TestBufferAgeEviction(t *testing.T) {
	// Window max age 60s; an event admitted at t=0 must be gone at t=61s.
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	now := base
	b := New(60*time.Second, 100, WithNowFunc(func() time.Time { return now }))

	require.True(t, b.Admit(event("evt-old", base)))

	now = base.Add(30 * time.Second)
	got := collect(b.Query(Filter{}, time.Time{}, time.Time{}))
	assert.Len(t, got, 1, "event still inside max age")

	now = base.Add(61 * time.Second)
	got = collect(b.Query(Filter{}, time.Time{}, time.Time{}))
	assert.Empty(t, got, "event past max age must not be returned")

	_, ok := b.Get("evt-old")
	assert.False(t, ok, "expired event must not be retrievable")
}

func TestBufferCountEviction(t *testing.T) {
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	b := New(time.Hour, 3, WithNowFunc(func() time.Time { return base.Add(time.Minute) }))

	for i := 0; i < 5; i++ {
		require.True(t, b.Admit(event(
			string(rune('a'+i)),
			base.Add(time.Duration(i)*time.Second),
		)))
	}

	assert.Equal(t, 3, b.Len())

	// Oldest two evicted FIFO
	_, ok := b.Get("a")
	assert.False(t, ok)
	_, ok = b.Get("b")
	assert.False(t, ok)
	_, ok = b.Get("c")
	assert.True(t, ok)
}

func TestBufferQueryFilters(t *testing.T) {
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	b := New(time.Hour, 100, WithNowFunc(func() time.Time { return base.Add(time.Minute) }))

	ev1 := event("evt-1", base.Add(time.Second))
	ev1.Source = "billing-api"
	ev1.Type = "cost_spike"
	ev1.Severity = models.SeverityCritical
	ev1.Tags = map[string]string{"service": "billing"}

	ev2 := event("evt-2", base.Add(2*time.Second))
	ev2.Severity = models.SeverityLow

	require.True(t, b.Admit(ev1))
	require.True(t, b.Admit(ev2))

	t.Run("by source", func(t *testing.T) {
		got := collect(b.Query(Filter{Source: "billing-api"}, time.Time{}, time.Time{}))
		require.Len(t, got, 1)
		assert.Equal(t, "evt-1", got[0].ID)
	})

	t.Run("by minimum severity", func(t *testing.T) {
		got := collect(b.Query(Filter{MinSeverity: models.SeverityHigh}, time.Time{}, time.Time{}))
		require.Len(t, got, 1)
		assert.Equal(t, "evt-1", got[0].ID)
	})

	t.Run("by tag", func(t *testing.T) {
		got := collect(b.Query(Filter{Tags: map[string]string{"service": "billing"}}, time.Time{}, time.Time{}))
		require.Len(t, got, 1)
		assert.Equal(t, "evt-1", got[0].ID)
	})

	t.Run("by time range", func(t *testing.T) {
		got := collect(b.Query(Filter{}, base.Add(2*time.Second), base.Add(3*time.Second)))
		require.Len(t, got, 1)
		assert.Equal(t, "evt-2", got[0].ID)
	})
}
