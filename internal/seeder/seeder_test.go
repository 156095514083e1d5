package seeder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/causeway/internal/models"
)

type captureSink struct {
	mu     sync.Mutex
	events []*models.NormalizedEvent
	err    error
}

func (s *captureSink) PublishEvent(_ context.Context, ev *models.NormalizedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *captureSink) all() []*models.NormalizedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.NormalizedEvent(nil), s.events...)
}

func run(t *testing.T, cfg Config) []*models.NormalizedEvent {
	t.Helper()
	sink := &captureSink{}
	require.NoError(t, New(cfg, sink, nil).Run(context.Background()))
	return sink.all()
}

func TestSeeder_GeneratesConfiguredVolume(t *testing.T) {
	cfg := Config{
		Count:    40,
		Spread:   time.Hour,
		Chains:   2,
		ChainLen: 4,
		Bursts:   2,
		BurstLen: 3,
		Spikes:   1,
		SpikeLen: 8,
		Seed:     42,
	}
	events := run(t, cfg)

	want := 40 + 2*4 + 2*3 + 1*9
	require.Len(t, events, want)

	for _, ev := range events {
		require.NoError(t, ev.Validate(), "event %s", ev.ID)
		assert.False(t, ev.Timestamp.After(time.Now().Add(time.Second)))
	}
}

func TestSeeder_CausalChainLineage(t *testing.T) {
	events := run(t, Config{Spread: time.Hour, Chains: 1, ChainLen: 4, Seed: 7})
	require.Len(t, events, 4)

	root := events[0]
	assert.Equal(t, "deploy_completed", root.Type)
	assert.Empty(t, root.ParentEventID)

	for i := 1; i < len(events); i++ {
		assert.Equal(t, events[i-1].ID, events[i].ParentEventID)
		assert.True(t, events[i].Timestamp.After(events[i-1].Timestamp))
	}
}

func TestSeeder_BurstSharesCorrelationID(t *testing.T) {
	events := run(t, Config{Spread: time.Hour, Bursts: 1, BurstLen: 5, Seed: 11})
	require.Len(t, events, 5)

	corrID := events[0].CorrelationID
	require.NotEmpty(t, corrID)

	sources := map[string]bool{}
	for _, ev := range events {
		assert.Equal(t, corrID, ev.CorrelationID)
		sources[ev.Source] = true
	}
	assert.GreaterOrEqual(t, len(sources), 2, "burst should span sources")
}

func TestSeeder_SpikeEndsInOutlier(t *testing.T) {
	events := run(t, Config{Spread: time.Hour, Spikes: 1, SpikeLen: 10, Seed: 3})
	require.Len(t, events, 11)

	metric := events[0].Tags["metric"]
	var maxSteady float64
	for _, ev := range events[:10] {
		p, ok := ev.Payload.(models.TelemetryPayload)
		require.True(t, ok)
		assert.Equal(t, metric, p.Metric)
		if p.Value > maxSteady {
			maxSteady = p.Value
		}
	}

	outlier, ok := events[10].Payload.(models.TelemetryPayload)
	require.True(t, ok)
	assert.Greater(t, outlier.Value, 2*maxSteady, "final sample should dwarf the baseline")
}

func TestSeeder_Reproducible(t *testing.T) {
	cfg := Config{Count: 20, Spread: time.Hour, Chains: 1, ChainLen: 3, Seed: 99}

	ids := func() []string {
		events := run(t, cfg)
		out := make([]string, len(events))
		for i, ev := range events {
			out[i] = ev.ID
		}
		return out
	}

	assert.Equal(t, ids(), ids())
}

func TestSeeder_PublishFailuresDoNotAbort(t *testing.T) {
	sink := &captureSink{err: errors.New("nats down")}
	err := New(Config{Count: 5, Spread: time.Minute, Seed: 1}, sink, nil).Run(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, sink.all())
}

func TestSeeder_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	sink := &captureSink{}
	cfg := Config{Count: 1000, Spread: time.Hour, Interval: 10 * time.Millisecond, Seed: 1}
	err := New(cfg, sink, nil).Run(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, len(sink.all()), 1000)
}
