package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/causeway/internal/anomaly"
	"github.com/telhawk-systems/causeway/internal/config"
	"github.com/telhawk-systems/causeway/internal/models"
	"github.com/telhawk-systems/causeway/internal/store"
)

var engineBase = time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{t: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// capturePublisher records published findings. When gate is set, every
// publish blocks until the gate closes, simulating a stalled downstream.
type capturePublisher struct {
	gate chan struct{}

	mu        sync.Mutex
	events    []*EventFinding
	anomalies []*models.AnomalyCorrelation
}

func (p *capturePublisher) PublishEventFinding(_ context.Context, f *EventFinding) error {
	if p.gate != nil {
		<-p.gate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, f)
	return nil
}

func (p *capturePublisher) PublishAnomaly(_ context.Context, ac *models.AnomalyCorrelation) error {
	if p.gate != nil {
		<-p.gate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.anomalies = append(p.anomalies, ac)
	return nil
}

func (p *capturePublisher) eventCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func (p *capturePublisher) anomalyCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.anomalies)
}

func testEngineConfig() *config.Config {
	return &config.Config{
		Engine: config.EngineConfig{Shards: 1, OutputQueueSize: 64},
		Window: config.WindowConfig{MaxAge: time.Hour, MaxEvents: 10000},
		Detector: config.DetectorConfig{
			MinStrength:   0.8,
			MinConfidence: 0.5,
			Temporal:      config.TemporalStrategyConfig{Enabled: true, Weight: 1.0, Window: 5 * time.Minute},
			Similarity:    config.SimilarityStrategyConfig{Enabled: true, Weight: 0.8, MinOverlap: 0.3},
			Inherited:     config.StrategyConfig{Enabled: true, Weight: 1.0},
			Causal:        config.StrategyConfig{Enabled: true, Weight: 1.0},
		},
		Anomaly: config.AnomalyConfig{
			Decay:          0.1,
			SigmaThreshold: 3.0,
			PercentileHigh: 0.99,
			PercentileLow:  0.01,
			MinSamples:     10,
			MaxSamples:     1000,
		},
		Impact: config.ImpactConfig{
			Business: config.BusinessWeights{Performance: 0.4, Cost: 0.3, Security: 0.3},
		},
	}
}

// anomalyOnlyConfig disables every correlation strategy so tests observe the
// anomaly path in isolation.
func anomalyOnlyConfig() *config.Config {
	cfg := testEngineConfig()
	cfg.Detector.Temporal.Enabled = false
	cfg.Detector.Similarity.Enabled = false
	cfg.Detector.Inherited.Enabled = false
	cfg.Detector.Causal.Enabled = false
	return cfg
}

func chainEvent(id, typ string, at time.Time, parentID string) *models.NormalizedEvent {
	return &models.NormalizedEvent{
		ID:            id,
		Timestamp:     at,
		Source:        "ingest",
		Type:          typ,
		Severity:      models.SeverityMedium,
		ParentEventID: parentID,
	}
}

func telemetryEvent(id, typ string, at time.Time, value float64) *models.NormalizedEvent {
	return &models.NormalizedEvent{
		ID:        id,
		Timestamp: at,
		Source:    "ingest",
		Type:      typ,
		Severity:  models.SeverityLow,
		Payload:   models.TelemetryPayload{Metric: "latency_p99", Value: value, Unit: "ms"},
	}
}

func startEngine(t *testing.T, cfg *config.Config, deps Deps, opts ...Option) *Engine {
	t.Helper()
	eng, err := New(cfg, deps, opts...)
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))
	return eng
}

func stopEngine(t *testing.T, eng *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, eng.Stop(ctx))
}

func TestEngine_FullPipeline(t *testing.T) {
	st := store.NewMemoryStore()
	pub := &capturePublisher{}
	clock := newFakeClock(engineBase)
	eng := startEngine(t, testEngineConfig(), Deps{Store: st, Publisher: pub},
		WithNowFunc(clock.Now))

	parent := chainEvent("evt-root", "metric_threshold", engineBase.Add(-2*time.Minute), "")
	child := chainEvent("evt-latency", "latency_breach", engineBase.Add(-time.Minute), "evt-root")
	child.Payload = models.TelemetryPayload{Metric: "latency_p99", Value: 1450, LatencyDeltaMS: 450}

	require.NoError(t, eng.Admit(parent))
	require.NoError(t, eng.Admit(child))

	ctx := context.Background()
	require.Eventually(t, func() bool {
		stats, err := eng.Graph().Stats(ctx)
		return err == nil && stats.Nodes == 3 && pub.eventCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	stats, err := eng.Graph().Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Edges)

	stopEngine(t, eng)

	items, total, err := st.ListCorrelations(ctx, store.Query{})
	require.NoError(t, err)
	require.Equal(t, 1, total)

	corr := items[0]
	assert.Equal(t, models.TypePerformanceDegradation, corr.Type)
	assert.Equal(t, "performance-degradation", corr.Pattern)
	assert.InDelta(t, 1.0, corr.Strength, 1e-9)
	assert.InDelta(t, 0.875, corr.Confidence, 1e-9)
	assert.True(t, corr.WindowStart.Equal(parent.Timestamp))
	assert.True(t, corr.WindowEnd.Equal(child.Timestamp))

	require.Len(t, corr.Events, 2)
	assert.Equal(t, "evt-root", corr.Events[0].Event.EventID)
	assert.Equal(t, models.RoleRootCause, corr.Events[0].Role)
	assert.Equal(t, "evt-latency", corr.Events[1].Event.EventID)
	assert.Equal(t, models.RoleEffect, corr.Events[1].Role)

	f := pub.events[0]
	require.NotNil(t, f.RootCause)
	assert.Equal(t, "evt-root", f.RootCause.RootEventID)
	require.Len(t, f.RootCause.CausalChain, 1)
	assert.Equal(t, "evt-root", f.RootCause.CausalChain[0].CauseEventID)
	assert.Equal(t, "evt-latency", f.RootCause.CausalChain[0].EffectEventID)
	assert.InDelta(t, 1.0, f.RootCause.Confidence, 1e-9)

	assert.Equal(t, models.SeverityMedium, f.Impact.Overall)
	assert.InDelta(t, 0.45, f.Impact.Performance.Score, 1e-9)
}

func TestEngine_DuplicateAdmissionIsNoOp(t *testing.T) {
	st := store.NewMemoryStore()
	pub := &capturePublisher{}
	clock := newFakeClock(engineBase)
	eng := startEngine(t, testEngineConfig(), Deps{Store: st, Publisher: pub},
		WithNowFunc(clock.Now))

	parent := chainEvent("evt-root", "metric_threshold", engineBase.Add(-2*time.Minute), "")
	child := chainEvent("evt-latency", "latency_breach", engineBase.Add(-time.Minute), "evt-root")

	require.NoError(t, eng.Admit(parent))
	require.NoError(t, eng.Admit(child))
	require.NoError(t, eng.Admit(parent))
	require.NoError(t, eng.Admit(child))

	stopEngine(t, eng)

	ctx := context.Background()
	_, total, err := st.ListCorrelations(ctx, store.Query{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, pub.eventCount())
}

func TestEngine_AnomalySpike(t *testing.T) {
	st := store.NewMemoryStore()
	pub := &capturePublisher{}
	clock := newFakeClock(engineBase)
	eng := startEngine(t, anomalyOnlyConfig(), Deps{Store: st, Publisher: pub},
		WithNowFunc(clock.Now))

	at := engineBase.Add(-20 * time.Minute)
	for i := 0; i < 20; i++ {
		ev := telemetryEvent(fmt.Sprintf("lat-%d", i), "metric_sample", at, float64(100+i%5))
		require.NoError(t, eng.Admit(ev))
		at = at.Add(30 * time.Second)
	}

	spike := telemetryEvent("lat-spike", "metric_sample", engineBase.Add(-time.Minute), 500)
	require.NoError(t, eng.Admit(spike))

	// A value hugging the baseline must never flag, even right after a
	// spike widened the model.
	probe := telemetryEvent("lat-probe", "metric_sample", engineBase.Add(-30*time.Second), 102)
	require.NoError(t, eng.Admit(probe))

	stopEngine(t, eng)

	ctx := context.Background()
	items, total, err := st.ListAnomalies(ctx, store.Query{})
	require.NoError(t, err)
	require.Equal(t, 1, total)

	ac := items[0]
	require.Len(t, ac.Anomalies, 1)
	an := ac.Anomalies[0]
	assert.Equal(t, "lat-spike", an.Event.EventID)
	assert.Equal(t, models.CategorySpike, an.Category)
	assert.InDelta(t, 500, an.Observed, 1e-9)
	assert.InDelta(t, 1.0, an.Score, 1e-9)
	assert.Nil(t, ac.RootCause)
	assert.Equal(t, models.SeverityLow, ac.Impact.Overall)
	assert.Equal(t, 1, pub.anomalyCount())
}

func TestEngine_AnomalyGroupGainsRootCause(t *testing.T) {
	st := store.NewMemoryStore()
	clock := newFakeClock(engineBase)
	eng := startEngine(t, anomalyOnlyConfig(), Deps{Store: st},
		WithNowFunc(clock.Now))

	// Warm two baselines: same source, distinct event types.
	at := engineBase.Add(-20 * time.Minute)
	for i := 0; i < 15; i++ {
		require.NoError(t, eng.Admit(
			telemetryEvent(fmt.Sprintf("lat-%d", i), "metric_sample", at, float64(100+i%5))))
		require.NoError(t, eng.Admit(
			telemetryEvent(fmt.Sprintf("err-%d", i), "error_rate", at.Add(time.Second), float64(5+i%2))))
		at = at.Add(30 * time.Second)
	}

	first := telemetryEvent("an-root", "metric_sample", engineBase.Add(-40*time.Second), 500)
	second := telemetryEvent("an-effect", "error_rate", engineBase.Add(-30*time.Second), 90)
	second.ParentEventID = "an-root"
	require.NoError(t, eng.Admit(first))
	require.NoError(t, eng.Admit(second))

	stopEngine(t, eng)

	ctx := context.Background()
	items, total, err := st.ListAnomalies(ctx, store.Query{})
	require.NoError(t, err)
	require.Equal(t, 2, total)

	var pair *models.AnomalyCorrelation
	for _, ac := range items {
		if len(ac.Anomalies) == 2 {
			pair = ac
		}
	}
	require.NotNil(t, pair, "expected a grouped anomaly correlation")

	require.NotNil(t, pair.RootCause)
	assert.Equal(t, "an-root", pair.RootCause.RootEventID)
	require.Len(t, pair.RootCause.CausalChain, 1)
	assert.Equal(t, "an-effect", pair.RootCause.CausalChain[0].EffectEventID)
	assert.Equal(t, "an-root", pair.Anomalies[0].Event.EventID)
	assert.Equal(t, "an-effect", pair.Anomalies[1].Event.EventID)
}

func TestEngine_ExpiredEventsNeverCorrelate(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Window.MaxAge = 10 * time.Minute
	// Wider than the window on purpose: expiry, not proximity, must be the
	// boundary.
	cfg.Detector.Temporal.Window = 30 * time.Minute

	st := store.NewMemoryStore()
	pub := &capturePublisher{}
	clock := newFakeClock(engineBase)
	eng := startEngine(t, cfg, Deps{Store: st, Publisher: pub}, WithNowFunc(clock.Now))

	early := chainEvent("evt-early", "metric_threshold", engineBase.Add(-time.Minute), "")
	require.NoError(t, eng.Admit(early))

	clock.Advance(15 * time.Minute)

	late := chainEvent("evt-late", "latency_breach", engineBase.Add(14*time.Minute), "evt-early")
	require.NoError(t, eng.Admit(late))

	stopEngine(t, eng)

	ctx := context.Background()
	_, total, err := st.ListCorrelations(ctx, store.Query{})
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Equal(t, 0, pub.eventCount())
}

func TestEngine_BackpressureSignalsCapacity(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Engine.OutputQueueSize = 1

	st := store.NewMemoryStore()
	gate := make(chan struct{})
	pub := &capturePublisher{gate: gate}
	clock := newFakeClock(engineBase)
	eng := startEngine(t, cfg, Deps{Store: st, Publisher: pub}, WithNowFunc(clock.Now))

	// With the downstream stalled, every admitted event correlates with
	// its predecessors, findings jam the queue, and admission must start
	// reporting capacity instead of blocking.
	var rejected *models.NormalizedEvent
	for i := 0; i < 200 && rejected == nil; i++ {
		ev := chainEvent(fmt.Sprintf("evt-%d", i), "metric_threshold",
			engineBase.Add(time.Duration(i)*time.Second), "")
		err := eng.Admit(ev)
		if err != nil {
			require.True(t, models.IsCapacity(err), "unexpected admission error: %v", err)
			rejected = ev
			break
		}
		time.Sleep(time.Millisecond)
	}
	require.NotNil(t, rejected, "admission never reported capacity")

	close(gate)

	// The same event retries cleanly once the backlog drains.
	require.Eventually(t, func() bool {
		return eng.Admit(rejected) == nil
	}, 2*time.Second, 10*time.Millisecond)

	stopEngine(t, eng)

	ctx := context.Background()
	_, total, err := st.ListCorrelations(ctx, store.Query{})
	require.NoError(t, err)
	assert.Greater(t, total, 0)
}

func TestEngine_HaltedPartitionRejectsAdmission(t *testing.T) {
	st := store.NewMemoryStore()
	clock := newFakeClock(engineBase)
	eng := startEngine(t, testEngineConfig(), Deps{Store: st}, WithNowFunc(clock.Now))

	require.NoError(t, eng.Admit(
		chainEvent("evt-ok", "metric_threshold", engineBase.Add(-time.Minute), "")))

	eng.workers[0].halt(&models.InconsistentStateError{Subject: "test", Reason: "forced"})

	err := eng.Admit(chainEvent("evt-rejected", "metric_threshold", engineBase, ""))
	require.Error(t, err)
	assert.True(t, models.IsInconsistentState(err))
	assert.Equal(t, []int{0}, eng.HaltedPartitions())

	stopEngine(t, eng)
}

func TestEngine_StopRejectsFurtherAdmission(t *testing.T) {
	st := store.NewMemoryStore()
	eng := startEngine(t, testEngineConfig(), Deps{Store: st})

	stopEngine(t, eng)
	stopEngine(t, eng)

	err := eng.Admit(chainEvent("evt-late", "metric_threshold", time.Now(), ""))
	assert.ErrorIs(t, err, ErrStopped)
}

func TestEngine_AdmitValidatesEvents(t *testing.T) {
	st := store.NewMemoryStore()
	eng := startEngine(t, testEngineConfig(), Deps{Store: st})
	defer stopEngine(t, eng)

	err := eng.Admit(&models.NormalizedEvent{Timestamp: time.Now(), Source: "ingest", Type: "x", Severity: models.SeverityLow})
	require.Error(t, err)
	assert.True(t, models.IsValidation(err))
}

func TestEngine_RequiresStore(t *testing.T) {
	_, err := New(testEngineConfig(), Deps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store is required")
}

func TestEngine_BaselineSnapshotRestore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	states := anomaly.NewStateManager(client, true, "causeway-test")

	clock := newFakeClock(engineBase)
	cfg := anomalyOnlyConfig()

	first := startEngine(t, cfg, Deps{Store: store.NewMemoryStore(), States: states},
		WithNowFunc(clock.Now))
	at := engineBase.Add(-15 * time.Minute)
	for i := 0; i < 15; i++ {
		require.NoError(t, first.Admit(
			telemetryEvent(fmt.Sprintf("warm-%d", i), "metric_sample", at, float64(100+i%5))))
		at = at.Add(30 * time.Second)
	}
	stopEngine(t, first)

	// A fresh engine would need ten warm samples before flagging anything;
	// one hydrated from the snapshot flags the very first outlier.
	st := store.NewMemoryStore()
	second := startEngine(t, cfg, Deps{Store: st, States: states},
		WithNowFunc(clock.Now))
	require.NoError(t, second.Admit(
		telemetryEvent("cold-spike", "metric_sample", engineBase.Add(-10*time.Second), 500)))
	stopEngine(t, second)

	ctx := context.Background()
	items, total, err := st.ListAnomalies(ctx, store.Query{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, models.CategorySpike, items[0].Anomalies[0].Category)
	assert.Equal(t, "cold-spike", items[0].Anomalies[0].Event.EventID)
}
