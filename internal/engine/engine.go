// Package engine assembles the correlation pipeline: events are admitted,
// sharded onto partition workers by jump hash, windowed, scored against
// anomaly baselines, correlated, and finalized into findings that an emitter
// persists and publishes. Partitioning follows the carried correlation id
// when one is present and the source module otherwise, so every strategy
// that needs related events together sees them on one partition.
//
// The core never blocks on external I/O. Workers hand finalized findings to
// a bounded output queue; the emitter alone talks to the store, the archive,
// and the message bus. When the queue fills, workers stall, partition
// inboxes fill, and admission reports a capacity error until the backlog
// clears.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/telhawk-systems/causeway/internal/anomaly"
	"github.com/telhawk-systems/causeway/internal/config"
	"github.com/telhawk-systems/causeway/internal/correlation"
	"github.com/telhawk-systems/causeway/internal/graph"
	"github.com/telhawk-systems/causeway/internal/impact"
	"github.com/telhawk-systems/causeway/internal/logging"
	"github.com/telhawk-systems/causeway/internal/metrics"
	"github.com/telhawk-systems/causeway/internal/models"
	"github.com/telhawk-systems/causeway/internal/pattern"
	"github.com/telhawk-systems/causeway/internal/rootcause"
	"github.com/telhawk-systems/causeway/internal/store"
	"github.com/telhawk-systems/causeway/internal/window"
)

// ErrStopped is returned by Admit when the engine is not accepting events.
var ErrStopped = errors.New("engine: stopped")

const (
	defaultShards    = 4
	defaultQueueSize = 256
)

// Deps carries the engine's collaborators. Store is required; the rest
// degrade gracefully when absent.
type Deps struct {
	Store     store.Store
	Archive   *store.Archive
	Publisher Publisher
	States    *anomaly.StateManager
	Logger    *logging.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithNowFunc overrides the engine clock, propagated into every partition's
// window, detector, and anomaly grouping.
func WithNowFunc(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// Engine runs the correlation pipeline over a fixed set of partitions.
type Engine struct {
	cfg     *config.Config
	deps    Deps
	log     *logging.Logger
	now     func() time.Time
	workers []*worker
	out     chan finding
	graph   *graph.Graph
	emitter *emitter

	// mu excludes Admit sends from the inbox close during shutdown.
	mu       sync.RWMutex
	started  atomic.Bool
	closing  atomic.Bool
	stopOnce sync.Once
}

// New builds an engine from the configuration. The pattern library loads
// operator patterns before the built-ins, so an operator pattern that reuses
// a built-in name wins both match order and identity.
func New(cfg *config.Config, deps Deps, opts ...Option) (*Engine, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("engine: store is required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}

	e := &Engine{
		cfg:  cfg,
		deps: deps,
		log:  deps.Logger,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	shards := cfg.Engine.Shards
	if shards <= 0 {
		shards = defaultShards
	}
	queueSize := cfg.Engine.OutputQueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	lib := pattern.NewLibrary()
	if cfg.Patterns.Path != "" {
		ps, err := pattern.LoadFile(cfg.Patterns.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to load pattern library: %w", err)
		}
		if err := lib.RegisterAll(ps); err != nil {
			return nil, fmt.Errorf("failed to register pattern library: %w", err)
		}
	}
	for _, p := range pattern.Builtins() {
		// Registration fails only on a name collision with an operator
		// pattern, which shadows the built-in.
		_ = lib.Register(p)
	}

	detCfg := detectorParams(cfg.Detector)
	if err := detCfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid detector config: %w", err)
	}
	scorerCfg := scorerParams(cfg.Anomaly)
	if err := scorerCfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid anomaly config: %w", err)
	}
	impactCfg := impactParams(cfg.Impact)
	if err := impactCfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid impact config: %w", err)
	}

	anomalyWindow := cfg.Detector.Temporal.Window
	if anomalyWindow <= 0 {
		anomalyWindow = cfg.Window.MaxAge
	}

	e.out = make(chan finding, queueSize)
	e.graph = graph.New(queueSize)
	e.emitter = &emitter{
		store:   deps.Store,
		archive: deps.Archive,
		pub:     deps.Publisher,
		log:     e.log,
		done:    make(chan struct{}),
	}

	e.workers = make([]*worker, shards)
	for i := range e.workers {
		e.workers[i] = &worker{
			id:    i,
			label: partitionLabel(i),
			in:    make(chan *models.NormalizedEvent, queueSize),
			out:   e.out,
			buf: window.New(cfg.Window.MaxAge, cfg.Window.MaxEvents,
				window.WithNowFunc(e.now)),
			detector: correlation.NewDetector(detCfg, cfg.Window.MaxAge,
				correlation.WithNowFunc(e.now)),
			scorer:        anomaly.NewScorer(scorerCfg),
			patterns:      lib,
			analyzer:      rootcause.NewAnalyzer(),
			assessor:      impact.NewAssessor(impactCfg),
			graph:         e.graph,
			minConfidence: cfg.Detector.MinConfidence,
			anomalyWindow: anomalyWindow,
			emitted:       make(map[string]time.Time),
			log:           e.log,
			now:           e.now,
			done:          make(chan struct{}),
		}
	}
	return e, nil
}

// Start hydrates anomaly baselines and launches the graph, the partition
// workers, and the emitter.
func (e *Engine) Start(ctx context.Context) error {
	if e.started.Load() {
		return fmt.Errorf("engine: already started")
	}

	if e.deps.States != nil && e.deps.States.IsEnabled() {
		for _, w := range e.workers {
			baselines, err := e.deps.States.LoadBaselines(ctx, w.label)
			if err != nil {
				e.log.Warn("baseline hydration failed", "partition", w.id, "error", err)
				continue
			}
			if len(baselines) > 0 {
				w.scorer.Import(baselines)
				e.log.Info("baselines hydrated", "partition", w.id, "count", len(baselines))
			}
		}
	}

	e.graph.Start()
	go e.emitter.run(context.Background(), e.out)
	for _, w := range e.workers {
		go w.run()
	}
	e.started.Store(true)
	e.log.Info("engine started",
		"partitions", len(e.workers), "output_queue", cap(e.out))
	return nil
}

// Admit validates an event and enqueues it on its partition. It never
// blocks: a full partition inbox is reported as a capacity error and the
// caller decides whether to retry. Admission into a halted partition is
// rejected until restart.
func (e *Engine) Admit(ev *models.NormalizedEvent) error {
	if err := ev.Validate(); err != nil {
		metrics.EventsRejected.WithLabelValues("validation").Inc()
		return err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.started.Load() || e.closing.Load() {
		return ErrStopped
	}

	idx := partitionFor(ev.PartitionKey(), len(e.workers))
	w := e.workers[idx]
	if w.halted.Load() {
		metrics.EventsRejected.WithLabelValues("partition_halted").Inc()
		return &models.InconsistentStateError{
			Subject: fmt.Sprintf("partition %d", idx),
			Reason:  "halted on invariant violation",
		}
	}

	select {
	case w.in <- ev:
		metrics.EventsAdmitted.WithLabelValues(ev.Source).Inc()
		return nil
	default:
		metrics.EventsRejected.WithLabelValues("capacity").Inc()
		return &models.CapacityError{
			Resource: fmt.Sprintf("partition %d inbox", idx),
			Capacity: cap(w.in),
		}
	}
}

// Stop drains the pipeline: admission closes, queued events finish
// processing, the emitter flushes every finalized finding, and anomaly
// baselines are snapshotted. Candidate groups below the promotion threshold
// are discarded with the windows. Stop is idempotent.
func (e *Engine) Stop(ctx context.Context) error {
	if !e.started.Load() {
		return nil
	}
	var err error
	e.stopOnce.Do(func() {
		err = e.stop(ctx)
	})
	return err
}

func (e *Engine) stop(ctx context.Context) error {
	e.mu.Lock()
	e.closing.Store(true)
	for _, w := range e.workers {
		close(w.in)
	}
	e.mu.Unlock()
	for _, w := range e.workers {
		select {
		case <-w.done:
		case <-ctx.Done():
			return fmt.Errorf("engine: worker drain interrupted: %w", ctx.Err())
		}
	}

	close(e.out)
	select {
	case <-e.emitter.done:
	case <-ctx.Done():
		return fmt.Errorf("engine: emitter drain interrupted: %w", ctx.Err())
	}

	e.graph.Stop()

	if e.deps.States != nil && e.deps.States.IsEnabled() {
		for _, w := range e.workers {
			baselines := w.scorer.Export()
			if len(baselines) == 0 {
				continue
			}
			if err := e.deps.States.SaveBaselines(ctx, w.label, baselines, e.cfg.Window.MaxAge); err != nil {
				e.log.Warn("baseline snapshot failed", "partition", w.id, "error", err)
			}
		}
	}

	e.log.Info("engine stopped")
	return nil
}

// Graph exposes the event graph read side for the API layer.
func (e *Engine) Graph() *graph.Graph {
	return e.graph
}

// HaltedPartitions lists partitions stopped by an invariant violation.
func (e *Engine) HaltedPartitions() []int {
	var halted []int
	for _, w := range e.workers {
		if w.halted.Load() {
			halted = append(halted, w.id)
		}
	}
	return halted
}

func detectorParams(cfg config.DetectorConfig) correlation.Config {
	return correlation.Config{
		MinStrength:   cfg.MinStrength,
		MinConfidence: cfg.MinConfidence,
		Temporal: correlation.TemporalParams{
			Enabled: cfg.Temporal.Enabled,
			Weight:  cfg.Temporal.Weight,
			Window:  cfg.Temporal.Window,
		},
		Similarity: correlation.SimilarityParams{
			Enabled:    cfg.Similarity.Enabled,
			Weight:     cfg.Similarity.Weight,
			MinOverlap: cfg.Similarity.MinOverlap,
		},
		Inherited: correlation.InheritedParams{
			Enabled: cfg.Inherited.Enabled,
			Weight:  cfg.Inherited.Weight,
		},
		Causal: correlation.CausalParams{
			Enabled: cfg.Causal.Enabled,
			Weight:  cfg.Causal.Weight,
		},
	}
}

func scorerParams(cfg config.AnomalyConfig) anomaly.Config {
	return anomaly.Config{
		Decay:          cfg.Decay,
		SigmaThreshold: cfg.SigmaThreshold,
		PercentileHigh: cfg.PercentileHigh,
		PercentileLow:  cfg.PercentileLow,
		MinSamples:     cfg.MinSamples,
		MaxSamples:     cfg.MaxSamples,
		TagKeys:        cfg.TagKeys,
	}
}

func impactParams(cfg config.ImpactConfig) impact.Config {
	return impact.Config{
		PerformanceWeight: cfg.Business.Performance,
		CostWeight:        cfg.Business.Cost,
		SecurityWeight:    cfg.Business.Security,
	}
}
