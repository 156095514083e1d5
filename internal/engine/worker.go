package engine

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/telhawk-systems/causeway/internal/anomaly"
	"github.com/telhawk-systems/causeway/internal/correlation"
	"github.com/telhawk-systems/causeway/internal/graph"
	"github.com/telhawk-systems/causeway/internal/impact"
	"github.com/telhawk-systems/causeway/internal/logging"
	"github.com/telhawk-systems/causeway/internal/metrics"
	"github.com/telhawk-systems/causeway/internal/models"
	"github.com/telhawk-systems/causeway/internal/pattern"
	"github.com/telhawk-systems/causeway/internal/rootcause"
	"github.com/telhawk-systems/causeway/internal/window"
)

// worker owns one partition end to end: its window buffer, detector, scorer,
// and anomaly grouping state. Exactly one goroutine runs process, so none of
// the owned components need locking. The output queue and the graph are the
// only shared structures a worker touches, and both are designed for it.
type worker struct {
	id    int
	label string

	in  chan *models.NormalizedEvent
	out chan<- finding

	buf      *window.Buffer
	detector *correlation.Detector
	scorer   *anomaly.Scorer
	patterns *pattern.Library
	analyzer *rootcause.Analyzer
	assessor *impact.Assessor
	graph    *graph.Graph

	minConfidence float64
	anomalyWindow time.Duration

	seeds   []anomalySeed
	emitted map[string]time.Time

	halted atomic.Bool
	log    *logging.Logger
	now    func() time.Time
	done   chan struct{}
}

// anomalySeed is a flagged anomaly retained for grouping with later flags on
// the same partition.
type anomalySeed struct {
	anomaly models.AnomalyEvent
	event   *models.NormalizedEvent
}

func (w *worker) run() {
	defer close(w.done)
	for ev := range w.in {
		if w.halted.Load() {
			continue
		}
		w.process(ev)
	}
}

func (w *worker) process(ev *models.NormalizedEvent) {
	start := time.Now()
	defer func() {
		metrics.ProcessDuration.Observe(time.Since(start).Seconds())
	}()

	if !w.buf.Admit(ev) {
		// Same event id already windowed. Reprocessing would only re-walk
		// the dedup registry, so skip outright.
		metrics.EventsRejected.WithLabelValues("duplicate").Inc()
		return
	}
	metrics.WindowEvents.WithLabelValues(w.label).Set(float64(w.buf.Len()))

	if an := w.scorer.Score(ev); an != nil {
		metrics.AnomaliesFlagged.WithLabelValues(string(an.Category)).Inc()
		w.flagAnomaly(*an, ev)
		if w.halted.Load() {
			return
		}
	}

	for _, g := range w.detector.Process(ev, w.buf) {
		if !w.detector.Promote(g) {
			metrics.CorrelationsSuppressed.Inc()
			continue
		}
		w.finalize(g)
		if w.halted.Load() {
			return
		}
	}
}

// finalize runs the promoted group through classification, root cause
// analysis, and impact assessment, then records it in the graph and queues
// it for emission. The queue send blocks when the emitter falls behind; that
// is the backpressure admission sees as a capacity error.
func (w *worker) finalize(g *correlation.Group) {
	corr := g.Correlation
	w.patterns.Classify(corr)
	if corr.Pattern != "" {
		metrics.PatternMatches.WithLabelValues(corr.Pattern).Inc()
	}
	if corr.Confidence < w.minConfidence {
		metrics.CorrelationsSuppressed.Inc()
		return
	}

	analysis := w.analyzer.Analyze(g)
	if analysis == nil && len(g.Members) > 1 {
		w.log.Warn("root cause analysis inconclusive",
			"correlation_id", corr.ID, "members", len(g.Members))
	}
	rootcause.ApplyRoles(corr, analysis)
	imp := w.assessor.Assess(g, analysis)

	if err := corr.Validate(); err != nil {
		w.halt(err)
		return
	}

	if err := w.graph.Record(context.Background(), g); err != nil {
		w.log.Warn("graph record failed", "correlation_id", corr.ID, "error", err)
	}
	metrics.CorrelationsPromoted.WithLabelValues(string(corr.Type)).Inc()

	w.out <- finding{Event: &EventFinding{
		Correlation: corr,
		RootCause:   analysis,
		Impact:      imp,
	}}
	metrics.OutputQueueDepth.Set(float64(len(w.out)))
}

// flagAnomaly folds a freshly flagged anomaly into the partition's recent
// seeds and emits the resulting group. Groups dedup on the sorted underlying
// event id set, so a group is emitted once when it first forms and again
// only when a later flag grows it.
func (w *worker) flagAnomaly(an models.AnomalyEvent, ev *models.NormalizedEvent) {
	w.pruneSeeds()
	w.seeds = append(w.seeds, anomalySeed{anomaly: an, event: ev})

	seeds := make([]anomalySeed, len(w.seeds))
	copy(seeds, w.seeds)
	sort.Slice(seeds, func(i, j int) bool {
		if !seeds[i].event.Timestamp.Equal(seeds[j].event.Timestamp) {
			return seeds[i].event.Timestamp.Before(seeds[j].event.Timestamp)
		}
		return seeds[i].event.ID < seeds[j].event.ID
	})

	ids := make([]string, len(seeds))
	for i, s := range seeds {
		ids[i] = s.event.ID
	}
	key := strings.Join(ids, "|")
	if _, dup := w.emitted[key]; dup {
		return
	}
	w.emitted[key] = w.now()

	ac := &models.AnomalyCorrelation{
		ID:         newID(),
		DetectedAt: w.now(),
	}
	members := make([]*models.NormalizedEvent, len(seeds))
	maxScore := 0.0
	for i, s := range seeds {
		ac.Anomalies = append(ac.Anomalies, s.anomaly)
		members[i] = s.event
		if s.anomaly.Score > maxScore {
			maxScore = s.anomaly.Score
		}
	}

	// Root cause and impact run against a synthetic group over the
	// underlying events. A lone anomaly gets no root cause; naming the
	// event as its own origin says nothing.
	pseudo := &correlation.Group{
		Correlation: &models.EventCorrelation{
			ID:          ac.ID,
			Type:        models.TypeAnomaly,
			Strength:    maxScore,
			WindowStart: members[0].Timestamp,
			WindowEnd:   members[len(members)-1].Timestamp,
			DetectedAt:  ac.DetectedAt,
		},
		Members: members,
	}
	if len(members) > 1 {
		ac.RootCause = w.analyzer.Analyze(pseudo)
	}
	ac.Impact = w.assessor.Assess(pseudo, ac.RootCause)

	if err := ac.Validate(); err != nil {
		w.halt(err)
		return
	}

	if err := w.graph.RecordAnomaly(context.Background(), ac); err != nil {
		w.log.Warn("graph record failed", "anomaly_correlation_id", ac.ID, "error", err)
	}

	w.out <- finding{Anomaly: ac}
	metrics.OutputQueueDepth.Set(float64(len(w.out)))
}

// pruneSeeds drops seeds and emitted-set entries that aged out of the
// grouping window.
func (w *worker) pruneSeeds() {
	cutoff := w.now().Add(-w.anomalyWindow)

	kept := w.seeds[:0]
	for _, s := range w.seeds {
		if !s.event.Timestamp.Before(cutoff) {
			kept = append(kept, s)
		}
	}
	w.seeds = kept

	for key, at := range w.emitted {
		if at.Before(cutoff) {
			delete(w.emitted, key)
		}
	}
}

// halt marks the partition unusable after an invariant violation. Queued
// events drain unprocessed; admission rejects until restart. The other
// partitions are unaffected.
func (w *worker) halt(err error) {
	w.halted.Store(true)
	metrics.EventsRejected.WithLabelValues("partition_halted").Inc()
	w.log.Error("partition halted on invariant violation", "partition", w.id, "error", err)
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

func partitionLabel(id int) string {
	return strconv.Itoa(id)
}
