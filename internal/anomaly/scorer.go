// Package anomaly implements the statistical scorer that flags individual
// events as anomalous against exponentially weighted rolling baselines. One
// baseline is kept per {source, event_type, tag-subset} key. Every observed
// event updates its baseline whether or not it was flagged, so baselines
// track drift.
package anomaly

import (
	"fmt"
	"strings"
	"time"

	"github.com/telhawk-systems/causeway/internal/models"
)

// Config holds the scorer's baseline and trigger parameters.
type Config struct {
	// Decay is the exponential weighting factor: the share of each new
	// observation folded into the mean and variance.
	Decay float64

	// SigmaThreshold is the z-score magnitude at which spike, drop, and
	// frequency triggers fire.
	SigmaThreshold float64

	// PercentileHigh and PercentileLow bound the distribution band check
	// over the retained sample window.
	PercentileHigh float64
	PercentileLow  float64

	// MinSamples gates triggering until the baseline has warmed up.
	MinSamples int

	// MaxSamples bounds the retained raw sample window.
	MaxSamples int

	// TagKeys lists the tag keys that partition baselines beyond source and
	// event type, in declaration order.
	TagKeys []string
}

// DefaultConfig returns the scorer defaults: decay 0.1, three sigma,
// p99/p1 band, warmup after 10 samples.
func DefaultConfig() Config {
	return Config{
		Decay:          0.1,
		SigmaThreshold: 3.0,
		PercentileHigh: 0.99,
		PercentileLow:  0.01,
		MinSamples:     10,
		MaxSamples:     1000,
	}
}

// Validate validates the scorer configuration.
func (c *Config) Validate() error {
	if c.Decay <= 0 || c.Decay > 1 {
		return fmt.Errorf("decay must be in (0,1]")
	}
	if c.SigmaThreshold <= 0 {
		return fmt.Errorf("sigma threshold must be positive")
	}
	if c.PercentileLow >= c.PercentileHigh {
		return fmt.Errorf("percentile low must be below percentile high")
	}
	if c.MaxSamples < c.MinSamples {
		return fmt.Errorf("max samples must be at least min samples")
	}
	return nil
}

// Scorer maintains the baselines for one partition and scores events
// against them. It is owned by a single partition worker and is not safe
// for concurrent use; persistence runs through Export and Import at the
// owner's quiescent points, never on the scoring path.
type Scorer struct {
	cfg       Config
	baselines map[string]*Baseline
	now       func() time.Time
}

// NewScorer creates a scorer with empty baselines.
func NewScorer(cfg Config) *Scorer {
	return &Scorer{
		cfg:       cfg,
		baselines: make(map[string]*Baseline),
		now:       time.Now,
	}
}

// Score evaluates an event against its baseline and folds the observation
// in afterwards. It returns a flagged anomaly when a trigger fires, nil
// otherwise. Trigger precedence when several fire at once: spike, drop,
// frequency change, then distribution shift.
func (s *Scorer) Score(ev *models.NormalizedEvent) *models.AnomalyEvent {
	key := s.keyFor(ev)
	b, ok := s.baselines[key]
	if !ok {
		b = &Baseline{}
		s.baselines[key] = b
	}

	value, hasValue := ev.MetricValue()
	flagged := s.evaluate(ev, b, value, hasValue)

	b.ObserveArrival(ev.Timestamp.Unix(), s.cfg.Decay)
	if hasValue {
		b.ObserveValue(value, s.cfg.Decay, s.cfg.MaxSamples)
	}
	b.LastUpdated = s.now().Unix()

	return flagged
}

// evaluate runs the triggers against the pre-update baseline state.
func (s *Scorer) evaluate(ev *models.NormalizedEvent, b *Baseline, value float64, hasValue bool) *models.AnomalyEvent {
	warm := b.Count >= int64(s.cfg.MinSamples)

	if hasValue && warm {
		z := b.ZScore(value)
		if z > s.cfg.SigmaThreshold {
			return s.flag(ev, models.CategorySpike, z, value, b.Mean, b.Stdev())
		}
		if z < -s.cfg.SigmaThreshold {
			return s.flag(ev, models.CategoryDrop, z, value, b.Mean, b.Stdev())
		}
	}

	if b.LastSeen != 0 && b.GapCount >= int64(s.cfg.MinSamples) {
		gap := float64(ev.Timestamp.Unix() - b.LastSeen)
		if gap < 0 {
			gap = 0
		}
		if gapZ := b.GapZScore(gap); gapZ > s.cfg.SigmaThreshold || gapZ < -s.cfg.SigmaThreshold {
			return s.flag(ev, models.CategoryFrequencyChange, gapZ, gap, b.GapMean, b.GapStdev())
		}
	}

	if hasValue && warm {
		if low, high, ok := b.PercentileBand(s.cfg.PercentileLow, s.cfg.PercentileHigh); ok && (value > high || value < low) {
			return s.flag(ev, models.CategoryDistributionShift, b.ZScore(value), value, b.Mean, b.Stdev())
		}
	}

	return nil
}

// flag builds the anomaly record. The bounded score maps the trigger
// threshold to 0.5 and twice the threshold to 1.0.
func (s *Scorer) flag(ev *models.NormalizedEvent, category models.AnomalyCategory, z, observed, mean, stdev float64) *models.AnomalyEvent {
	magnitude := z
	if magnitude < 0 {
		magnitude = -magnitude
	}
	score := magnitude / (2 * s.cfg.SigmaThreshold)
	if score > 1 {
		score = 1
	}
	return &models.AnomalyEvent{
		Event:         models.RefOf(ev),
		Category:      category,
		Deviation:     z,
		Score:         score,
		Observed:      observed,
		BaselineMean:  mean,
		BaselineStdev: stdev,
	}
}

// keyFor builds the baseline key from source, event type, and the
// configured tag subset in declaration order.
func (s *Scorer) keyFor(ev *models.NormalizedEvent) string {
	var sb strings.Builder
	sb.WriteString(ev.Source)
	sb.WriteByte('|')
	sb.WriteString(ev.Type)
	for _, k := range s.cfg.TagKeys {
		if v, ok := ev.Tags[k]; ok {
			sb.WriteByte('|')
			sb.WriteString(k)
			sb.WriteByte('=')
			sb.WriteString(v)
		}
	}
	return sb.String()
}

// Export returns the live baseline map for persistence. Only the owning
// worker may call it, and the snapshot must be serialized before the worker
// resumes scoring.
func (s *Scorer) Export() map[string]*Baseline {
	return s.baselines
}

// Import replaces the baselines wholesale, typically from a persisted
// snapshot at startup.
func (s *Scorer) Import(baselines map[string]*Baseline) {
	if baselines == nil {
		baselines = make(map[string]*Baseline)
	}
	s.baselines = baselines
}

// Len returns the number of tracked baseline keys.
func (s *Scorer) Len() int {
	return len(s.baselines)
}
