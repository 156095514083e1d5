package anomaly

import (
	"math"
	"sort"
)

// stdevFloor prevents a flat baseline from turning ordinary jitter into
// extreme z-scores.
const stdevFloor = 0.01

// Baseline is the exponentially weighted statistical model for one
// {source, event_type, tag-subset} key. Recent history dominates: each
// observation shifts the mean and variance by the decay factor. A bounded
// window of raw samples is retained for the percentile band check, and
// inter-arrival gaps are tracked for frequency change detection.
type Baseline struct {
	Mean     float64 `json:"mean"`
	Variance float64 `json:"variance"`
	Count    int64   `json:"count"`

	Samples []float64 `json:"samples"`

	GapMean  float64 `json:"gap_mean"`
	GapVar   float64 `json:"gap_var"`
	GapCount int64   `json:"gap_count"`
	LastSeen int64   `json:"last_seen"` // unix seconds

	LastUpdated int64 `json:"last_updated"`
}

// ObserveValue folds a metric observation into the exponentially weighted
// mean and variance and appends it to the bounded sample window.
func (b *Baseline) ObserveValue(value, decay float64, maxSamples int) {
	if b.Count == 0 {
		b.Mean = value
		b.Variance = 0
	} else {
		delta := value - b.Mean
		b.Mean += decay * delta
		b.Variance = (1 - decay) * (b.Variance + decay*delta*delta)
	}
	b.Count++

	b.Samples = append(b.Samples, value)
	if maxSamples > 0 && len(b.Samples) > maxSamples {
		b.Samples = b.Samples[len(b.Samples)-maxSamples:]
	}
}

// ObserveArrival folds the gap since the previous arrival into the
// inter-arrival model and returns that gap in seconds. The first arrival
// establishes LastSeen and yields no gap.
func (b *Baseline) ObserveArrival(unixSec int64, decay float64) (float64, bool) {
	if b.LastSeen == 0 {
		b.LastSeen = unixSec
		return 0, false
	}
	gap := float64(unixSec - b.LastSeen)
	if gap < 0 {
		gap = 0
	}
	b.LastSeen = unixSec

	if b.GapCount == 0 {
		b.GapMean = gap
		b.GapVar = 0
	} else {
		delta := gap - b.GapMean
		b.GapMean += decay * delta
		b.GapVar = (1 - decay) * (b.GapVar + decay*delta*delta)
	}
	b.GapCount++
	return gap, true
}

// Stdev returns the floored standard deviation of the value model.
func (b *Baseline) Stdev() float64 {
	return flooredSqrt(b.Variance)
}

// GapStdev returns the floored standard deviation of the inter-arrival
// model. Perfectly regular cadences train the variance toward zero, so the
// floor also tolerates 10% cadence jitter.
func (b *Baseline) GapStdev() float64 {
	sd := flooredSqrt(b.GapVar)
	if rel := 0.1 * b.GapMean; sd < rel {
		sd = rel
	}
	return sd
}

// ZScore returns the deviation of a value from the baseline in standard
// deviations.
func (b *Baseline) ZScore(value float64) float64 {
	return (value - b.Mean) / b.Stdev()
}

// GapZScore returns the deviation of an inter-arrival gap in standard
// deviations.
func (b *Baseline) GapZScore(gap float64) float64 {
	return (gap - b.GapMean) / b.GapStdev()
}

// PercentileBand returns the [low, high] percentile bounds of the retained
// sample window. ok is false until at least two samples exist.
func (b *Baseline) PercentileBand(low, high float64) (float64, float64, bool) {
	if len(b.Samples) < 2 {
		return 0, 0, false
	}
	sorted := make([]float64, len(b.Samples))
	copy(sorted, b.Samples)
	sort.Float64s(sorted)
	return percentile(sorted, low), percentile(sorted, high), true
}

// percentile reads the p-quantile from a sorted slice using nearest-rank
// interpolation.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	rank := p * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func flooredSqrt(variance float64) float64 {
	if variance <= 0 {
		return stdevFloor
	}
	sd := math.Sqrt(variance)
	if sd < stdevFloor {
		return stdevFloor
	}
	return sd
}
