// Package impact translates a root-caused correlation group into the
// four-dimensional severity judgement: performance, cost, security, and a
// weighted business blend. Overall severity is the bucket of the maximum
// sub-score, never an average, so one catastrophic dimension dominates.
package impact

import (
	"fmt"

	"github.com/telhawk-systems/causeway/internal/correlation"
	"github.com/telhawk-systems/causeway/internal/models"
)

// Reference scales mapping raw aggregates onto [0,1]. A latency delta of one
// second, a cost delta of a thousand currency units, full budget
// utilization, and a risk score of one hundred each saturate their
// dimension.
const (
	latencyRefMS = 1000.0
	costRefDelta = 1000.0
	budgetRefPct = 100.0
	riskRefScore = 100.0
)

// Config holds the business blend weights.
type Config struct {
	PerformanceWeight float64
	CostWeight        float64
	SecurityWeight    float64
}

// DefaultConfig returns the default business blend: performance 0.4, cost
// 0.3, security 0.3.
func DefaultConfig() Config {
	return Config{PerformanceWeight: 0.4, CostWeight: 0.3, SecurityWeight: 0.3}
}

// Validate validates the blend weights.
func (c *Config) Validate() error {
	if c.PerformanceWeight < 0 || c.CostWeight < 0 || c.SecurityWeight < 0 {
		return fmt.Errorf("business weights must be non-negative")
	}
	if c.PerformanceWeight+c.CostWeight+c.SecurityWeight <= 0 {
		return fmt.Errorf("business weights must not all be zero")
	}
	return nil
}

// Assessor derives impact assessments. It is stateless and safe for
// concurrent use.
type Assessor struct {
	cfg Config
}

// NewAssessor creates an assessor with the given blend weights.
func NewAssessor(cfg Config) *Assessor {
	return &Assessor{cfg: cfg}
}

// Assess computes the four sub-scores from the group's aggregated metrics.
// The analysis is context only: it names the root in the business detail but
// never changes a score, so assessments stay deterministic for a given
// group.
func (a *Assessor) Assess(group *correlation.Group, analysis *models.RootCauseAnalysis) models.ImpactAssessment {
	var (
		maxLatency    float64
		totalCost     float64
		maxBudgetPct  float64
		maxRisk       float64
		securityCount int
		severitySum   float64
	)

	for _, ev := range group.Members {
		if ev.Payload == nil {
			continue
		}
		metrics := ev.Payload.Metrics()
		if v := metrics["latency_delta_ms"]; v > maxLatency {
			maxLatency = v
		}
		totalCost += metrics["cost_delta"]
		if v := metrics["budget_pct"]; v > maxBudgetPct {
			maxBudgetPct = v
		}
		if ev.Payload.Kind() == models.PayloadSecurity {
			securityCount++
			severitySum += ev.Severity.Weight()
			if v := metrics["risk_score"]; v > maxRisk {
				maxRisk = v
			}
		}
	}

	perf := clamp01(maxLatency / latencyRefMS)
	cost := clamp01(totalCost / costRefDelta)
	if budget := clamp01(maxBudgetPct / budgetRefPct); budget > cost {
		cost = budget
	}

	var security float64
	if n := len(group.Members); n > 0 {
		security = clamp01(severitySum / float64(n))
	}
	if risk := clamp01(maxRisk / riskRefScore); risk > security {
		security = risk
	}

	weightSum := a.cfg.PerformanceWeight + a.cfg.CostWeight + a.cfg.SecurityWeight
	business := clamp01((a.cfg.PerformanceWeight*perf + a.cfg.CostWeight*cost + a.cfg.SecurityWeight*security) / weightSum)

	businessDetail := fmt.Sprintf("weighted blend of performance %.2f, cost %.2f, security %.2f", perf, cost, security)
	if analysis != nil {
		businessDetail += fmt.Sprintf(", rooted at %s", analysis.RootEventID)
	}

	overall := perf
	for _, s := range []float64{cost, security, business} {
		if s > overall {
			overall = s
		}
	}

	return models.ImpactAssessment{
		Overall: models.SeverityForScore(overall),
		Performance: models.ImpactScore{
			Score:  perf,
			Detail: fmt.Sprintf("peak latency delta %.0f ms across %d events", maxLatency, len(group.Members)),
		},
		Cost: models.ImpactScore{
			Score:  cost,
			Detail: fmt.Sprintf("summed cost delta %.2f, peak budget utilization %.0f%%", totalCost, maxBudgetPct),
		},
		Security: models.ImpactScore{
			Score:  security,
			Detail: fmt.Sprintf("%d security events, peak risk score %.0f", securityCount, maxRisk),
		},
		Business: models.ImpactScore{
			Score:  business,
			Detail: businessDetail,
		},
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
