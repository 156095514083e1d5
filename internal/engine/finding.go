package engine

import (
	"github.com/telhawk-systems/causeway/internal/models"
)

// EventFinding is the finalized output for a promoted event correlation: the
// classified correlation itself plus the root cause analysis and impact
// assessment produced during finalization. It is what the engine persists and
// publishes for event groups; anomaly groups travel as AnomalyCorrelation,
// which carries its analysis inline.
type EventFinding struct {
	Correlation *models.EventCorrelation  `json:"correlation"`
	RootCause   *models.RootCauseAnalysis `json:"root_cause,omitempty"`
	Impact      models.ImpactAssessment   `json:"impact"`
}

// finding is the unit queued between partition workers and the emitter.
// Exactly one of Event or Anomaly is set.
type finding struct {
	Event   *EventFinding
	Anomaly *models.AnomalyCorrelation
}
