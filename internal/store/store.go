// Package store persists finalized correlations. The engine appends through
// the Store interface; Postgres is the durable primary, the in-memory store
// backs tests and single-process dev runs, and the OpenSearch archive is an
// optional secondary index for search.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/telhawk-systems/causeway/internal/models"
)

var (
	ErrCorrelationNotFound = errors.New("correlation not found")
	ErrAnomalyNotFound     = errors.New("anomaly correlation not found")
)

// Query narrows list results. Zero values place no constraint. MinStrength
// applies to event correlations only; Severity applies to anomaly
// correlations only (their overall impact bucket).
type Query struct {
	Type        models.CorrelationType
	EventID     string
	MinStrength float64
	Severity    models.Severity
	Since       time.Time
	Until       time.Time
	Limit       int
	Offset      int
}

// Store is the persistence contract for correlation output. Saves are
// idempotent: replaying a correlation with an already-stored member set (or
// an anomaly correlation with an already-stored ID) is a no-op.
type Store interface {
	SaveCorrelation(ctx context.Context, corr *models.EventCorrelation) error
	GetCorrelation(ctx context.Context, id string) (*models.EventCorrelation, error)
	ListCorrelations(ctx context.Context, q Query) ([]*models.EventCorrelation, int, error)

	SaveAnomaly(ctx context.Context, corr *models.AnomalyCorrelation) error
	GetAnomaly(ctx context.Context, id string) (*models.AnomalyCorrelation, error)
	ListAnomalies(ctx context.Context, q Query) ([]*models.AnomalyCorrelation, int, error)

	Close() error
}

// normalizeLimit applies the shared paging defaults.
func normalizeLimit(q *Query) {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Limit > 1000 {
		q.Limit = 1000
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
}
