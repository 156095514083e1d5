package store

import (
	"context"
	"sort"
	"sync"

	"github.com/telhawk-systems/causeway/internal/models"
)

// MemoryStore keeps correlations in process memory. It honors the same
// idempotency contract as the Postgres store.
type MemoryStore struct {
	mu           sync.RWMutex
	correlations map[string]*models.EventCorrelation // by ID
	dedup        map[string]string                   // dedup key -> correlation ID
	anomalies    map[string]*models.AnomalyCorrelation
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		correlations: make(map[string]*models.EventCorrelation),
		dedup:        make(map[string]string),
		anomalies:    make(map[string]*models.AnomalyCorrelation),
	}
}

func (s *MemoryStore) SaveCorrelation(ctx context.Context, corr *models.EventCorrelation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := corr.DedupKey()
	if _, exists := s.dedup[key]; exists {
		return nil
	}
	s.dedup[key] = corr.ID
	s.correlations[corr.ID] = corr
	return nil
}

func (s *MemoryStore) GetCorrelation(ctx context.Context, id string) (*models.EventCorrelation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	corr, ok := s.correlations[id]
	if !ok {
		return nil, ErrCorrelationNotFound
	}
	return corr, nil
}

func (s *MemoryStore) ListCorrelations(ctx context.Context, q Query) ([]*models.EventCorrelation, int, error) {
	normalizeLimit(&q)

	s.mu.RLock()
	matched := make([]*models.EventCorrelation, 0, len(s.correlations))
	for _, corr := range s.correlations {
		if matchCorrelation(corr, q) {
			matched = append(matched, corr)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].DetectedAt.Equal(matched[j].DetectedAt) {
			return matched[i].DetectedAt.After(matched[j].DetectedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	total := len(matched)
	return page(matched, q), total, nil
}

func (s *MemoryStore) SaveAnomaly(ctx context.Context, corr *models.AnomalyCorrelation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.anomalies[corr.ID]; exists {
		return nil
	}
	s.anomalies[corr.ID] = corr
	return nil
}

func (s *MemoryStore) GetAnomaly(ctx context.Context, id string) (*models.AnomalyCorrelation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	corr, ok := s.anomalies[id]
	if !ok {
		return nil, ErrAnomalyNotFound
	}
	return corr, nil
}

func (s *MemoryStore) ListAnomalies(ctx context.Context, q Query) ([]*models.AnomalyCorrelation, int, error) {
	normalizeLimit(&q)

	s.mu.RLock()
	matched := make([]*models.AnomalyCorrelation, 0, len(s.anomalies))
	for _, corr := range s.anomalies {
		if matchAnomaly(corr, q) {
			matched = append(matched, corr)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].DetectedAt.Equal(matched[j].DetectedAt) {
			return matched[i].DetectedAt.After(matched[j].DetectedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	total := len(matched)
	return page(matched, q), total, nil
}

func (s *MemoryStore) Close() error { return nil }

func matchCorrelation(corr *models.EventCorrelation, q Query) bool {
	if q.Type != "" && corr.Type != q.Type {
		return false
	}
	if corr.Strength < q.MinStrength {
		return false
	}
	if !q.Since.IsZero() && corr.DetectedAt.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && corr.DetectedAt.After(q.Until) {
		return false
	}
	if q.EventID != "" {
		found := false
		for _, ce := range corr.Events {
			if ce.Event.EventID == q.EventID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func matchAnomaly(corr *models.AnomalyCorrelation, q Query) bool {
	if q.Severity != "" && corr.Impact.Overall != q.Severity {
		return false
	}
	if !q.Since.IsZero() && corr.DetectedAt.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && corr.DetectedAt.After(q.Until) {
		return false
	}
	if q.EventID != "" {
		found := false
		for _, an := range corr.Anomalies {
			if an.Event.EventID == q.EventID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func page[T any](items []T, q Query) []T {
	if q.Offset >= len(items) {
		return []T{}
	}
	end := q.Offset + q.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[q.Offset:end]
}
