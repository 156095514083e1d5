package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telhawk-systems/causeway/internal/models"
)

// PostgresStore implements Store using PostgreSQL. Member lists and analysis
// results are stored as JSONB documents; the correlation_events join table
// exists for event-to-correlation lookups.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed store and verifies the
// connection.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// SaveCorrelation appends a correlation. The dedup key over the sorted
// member-ID set is the durable idempotency backstop: a replay of the same
// member set is a no-op even across restarts.
func (s *PostgresStore) SaveCorrelation(ctx context.Context, corr *models.EventCorrelation) error {
	events, err := json.Marshal(corr.Events)
	if err != nil {
		return fmt.Errorf("failed to marshal correlation events: %w", err)
	}

	query := `
		INSERT INTO correlations (id, dedup_key, type, strength, confidence, pattern, window_start, window_end, detected_at, events)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (dedup_key) DO NOTHING
	`

	tag, err := s.pool.Exec(ctx, query,
		corr.ID, corr.DedupKey(), corr.Type, corr.Strength, corr.Confidence,
		corr.Pattern, corr.WindowStart, corr.WindowEnd, corr.DetectedAt, events,
	)
	if err != nil {
		return &models.StoreUnavailableError{Op: "save correlation", Err: err}
	}
	if tag.RowsAffected() == 0 {
		// Same member set already persisted, possibly under another ID.
		return nil
	}

	for _, ce := range corr.Events {
		memberQuery := `
			INSERT INTO correlation_events (correlation_id, event_id, role)
			VALUES ($1, $2, $3)
			ON CONFLICT (correlation_id, event_id) DO NOTHING
		`
		if _, err := s.pool.Exec(ctx, memberQuery, corr.ID, ce.Event.EventID, ce.Role); err != nil {
			return &models.StoreUnavailableError{Op: "save correlation member", Err: err}
		}
	}

	return nil
}

// GetCorrelation retrieves a correlation by ID.
func (s *PostgresStore) GetCorrelation(ctx context.Context, id string) (*models.EventCorrelation, error) {
	query := `
		SELECT id, type, strength, confidence, pattern, window_start, window_end, detected_at, events
		FROM correlations
		WHERE id = $1
	`

	corr, err := scanCorrelation(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCorrelationNotFound
		}
		return nil, fmt.Errorf("failed to get correlation: %w", err)
	}
	return corr, nil
}

// ListCorrelations retrieves a filtered, paginated page plus the total match
// count, newest first.
func (s *PostgresStore) ListCorrelations(ctx context.Context, q Query) ([]*models.EventCorrelation, int, error) {
	normalizeLimit(&q)

	whereClause := "WHERE 1=1"
	args := []interface{}{}
	argPos := 1

	if q.Type != "" {
		whereClause += fmt.Sprintf(" AND type = $%d", argPos)
		args = append(args, q.Type)
		argPos++
	}
	if q.MinStrength > 0 {
		whereClause += fmt.Sprintf(" AND strength >= $%d", argPos)
		args = append(args, q.MinStrength)
		argPos++
	}
	if !q.Since.IsZero() {
		whereClause += fmt.Sprintf(" AND detected_at >= $%d", argPos)
		args = append(args, q.Since)
		argPos++
	}
	if !q.Until.IsZero() {
		whereClause += fmt.Sprintf(" AND detected_at <= $%d", argPos)
		args = append(args, q.Until)
		argPos++
	}
	if q.EventID != "" {
		whereClause += fmt.Sprintf(" AND EXISTS (SELECT 1 FROM correlation_events ce WHERE ce.correlation_id = correlations.id AND ce.event_id = $%d)", argPos)
		args = append(args, q.EventID)
		argPos++
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM correlations %s", whereClause)
	var total int
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count correlations: %w", err)
	}

	args = append(args, q.Limit, q.Offset)
	query := fmt.Sprintf(`
		SELECT id, type, strength, confidence, pattern, window_start, window_end, detected_at, events
		FROM correlations
		%s
		ORDER BY detected_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, whereClause, argPos, argPos+1)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list correlations: %w", err)
	}
	defer rows.Close()

	correlations := []*models.EventCorrelation{}
	for rows.Next() {
		corr, err := scanCorrelation(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan correlation: %w", err)
		}
		correlations = append(correlations, corr)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("row iteration error: %w", err)
	}

	return correlations, total, nil
}

// SaveAnomaly appends an anomaly correlation, idempotent on its ID.
func (s *PostgresStore) SaveAnomaly(ctx context.Context, corr *models.AnomalyCorrelation) error {
	anomalies, err := json.Marshal(corr.Anomalies)
	if err != nil {
		return fmt.Errorf("failed to marshal anomalies: %w", err)
	}
	impact, err := json.Marshal(corr.Impact)
	if err != nil {
		return fmt.Errorf("failed to marshal impact: %w", err)
	}
	var rootCause []byte
	var rootEventID *string
	if corr.RootCause != nil {
		rootCause, err = json.Marshal(corr.RootCause)
		if err != nil {
			return fmt.Errorf("failed to marshal root cause: %w", err)
		}
		rootEventID = &corr.RootCause.RootEventID
	}

	query := `
		INSERT INTO anomaly_correlations (id, detected_at, overall_severity, business_score, root_event_id, anomalies, root_cause, impact)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`

	_, err = s.pool.Exec(ctx, query,
		corr.ID, corr.DetectedAt, corr.Impact.Overall, corr.Impact.Business.Score,
		rootEventID, anomalies, rootCause, impact,
	)
	if err != nil {
		return &models.StoreUnavailableError{Op: "save anomaly correlation", Err: err}
	}
	return nil
}

// GetAnomaly retrieves an anomaly correlation by ID.
func (s *PostgresStore) GetAnomaly(ctx context.Context, id string) (*models.AnomalyCorrelation, error) {
	query := `
		SELECT id, detected_at, anomalies, root_cause, impact
		FROM anomaly_correlations
		WHERE id = $1
	`

	corr, err := scanAnomaly(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAnomalyNotFound
		}
		return nil, fmt.Errorf("failed to get anomaly correlation: %w", err)
	}
	return corr, nil
}

// ListAnomalies retrieves a filtered, paginated page plus the total match
// count, newest first.
func (s *PostgresStore) ListAnomalies(ctx context.Context, q Query) ([]*models.AnomalyCorrelation, int, error) {
	normalizeLimit(&q)

	whereClause := "WHERE 1=1"
	args := []interface{}{}
	argPos := 1

	if q.Severity != "" {
		whereClause += fmt.Sprintf(" AND overall_severity = $%d", argPos)
		args = append(args, q.Severity)
		argPos++
	}
	if !q.Since.IsZero() {
		whereClause += fmt.Sprintf(" AND detected_at >= $%d", argPos)
		args = append(args, q.Since)
		argPos++
	}
	if !q.Until.IsZero() {
		whereClause += fmt.Sprintf(" AND detected_at <= $%d", argPos)
		args = append(args, q.Until)
		argPos++
	}
	if q.EventID != "" {
		whereClause += fmt.Sprintf(" AND EXISTS (SELECT 1 FROM jsonb_array_elements(anomalies) a WHERE a->'event'->>'event_id' = $%d)", argPos)
		args = append(args, q.EventID)
		argPos++
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM anomaly_correlations %s", whereClause)
	var total int
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count anomaly correlations: %w", err)
	}

	args = append(args, q.Limit, q.Offset)
	query := fmt.Sprintf(`
		SELECT id, detected_at, anomalies, root_cause, impact
		FROM anomaly_correlations
		%s
		ORDER BY detected_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, whereClause, argPos, argPos+1)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list anomaly correlations: %w", err)
	}
	defer rows.Close()

	anomalies := []*models.AnomalyCorrelation{}
	for rows.Next() {
		corr, err := scanAnomaly(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan anomaly correlation: %w", err)
		}
		anomalies = append(anomalies, corr)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("row iteration error: %w", err)
	}

	return anomalies, total, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanCorrelation(row pgx.Row) (*models.EventCorrelation, error) {
	corr := &models.EventCorrelation{}
	var pattern *string
	var events []byte
	if err := row.Scan(
		&corr.ID, &corr.Type, &corr.Strength, &corr.Confidence, &pattern,
		&corr.WindowStart, &corr.WindowEnd, &corr.DetectedAt, &events,
	); err != nil {
		return nil, err
	}
	if pattern != nil {
		corr.Pattern = *pattern
	}
	if err := json.Unmarshal(events, &corr.Events); err != nil {
		return nil, fmt.Errorf("failed to unmarshal correlation events: %w", err)
	}
	return corr, nil
}

func scanAnomaly(row pgx.Row) (*models.AnomalyCorrelation, error) {
	corr := &models.AnomalyCorrelation{}
	var anomalies, rootCause, impact []byte
	if err := row.Scan(&corr.ID, &corr.DetectedAt, &anomalies, &rootCause, &impact); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(anomalies, &corr.Anomalies); err != nil {
		return nil, fmt.Errorf("failed to unmarshal anomalies: %w", err)
	}
	if len(rootCause) > 0 {
		corr.RootCause = &models.RootCauseAnalysis{}
		if err := json.Unmarshal(rootCause, corr.RootCause); err != nil {
			return nil, fmt.Errorf("failed to unmarshal root cause: %w", err)
		}
	}
	if err := json.Unmarshal(impact, &corr.Impact); err != nil {
		return nil, fmt.Errorf("failed to unmarshal impact: %w", err)
	}
	return corr, nil
}
