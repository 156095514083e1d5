package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/telhawk-systems/causeway/internal/httputil"
	"github.com/telhawk-systems/causeway/internal/models"
	"github.com/telhawk-systems/causeway/internal/store"
)

// GraphReader is the read side of the event graph served by the API.
type GraphReader interface {
	Stats(ctx context.Context) (models.GraphStats, error)
	Neighborhood(ctx context.Context, id string) (models.GraphNeighborhood, bool, error)
	Range(ctx context.Context, from, to time.Time) ([]models.GraphNode, error)
}

// Handler serves the read API over the graph and the correlation store.
type Handler struct {
	graph  GraphReader
	store  store.Store
	halted func() []int
}

// NewHandler creates the API handler. halted reports partitions stopped by
// an invariant violation and may be nil.
func NewHandler(graph GraphReader, st store.Store, halted func() []int) *Handler {
	if halted == nil {
		halted = func() []int { return nil }
	}
	return &Handler{graph: graph, store: st, halted: halted}
}

// HealthCheck handles GET /healthz. Halted partitions degrade the status but
// the service keeps serving the remaining ones.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if halted := h.halted(); len(halted) > 0 {
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"status":            "degraded",
			"halted_partitions": halted,
		})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// GraphStats handles GET /api/v1/graph/stats.
func (h *Handler) GraphStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stats, err := h.graph.Stats(r.Context())
	if err != nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "graph unavailable")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

// GraphNodes handles GET /api/v1/graph/nodes/:id and
// GET /api/v1/graph/nodes/:id/neighbors.
func (h *Handler) GraphNodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/graph/nodes/")
	wantNeighbors := false
	if trimmed, ok := strings.CutSuffix(id, "/neighbors"); ok {
		id = trimmed
		wantNeighbors = true
	}
	if id == "" || strings.Contains(id, "/") {
		httputil.WriteError(w, http.StatusBadRequest, "node ID required")
		return
	}

	nb, ok, err := h.graph.Neighborhood(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "graph unavailable")
		return
	}
	if !ok {
		httputil.WriteError(w, http.StatusNotFound, "node not found")
		return
	}
	if wantNeighbors {
		httputil.WriteJSON(w, http.StatusOK, nb)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, nb.Node)
}

// GraphRange handles GET /api/v1/graph/range?from=&to=. Bounds default to
// the last hour.
func (h *Handler) GraphRange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	to := time.Now().UTC()
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid to timestamp")
			return
		}
		to = parsed
	}
	from := to.Add(-time.Hour)
	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid from timestamp")
			return
		}
		from = parsed
	}

	nodes, err := h.graph.Range(r.Context(), from, to)
	if err != nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "graph unavailable")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"nodes": nodes,
		"total": len(nodes),
	})
}

// ListCorrelations handles GET /api/v1/correlations.
func (h *Handler) ListCorrelations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query, ok := h.parseQuery(w, r)
	if !ok {
		return
	}
	if raw := r.URL.Query().Get("type"); raw != "" {
		ct := models.CorrelationType(raw)
		if !ct.IsValid() {
			httputil.WriteError(w, http.StatusBadRequest, "unknown correlation type")
			return
		}
		query.Type = ct
	}
	if raw := r.URL.Query().Get("min_strength"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || v > 1 {
			httputil.WriteError(w, http.StatusBadRequest, "invalid min_strength")
			return
		}
		query.MinStrength = v
	}

	items, total, err := h.store.ListCorrelations(r.Context(), query)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to list correlations")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"correlations": items,
		"total":        total,
	})
}

// GetCorrelation handles GET /api/v1/correlations/:id.
func (h *Handler) GetCorrelation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/correlations/")
	if id == "" || strings.Contains(id, "/") {
		httputil.WriteError(w, http.StatusBadRequest, "correlation ID required")
		return
	}

	corr, err := h.store.GetCorrelation(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrCorrelationNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "correlation not found")
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, "failed to get correlation")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, corr)
}

// ListAnomalies handles GET /api/v1/anomalies.
func (h *Handler) ListAnomalies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query, ok := h.parseQuery(w, r)
	if !ok {
		return
	}
	if raw := r.URL.Query().Get("severity"); raw != "" {
		sev := models.Severity(raw)
		if !sev.IsValid() {
			httputil.WriteError(w, http.StatusBadRequest, "unknown severity")
			return
		}
		query.Severity = sev
	}

	items, total, err := h.store.ListAnomalies(r.Context(), query)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to list anomalies")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"anomalies": items,
		"total":     total,
	})
}

// GetAnomaly handles GET /api/v1/anomalies/:id.
func (h *Handler) GetAnomaly(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/anomalies/")
	if id == "" || strings.Contains(id, "/") {
		httputil.WriteError(w, http.StatusBadRequest, "anomaly correlation ID required")
		return
	}

	ac, err := h.store.GetAnomaly(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrAnomalyNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "anomaly correlation not found")
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, "failed to get anomaly correlation")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ac)
}

// parseQuery extracts the filters shared by both list endpoints. On a bad
// parameter it writes the error response and reports false.
func (h *Handler) parseQuery(w http.ResponseWriter, r *http.Request) (store.Query, bool) {
	var query store.Query

	if raw := r.URL.Query().Get("event_id"); raw != "" {
		query.EventID = raw
	}
	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid from timestamp")
			return query, false
		}
		query.Since = parsed
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid to timestamp")
			return query, false
		}
		query.Until = parsed
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			httputil.WriteError(w, http.StatusBadRequest, "invalid limit")
			return query, false
		}
		query.Limit = v
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			httputil.WriteError(w, http.StatusBadRequest, "invalid offset")
			return query, false
		}
		query.Offset = v
	}
	return query, true
}
