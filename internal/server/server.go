// Package server exposes the read API: graph queries, correlation and
// anomaly lookups, health, and metrics. All state mutation happens through
// the engine; the API is strictly read-only.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/telhawk-systems/causeway/internal/config"
	"github.com/telhawk-systems/causeway/internal/logging"
	"github.com/telhawk-systems/causeway/internal/middleware"
)

// Server wraps the HTTP server and its routes.
type Server struct {
	srv *http.Server
	log *logging.Logger
}

// New builds the server. Health and metrics stay open; the /api/v1 routes
// require a bearer token when an auth secret is configured.
func New(cfg config.ServerConfig, apiCfg config.APIConfig, h *Handler, log *logging.Logger) *Server {
	if log == nil {
		log = logging.Default()
	}

	api := http.NewServeMux()
	api.HandleFunc("/api/v1/graph/stats", h.GraphStats)
	api.HandleFunc("/api/v1/graph/range", h.GraphRange)
	api.HandleFunc("/api/v1/graph/nodes/", h.GraphNodes)
	api.HandleFunc("/api/v1/correlations", h.ListCorrelations)
	api.HandleFunc("/api/v1/correlations/", h.GetCorrelation)
	api.HandleFunc("/api/v1/anomalies", h.ListAnomalies)
	api.HandleFunc("/api/v1/anomalies/", h.GetAnomaly)

	var apiHandler http.Handler = api
	if apiCfg.AuthSecret != "" {
		apiHandler = RequireAuth(apiCfg.AuthSecret)(api)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.HealthCheck)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/api/v1/", apiHandler)

	return &Server{
		srv: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      middleware.RequestID(mux),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: log,
	}
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.log.Info("http server listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server error: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
