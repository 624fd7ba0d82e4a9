// Package server exposes the operational HTTP endpoints: metrics, health and alerts.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/devrev/screenhub/internal/health"
	"github.com/devrev/screenhub/internal/metrics"
)

// Config holds configuration for the ops server
type Config struct {
	Host         string
	Port         int
	MetricsPath  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the ops HTTP server
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	logger     *zap.Logger
}

// New creates the ops server and registers its routes.
// reg may be nil, in which case /metrics is not served.
func New(cfg Config, engine *health.Engine, agg *metrics.Aggregator, reg *prometheus.Registry, logger *zap.Logger) *Server {
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}

	router := mux.NewRouter()
	router.Use(RequestID, Instrument(agg, logger), Recovery(logger))

	if reg != nil {
		router.Handle(cfg.MetricsPath, metrics.Handler(reg)).Methods(http.MethodGet)
	}
	router.HandleFunc("/metrics/snapshot", snapshotHandler(agg, logger)).Methods(http.MethodGet)
	router.HandleFunc("/metrics/text", textHandler(agg, logger)).Methods(http.MethodGet)

	router.HandleFunc("/health/live", engine.LivenessHandler).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", engine.ReadinessHandler).Methods(http.MethodGet)
	router.HandleFunc("/health/status", engine.StatusHandler).Methods(http.MethodGet)
	router.HandleFunc("/alerts", engine.AlertsHandler).Methods(http.MethodGet)

	return &Server{
		router: router,
		httpServer: &http.Server{
			Addr:         net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves in the background. Listen errors are returned immediately.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	s.logger.Info("Starting ops server", zap.String("addr", ln.Addr().String()))

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Ops server failed", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Stopping ops server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ops server shutdown failed: %w", err)
	}
	return nil
}

func snapshotHandler(agg *metrics.Aggregator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(agg.Snapshot()); err != nil {
			logger.Error("Failed to encode metrics snapshot", zap.Error(err))
		}
	}
}

// textHandler serves the aggregator's own exposition, including derived values
func textHandler(agg *metrics.Aggregator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		if err := agg.WriteText(w); err != nil {
			logger.Error("Failed to write metrics text", zap.Error(err))
		}
	}
}
