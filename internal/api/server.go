// Package api exposes the service over HTTP: health probes, Prometheus
// metrics, on-demand sync runs and rotation introspection.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/bookbridge/bookbridge/internal/metrics"
	"github.com/bookbridge/bookbridge/internal/rotation"
	"github.com/bookbridge/bookbridge/internal/store"
)

// SyncRunner triggers one sync run.
type SyncRunner interface {
	Run(ctx context.Context, debug bool) (store.Run, error)
}

// Leaser exposes the rotation manager for introspection.
type Leaser interface {
	Lease(ctx context.Context) (rotation.Lease, error)
}

// RunLister reads run history.
type RunLister interface {
	ListRuns(ctx context.Context, limit int) ([]store.Run, error)
}

// Config controls the HTTP server.
type Config struct {
	Addr           string
	APIKey         string
	RequestTimeout time.Duration
}

// Server is the HTTP front of the service.
type Server struct {
	cfg    Config
	runner SyncRunner
	leaser Leaser
	runs   RunLister
	logger *zap.Logger
	http   *http.Server
}

// NewServer wires routes and middleware.
func NewServer(cfg Config, runner SyncRunner, leaser Leaser, runs RunLister, logger *zap.Logger) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 120 * time.Second
	}
	s := &Server{
		cfg:    cfg,
		runner: runner,
		leaser: leaser,
		runs:   runs,
		logger: logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(s.apiKeyMiddleware)
		}
		r.Post("/sync", s.handleSync)
		r.Get("/proxy/lease", s.handleLease)
		r.Get("/runs", s.handleRuns)
	})

	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving HTTP until Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", zap.String("addr", s.cfg.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	debug, _ := strconv.ParseBool(r.URL.Query().Get("debug"))
	run, err := s.runner.Run(ctx, debug)
	if err != nil {
		status := syncErrorStatus(err)
		s.logger.Warn("sync request failed",
			zap.Int("status", status), zap.Error(err))
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// syncErrorStatus maps sync failures onto gateway-ish statuses: exhausted
// rotation is a 503 the caller can back off from, a deadline is a 504, and
// anything else from the browser or site is a 502.
func syncErrorStatus(err error) int {
	switch {
	case errors.Is(err, rotation.ErrNoEndpoints), errors.Is(err, rotation.ErrNoCredentials):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handleLease(w http.ResponseWriter, r *http.Request) {
	lease, err := s.leaser.Lease(r.Context())
	if err != nil {
		writeError(w, syncErrorStatus(err), err.Error())
		return
	}
	// Credentials stay server-side.
	writeJSON(w, http.StatusOK, map[string]string{
		"server":   lease.Server,
		"group_id": lease.GroupID,
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := s.runs.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
