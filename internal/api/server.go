// Package api provides the HTTP interface for submitting and observing
// workflow runs.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/hugo-lorenzo-mato/nodeflow/internal/core"
	"github.com/hugo-lorenzo-mato/nodeflow/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/nodeflow/internal/events"
	"github.com/hugo-lorenzo-mato/nodeflow/internal/logging"
	"github.com/hugo-lorenzo-mato/nodeflow/internal/service"
)

// OwnerHeader carries the caller identity used to scope run history.
const OwnerHeader = "X-Nodeflow-Owner"

// RunService executes run requests.
type RunService interface {
	Execute(ctx context.Context, req core.RunRequest) (*core.RunReport, error)
	Submit(ctx context.Context, req core.RunRequest) (core.RunID, error)
}

// Server provides HTTP endpoints for workflow runs.
type Server struct {
	router   chi.Router
	runs     RunService
	ledger   core.Ledger
	eventBus *events.EventBus
	logger   *logging.Logger

	monitor     *diagnostics.ResourceMonitor
	host        *diagnostics.HostCollector
	runMetrics  *service.MetricsCollector
	limiters    *service.RateLimiterRegistry
	version     string
	corsOrigins []string
	started     time.Time
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *logging.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithResourceMonitor reports monitor snapshots on /health.
func WithResourceMonitor(m *diagnostics.ResourceMonitor) ServerOption {
	return func(s *Server) {
		s.monitor = m
	}
}

// WithHostMetrics reports host CPU, memory and volume usage on /health.
func WithHostMetrics(c *diagnostics.HostCollector) ServerOption {
	return func(s *Server) {
		s.host = c
	}
}

// WithRateLimits adds per-model limiter state to /api/v1/metrics.
func WithRateLimits(r *service.RateLimiterRegistry) ServerOption {
	return func(s *Server) {
		s.limiters = r
	}
}

// WithRunMetrics serves run and node-kind metrics on /api/v1/metrics.
func WithRunMetrics(m *service.MetricsCollector) ServerOption {
	return func(s *Server) {
		s.runMetrics = m
	}
}

// WithVersion sets the version reported on /health.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// WithCORSOrigins sets the origins allowed to call the API.
func WithCORSOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.corsOrigins = origins
	}
}

// NewServer creates a new API server.
func NewServer(runs RunService, ledger core.Ledger, eventBus *events.EventBus, opts ...ServerOption) *Server {
	s := &Server{
		runs:        runs,
		ledger:      ledger,
		eventBus:    eventBus,
		logger:      logging.NewNop(),
		version:     "dev",
		corsOrigins: []string{"*"},
		started:     time.Now(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   s.corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "If-None-Match", OwnerHeader},
		ExposedHeaders:   []string{"ETag"},
		AllowCredentials: false,
		MaxAge:           300,
	})
	r.Use(corsHandler.Handler)

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		// Synchronous runs may legitimately take as long as the run timeout,
		// so only the short endpoints get the request timeout.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			r.Get("/runs", s.handleListRuns)
			r.Get("/runs/{runID}", s.handleGetRun)
			r.Post("/graph/validate", s.handleValidateGraph)
			r.Post("/graph/connections", s.handleCheckConnection)
			r.Get("/metrics", s.handleMetrics)
		})

		r.Post("/runs", s.handleSubmitRun)
		r.Post("/runs/single", s.handleSubmitSingle)
		r.Get("/events", s.handleSSE)
	})

	return r
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"bytes", ww.BytesWritten(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// ownerFrom returns the caller identity of r.
func ownerFrom(r *http.Request) string {
	if owner := r.Header.Get(OwnerHeader); owner != "" {
		return owner
	}
	return "local"
}

// ListenAndServe starts the HTTP server and shuts it down when ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("starting API server", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
