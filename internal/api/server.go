package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// Options carries the optional parts of a server.
type Options struct {
	// Report bounds the report routes with a token bucket.
	Report domain.ReportConfig

	// Checks are pinged by /health.
	Checks map[string]Pinger

	Version string
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, svc *pipeline.Service, opts Options) *Server {
	handler := NewHandler(svc, opts.Checks, opts.Version)
	metrics := svc.Metrics()
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)             // CORS for browser clients
	router.Use(RecoverMiddleware)          // Recover from panics
	router.Use(TracingMiddleware)          // OpenTelemetry tracing
	router.Use(LoggingMiddleware)          // Request logging
	router.Use(MetricsMiddleware(metrics)) // Prometheus request metrics
	router.Use(middleware.RealIP)          // Extract real IP
	router.Use(middleware.Compress(5))     // Gzip compression

	// Operational endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Handle("/metrics", metrics.Handler())

	// Scoring
	router.Post("/predict", handler.Predict)
	router.Get("/predictions/{id}", handler.GetPrediction)
	router.Get("/predictions/{id}/explanation", handler.GetExplanation)

	// Reports are expensive; they share one rate limit.
	router.Group(func(r chi.Router) {
		r.Use(RateLimitMiddleware(newLimiter(opts.Report)))

		r.Get("/predictions/{id}/report", handler.GetReport)
		r.Post("/predictions/{id}/report", handler.RequestReport)
		r.Get("/reports/{id}", handler.GetStoredReport)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

func newLimiter(cfg domain.ReportConfig) *rate.Limiter {
	if cfg.RateLimit <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
