// Package api exposes the decision pipeline and rule-set management over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/scoring"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// ServerOption configures optional routes.
type ServerOption func(chi.Router)

// WithMetrics mounts a metrics handler at path.
func WithMetrics(path string, h http.Handler) ServerOption {
	return func(r chi.Router) {
		if h != nil && path != "" {
			r.Method(http.MethodGet, path, h)
		}
	}
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, handler *Handler, opts ...ServerOption) *Server {
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	router.Post("/predict", handler.Predict)
	router.Post("/applications", handler.Submit)

	router.Route("/rulesets", func(r chi.Router) {
		r.Get("/", handler.ListRuleSets)
		r.Post("/", handler.CreateRuleSet)
		r.Get("/"+scoring.ActiveAlias, handler.GetActiveRuleSet)
		r.Get("/{version}", handler.GetRuleSet)
		r.Post("/{version}/activate", handler.ActivateRuleSet)
	})

	for _, opt := range opts {
		opt(router)
	}

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
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
