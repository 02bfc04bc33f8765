package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"tokenmeter/internal/api/health"
	"tokenmeter/internal/api/middleware"
	"tokenmeter/internal/metrics"
	"tokenmeter/pkg/errors"
	"tokenmeter/pkg/logger"
)

const (
	SpendPath  = "/api/spend"
	TokensPath = "/api/tokens"
)

// ServerConfig contains configuration for HTTP server
type ServerConfig struct {
	Port         int
	ServiceName  string
	Version      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Routes are the handlers the server mounts
type Routes struct {
	Health *health.Handler
	Auth   *middleware.AuthMiddleware
	Spend  http.Handler
	Tokens http.Handler // optional
}

// Server wraps HTTP server with lifecycle management
type Server struct {
	httpServer *http.Server
	log        *logger.Logger
}

// NewServer creates and configures HTTP server with all routes
func NewServer(cfg ServerConfig, routes Routes, log *logger.Logger) *Server {
	handler := NewHandler(cfg, routes, log)

	port := 8080
	if cfg.Port > 0 {
		port = cfg.Port
	}

	log.Infof("HTTP server configured on port %d", port)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      handler,
		ReadTimeout:  durationOr(cfg.ReadTimeout, 10*time.Second),
		WriteTimeout: durationOr(cfg.WriteTimeout, 10*time.Second),
		IdleTimeout:  durationOr(cfg.IdleTimeout, 60*time.Second),
	}

	return &Server{
		httpServer: httpServer,
		log:        log,
	}
}

// NewHandler builds the routed handler without binding a port
func NewHandler(cfg ServerConfig, routes Routes, log *logger.Logger) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoints (Kubernetes probes)
	if routes.Health != nil {
		mux.HandleFunc("/health", routes.Health.HandleHealth)
		mux.HandleFunc("/ready", routes.Health.HandleReadiness)
		mux.HandleFunc("/live", routes.Health.HandleLiveness)
	}

	// Prometheus metrics endpoint
	mux.Handle("/metrics", metrics.Handler())

	// Usage endpoints answer 401 themselves when no identity was resolved
	mux.Handle(SpendPath, routes.Spend)
	if routes.Tokens != nil {
		mux.Handle(TokensPath, routes.Tokens)
		log.Info("✓ Tokenizer registered at " + TokensPath)
	}

	// Root endpoint (service info)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"service":"%s","version":"%s","status":"running"}`,
			cfg.ServiceName, cfg.Version)
	})

	// auth runs first so request logs carry the caller id
	var handler http.Handler = middleware.NewLoggingMiddleware(log).Handler(mux)
	if routes.Auth != nil {
		handler = routes.Auth.Handler(handler)
	}
	return handler
}

// Start begins listening for HTTP requests
// Blocks until server is stopped or encounters an error
func (s *Server) Start() error {
	s.log.Infof("Starting HTTP server on %s", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "http server failed")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
// Waits for active connections to complete within timeout
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Stopping HTTP server...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "http server shutdown failed")
	}

	s.log.Info("✓ HTTP server stopped")
	return nil
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
