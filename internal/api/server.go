// Package api provides the HTTP API server for the tower controller.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/narvanalabs/tower-controller/internal/api/handlers"
	"github.com/narvanalabs/tower-controller/internal/api/health"
	"github.com/narvanalabs/tower-controller/internal/api/middleware"
	"github.com/narvanalabs/tower-controller/internal/archive"
	"github.com/narvanalabs/tower-controller/internal/auth"
	"github.com/narvanalabs/tower-controller/internal/events"
)

// Version is the current version of the API server.
// This should be set at build time using ldflags.
var Version = "dev"

// Controller is what the server needs from the control loop.
type Controller interface {
	handlers.Controller
	health.Pinger
}

// Config holds HTTP server settings.
type Config struct {
	Host           string
	Port           int
	RequestTimeout time.Duration
	StreamInterval time.Duration
	DiskPath       string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           8080,
		RequestTimeout: 15 * time.Second,
		StreamInterval: 5 * time.Second,
		DiskPath:       "/",
	}
}

// Deps are the collaborators the routes call into. Archive, Metrics and
// Auth are optional.
type Deps struct {
	Controller Controller
	Broker     *events.Broker
	Archive    archive.Archive
	Metrics    http.Handler
	Auth       *auth.Service
}

// Server represents the HTTP API server.
type Server struct {
	config        Config
	deps          Deps
	router        chi.Router
	httpServer    *http.Server
	healthChecker *health.Checker
	logger        *slog.Logger
}

// NewServer creates a new API server with the given dependencies.
func NewServer(cfg Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Broker == nil {
		deps.Broker = events.NewBroker(logger)
	}

	s := &Server{
		config: cfg,
		deps:   deps,
		logger: logger,
	}

	s.healthChecker = health.NewChecker(Version)
	s.healthChecker.Register("controller", health.FromPinger(deps.Controller, "control loop running"))
	s.healthChecker.Register("transport", s.transportStatus)
	if deps.Archive != nil {
		s.healthChecker.Register("archive", health.FromPinger(deps.Archive, "reachable"))
	}

	s.setupRouter()
	return s
}

// transportStatus reports the radio link as seen by the loop.
func (s *Server) transportStatus(ctx context.Context) health.ComponentStatus {
	st, err := s.deps.Controller.Status(ctx)
	switch {
	case err != nil:
		return health.ComponentStatus{Status: health.StatusUnhealthy, Message: err.Error()}
	case st.Degraded:
		return health.ComponentStatus{Status: health.StatusDegraded, Message: "radio hardware fault"}
	case !st.LinkUp:
		return health.ComponentStatus{Status: health.StatusDegraded, Message: "link down"}
	}
	return health.ComponentStatus{Status: health.StatusHealthy, Message: "link up"}
}

// setupRouter configures the router with middleware and routes.
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(middleware.Recovery(s.logger))

	r.Get("/health", s.healthChecker.Handler())
	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics)
	}

	control := handlers.NewControlHandler(s.deps.Controller, s.logger)
	archiveHandler := handlers.NewArchiveHandler(s.deps.Archive, s.logger)
	system := handlers.NewSystemHandler(Version, s.config.DiskPath, s.logger)
	stream := handlers.NewStreamHandler(s.deps.Controller, s.deps.Broker, s.config.StreamInterval, s.logger)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RequireOperator(s.deps.Auth, s.logger))

		// Long-lived; no request timeout.
		r.Get("/ws", stream.Serve)

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(s.config.RequestTimeout))

			r.Get("/status", control.Status)
			r.Post("/pump", control.SetPump)
			r.Post("/mode", control.SetMode)
			r.Get("/history", control.History)
			r.Get("/towers", control.ListTowers)
			r.Get("/towers/{id}", control.GetTower)
			r.Post("/towers/{id}/query", control.QueryTower)
			r.Get("/archive", archiveHandler.Range)
			r.Get("/system", system.Get)
		})
	})

	s.router = r
}

// Start starts the HTTP server and blocks until ctx is done or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("starting API server", "addr", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// Handler returns the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}
