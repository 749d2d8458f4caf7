package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/custodia-labs/integrations-core/internal/core/ports/driven"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driving"
	"github.com/custodia-labs/integrations-core/internal/worker"
)

// Pinger is a simple health check interface
type Pinger interface {
	Ping(ctx context.Context) error
}

// WorkerReporter reports on an in-process worker.
type WorkerReporter interface {
	Health(ctx context.Context) worker.Health
}

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	router     *http.ServeMux
	version    string
	logger     *slog.Logger

	// frontendCallbackURL receives the browser after a successful callback.
	frontendCallbackURL string
	corsOrigins         []string

	// Services
	connectService     driving.ConnectService
	integrationService driving.IntegrationService
	metricsService     driving.MetricsService
	providerService    driving.ProviderService

	// Infrastructure
	sessions    driven.SessionVerifier
	taskQueue   driven.TaskQueue // optional
	db          Pinger
	redisClient Pinger // optional
	worker      WorkerReporter // optional
}

// Config holds server configuration
type Config struct {
	Host                string
	Port                int
	Version             string
	FrontendCallbackURL string
	CORSOrigins         []string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Host:    "0.0.0.0",
		Port:    8080,
		Version: "dev",
	}
}

// Deps are the services and infrastructure the server routes to.
type Deps struct {
	Connect      driving.ConnectService
	Integrations driving.IntegrationService
	Metrics      driving.MetricsService
	Providers    driving.ProviderService

	Sessions  driven.SessionVerifier
	TaskQueue driven.TaskQueue
	DB        Pinger
	Redis     Pinger
	Worker    WorkerReporter

	Logger *slog.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		router:              http.NewServeMux(),
		version:             cfg.Version,
		logger:              logger,
		frontendCallbackURL: cfg.FrontendCallbackURL,
		corsOrigins:         cfg.CORSOrigins,
		connectService:      deps.Connect,
		integrationService:  deps.Integrations,
		metricsService:      deps.Metrics,
		providerService:     deps.Providers,
		sessions:            deps.Sessions,
		taskQueue:           deps.TaskQueue,
		db:                  deps.DB,
		redisClient:         deps.Redis,
		worker:              deps.Worker,
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.setupRoutes()
	return s
}

// Handler returns the router wrapped in recovery, logging and CORS.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.router
	h = NewCORSMiddleware(s.corsOrigins).Handler(h)
	h = NewLoggingMiddleware(s.logger).Handler(h)
	h = NewRecoveryMiddleware(s.logger).Handler(h)
	return h
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	authMiddleware := NewAuthMiddleware(s.sessions)
	authed := func(h http.HandlerFunc) http.Handler {
		return authMiddleware.Authenticate(h)
	}

	// Health endpoints (no auth)
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /ready", s.handleReady)
	s.router.HandleFunc("GET /health/worker", s.handleWorkerHealth)
	s.router.HandleFunc("GET /version", s.handleVersion)
	s.router.HandleFunc("GET /swagger/doc.json", s.handleSwaggerDoc)

	// Provider catalog
	s.router.Handle("GET /api/v1/providers", authed(s.handleListProviders))
	s.router.Handle("GET /api/v1/providers/{provider}", authed(s.handleGetProvider))

	// Cross-integration endpoints
	s.router.Handle("GET /api/v1/integrations/connected", authed(s.handleListConnected))
	s.router.Handle("GET /api/v1/integrations/datatrails", authed(s.handleListDatatrails))

	// records/{id} and {provider}/delete overlap as mux patterns, so both
	// deletes share one route.
	s.router.Handle("DELETE /api/v1/integrations/{scope}/{target}", authed(s.handleDelete))

	// Connect flow
	s.router.Handle("GET /api/v1/integrations/{provider}/auth", authed(s.handleAuthorize))
	s.router.Handle("GET /api/v1/integrations/{provider}/callback", authed(s.handleCallback))
	s.router.Handle("POST /api/v1/integrations/{provider}/callback", authed(s.handleCallback))

	// Stored integration
	s.router.Handle("GET /api/v1/integrations/{provider}/fetch-connection-status", authed(s.handleConnectionStatus))
	s.router.Handle("GET /api/v1/integrations/{provider}/fetch-integration-data", authed(s.handleIntegrationData))
	s.router.Handle("POST /api/v1/integrations/{provider}/refresh-integration-data", authed(s.handleRefreshData))

	// Provider passthrough
	s.router.Handle("GET /api/v1/integrations/{provider}/resources/{resource}", authed(s.handleListResource))
	s.router.Handle("POST /api/v1/integrations/{provider}/resources/{resource}", authed(s.handleCreateResource))
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting http server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("http server stopped")
	return nil
}

// Stop stops the server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
