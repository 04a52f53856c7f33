package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cryptblk/cryptblk/internal/logger"
	"github.com/cryptblk/cryptblk/pkg/controlplane/api/auth"
	"github.com/cryptblk/cryptblk/pkg/controlplane/runtime"
	"github.com/cryptblk/cryptblk/pkg/controlplane/store"
)

// Server provides an HTTP server for the REST API.
//
// The server exposes health check endpoints, authentication APIs, and the
// device and user management APIs. It supports graceful shutdown with a
// configurable timeout.
type Server struct {
	server       *http.Server
	manager      *runtime.Manager
	jwtService   *auth.JWTService
	cpStore      store.Store
	config       Config
	shutdownOnce sync.Once
}

// NewServer creates a new API HTTP server.
//
// The server is created in a stopped state. Call Start() to begin serving
// requests.
//
// The JWT service is created internally from the config. The JWT secret must
// be configured via config.JWT.Secret or the CRYPTBLK_API_JWT_SECRET
// environment variable, and must be at least 32 characters long.
//
// Parameters:
//   - config: Server configuration (port, timeouts, JWT config)
//   - mgr: Device manager backing the device routes (may be nil for basic health only)
//   - cpStore: Control plane store for auth and user management
//   - metricsHandler: optional /metrics handler (nil disables the endpoint)
//
// Returns a configured but not yet started Server, or an error if JWT
// configuration is invalid.
func NewServer(config Config, mgr *runtime.Manager, cpStore store.Store, metricsHandler http.Handler) (*Server, error) {
	config.applyDefaults()

	jwtSecret := config.GetJWTSecret()
	if len(jwtSecret) < 32 {
		return nil, fmt.Errorf("JWT secret must be at least 32 characters; set via %s env var or config", EnvJWTSecret)
	}

	jwtConfig := auth.JWTConfig{
		Secret:               jwtSecret,
		Issuer:               "cryptblk",
		AccessTokenDuration:  config.JWT.AccessTokenDuration,
		RefreshTokenDuration: config.JWT.RefreshTokenDuration,
	}
	jwtService, err := auth.NewJWTService(jwtConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create JWT service: %w", err)
	}

	router := NewRouter(mgr, jwtService, cpStore, metricsHandler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return &Server{
		server:     server,
		manager:    mgr,
		jwtService: jwtService,
		cpStore:    cpStore,
		config:     config,
	}, nil
}

// Start starts the API HTTP server and blocks until the context is cancelled
// or an error occurs.
//
// When the context is cancelled, Start initiates graceful shutdown and
// returns.
//
// Returns:
//   - nil on graceful shutdown
//   - error if the server fails to start or shutdown encounters an error
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("API server listening", "port", s.config.Port)
		logger.Debug("API endpoints available",
			"health", fmt.Sprintf("http://localhost:%d/health", s.config.Port),
			"ready", fmt.Sprintf("http://localhost:%d/health/ready", s.config.Port),
			"devices", fmt.Sprintf("http://localhost:%d/api/v1/devices", s.config.Port),
		)

		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
				// Context was cancelled, error is not needed
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("API server shutdown signal received")
		// Create a fresh context for graceful shutdown; the cancelled ctx
		// would abort it immediately.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("API server failed: %w", err)
	}
}

// Stop initiates graceful shutdown of the API server.
//
// Stop is safe to call multiple times and safe to call concurrently with
// Start().
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		logger.Debug("API server shutdown initiated")

		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("API server shutdown error: %w", err)
			logger.Error("API server shutdown error", "error", err)
		} else {
			logger.Info("API server stopped gracefully")
		}
	})
	return shutdownErr
}

// Port returns the TCP port the server is listening on.
func (s *Server) Port() int {
	return s.config.Port
}
