package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cryptblk/cryptblk/internal/logger"
	"github.com/cryptblk/cryptblk/pkg/controlplane/api/auth"
	"github.com/cryptblk/cryptblk/pkg/controlplane/api/handlers"
	apiMiddleware "github.com/cryptblk/cryptblk/pkg/controlplane/api/middleware"
	"github.com/cryptblk/cryptblk/pkg/controlplane/runtime"
	"github.com/cryptblk/cryptblk/pkg/controlplane/store"
)

// NewRouter creates and configures the chi router with all middleware and routes.
//
// The router is configured with:
//   - Request ID middleware for request tracking
//   - Real IP extraction for proper client identification
//   - Custom request logging using the internal logger
//   - Panic recovery to prevent server crashes
//   - Request timeout to prevent hung requests
//
// Routes:
//   - GET /health - Liveness probe
//   - GET /health/ready - Readiness probe
//   - GET /health/stores - Detailed store health
//   - POST /api/v1/auth/login - User authentication
//   - POST /api/v1/auth/refresh - Token refresh
//   - GET /api/v1/auth/me - Current user info
//   - POST /api/v1/users/me/password - Change own password
//   - /api/v1/users/* - User management (admin only)
//   - /api/v1/devices/* - Device registration management (admin only)
//   - GET /api/v1/devices/{name}/status - Device status line + dispatch stats
//
// metricsHandler, when non-nil, is mounted unauthenticated at /metrics.
func NewRouter(mgr *runtime.Manager, jwtService *auth.JWTService, cpStore store.Store, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	// Health routes - unauthenticated
	healthHandler := handlers.NewHealthHandler(cpStore, mgr)
	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
		r.Get("/stores", healthHandler.Stores)
	})

	// Prometheus scrape endpoint - unauthenticated, like health probes
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	// Root redirect to health for convenience
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	authHandler := handlers.NewAuthHandler(cpStore, jwtService)
	userHandler, err := handlers.NewUserHandler(cpStore, jwtService)
	if err != nil {
		// This is a programming error - jwtService should always be provided
		panic("failed to create user handler: " + err.Error())
	}
	deviceHandler := handlers.NewDeviceHandler(mgr)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Auth routes - mostly unauthenticated
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.Refresh)

			r.Group(func(r chi.Router) {
				r.Use(apiMiddleware.JWTAuth(jwtService))
				r.Get("/me", authHandler.Me)
			})
		})

		// Password change - authenticated but exempt from MustChangePassword
		// check, so users who must change their password can actually do so
		r.Route("/users/me/password", func(r chi.Router) {
			r.Use(apiMiddleware.JWTAuth(jwtService))
			r.Post("/", userHandler.ChangeOwnPassword)
		})

		// Protected routes - require authentication and password change complete
		r.Group(func(r chi.Router) {
			r.Use(apiMiddleware.JWTAuth(jwtService))
			r.Use(apiMiddleware.RequirePasswordChange("/api/v1/users/me/password"))

			// User management
			r.Route("/users", func(r chi.Router) {
				// Self-access allowed - handler does its own authorization
				r.Get("/{username}", userHandler.Get)

				r.Group(func(r chi.Router) {
					r.Use(apiMiddleware.RequireAdmin())

					r.Post("/", userHandler.Create)
					r.Get("/", userHandler.List)
					r.Put("/{username}", userHandler.Update)
					r.Delete("/{username}", userHandler.Delete)
					r.Post("/{username}/password", userHandler.ResetPassword)
				})
			})

			// Device management (admin only). Creating a device registers
			// and attaches it; deleting drains and detaches first.
			r.Route("/devices", func(r chi.Router) {
				r.Use(apiMiddleware.RequireAdmin())

				r.Post("/", deviceHandler.Create)
				r.Get("/", deviceHandler.List)
				r.Get("/{name}", deviceHandler.Get)
				r.Delete("/{name}", deviceHandler.Delete)
				r.Post("/{name}/enable", deviceHandler.Enable)
				r.Post("/{name}/disable", deviceHandler.Disable)
				r.Get("/{name}/status", deviceHandler.Status)
			})
		})
	})

	return r
}

// isHealthPath returns true if the request path is a healthcheck endpoint.
func isHealthPath(path string) bool {
	return path == "/health" || strings.HasPrefix(path, "/health/") || path == "/metrics"
}

// requestLogger is a custom middleware that logs requests using the internal logger.
//
// It logs:
//   - Request start (DEBUG level): method, path, remote addr
//   - Request completion (INFO level): method, path, status, duration
//   - Healthcheck and metrics requests are logged at DEBUG level to reduce noise
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		// Wrap response writer to capture status code
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)

		logArgs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", duration.String(),
		}

		if isHealthPath(r.URL.Path) {
			logger.Debug("API request completed", logArgs...)
		} else {
			logger.Info("API request completed", logArgs...)
		}
	})
}
