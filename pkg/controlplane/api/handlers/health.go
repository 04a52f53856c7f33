package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/cryptblk/cryptblk/pkg/controlplane/runtime"
	"github.com/cryptblk/cryptblk/pkg/controlplane/store"
)

// HealthCheckTimeout is the maximum time allowed for health check operations.
// This timeout applies to store health checks to prevent a slow database from
// blocking health probes indefinitely.
const HealthCheckTimeout = 5 * time.Second

// HealthHandler handles health check endpoints.
//
// Health endpoints are unauthenticated and provide:
//   - Liveness probe: Is the server process running?
//   - Readiness probe: Is the server ready to accept requests?
//   - Store health: status of the control plane database
type HealthHandler struct {
	store     store.Store
	manager   *runtime.Manager
	startTime time.Time
}

// NewHealthHandler creates a new health handler.
//
// Either parameter may be nil, in which case readiness and store health
// checks return unhealthy status.
func NewHealthHandler(s store.Store, m *runtime.Manager) *HealthHandler {
	return &HealthHandler{
		store:     s,
		manager:   m,
		startTime: time.Now(),
	}
}

// Liveness handles GET /health - simple liveness probe.
//
// Returns 200 OK if the server process is running. This endpoint is designed
// for Kubernetes liveness probes and should always succeed as long as the
// HTTP server is responsive.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startTime)
	WriteJSON(w, http.StatusOK, healthyResponse(map[string]any{
		"service":    "cryptblk",
		"started_at": h.startTime.UTC().Format(time.RFC3339),
		"uptime":     uptime.Round(time.Second).String(),
		"uptime_sec": int64(uptime.Seconds()),
	}))
}

// Readiness handles GET /health/ready - readiness probe.
// Returns 200 OK once the device manager is initialized, along with the set
// of attached devices.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.manager == nil {
		WriteJSON(w, http.StatusServiceUnavailable, unhealthyResponse("device manager not initialized"))
		return
	}

	attached := h.manager.ListAttached()
	WriteJSON(w, http.StatusOK, healthyResponse(map[string]any{
		"devices": map[string]any{
			"attached": len(attached),
			"names":    attached,
		},
	}))
}

// StoreHealth represents the health status of a single store.
type StoreHealth struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// StoresResponse represents the detailed store health response.
type StoresResponse struct {
	ControlStore StoreHealth `json:"control_store"`
}

// Stores handles GET /health/stores - detailed store health.
//
// Pings the control plane database and reports latency. Returns 200 OK when
// the store answers, 503 Service Unavailable when it does not.
func (h *HealthHandler) Stores(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		WriteJSON(w, http.StatusServiceUnavailable, unhealthyResponse("store not initialized"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), HealthCheckTimeout)
	defer cancel()

	start := time.Now()
	err := h.store.Healthcheck(ctx)
	latency := time.Since(start)

	health := StoreHealth{
		Name:    "control-plane",
		Type:    "sql",
		Latency: latency.String(),
	}

	if err != nil {
		health.Status = "unhealthy"
		health.Error = err.Error()
		WriteJSON(w, http.StatusServiceUnavailable, unhealthyResponseWithData(StoresResponse{ControlStore: health}))
		return
	}

	health.Status = "healthy"
	WriteJSON(w, http.StatusOK, healthyResponse(StoresResponse{ControlStore: health}))
}
