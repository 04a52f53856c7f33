package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cryptblk/cryptblk/pkg/controlplane/models"
	"github.com/cryptblk/cryptblk/pkg/controlplane/runtime"
	"github.com/cryptblk/cryptblk/pkg/crypt"
	"github.com/cryptblk/cryptblk/pkg/kdf"
)

// DeviceHandler handles device registration API endpoints.
// It goes through the runtime manager so the persistent registry and the
// attached device set stay in step.
type DeviceHandler struct {
	manager *runtime.Manager
}

// NewDeviceHandler creates a new DeviceHandler.
func NewDeviceHandler(m *runtime.Manager) *DeviceHandler {
	return &DeviceHandler{manager: m}
}

// CreateDeviceRequest is the request body for POST /api/v1/devices.
//
// Exactly one of passphrase_env and key_file must be set. For passphrase
// devices the argon2id salt is generated server side; it is never accepted
// from the client.
type CreateDeviceRequest struct {
	Name          string         `json:"name"`
	Backend       string         `json:"backend"`
	BackendConfig map[string]any `json:"backend_config,omitempty"`
	Cipher        string         `json:"cipher"`
	IVMode        string         `json:"iv_mode,omitempty"`
	Features      []string       `json:"features,omitempty"`
	StartSector   uint64         `json:"start_sector,omitempty"`
	Sectors       uint64         `json:"sectors,omitempty"`
	IVOffset      uint64         `json:"iv_offset,omitempty"`
	PassphraseEnv string         `json:"passphrase_env,omitempty"`
	KeyFile       string         `json:"key_file,omitempty"`
	KDFTime       uint32         `json:"kdf_time,omitempty"`
	KDFMemoryKiB  uint32         `json:"kdf_memory_kib,omitempty"`
	KDFThreads    uint8          `json:"kdf_threads,omitempty"`
}

// DeviceResponse is the response body for device endpoints.
type DeviceResponse struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Backend       string         `json:"backend"`
	BackendConfig map[string]any `json:"backend_config,omitempty"`
	Cipher        string         `json:"cipher"`
	IVMode        string         `json:"iv_mode,omitempty"`
	Features      []string       `json:"features,omitempty"`
	StartSector   uint64         `json:"start_sector,omitempty"`
	Sectors       uint64         `json:"sectors,omitempty"`
	IVOffset      uint64         `json:"iv_offset,omitempty"`
	PassphraseEnv string         `json:"passphrase_env,omitempty"`
	KeyFile       string         `json:"key_file,omitempty"`
	KDFTime       uint32         `json:"kdf_time,omitempty"`
	KDFMemoryKiB  uint32         `json:"kdf_memory_kib,omitempty"`
	KDFThreads    uint8          `json:"kdf_threads,omitempty"`
	Enabled       bool           `json:"enabled"`
	Attached      bool           `json:"attached"`
	AttachedSince *time.Time     `json:"attached_since,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// DeviceStatusResponse is the response body for GET /api/v1/devices/{name}/status.
// It combines the device status line with dispatch and queue counters.
type DeviceStatusResponse struct {
	Name          string      `json:"name"`
	Cipher        string      `json:"cipher"`
	IVMode        string      `json:"iv_mode"`
	Sectors       uint64      `json:"sectors"`
	SectorSize    int         `json:"sector_size"`
	FeatureArgs   []string    `json:"feature_args,omitempty"`
	StatusLine    string      `json:"status_line"`
	AttachedSince time.Time   `json:"attached_since"`
	Stats         DeviceStats `json:"stats"`
}

// DeviceStats mirrors the crypt device dispatch counters.
type DeviceStats struct {
	InlineRuns     uint64 `json:"inline_runs"`
	WorkerTasks    uint64 `json:"worker_tasks"`
	DeferredTasks  uint64 `json:"deferred_tasks"`
	QueuedTasks    int    `json:"queued_tasks"`
	QueuedWrites   int    `json:"queued_writes"`
	QueuedDeferred int    `json:"queued_deferred"`
}

// Create handles POST /api/v1/devices.
// Registers a new device AND attaches it immediately (admin only). If the
// device cannot be attached the registration is rolled back.
func (h *DeviceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateDeviceRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if req.Name == "" {
		BadRequest(w, "Device name is required")
		return
	}
	if req.Backend == "" {
		BadRequest(w, "Backend is required")
		return
	}
	if !models.ValidBackend(req.Backend) {
		BadRequest(w, "Unknown backend: "+req.Backend)
		return
	}
	if req.Cipher == "" {
		BadRequest(w, "Cipher is required")
		return
	}

	// Reject malformed feature arguments up front, before anything is
	// persisted.
	if _, _, err := crypt.ParseFeatures(req.Features); err != nil {
		BadRequest(w, "Invalid features: "+err.Error())
		return
	}

	now := time.Now()
	device := &models.Device{
		ID:            uuid.New().String(),
		Name:          req.Name,
		Backend:       req.Backend,
		Cipher:        req.Cipher,
		IVMode:        req.IVMode,
		StartSector:   req.StartSector,
		Sectors:       req.Sectors,
		IVOffset:      req.IVOffset,
		PassphraseEnv: req.PassphraseEnv,
		KeyFile:       req.KeyFile,
		KDFTime:       req.KDFTime,
		KDFMemoryKiB:  req.KDFMemoryKiB,
		KDFThreads:    req.KDFThreads,
		Enabled:       true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	device.SetFeatureArgs(req.Features)

	if req.BackendConfig != nil {
		if err := device.SetBackendConfig(req.BackendConfig); err != nil {
			BadRequest(w, "Invalid backend config")
			return
		}
	}

	if req.PassphraseEnv != "" {
		salt, err := kdf.NewSalt()
		if err != nil {
			InternalServerError(w, "Failed to generate KDF salt")
			return
		}
		device.SetKDFSalt(salt)
	}

	if err := device.Validate(); err != nil {
		BadRequest(w, err.Error())
		return
	}

	// CreateDevice persists the registration AND attaches the device.
	if err := h.manager.CreateDevice(r.Context(), device); err != nil {
		if errors.Is(err, models.ErrDuplicateDevice) {
			Conflict(w, "Device already exists")
			return
		}
		// The registration was rolled back; tell the caller why the device
		// could not be brought up.
		UnprocessableEntity(w, err.Error())
		return
	}

	WriteJSONCreated(w, h.deviceToResponse(device))
}

// List handles GET /api/v1/devices.
// Lists all device registrations with their attach state.
func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	devices, err := h.manager.Store().ListDevices(r.Context())
	if err != nil {
		InternalServerError(w, "Failed to list devices")
		return
	}

	response := make([]DeviceResponse, len(devices))
	for i, d := range devices {
		response[i] = h.deviceToResponse(d)
	}

	WriteJSONOK(w, response)
}

// Get handles GET /api/v1/devices/{name}.
// Gets a device registration by name.
func (h *DeviceHandler) Get(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		BadRequest(w, "Device name is required")
		return
	}

	device, err := h.manager.Store().GetDevice(r.Context(), name)
	if err != nil {
		if errors.Is(err, models.ErrDeviceNotFound) {
			NotFound(w, "Device not found")
			return
		}
		InternalServerError(w, "Failed to get device")
		return
	}

	WriteJSONOK(w, h.deviceToResponse(device))
}

// Delete handles DELETE /api/v1/devices/{name}.
// Detaches the running device AND removes the registration (admin only).
// Tag data is left in place so the name can be re-registered later.
func (h *DeviceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		BadRequest(w, "Device name is required")
		return
	}

	if err := h.manager.DeleteDevice(r.Context(), name); err != nil {
		if errors.Is(err, models.ErrDeviceNotFound) {
			NotFound(w, "Device not found")
			return
		}
		InternalServerError(w, "Failed to delete device")
		return
	}

	WriteNoContent(w)
}

// Enable handles POST /api/v1/devices/{name}/enable.
// Marks the device enabled and attaches it (admin only).
func (h *DeviceHandler) Enable(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		BadRequest(w, "Device name is required")
		return
	}

	if h.manager.IsAttached(name) {
		Conflict(w, "Device is already attached")
		return
	}

	if err := h.manager.EnableDevice(r.Context(), name); err != nil {
		if errors.Is(err, models.ErrDeviceNotFound) {
			NotFound(w, "Device not found")
			return
		}
		UnprocessableEntity(w, err.Error())
		return
	}

	device, err := h.manager.Store().GetDevice(r.Context(), name)
	if err != nil {
		InternalServerError(w, "Failed to get device")
		return
	}

	WriteJSONOK(w, h.deviceToResponse(device))
}

// Disable handles POST /api/v1/devices/{name}/disable.
// Detaches the device and marks it disabled; the registration stays (admin only).
func (h *DeviceHandler) Disable(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		BadRequest(w, "Device name is required")
		return
	}

	if err := h.manager.DisableDevice(r.Context(), name); err != nil {
		if errors.Is(err, models.ErrDeviceNotFound) {
			NotFound(w, "Device not found")
			return
		}
		InternalServerError(w, "Failed to disable device")
		return
	}

	device, err := h.manager.Store().GetDevice(r.Context(), name)
	if err != nil {
		InternalServerError(w, "Failed to get device")
		return
	}

	WriteJSONOK(w, h.deviceToResponse(device))
}

// Status handles GET /api/v1/devices/{name}/status.
// Reports geometry and dispatch counters for an attached device.
func (h *DeviceHandler) Status(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		BadRequest(w, "Device name is required")
		return
	}

	status, err := h.manager.Status(name)
	if err != nil {
		// Distinguish a registration that exists but is not attached from a
		// name that is not registered at all.
		if _, serr := h.manager.Store().GetDevice(r.Context(), name); serr == nil {
			Conflict(w, "Device is not attached")
			return
		}
		NotFound(w, "Device not found")
		return
	}

	stats, err := h.manager.Stats(name)
	if err != nil {
		InternalServerError(w, "Failed to read device stats")
		return
	}

	since, err := h.manager.AttachedSince(name)
	if err != nil {
		InternalServerError(w, "Failed to read device attach time")
		return
	}

	WriteJSONOK(w, DeviceStatusResponse{
		Name:          status.Name,
		Cipher:        status.Cipher,
		IVMode:        status.IVMode,
		Sectors:       status.Sectors,
		SectorSize:    status.SectorSize,
		FeatureArgs:   status.FeatureArgs,
		StatusLine:    status.String(),
		AttachedSince: since,
		Stats: DeviceStats{
			InlineRuns:     stats.InlineRuns,
			WorkerTasks:    stats.WorkerTasks,
			DeferredTasks:  stats.DeferredTasks,
			QueuedTasks:    stats.QueuedTasks,
			QueuedWrites:   stats.QueuedWrites,
			QueuedDeferred: stats.QueuedDeferred,
		},
	})
}

// deviceToResponse converts a models.Device to DeviceResponse, annotated with
// the live attach state.
func (h *DeviceHandler) deviceToResponse(d *models.Device) DeviceResponse {
	config, _ := d.GetBackendConfig()

	resp := DeviceResponse{
		ID:            d.ID,
		Name:          d.Name,
		Backend:       d.Backend,
		BackendConfig: config,
		Cipher:        d.Cipher,
		IVMode:        d.IVMode,
		Features:      d.FeatureArgs(),
		StartSector:   d.StartSector,
		Sectors:       d.Sectors,
		IVOffset:      d.IVOffset,
		PassphraseEnv: d.PassphraseEnv,
		KeyFile:       d.KeyFile,
		KDFTime:       d.KDFTime,
		KDFMemoryKiB:  d.KDFMemoryKiB,
		KDFThreads:    d.KDFThreads,
		Enabled:       d.Enabled,
		Attached:      h.manager.IsAttached(d.Name),
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}

	if since, err := h.manager.AttachedSince(d.Name); err == nil {
		resp.AttachedSince = &since
	}

	return resp
}
