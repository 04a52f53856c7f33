package apiclient

import (
	"time"
)

// Device represents a registered device.
type Device struct {
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

// CreateDeviceRequest is the request to register and attach a device.
// Exactly one of PassphraseEnv and KeyFile must be set.
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

// DeviceStats holds the dispatch counters of an attached device.
type DeviceStats struct {
	InlineRuns     uint64 `json:"inline_runs"`
	WorkerTasks    uint64 `json:"worker_tasks"`
	DeferredTasks  uint64 `json:"deferred_tasks"`
	QueuedTasks    int    `json:"queued_tasks"`
	QueuedWrites   int    `json:"queued_writes"`
	QueuedDeferred int    `json:"queued_deferred"`
}

// DeviceStatus is the live status of an attached device.
type DeviceStatus struct {
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

// ListDevices returns all registered devices.
func (c *Client) ListDevices() ([]Device, error) {
	return listResources[Device](c, "/api/v1/devices")
}

// GetDevice returns a device by name.
func (c *Client) GetDevice(name string) (*Device, error) {
	return getResource[Device](c, resourcePath("/api/v1/devices/%s", name))
}

// CreateDevice registers a new device and attaches it.
func (c *Client) CreateDevice(req *CreateDeviceRequest) (*Device, error) {
	return createResource[Device](c, "/api/v1/devices", req)
}

// DeleteDevice drains, detaches and unregisters a device.
func (c *Client) DeleteDevice(name string) error {
	return deleteResource(c, resourcePath("/api/v1/devices/%s", name))
}

// EnableDevice enables a device and attaches it if it is not running.
func (c *Client) EnableDevice(name string) (*Device, error) {
	return createResource[Device](c, resourcePath("/api/v1/devices/%s/enable", name), nil)
}

// DisableDevice disables a device and detaches it if it is running.
func (c *Client) DisableDevice(name string) (*Device, error) {
	return createResource[Device](c, resourcePath("/api/v1/devices/%s/disable", name), nil)
}

// GetDeviceStatus returns the live status line and dispatch counters of an
// attached device.
func (c *Client) GetDeviceStatus(name string) (*DeviceStatus, error) {
	return getResource[DeviceStatus](c, resourcePath("/api/v1/devices/%s/status", name))
}
