// Package runtime manages the live side of the control plane: the encrypted
// devices that are currently attached. It keeps the in-memory device set in
// sync with the persistent registry, builds the backend, key and tag store
// for each device at attach time, and drains everything on shutdown.
package runtime

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/cryptblk/cryptblk/internal/logger"
	"github.com/cryptblk/cryptblk/pkg/blockdev"
	"github.com/cryptblk/cryptblk/pkg/controlplane/models"
	"github.com/cryptblk/cryptblk/pkg/controlplane/store"
	"github.com/cryptblk/cryptblk/pkg/crypt"
	"github.com/cryptblk/cryptblk/pkg/metrics"
	badgertags "github.com/cryptblk/cryptblk/pkg/tagstore/badger"
	pgtags "github.com/cryptblk/cryptblk/pkg/tagstore/postgres"
)

// DefaultShutdownTimeout is the default timeout for draining a device on
// detach and for full-manager shutdown.
const DefaultShutdownTimeout = 30 * time.Second

// TagStoreConfig selects the integrity tag store backing AEAD devices. The
// namespace and tag size are filled in per device at attach time. This is a
// minimal config struct to avoid import cycles with pkg/config.
type TagStoreConfig struct {
	// Type is one of "memory", "badger" or "postgres". Empty means memory.
	Type string

	// Badger holds the shared Badger settings. Each device opens its own
	// database under a subdirectory of Path, since Badger locks its
	// directory exclusively.
	Badger badgertags.Config

	// Postgres holds the shared connection settings. Devices share the
	// tags table, keyed by device name.
	Postgres pgtags.Config
}

// Tag store type names accepted in TagStoreConfig.Type.
const (
	TagStoreMemory   = "memory"
	TagStorePostgres = "postgres"
	TagStoreBadger   = "badger"
)

// attachedDevice holds the live state of one attached device.
type attachedDevice struct {
	model *models.Device
	dev   *crypt.Device
	under blockdev.Device
	tags  crypt.TagStore
	since time.Time
}

// close tears the stack down in dependency order: the crypt device drains
// its executors first, then tags are flushed and released, then the backend
// closes.
func (a *attachedDevice) close() error {
	var firstErr error
	if err := a.dev.Close(); err != nil {
		firstErr = fmt.Errorf("crypt device: %w", err)
	}
	if a.tags != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := a.tags.Flush(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("tag store flush: %w", err)
		}
		cancel()
		if c, ok := a.tags.(io.Closer); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("tag store: %w", err)
			}
		}
	}
	if err := a.under.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("backend: %w", err)
	}
	return firstErr
}

// Manager tracks attached devices and keeps them in sync with the
// persistent registry. All methods are safe for concurrent use.
type Manager struct {
	mu      sync.RWMutex
	devices map[string]*attachedDevice

	store store.DeviceStore

	tagCfg          TagStoreConfig
	workers         int
	metrics         metrics.CryptMetrics
	shutdownTimeout time.Duration
}

// New creates a device manager backed by the given registry. The store may
// be nil in tests that attach devices directly.
func New(s store.DeviceStore) *Manager {
	return &Manager{
		devices:         make(map[string]*attachedDevice),
		store:           s,
		shutdownTimeout: DefaultShutdownTimeout,
	}
}

// SetTagStoreConfig selects the tag store used by devices with integrity
// tags. Must be called before such a device attaches.
func (m *Manager) SetTagStoreConfig(cfg TagStoreConfig) {
	m.tagCfg = cfg
}

// SetWorkers sizes the cipher pool and executor lanes of devices attached
// afterwards. Non-positive means GOMAXPROCS.
func (m *Manager) SetWorkers(n int) {
	m.workers = n
}

// SetMetrics installs the metrics sink handed to devices attached
// afterwards. Nil disables collection.
func (m *Manager) SetMetrics(mt metrics.CryptMetrics) {
	m.metrics = mt
}

// SetShutdownTimeout sets the maximum time to wait for a device to drain on
// detach.
func (m *Manager) SetShutdownTimeout(d time.Duration) {
	if d == 0 {
		d = DefaultShutdownTimeout
	}
	m.shutdownTimeout = d
}

// ============================================================================
// Store-synchronized operations
// ============================================================================

// CreateDevice saves the device registration to the store AND attaches it
// immediately. This is the method API handlers should call - it ensures
// both persistent and in-memory state are updated together.
func (m *Manager) CreateDevice(ctx context.Context, model *models.Device) error {
	if m.store == nil {
		return fmt.Errorf("device registry not configured")
	}

	if _, err := m.store.CreateDevice(ctx, model); err != nil {
		return err
	}

	if err := m.Attach(ctx, model); err != nil {
		// Rollback: delete from store
		_ = m.store.DeleteDevice(ctx, model.Name)
		return fmt.Errorf("failed to attach device: %w", err)
	}

	return nil
}

// DeleteDevice detaches the running device (draining in-flight I/O) AND
// removes it from the store. Tag data is left in place; re-creating the
// device under the same name finds it again.
func (m *Manager) DeleteDevice(ctx context.Context, name string) error {
	if m.store == nil {
		return fmt.Errorf("device registry not configured")
	}

	if err := m.Detach(name); err != nil {
		logger.Warn("Device detach failed during delete",
			logger.KeyDevice, name, logger.KeyError, err)
		// Continue with deletion even if detach fails
	}

	return m.store.DeleteDevice(ctx, name)
}

// EnableDevice marks the device enabled in the store and attaches it.
func (m *Manager) EnableDevice(ctx context.Context, name string) error {
	if m.store == nil {
		return fmt.Errorf("device registry not configured")
	}

	model, err := m.store.GetDevice(ctx, name)
	if err != nil {
		return err
	}

	model.Enabled = true
	if err := m.store.UpdateDevice(ctx, model); err != nil {
		return fmt.Errorf("failed to enable device: %w", err)
	}

	if err := m.Attach(ctx, model); err != nil {
		return fmt.Errorf("failed to attach device: %w", err)
	}

	return nil
}

// DisableDevice detaches the device and marks it disabled in the store. The
// registration is kept so the device can be enabled again later.
func (m *Manager) DisableDevice(ctx context.Context, name string) error {
	if m.store == nil {
		return fmt.Errorf("device registry not configured")
	}

	model, err := m.store.GetDevice(ctx, name)
	if err != nil {
		return err
	}

	if err := m.Detach(name); err != nil {
		logger.Warn("Device detach failed during disable",
			logger.KeyDevice, name, logger.KeyError, err)
	}

	model.Enabled = false
	if err := m.store.UpdateDevice(ctx, model); err != nil {
		return fmt.Errorf("failed to disable device: %w", err)
	}

	return nil
}

// LoadDevicesFromStore attaches every enabled device in the registry. This
// is called during server startup. A device that fails to attach is logged
// and skipped so one bad registration (a missing passphrase variable, an
// unreachable bucket) does not keep the control plane from starting.
func (m *Manager) LoadDevicesFromStore(ctx context.Context) error {
	if m.store == nil {
		return nil
	}

	registered, err := m.store.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}

	for _, model := range registered {
		if !model.Enabled {
			logger.Info("Device disabled, skipping", logger.KeyDevice, model.Name)
			continue
		}

		if err := m.Attach(ctx, model); err != nil {
			logger.Warn("Failed to attach device",
				logger.KeyDevice, model.Name, logger.KeyError, err)
			continue
		}
	}

	return nil
}

// ============================================================================
// Attach / detach
// ============================================================================

// Attach opens the device described by the registration and adds it to the
// running set. This bypasses the store; callers that want persistence use
// CreateDevice instead.
func (m *Manager) Attach(ctx context.Context, model *models.Device) error {
	if model.Name == "" {
		return fmt.Errorf("cannot attach device with empty name")
	}

	m.mu.RLock()
	_, exists := m.devices[model.Name]
	m.mu.RUnlock()
	if exists {
		return fmt.Errorf("device %q already attached", model.Name)
	}

	ad, err := m.open(ctx, model)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if _, exists := m.devices[model.Name]; exists {
		m.mu.Unlock()
		if cerr := ad.close(); cerr != nil {
			logger.Warn("Failed to close duplicate device",
				logger.KeyDevice, model.Name, logger.KeyError, cerr)
		}
		return fmt.Errorf("device %q already attached", model.Name)
	}
	m.devices[model.Name] = ad
	m.mu.Unlock()

	logger.Info("Device attached",
		logger.KeyDevice, model.Name,
		logger.KeyBackend, model.Backend,
		logger.KeyCipher, model.Cipher)
	return nil
}

// Detach removes the device from the running set, drains in-flight I/O and
// releases the backend and tag store.
func (m *Manager) Detach(name string) error {
	m.mu.Lock()
	ad, exists := m.devices[name]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("device %q not attached", name)
	}
	delete(m.devices, name)
	m.mu.Unlock()

	logger.Info("Detaching device", logger.KeyDevice, name)

	if err := ad.close(); err != nil {
		return fmt.Errorf("device %q: %w", name, err)
	}

	logger.Info("Device detached", logger.KeyDevice, name)
	return nil
}

// DetachAll detaches every attached device (for shutdown).
func (m *Manager) DetachAll() error {
	m.mu.RLock()
	names := make([]string, 0, len(m.devices))
	for name := range m.devices {
		names = append(names, name)
	}
	m.mu.RUnlock()

	var lastErr error
	for _, name := range names {
		if err := m.Detach(name); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// ============================================================================
// Introspection
// ============================================================================

// IsAttached reports whether the named device is currently attached.
func (m *Manager) IsAttached(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, exists := m.devices[name]
	return exists
}

// ListAttached returns the names of all attached devices, sorted.
func (m *Manager) ListAttached() []string {
	m.mu.RLock()
	names := make([]string, 0, len(m.devices))
	for name := range m.devices {
		names = append(names, name)
	}
	m.mu.RUnlock()

	sort.Strings(names)
	return names
}

// CountAttached returns the number of attached devices.
func (m *Manager) CountAttached() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.devices)
}

// Device returns the live encrypted device for direct I/O.
func (m *Manager) Device(name string) (*crypt.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ad, exists := m.devices[name]
	if !exists {
		return nil, fmt.Errorf("device %q not attached", name)
	}
	return ad.dev, nil
}

// Status reports the active configuration of an attached device in the
// stable order consumers parse.
func (m *Manager) Status(name string) (crypt.DeviceStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ad, exists := m.devices[name]
	if !exists {
		return crypt.DeviceStatus{}, fmt.Errorf("device %q not attached", name)
	}
	return ad.dev.Status(), nil
}

// Stats snapshots the dispatch counters of an attached device.
func (m *Manager) Stats(name string) (crypt.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ad, exists := m.devices[name]
	if !exists {
		return crypt.Stats{}, fmt.Errorf("device %q not attached", name)
	}
	return ad.dev.Stats(), nil
}

// AttachedSince returns when the named device was attached.
func (m *Manager) AttachedSince(name string) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ad, exists := m.devices[name]
	if !exists {
		return time.Time{}, fmt.Errorf("device %q not attached", name)
	}
	return ad.since, nil
}

// Store returns the persistent device registry.
func (m *Manager) Store() store.DeviceStore {
	return m.store
}
