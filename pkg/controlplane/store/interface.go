package store

import (
	"context"
	"time"

	"github.com/cryptblk/cryptblk/pkg/controlplane/models"
)

// Store provides the control plane persistence interface.
//
// Thread Safety: Implementations must be safe for concurrent use from multiple
// goroutines.
//
// The Store interface supports both SQLite (single-node) and PostgreSQL (HA)
// backends.
type Store interface {
	// ============================================
	// USER OPERATIONS
	// ============================================

	// GetUser returns a user by username.
	// Returns models.ErrUserNotFound if the user doesn't exist.
	GetUser(ctx context.Context, username string) (*models.User, error)

	// GetUserByID returns a user by their unique ID (UUID).
	// Returns models.ErrUserNotFound if no user has this ID.
	GetUserByID(ctx context.Context, id string) (*models.User, error)

	// ListUsers returns all users ordered by username.
	ListUsers(ctx context.Context) ([]*models.User, error)

	// CreateUser creates a new user.
	// The user ID will be generated if empty.
	// Returns the generated ID.
	// Returns models.ErrDuplicateUser if a user with the same username exists.
	CreateUser(ctx context.Context, user *models.User) (string, error)

	// UpdateUser updates an existing user's profile fields.
	// The password hash is not touched; use UpdatePassword for that.
	// Returns models.ErrUserNotFound if the user doesn't exist.
	UpdateUser(ctx context.Context, user *models.User) error

	// DeleteUser deletes a user by username.
	// Returns models.ErrUserNotFound if the user doesn't exist.
	DeleteUser(ctx context.Context, username string) error

	// UpdatePassword updates a user's password hash and clears the
	// must-change-password flag.
	// Returns models.ErrUserNotFound if the user doesn't exist.
	UpdatePassword(ctx context.Context, username, passwordHash string) error

	// UpdateLastLogin updates the user's last login timestamp.
	// Returns models.ErrUserNotFound if the user doesn't exist.
	UpdateLastLogin(ctx context.Context, username string, timestamp time.Time) error

	// ValidateCredentials verifies username/password credentials.
	// Returns the user if credentials are valid.
	// Returns identity.ErrInvalidCredentials if the credentials are invalid.
	// Returns models.ErrUserDisabled if the user account is disabled.
	ValidateCredentials(ctx context.Context, username, password string) (*models.User, error)

	// ============================================
	// DEVICE OPERATIONS
	// ============================================

	// GetDevice returns a device registration by name.
	// Returns models.ErrDeviceNotFound if the device doesn't exist.
	GetDevice(ctx context.Context, name string) (*models.Device, error)

	// GetDeviceByID returns a device registration by its unique ID.
	// Returns models.ErrDeviceNotFound if no device has this ID.
	GetDeviceByID(ctx context.Context, id string) (*models.Device, error)

	// ListDevices returns all device registrations ordered by name.
	ListDevices(ctx context.Context) ([]*models.Device, error)

	// CreateDevice creates a new device registration.
	// The ID will be generated if empty.
	// Returns the generated ID.
	// Returns models.ErrDuplicateDevice if a device with the same name exists.
	CreateDevice(ctx context.Context, device *models.Device) (string, error)

	// UpdateDevice updates an existing device registration.
	// Returns models.ErrDeviceNotFound if the device doesn't exist.
	UpdateDevice(ctx context.Context, device *models.Device) error

	// DeleteDevice deletes a device registration by name.
	// Returns models.ErrDeviceNotFound if the device doesn't exist.
	// The caller is responsible for detaching a running device first.
	DeleteDevice(ctx context.Context, name string) error

	// ============================================
	// ADMIN INITIALIZATION
	// ============================================

	// EnsureAdminUser ensures an admin user exists.
	// If no admin user exists, creates one with a generated password.
	// Returns the initial password if a new admin was created, empty string otherwise.
	// This should be called during server startup.
	EnsureAdminUser(ctx context.Context) (initialPassword string, err error)

	// IsAdminInitialized returns whether the admin user has been initialized.
	IsAdminInitialized(ctx context.Context) (bool, error)

	// ============================================
	// HEALTH & LIFECYCLE
	// ============================================

	// Healthcheck verifies the store is operational.
	// Returns an error if the store is not healthy.
	Healthcheck(ctx context.Context) error

	// Close closes the store and releases resources.
	Close() error
}

// UserStore is the subset of Store the authentication and user management
// handlers need.
type UserStore interface {
	GetUser(ctx context.Context, username string) (*models.User, error)
	ListUsers(ctx context.Context) ([]*models.User, error)
	CreateUser(ctx context.Context, user *models.User) (string, error)
	UpdateUser(ctx context.Context, user *models.User) error
	DeleteUser(ctx context.Context, username string) error
	UpdatePassword(ctx context.Context, username, passwordHash string) error
	UpdateLastLogin(ctx context.Context, username string, timestamp time.Time) error
	ValidateCredentials(ctx context.Context, username, password string) (*models.User, error)
}

// DeviceStore is the subset of Store the runtime device manager needs. It is
// split out so the manager can be tested against a small fake instead of a
// full database.
type DeviceStore interface {
	GetDevice(ctx context.Context, name string) (*models.Device, error)
	ListDevices(ctx context.Context) ([]*models.Device, error)
	CreateDevice(ctx context.Context, device *models.Device) (string, error)
	UpdateDevice(ctx context.Context, device *models.Device) error
	DeleteDevice(ctx context.Context, name string) error
}
