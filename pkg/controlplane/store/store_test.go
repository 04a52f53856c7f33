//go:build integration

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cryptblk/cryptblk/pkg/controlplane/models"
	"github.com/cryptblk/cryptblk/pkg/identity"
)

// createTestStore creates an in-memory SQLite store for testing.
func createTestStore(t *testing.T) *GORMStore {
	t.Helper()
	store, err := New(&Config{
		Type: DatabaseTypeSQLite,
		SQLite: SQLiteConfig{
			Path: ":memory:",
		},
	})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	return store
}

// testDevice returns a device registration that passes validation.
func testDevice(name string) *models.Device {
	d := &models.Device{
		Name:          name,
		Backend:       models.BackendFile,
		Cipher:        "aes-xts",
		IVMode:        "plain64",
		PassphraseEnv: "CRYPTBLK_TEST_PASSPHRASE",
	}
	d.SetKDFSalt([]byte("0123456789abcdef"))
	return d
}

func TestNew(t *testing.T) {
	t.Run("default config uses sqlite", func(t *testing.T) {
		config := &Config{}
		config.ApplyDefaults()

		if config.Type != DatabaseTypeSQLite {
			t.Errorf("expected SQLite, got %s", config.Type)
		}
	})

	t.Run("invalid config returns error", func(t *testing.T) {
		config := &Config{
			Type: "invalid",
		}
		_, err := New(config)
		if err == nil {
			t.Error("expected error for invalid config")
		}
	})

	t.Run("creates in-memory store", func(t *testing.T) {
		store := createTestStore(t)
		defer store.Close()

		if store == nil {
			t.Error("expected non-nil store")
		}
	})
}

func TestUserOperations(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()
	ctx := context.Background()

	t.Run("create user", func(t *testing.T) {
		user := &models.User{
			Username:     "testuser",
			PasswordHash: "hashed-password",
			Role:         "user",
		}

		id, err := store.CreateUser(ctx, user)
		if err != nil {
			t.Fatalf("failed to create user: %v", err)
		}
		if id == "" {
			t.Error("expected non-empty user ID")
		}
	})

	t.Run("duplicate user fails", func(t *testing.T) {
		user := &models.User{
			Username:     "testuser",
			PasswordHash: "hashed-password",
		}

		_, err := store.CreateUser(ctx, user)
		if !errors.Is(err, models.ErrDuplicateUser) {
			t.Errorf("expected ErrDuplicateUser, got %v", err)
		}
	})

	t.Run("invalid username rejected", func(t *testing.T) {
		user := &models.User{
			Username:     "Not A Valid Name",
			PasswordHash: "hash",
		}

		_, err := store.CreateUser(ctx, user)
		if err == nil {
			t.Error("expected validation error")
		}
	})

	t.Run("get user", func(t *testing.T) {
		user, err := store.GetUser(ctx, "testuser")
		if err != nil {
			t.Fatalf("failed to get user: %v", err)
		}
		if user.Username != "testuser" {
			t.Errorf("expected username 'testuser', got %q", user.Username)
		}
	})

	t.Run("get user not found", func(t *testing.T) {
		_, err := store.GetUser(ctx, "nonexistent")
		if !errors.Is(err, models.ErrUserNotFound) {
			t.Errorf("expected ErrUserNotFound, got %v", err)
		}
	})

	t.Run("update user", func(t *testing.T) {
		user, _ := store.GetUser(ctx, "testuser")
		user.Role = "admin"

		err := store.UpdateUser(ctx, user)
		if err != nil {
			t.Fatalf("failed to update user: %v", err)
		}

		updated, _ := store.GetUser(ctx, "testuser")
		if updated.Role != "admin" {
			t.Errorf("expected role 'admin', got %q", updated.Role)
		}
	})

	t.Run("list users", func(t *testing.T) {
		users, err := store.ListUsers(ctx)
		if err != nil {
			t.Fatalf("failed to list users: %v", err)
		}
		if len(users) < 1 {
			t.Error("expected at least 1 user")
		}
	})

	t.Run("update password", func(t *testing.T) {
		err := store.UpdatePassword(ctx, "testuser", "new-hash")
		if err != nil {
			t.Fatalf("failed to update password: %v", err)
		}

		user, _ := store.GetUser(ctx, "testuser")
		if user.PasswordHash != "new-hash" {
			t.Error("password hash was not updated")
		}
		if user.MustChangePassword {
			t.Error("must-change flag should clear on password update")
		}
	})

	t.Run("update last login", func(t *testing.T) {
		now := time.Now()
		err := store.UpdateLastLogin(ctx, "testuser", now)
		if err != nil {
			t.Fatalf("failed to update last login: %v", err)
		}

		user, _ := store.GetUser(ctx, "testuser")
		if user.LastLogin == nil {
			t.Error("last login was not updated")
		}
	})

	t.Run("delete user", func(t *testing.T) {
		deleteUser := &models.User{
			Username:     "todelete",
			PasswordHash: "hash",
		}
		store.CreateUser(ctx, deleteUser)

		err := store.DeleteUser(ctx, "todelete")
		if err != nil {
			t.Fatalf("failed to delete user: %v", err)
		}

		_, err = store.GetUser(ctx, "todelete")
		if !errors.Is(err, models.ErrUserNotFound) {
			t.Error("user should not exist after deletion")
		}
	})

	t.Run("delete nonexistent user fails", func(t *testing.T) {
		err := store.DeleteUser(ctx, "nonexistent")
		if !errors.Is(err, models.ErrUserNotFound) {
			t.Errorf("expected ErrUserNotFound, got %v", err)
		}
	})
}

func TestValidateCredentials(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()
	ctx := context.Background()

	hash, _ := identity.HashPassword("password123")
	user := &models.User{
		Username:     "authuser",
		PasswordHash: hash,
		Enabled:      true,
	}
	store.CreateUser(ctx, user)

	t.Run("valid credentials", func(t *testing.T) {
		validated, err := store.ValidateCredentials(ctx, "authuser", "password123")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if validated.Username != "authuser" {
			t.Errorf("expected username 'authuser', got %q", validated.Username)
		}
	})

	t.Run("invalid password", func(t *testing.T) {
		_, err := store.ValidateCredentials(ctx, "authuser", "wrongpassword")
		if !errors.Is(err, identity.ErrInvalidCredentials) {
			t.Errorf("expected ErrInvalidCredentials, got %v", err)
		}
	})

	t.Run("nonexistent user returns invalid credentials", func(t *testing.T) {
		// Security: returns ErrInvalidCredentials (not ErrUserNotFound) to prevent user enumeration
		_, err := store.ValidateCredentials(ctx, "nonexistent", "password")
		if !errors.Is(err, identity.ErrInvalidCredentials) {
			t.Errorf("expected ErrInvalidCredentials, got %v", err)
		}
	})

	t.Run("disabled user", func(t *testing.T) {
		user, _ := store.GetUser(ctx, "authuser")
		user.Enabled = false
		store.UpdateUser(ctx, user)

		_, err := store.ValidateCredentials(ctx, "authuser", "password123")
		if !errors.Is(err, models.ErrUserDisabled) {
			t.Errorf("expected ErrUserDisabled, got %v", err)
		}
	})
}

func TestDeviceOperations(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()
	ctx := context.Background()

	t.Run("create device", func(t *testing.T) {
		device := testDevice("vault0")
		device.SetFeatureArgs([]string{"allow_discards", "sector_size:4096"})
		if err := device.SetBackendConfig(map[string]any{"path": "/var/lib/cryptblk/vault0.img"}); err != nil {
			t.Fatalf("failed to set backend config: %v", err)
		}

		id, err := store.CreateDevice(ctx, device)
		if err != nil {
			t.Fatalf("failed to create device: %v", err)
		}
		if id == "" {
			t.Error("expected non-empty device ID")
		}
	})

	t.Run("duplicate device fails", func(t *testing.T) {
		_, err := store.CreateDevice(ctx, testDevice("vault0"))
		if !errors.Is(err, models.ErrDuplicateDevice) {
			t.Errorf("expected ErrDuplicateDevice, got %v", err)
		}
	})

	t.Run("invalid device rejected", func(t *testing.T) {
		device := testDevice("badvault")
		device.Cipher = ""

		_, err := store.CreateDevice(ctx, device)
		if err == nil {
			t.Error("expected validation error")
		}
	})

	t.Run("get device", func(t *testing.T) {
		device, err := store.GetDevice(ctx, "vault0")
		if err != nil {
			t.Fatalf("failed to get device: %v", err)
		}
		if device.Name != "vault0" {
			t.Errorf("expected name 'vault0', got %q", device.Name)
		}
		if device.Cipher != "aes-xts" {
			t.Errorf("expected cipher 'aes-xts', got %q", device.Cipher)
		}

		args := device.FeatureArgs()
		if len(args) != 2 || args[0] != "allow_discards" {
			t.Errorf("unexpected feature args: %v", args)
		}

		cfg, err := device.GetBackendConfig()
		if err != nil {
			t.Fatalf("failed to parse backend config: %v", err)
		}
		if cfg["path"] != "/var/lib/cryptblk/vault0.img" {
			t.Errorf("unexpected backend config: %v", cfg)
		}
	})

	t.Run("get device not found", func(t *testing.T) {
		_, err := store.GetDevice(ctx, "nonexistent")
		if !errors.Is(err, models.ErrDeviceNotFound) {
			t.Errorf("expected ErrDeviceNotFound, got %v", err)
		}
	})

	t.Run("update device", func(t *testing.T) {
		device, _ := store.GetDevice(ctx, "vault0")
		device.Enabled = false
		device.Sectors = 4096

		err := store.UpdateDevice(ctx, device)
		if err != nil {
			t.Fatalf("failed to update device: %v", err)
		}

		updated, _ := store.GetDevice(ctx, "vault0")
		if updated.Enabled {
			t.Error("expected device to be disabled")
		}
		if updated.Sectors != 4096 {
			t.Errorf("expected 4096 sectors, got %d", updated.Sectors)
		}
	})

	t.Run("list devices", func(t *testing.T) {
		store.CreateDevice(ctx, testDevice("vault1"))

		devices, err := store.ListDevices(ctx)
		if err != nil {
			t.Fatalf("failed to list devices: %v", err)
		}
		if len(devices) != 2 {
			t.Errorf("expected 2 devices, got %d", len(devices))
		}
		if devices[0].Name != "vault0" || devices[1].Name != "vault1" {
			t.Errorf("devices not ordered by name: %s, %s", devices[0].Name, devices[1].Name)
		}
	})

	t.Run("delete device", func(t *testing.T) {
		err := store.DeleteDevice(ctx, "vault1")
		if err != nil {
			t.Fatalf("failed to delete device: %v", err)
		}

		_, err = store.GetDevice(ctx, "vault1")
		if !errors.Is(err, models.ErrDeviceNotFound) {
			t.Error("device should not exist after deletion")
		}
	})

	t.Run("delete nonexistent device fails", func(t *testing.T) {
		err := store.DeleteDevice(ctx, "nonexistent")
		if !errors.Is(err, models.ErrDeviceNotFound) {
			t.Errorf("expected ErrDeviceNotFound, got %v", err)
		}
	})
}

func TestEnsureAdminUser(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()
	ctx := context.Background()

	t.Run("creates admin if not exists", func(t *testing.T) {
		password, err := store.EnsureAdminUser(ctx)
		if err != nil {
			t.Fatalf("failed to ensure admin user: %v", err)
		}
		if password == "" {
			t.Error("expected non-empty initial password")
		}

		user, err := store.GetUser(ctx, identity.AdminUsername)
		if err != nil {
			t.Fatalf("admin user should exist: %v", err)
		}
		if user.Role != string(identity.RoleAdmin) {
			t.Errorf("expected admin role, got %q", user.Role)
		}
		if !user.MustChangePassword {
			t.Error("generated password should force a change on first login")
		}
	})

	t.Run("second call returns empty password", func(t *testing.T) {
		password, err := store.EnsureAdminUser(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if password != "" {
			t.Error("expected empty password on second call")
		}
	})

	t.Run("is admin initialized", func(t *testing.T) {
		initialized, err := store.IsAdminInitialized(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !initialized {
			t.Error("admin should be initialized")
		}
	})
}

func TestEnsureAdminUserFromEnv(t *testing.T) {
	t.Setenv(identity.EnvAdminInitialPassword, "operator-chosen-pw")

	store := createTestStore(t)
	defer store.Close()
	ctx := context.Background()

	password, err := store.EnsureAdminUser(ctx)
	if err != nil {
		t.Fatalf("failed to ensure admin user: %v", err)
	}
	if password != "operator-chosen-pw" {
		t.Errorf("expected password from environment, got %q", password)
	}

	user, err := store.GetUser(ctx, identity.AdminUsername)
	if err != nil {
		t.Fatalf("admin user should exist: %v", err)
	}
	if user.MustChangePassword {
		t.Error("env-provided password should not force a change")
	}

	if _, err := store.ValidateCredentials(ctx, identity.AdminUsername, "operator-chosen-pw"); err != nil {
		t.Errorf("admin credentials should validate: %v", err)
	}
}

func TestHealthcheck(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()
	ctx := context.Background()

	err := store.Healthcheck(ctx)
	if err != nil {
		t.Errorf("healthcheck should pass: %v", err)
	}
}
