package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cryptblk/cryptblk/pkg/controlplane/models"
	"github.com/cryptblk/cryptblk/pkg/identity"
)

// ============================================
// USER OPERATIONS
// ============================================

func (s *GORMStore) GetUser(ctx context.Context, username string) (*models.User, error) {
	return getByField[models.User](s.db, ctx, "username", username, models.ErrUserNotFound)
}

func (s *GORMStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return getByField[models.User](s.db, ctx, "id", id, models.ErrUserNotFound)
}

func (s *GORMStore) ListUsers(ctx context.Context) ([]*models.User, error) {
	return listAll[models.User](s.db, ctx, "username")
}

func (s *GORMStore) CreateUser(ctx context.Context, user *models.User) (string, error) {
	if err := user.Validate(); err != nil {
		return "", err
	}
	user.CreatedAt = time.Now()
	return createWithID(s.db, ctx, user, func(u *models.User, id string) { u.ID = id }, user.ID, models.ErrDuplicateUser)
}

func (s *GORMStore) UpdateUser(ctx context.Context, user *models.User) error {
	var existing models.User
	if err := s.db.WithContext(ctx).Where("id = ?", user.ID).First(&existing).Error; err != nil {
		return convertNotFoundError(err, models.ErrUserNotFound)
	}

	return s.db.WithContext(ctx).
		Model(&existing).
		Select("Username", "Enabled", "MustChangePassword", "Role").
		Updates(user).Error
}

func (s *GORMStore) DeleteUser(ctx context.Context, username string) error {
	return deleteByField[models.User](s.db, ctx, "username", username, models.ErrUserNotFound)
}

func (s *GORMStore) UpdatePassword(ctx context.Context, username, passwordHash string) error {
	result := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("username = ?", username).
		Updates(map[string]any{
			"password_hash":        passwordHash,
			"must_change_password": false,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrUserNotFound
	}
	return nil
}

func (s *GORMStore) UpdateLastLogin(ctx context.Context, username string, timestamp time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("username = ?", username).
		Update("last_login", timestamp)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrUserNotFound
	}
	return nil
}

func (s *GORMStore) ValidateCredentials(ctx context.Context, username, password string) (*models.User, error) {
	user, err := s.GetUser(ctx, username)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return nil, identity.ErrInvalidCredentials
		}
		return nil, err
	}

	if !user.Enabled {
		return nil, models.ErrUserDisabled
	}

	if !identity.VerifyPassword(password, user.PasswordHash) {
		return nil, identity.ErrInvalidCredentials
	}

	return user, nil
}

// ============================================
// ADMIN INITIALIZATION
// ============================================

func (s *GORMStore) EnsureAdminUser(ctx context.Context) (string, error) {
	// Check if admin exists
	_, err := s.GetUser(ctx, identity.AdminUsername)
	if err == nil {
		return "", nil // Admin already exists
	}
	if !errors.Is(err, models.ErrUserNotFound) {
		return "", err
	}

	// Check if password was explicitly set via environment variable
	passwordFromEnv := os.Getenv(identity.EnvAdminInitialPassword) != ""

	password, err := identity.GetOrGenerateAdminPassword()
	if err != nil {
		return "", fmt.Errorf("failed to generate password: %w", err)
	}

	passwordHash, err := identity.HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	admin := models.DefaultAdminUser(passwordHash)

	// If the password came from the environment the operator already knows
	// it, so first-login rotation is not forced.
	if passwordFromEnv {
		admin.MustChangePassword = false
	}

	if _, err := s.CreateUser(ctx, admin); err != nil {
		return "", fmt.Errorf("failed to create admin user: %w", err)
	}

	return password, nil
}

func (s *GORMStore) IsAdminInitialized(ctx context.Context) (bool, error) {
	_, err := s.GetUser(ctx, identity.AdminUsername)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, models.ErrUserNotFound) {
		return false, nil
	}
	return false, err
}
