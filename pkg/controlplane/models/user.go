package models

import (
	"fmt"
	"time"

	"github.com/cryptblk/cryptblk/pkg/identity"
)

// User represents an API user for authentication and authorization.
//
// Users authenticate against the control plane API with a username and
// password; the stored hash is bcrypt. Roles gate device management: only
// admins may create or remove devices.
type User struct {
	ID                 string     `gorm:"primaryKey;size:36" json:"id"`
	Username           string     `gorm:"uniqueIndex;not null;size:255" json:"username"`
	PasswordHash       string     `gorm:"not null" json:"-"`
	Enabled            bool       `gorm:"default:true" json:"enabled"`
	MustChangePassword bool       `gorm:"default:false" json:"must_change_password"`
	Role               string     `gorm:"default:user;size:50" json:"role"` // user, admin
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	LastLogin          *time.Time `json:"last_login,omitempty"`
}

// TableName returns the table name for User.
func (User) TableName() string {
	return "users"
}

// Validate checks if the user has valid configuration.
func (u *User) Validate() error {
	if err := identity.ValidateUsername(u.Username); err != nil {
		return err
	}
	if u.Role != "" && !identity.Role(u.Role).IsValid() {
		return fmt.Errorf("invalid role %q", u.Role)
	}
	return nil
}

// IsAdmin checks if the user has admin role.
func (u *User) IsAdmin() bool {
	return u.Role == string(identity.RoleAdmin)
}

// GetRole returns the user's role as an identity.Role.
func (u *User) GetRole() identity.Role {
	return identity.Role(u.Role)
}

// DefaultAdminUser builds the bootstrap admin user with the given password
// hash. The account must change its password on first login unless the
// password came from the environment.
func DefaultAdminUser(passwordHash string) *User {
	return &User{
		Username:           identity.AdminUsername,
		PasswordHash:       passwordHash,
		Enabled:            true,
		MustChangePassword: true,
		Role:               string(identity.RoleAdmin),
	}
}
