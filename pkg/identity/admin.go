package identity

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
)

const (
	// AdminUsername is the reserved username for the system administrator.
	AdminUsername = "admin"

	// EnvAdminInitialPassword sets the initial admin password. When unset, a
	// random password is generated and printed once at first start.
	EnvAdminInitialPassword = "CRYPTBLK_ADMIN_INITIAL_PASSWORD"
)

// GetOrGenerateAdminPassword returns the admin password from the environment
// variable if set, otherwise generates a cryptographically secure random one.
func GetOrGenerateAdminPassword() (string, error) {
	if pw := os.Getenv(EnvAdminInitialPassword); pw != "" {
		if err := ValidatePassword(pw); err != nil {
			return "", fmt.Errorf("%s: %w", EnvAdminInitialPassword, err)
		}
		return pw, nil
	}
	return GenerateRandomPassword()
}

// GenerateRandomPassword returns a 24-character URL-safe base64 password
// (18 bytes of randomness).
func GenerateRandomPassword() (string, error) {
	b := make([]byte, 18)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
