// Package identity handles control-plane credentials: bcrypt password
// hashing, roles, and the initial admin bootstrap. Device key material is
// pkg/kdf's job; this package only guards the HTTP API.
package identity

import (
	"errors"
	"regexp"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is the default cost parameter for bcrypt hashing.
// Cost 10 balances login latency against brute-force resistance.
const DefaultBcryptCost = 10

// MinPasswordLength is the minimum required password length.
const MinPasswordLength = 8

// MaxPasswordLength is the maximum allowed password length. bcrypt silently
// truncates at 72 bytes, so longer inputs are rejected instead.
const MaxPasswordLength = 72

// ErrInvalidCredentials is returned when a login fails. Deliberately vague:
// it never distinguishes unknown user from wrong password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrPasswordTooShort is returned when a password is below MinPasswordLength.
var ErrPasswordTooShort = errors.New("password must be at least 8 characters")

// ErrPasswordTooLong is returned when a password exceeds MaxPasswordLength.
var ErrPasswordTooLong = errors.New("password must be at most 72 characters")

// ErrInvalidUsername is returned when a username fails validation.
var ErrInvalidUsername = errors.New("username must be 1-32 characters of [a-z0-9_-], starting with a letter")

var usernamePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,31}$`)

// HashPassword creates a bcrypt hash of the given password.
//
// Parameters:
//   - password: The plaintext password to hash
//
// Returns:
//   - string: The bcrypt hash
//   - error: If the password is invalid or hashing fails
func HashPassword(password string) (string, error) {
	return HashPasswordWithCost(password, DefaultBcryptCost)
}

// HashPasswordWithCost creates a bcrypt hash with a custom cost. Valid cost
// values are between 4 and 31.
func HashPasswordWithCost(password string, cost int) (string, error) {
	if err := ValidatePassword(password); err != nil {
		return "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword checks if a password matches a bcrypt hash.
func VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// ValidatePassword checks if a password meets the length requirements.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	if len(password) > MaxPasswordLength {
		return ErrPasswordTooLong
	}
	return nil
}

// ValidateUsername checks if a username is acceptable for the control plane.
func ValidateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return ErrInvalidUsername
	}
	return nil
}

// NeedsRehash reports whether a stored hash was generated below the current
// default cost and should be regenerated on next successful login.
func NeedsRehash(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return true
	}
	return cost < DefaultBcryptCost
}
