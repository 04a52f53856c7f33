// Package auth provides JWT authentication functionality for the cryptblk API.
package auth

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/cryptblk/cryptblk/pkg/identity"
)

// TokenType indicates whether a token is an access token or refresh token.
type TokenType string

const (
	// TokenTypeAccess is a short-lived token used for API authorization.
	TokenTypeAccess TokenType = "access"
	// TokenTypeRefresh is a long-lived token used to obtain new access tokens.
	TokenTypeRefresh TokenType = "refresh"
)

// Claims represents JWT claims for cryptblk authentication.
//
// Identity is the control plane username and role; device key material never
// enters a token.
type Claims struct {
	jwt.RegisteredClaims

	// UserID is the unique identifier (UUID) for the user.
	UserID string `json:"uid"`

	// Username is the human-readable username.
	Username string `json:"username"`

	// Role is the user's role ("admin" or "user").
	Role string `json:"role"`

	// TokenType indicates whether this is an access or refresh token.
	TokenType TokenType `json:"token_type"`

	// MustChangePassword indicates the user must change their password.
	// When true, most API operations are blocked until password is changed.
	MustChangePassword bool `json:"must_change_password,omitempty"`
}

// IsAccessToken returns true if this is an access token.
func (c *Claims) IsAccessToken() bool {
	return c.TokenType == TokenTypeAccess
}

// IsRefreshToken returns true if this is a refresh token.
func (c *Claims) IsRefreshToken() bool {
	return c.TokenType == TokenTypeRefresh
}

// IsAdmin returns true if the user has admin role.
func (c *Claims) IsAdmin() bool {
	return c.Role == string(identity.RoleAdmin)
}
