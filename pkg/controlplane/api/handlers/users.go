package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cryptblk/cryptblk/pkg/controlplane/api/auth"
	"github.com/cryptblk/cryptblk/pkg/controlplane/api/middleware"
	"github.com/cryptblk/cryptblk/pkg/controlplane/models"
	"github.com/cryptblk/cryptblk/pkg/controlplane/store"
	"github.com/cryptblk/cryptblk/pkg/identity"
)

// UserHandler handles user management API endpoints.
type UserHandler struct {
	store      store.UserStore
	jwtService *auth.JWTService
}

// NewUserHandler creates a new UserHandler. jwtService is required for generating
// new tokens after password changes so users receive fresh credentials.
// Returns an error if jwtService is nil, allowing callers to handle the
// misconfiguration gracefully (e.g., at startup).
func NewUserHandler(s store.UserStore, jwtService *auth.JWTService) (*UserHandler, error) {
	if jwtService == nil {
		return nil, errors.New("NewUserHandler: jwtService is required and must not be nil")
	}
	return &UserHandler{store: s, jwtService: jwtService}, nil
}

// CreateUserRequest is the request body for POST /api/v1/users.
type CreateUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
	Enabled  *bool  `json:"enabled,omitempty"`
}

// UpdateUserRequest is the request body for PUT /api/v1/users/{username}.
type UpdateUserRequest struct {
	Role    *string `json:"role,omitempty"`
	Enabled *bool   `json:"enabled,omitempty"`
}

// ChangePasswordRequest is the request body for password change endpoints.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password,omitempty"`
	NewPassword     string `json:"new_password"`
}

// Create handles POST /api/v1/users.
// Creates a new user (admin only).
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if req.Username == "" {
		BadRequest(w, "Username is required")
		return
	}
	if req.Password == "" {
		BadRequest(w, "Password is required")
		return
	}
	if err := identity.ValidateUsername(req.Username); err != nil {
		BadRequest(w, err.Error())
		return
	}
	if err := identity.ValidatePassword(req.Password); err != nil {
		BadRequest(w, err.Error())
		return
	}

	role := identity.RoleUser
	if req.Role != "" {
		role = identity.Role(req.Role)
		if !role.IsValid() {
			BadRequest(w, "Invalid role. Must be 'user' or 'admin'")
			return
		}
	}

	passwordHash, err := identity.HashPassword(req.Password)
	if err != nil {
		InternalServerError(w, "Failed to hash password")
		return
	}

	// Only admin accounts are forced to rotate the initial password: they can
	// create and remove devices, so a password chosen by someone else is
	// treated as temporary.
	user := &models.User{
		ID:                 uuid.New().String(),
		Username:           req.Username,
		PasswordHash:       passwordHash,
		Enabled:            true,
		MustChangePassword: role == identity.RoleAdmin,
		Role:               string(role),
		CreatedAt:          time.Now(),
	}

	if req.Enabled != nil {
		user.Enabled = *req.Enabled
	}

	if _, err := h.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, models.ErrDuplicateUser) {
			Conflict(w, "User already exists")
			return
		}
		InternalServerError(w, "Failed to create user")
		return
	}

	WriteJSONCreated(w, userToResponse(user))
}

// List handles GET /api/v1/users.
// Lists all users (admin only).
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		InternalServerError(w, "Failed to list users")
		return
	}

	response := make([]UserResponse, len(users))
	for i, u := range users {
		response[i] = userToResponse(u)
	}

	WriteJSONOK(w, response)
}

// Get handles GET /api/v1/users/{username}.
// Gets a user by username. Admins can get any user, non-admins can only get their own info.
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	if username == "" {
		BadRequest(w, "Username is required")
		return
	}

	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		Unauthorized(w, "Authentication required")
		return
	}

	// Non-admins can only access their own info
	if !claims.IsAdmin() && claims.Username != username {
		Forbidden(w, "Access denied")
		return
	}

	user, err := h.store.GetUser(r.Context(), username)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			NotFound(w, "User not found")
			return
		}
		InternalServerError(w, "Failed to get user")
		return
	}

	WriteJSONOK(w, userToResponse(user))
}

// Update handles PUT /api/v1/users/{username}.
// Updates a user's role or enabled state (admin only).
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	if username == "" {
		BadRequest(w, "Username is required")
		return
	}

	var req UpdateUserRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	user, err := h.store.GetUser(r.Context(), username)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			NotFound(w, "User not found")
			return
		}
		InternalServerError(w, "Failed to get user")
		return
	}

	if req.Role != nil {
		role := identity.Role(*req.Role)
		if !role.IsValid() {
			BadRequest(w, "Invalid role. Must be 'user' or 'admin'")
			return
		}
		user.Role = string(role)
	}
	if req.Enabled != nil {
		user.Enabled = *req.Enabled
	}

	if err := h.store.UpdateUser(r.Context(), user); err != nil {
		InternalServerError(w, "Failed to update user")
		return
	}

	WriteJSONOK(w, userToResponse(user))
}

// Delete handles DELETE /api/v1/users/{username}.
// Deletes a user (admin only).
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	if username == "" {
		BadRequest(w, "Username is required")
		return
	}

	// The bootstrap admin account cannot be removed; it is the recovery path
	// when every other account is locked out.
	if username == identity.AdminUsername {
		Forbidden(w, "Cannot delete admin user")
		return
	}

	if err := h.store.DeleteUser(r.Context(), username); err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			NotFound(w, "User not found")
			return
		}
		InternalServerError(w, "Failed to delete user")
		return
	}

	WriteNoContent(w)
}

// ResetPassword handles POST /api/v1/users/{username}/password.
// Resets a user's password (admin only).
func (h *UserHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	if username == "" {
		BadRequest(w, "Username is required")
		return
	}

	var req ChangePasswordRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if req.NewPassword == "" {
		BadRequest(w, "New password is required")
		return
	}
	if err := identity.ValidatePassword(req.NewPassword); err != nil {
		BadRequest(w, err.Error())
		return
	}

	user, err := h.store.GetUser(r.Context(), username)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			NotFound(w, "User not found")
			return
		}
		InternalServerError(w, "Failed to get user")
		return
	}

	passwordHash, err := identity.HashPassword(req.NewPassword)
	if err != nil {
		InternalServerError(w, "Failed to hash password")
		return
	}

	if err := h.store.UpdatePassword(r.Context(), username, passwordHash); err != nil {
		InternalServerError(w, "Failed to update password")
		return
	}

	// An admin-set password on an admin account is a temporary credential
	// that must be personalized on next login. For regular users the
	// admin-set password stands.
	if user.IsAdmin() {
		user.MustChangePassword = true
		if err := h.store.UpdateUser(r.Context(), user); err != nil {
			InternalServerError(w, "Failed to update user")
			return
		}
	}

	WriteNoContent(w)
}

// ChangeOwnPassword handles POST /api/v1/users/me/password.
// Changes the current user's own password.
func (h *UserHandler) ChangeOwnPassword(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		Unauthorized(w, "Authentication required")
		return
	}

	var req ChangePasswordRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if req.NewPassword == "" {
		BadRequest(w, "New password is required")
		return
	}
	if err := identity.ValidatePassword(req.NewPassword); err != nil {
		BadRequest(w, err.Error())
		return
	}

	user, err := h.store.GetUser(r.Context(), claims.Username)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			Unauthorized(w, "User not found")
			return
		}
		InternalServerError(w, "Failed to get user")
		return
	}

	// Users completing a forced rotation do not know a "current" password
	// worth verifying; everyone else must prove they hold the old one.
	if !user.MustChangePassword {
		if req.CurrentPassword == "" {
			BadRequest(w, "Current password is required")
			return
		}
		if !identity.VerifyPassword(req.CurrentPassword, user.PasswordHash) {
			Unauthorized(w, "Current password is incorrect")
			return
		}
	}

	passwordHash, err := identity.HashPassword(req.NewPassword)
	if err != nil {
		InternalServerError(w, "Failed to hash password")
		return
	}

	// UpdatePassword also clears the must-change flag in the same write.
	if err := h.store.UpdatePassword(r.Context(), claims.Username, passwordHash); err != nil {
		InternalServerError(w, "Failed to update password")
		return
	}
	user.MustChangePassword = false

	// Issue fresh tokens so the client drops claims that still carry the
	// must-change flag.
	tokenPair, err := h.jwtService.GenerateTokenPair(user)
	if err != nil {
		InternalServerError(w, "Failed to generate new tokens")
		return
	}

	WriteJSONOK(w, LoginResponse{
		AccessToken:  tokenPair.AccessToken,
		RefreshToken: tokenPair.RefreshToken,
		TokenType:    tokenPair.TokenType,
		ExpiresIn:    tokenPair.ExpiresIn,
		ExpiresAt:    tokenPair.ExpiresAt,
		User:         userToResponse(user),
	})
}
