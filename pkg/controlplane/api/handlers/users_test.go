//go:build integration

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/cryptblk/cryptblk/pkg/controlplane/api/auth"
	"github.com/cryptblk/cryptblk/pkg/controlplane/api/middleware"
	"github.com/cryptblk/cryptblk/pkg/controlplane/models"
	"github.com/cryptblk/cryptblk/pkg/controlplane/store"
	"github.com/cryptblk/cryptblk/pkg/identity"
)

func setupUserTest(t *testing.T) (store.Store, *auth.JWTService, *UserHandler) {
	t.Helper()

	cpStore, err := store.New(&store.Config{
		Type: store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{
			Path: ":memory:",
		},
	})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = cpStore.Close() })

	jwtService, err := auth.NewJWTService(auth.JWTConfig{
		Secret: "test-secret-key-that-is-at-least-32-characters-long",
		Issuer: "test",
	})
	if err != nil {
		t.Fatalf("Failed to create JWT service: %v", err)
	}

	handler, err := NewUserHandler(cpStore, jwtService)
	if err != nil {
		t.Fatalf("Failed to create user handler: %v", err)
	}
	return cpStore, jwtService, handler
}

// bearerFor generates an access token for the user and returns the
// Authorization header value.
func bearerFor(t *testing.T, jwtService *auth.JWTService, user *models.User) string {
	t.Helper()
	tokenPair, err := jwtService.GenerateTokenPair(user)
	if err != nil {
		t.Fatalf("Failed to generate tokens: %v", err)
	}
	return "Bearer " + tokenPair.AccessToken
}

// withURLParam attaches a chi route parameter to the request context.
func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestUserHandler_Create(t *testing.T) {
	_, _, handler := setupUserTest(t)

	tests := []struct {
		name           string
		body           CreateUserRequest
		wantStatus     int
		wantMustChange bool
	}{
		{
			name: "valid user",
			body: CreateUserRequest{
				Username: "newuser",
				Password: "password123",
			},
			wantStatus:     http.StatusCreated,
			wantMustChange: false,
		},
		{
			name: "admin role forces rotation",
			body: CreateUserRequest{
				Username: "secondadmin",
				Password: "password123",
				Role:     "admin",
			},
			wantStatus:     http.StatusCreated,
			wantMustChange: true,
		},
		{
			name: "missing username",
			body: CreateUserRequest{
				Password: "password123",
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "missing password",
			body: CreateUserRequest{
				Username: "nopassuser",
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "password too short",
			body: CreateUserRequest{
				Username: "shortpass",
				Password: "short",
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "invalid username",
			body: CreateUserRequest{
				Username: "Not A Username",
				Password: "password123",
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "invalid role",
			body: CreateUserRequest{
				Username: "invalidrole",
				Password: "password123",
				Role:     "superadmin",
			},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, _ := json.Marshal(tt.body)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/users", bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()

			handler.Create(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("Create() status = %d, want %d, body = %s", w.Code, tt.wantStatus, w.Body.String())
			}

			if tt.wantStatus == http.StatusCreated {
				var resp UserResponse
				if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
					t.Fatalf("Failed to unmarshal response: %v", err)
				}
				if resp.Username != tt.body.Username {
					t.Errorf("Create() username = %s, want %s", resp.Username, tt.body.Username)
				}
				if resp.MustChangePassword != tt.wantMustChange {
					t.Errorf("Create() must_change_password = %v, want %v", resp.MustChangePassword, tt.wantMustChange)
				}
			}
		})
	}
}

func TestUserHandler_Create_Duplicate(t *testing.T) {
	cpStore, _, handler := setupUserTest(t)

	createTestUser(t, cpStore, "existinguser", "password123", "user", true)

	body, _ := json.Marshal(CreateUserRequest{
		Username: "existinguser",
		Password: "password123",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	handler.Create(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("Create() status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestUserHandler_List(t *testing.T) {
	cpStore, _, handler := setupUserTest(t)

	for _, name := range []string{"listusera", "listuserb", "listuserc"} {
		createTestUser(t, cpStore, name, "password123", "user", true)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users", nil)
	w := httptest.NewRecorder()

	handler.List(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("List() status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp []UserResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}

	if len(resp) != 3 {
		t.Errorf("List() returned %d users, want 3", len(resp))
	}
}

func TestUserHandler_Get(t *testing.T) {
	cpStore, jwtService, handler := setupUserTest(t)

	admin := createTestUser(t, cpStore, "rootadmin", "password123", "admin", true)
	user := createTestUser(t, cpStore, "getuser", "password123", "user", true)
	other := createTestUser(t, cpStore, "otheruser", "password123", "user", true)

	jwtMiddleware := middleware.JWTAuth(jwtService)

	tests := []struct {
		name       string
		username   string
		as         *models.User
		wantStatus int
	}{
		{
			name:       "admin reads any user",
			username:   "getuser",
			as:         admin,
			wantStatus: http.StatusOK,
		},
		{
			name:       "user reads self",
			username:   "getuser",
			as:         user,
			wantStatus: http.StatusOK,
		},
		{
			name:       "user cannot read others",
			username:   "getuser",
			as:         other,
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "non-existent user",
			username:   "nonexistent",
			as:         admin,
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/users/"+tt.username, nil)
			req = withURLParam(req, "username", tt.username)
			req.Header.Set("Authorization", bearerFor(t, jwtService, tt.as))

			w := httptest.NewRecorder()
			jwtMiddleware(http.HandlerFunc(handler.Get)).ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("Get() status = %d, want %d, body = %s", w.Code, tt.wantStatus, w.Body.String())
			}

			if tt.wantStatus == http.StatusOK {
				var resp UserResponse
				if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
					t.Fatalf("Failed to unmarshal response: %v", err)
				}
				if resp.Username != tt.username {
					t.Errorf("Get() username = %s, want %s", resp.Username, tt.username)
				}
			}
		})
	}
}

func TestUserHandler_Update(t *testing.T) {
	cpStore, _, handler := setupUserTest(t)

	createTestUser(t, cpStore, "promoteuser", "password123", "user", true)

	newRole := "admin"
	disabled := false
	body, _ := json.Marshal(UpdateUserRequest{
		Role:    &newRole,
		Enabled: &disabled,
	})

	req := httptest.NewRequest(http.MethodPut, "/api/v1/users/promoteuser", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req = withURLParam(req, "username", "promoteuser")

	w := httptest.NewRecorder()
	handler.Update(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Update() status = %d, want %d, body = %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp UserResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if resp.Role != "admin" {
		t.Errorf("Update() role = %s, want admin", resp.Role)
	}
	if resp.Enabled {
		t.Error("Update() expected user to be disabled")
	}

	updated, err := cpStore.GetUser(context.Background(), "promoteuser")
	if err != nil {
		t.Fatalf("Failed to get user: %v", err)
	}
	if updated.Role != "admin" || updated.Enabled {
		t.Errorf("stored user role = %s enabled = %v, want admin/false", updated.Role, updated.Enabled)
	}
}

func TestUserHandler_Update_InvalidRole(t *testing.T) {
	cpStore, _, handler := setupUserTest(t)

	createTestUser(t, cpStore, "plainuser", "password123", "user", true)

	badRole := "emperor"
	body, _ := json.Marshal(UpdateUserRequest{Role: &badRole})

	req := httptest.NewRequest(http.MethodPut, "/api/v1/users/plainuser", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req = withURLParam(req, "username", "plainuser")

	w := httptest.NewRecorder()
	handler.Update(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Update() status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestUserHandler_Delete(t *testing.T) {
	cpStore, _, handler := setupUserTest(t)

	createTestUser(t, cpStore, "deleteuser", "password123", "user", true)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/users/deleteuser", nil)
	req = withURLParam(req, "username", "deleteuser")

	w := httptest.NewRecorder()
	handler.Delete(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("Delete() status = %d, want %d", w.Code, http.StatusNoContent)
	}

	_, err := cpStore.GetUser(context.Background(), "deleteuser")
	if !errors.Is(err, models.ErrUserNotFound) {
		t.Errorf("Expected user to be deleted, got err: %v", err)
	}
}

func TestUserHandler_Delete_Admin(t *testing.T) {
	cpStore, _, handler := setupUserTest(t)

	createTestUser(t, cpStore, identity.AdminUsername, "password123", "admin", true)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/users/admin", nil)
	req = withURLParam(req, "username", identity.AdminUsername)

	w := httptest.NewRecorder()
	handler.Delete(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("Delete() admin status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestUserHandler_ResetPassword(t *testing.T) {
	cpStore, _, handler := setupUserTest(t)
	ctx := context.Background()

	t.Run("regular user keeps the new password", func(t *testing.T) {
		createTestUser(t, cpStore, "resetuser", "oldpassword1", "user", true)

		body, _ := json.Marshal(ChangePasswordRequest{NewPassword: "newpassword123"})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/users/resetuser/password", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req = withURLParam(req, "username", "resetuser")

		w := httptest.NewRecorder()
		handler.ResetPassword(w, req)

		if w.Code != http.StatusNoContent {
			t.Errorf("ResetPassword() status = %d, want %d, body = %s", w.Code, http.StatusNoContent, w.Body.String())
		}

		updated, _ := cpStore.GetUser(ctx, "resetuser")
		if updated.MustChangePassword {
			t.Error("Expected must_change_password to stay false for a regular user")
		}

		if _, err := cpStore.ValidateCredentials(ctx, "resetuser", "newpassword123"); err != nil {
			t.Errorf("New password should work, got: %v", err)
		}
	})

	t.Run("admin target must rotate", func(t *testing.T) {
		createTestUser(t, cpStore, "resetadmin", "oldpassword1", "admin", true)

		body, _ := json.Marshal(ChangePasswordRequest{NewPassword: "newpassword123"})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/users/resetadmin/password", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req = withURLParam(req, "username", "resetadmin")

		w := httptest.NewRecorder()
		handler.ResetPassword(w, req)

		if w.Code != http.StatusNoContent {
			t.Errorf("ResetPassword() status = %d, want %d, body = %s", w.Code, http.StatusNoContent, w.Body.String())
		}

		updated, _ := cpStore.GetUser(ctx, "resetadmin")
		if !updated.MustChangePassword {
			t.Error("Expected must_change_password to be true after resetting an admin password")
		}
	})

	t.Run("unknown user", func(t *testing.T) {
		body, _ := json.Marshal(ChangePasswordRequest{NewPassword: "newpassword123"})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/users/ghost/password", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req = withURLParam(req, "username", "ghost")

		w := httptest.NewRecorder()
		handler.ResetPassword(w, req)

		if w.Code != http.StatusNotFound {
			t.Errorf("ResetPassword() status = %d, want %d", w.Code, http.StatusNotFound)
		}
	})
}

func TestUserHandler_ChangeOwnPassword(t *testing.T) {
	cpStore, jwtService, handler := setupUserTest(t)

	user := createTestUser(t, cpStore, "changepassuser", "currentpass1", "user", true)
	header := bearerFor(t, jwtService, user)
	jwtMiddleware := middleware.JWTAuth(jwtService)

	t.Run("with current password", func(t *testing.T) {
		body, _ := json.Marshal(ChangePasswordRequest{
			CurrentPassword: "currentpass1",
			NewPassword:     "newpassword123",
		})

		req := httptest.NewRequest(http.MethodPost, "/api/v1/users/me/password", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", header)

		w := httptest.NewRecorder()
		jwtMiddleware(http.HandlerFunc(handler.ChangeOwnPassword)).ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("ChangeOwnPassword() status = %d, want %d, body = %s", w.Code, http.StatusOK, w.Body.String())
		}

		var resp LoginResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Failed to unmarshal response: %v", err)
		}
		if resp.AccessToken == "" {
			t.Error("Expected new access token")
		}
	})

	t.Run("wrong current password", func(t *testing.T) {
		body, _ := json.Marshal(ChangePasswordRequest{
			CurrentPassword: "wrongpassword",
			NewPassword:     "newpassword456",
		})

		req := httptest.NewRequest(http.MethodPost, "/api/v1/users/me/password", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", header)

		w := httptest.NewRecorder()
		jwtMiddleware(http.HandlerFunc(handler.ChangeOwnPassword)).ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("ChangeOwnPassword() status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})
}

func TestUserHandler_ChangeOwnPassword_MustChange(t *testing.T) {
	cpStore, jwtService, handler := setupUserTest(t)
	ctx := context.Background()

	user := createTestUser(t, cpStore, "mustchangeuser", "temppassword1", "user", true)
	user.MustChangePassword = true
	if err := cpStore.UpdateUser(ctx, user); err != nil {
		t.Fatalf("Failed to flag user: %v", err)
	}

	header := bearerFor(t, jwtService, user)

	// A forced rotation does not require the current password.
	body, _ := json.Marshal(ChangePasswordRequest{NewPassword: "newpassword123"})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/me/password", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", header)

	w := httptest.NewRecorder()
	middleware.JWTAuth(jwtService)(http.HandlerFunc(handler.ChangeOwnPassword)).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("ChangeOwnPassword() status = %d, want %d, body = %s", w.Code, http.StatusOK, w.Body.String())
	}

	updated, _ := cpStore.GetUser(ctx, "mustchangeuser")
	if updated.MustChangePassword {
		t.Error("Expected must_change_password to be false after changing password")
	}
}
