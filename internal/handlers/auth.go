package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/zyro/backend/internal/crypto"
	"github.com/zyro/backend/internal/db"
	"github.com/zyro/backend/internal/logging"
	"github.com/zyro/backend/internal/middleware"
	"github.com/zyro/backend/internal/models"
	"github.com/zyro/backend/internal/services"
)

// UserStore is the subset of queries the auth endpoints need.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (db.User, error)
	GetUserByID(ctx context.Context, id int64) (db.User, error)
}

// AuthHandler issues and refreshes tokens.
type AuthHandler struct {
	users       UserStore
	authService *services.AuthService
}

func NewAuthHandler(users UserStore, authService *services.AuthService) *AuthHandler {
	return &AuthHandler{users: users, authService: authService}
}

// Login exchanges e-mail and password for an access and refresh token.
// Unknown e-mail and wrong password produce the same response.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := h.users.GetUserByEmail(r.Context(), req.Email)
	if errors.Is(err, sql.ErrNoRows) {
		logging.LogSecurityEvent(r.Context(), logging.SecurityEventBadCredentials, "login for unknown email")
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to load user", err)
		return
	}

	if err := crypto.VerifyPassword(req.Password, user.PasswordHash); err != nil {
		logging.LogSecurityEvent(r.Context(), logging.SecurityEventBadCredentials, "wrong password")
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if user.Status != "active" {
		logging.LogSecurityEvent(r.Context(), logging.SecurityEventInactiveUser, "login by inactive user")
		writeError(w, http.StatusForbidden, "user is not active")
		return
	}

	h.writeTokens(w, r, user)
}

// Refresh issues a new token pair for a valid refresh token.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req models.RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	claims, err := h.authService.ValidateRefreshToken(req.RefreshToken)
	if err != nil {
		logging.LogSecurityEvent(r.Context(), logging.SecurityEventInvalidJWT, "invalid refresh token")
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	user, err := h.users.GetUserByID(r.Context(), claims.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		logging.LogSecurityEvent(r.Context(), logging.SecurityEventUserNotFound, "refresh for unknown user")
		writeError(w, http.StatusUnauthorized, "user not found")
		return
	}
	if err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to load user", err)
		return
	}
	if user.Status != "active" {
		logging.LogSecurityEvent(r.Context(), logging.SecurityEventInactiveUser, "refresh by inactive user")
		writeError(w, http.StatusForbidden, "user is not active")
		return
	}

	h.writeTokens(w, r, user)
}

func (h *AuthHandler) writeTokens(w http.ResponseWriter, r *http.Request, user db.User) {
	pair, err := h.authService.GenerateTokenPair(user.ID, services.Role(user.Role))
	if err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to generate token", err)
		return
	}

	writeJSON(w, http.StatusOK, models.TokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "bearer",
		ExpiresIn:    int64(pair.ExpiresIn.Seconds()),
	})
}

// Me returns the authenticated user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}
