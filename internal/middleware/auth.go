// Package middleware provides HTTP middleware for authentication, authorization,
// CORS handling, rate limiting, and request context management.
package middleware

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/zyro/backend/internal/db"
	"github.com/zyro/backend/internal/logging"
	"github.com/zyro/backend/internal/services"
)

type contextKey string

const (
	// ClaimsKey is the context key for storing JWT claims.
	ClaimsKey contextKey = "claims"
	// UserKey is the context key for the authenticated user row.
	UserKey contextKey = "user"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrInactiveUser = errors.New("user is not active")
)

// UserLookup loads a user by primary key.
type UserLookup interface {
	GetUserByID(ctx context.Context, id int64) (db.User, error)
}

// Authenticator turns a bearer token into a live user.
type Authenticator struct {
	auth  *services.AuthService
	users UserLookup
}

func NewAuthenticator(auth *services.AuthService, users UserLookup) *Authenticator {
	return &Authenticator{auth: auth, users: users}
}

// Resolve validates token and loads the user it names.
// Errors are services.ErrInvalidToken, services.ErrExpiredToken, ErrUserNotFound,
// ErrInactiveUser, or a wrapped storage error.
func (a *Authenticator) Resolve(ctx context.Context, token string) (*services.Claims, db.User, error) {
	claims, err := a.auth.ValidateToken(token)
	if err != nil {
		return nil, db.User{}, err
	}

	user, err := a.users.GetUserByID(ctx, claims.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, db.User{}, ErrUserNotFound
	}
	if err != nil {
		return nil, db.User{}, fmt.Errorf("load user %d: %w", claims.UserID, err)
	}
	if user.Status != "active" {
		return nil, db.User{}, ErrInactiveUser
	}
	return claims, user, nil
}

// Middleware validates the Authorization header and stores claims and user in the
// request context. Returns 401 for missing or invalid credentials.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			logging.LogSecurityEvent(r.Context(), logging.SecurityEventMissingAuth, "missing authorization header")
			http.Error(w, `{"error":"missing authorization header"}`, http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			logging.LogSecurityEvent(r.Context(), logging.SecurityEventInvalidAuthFmt, "invalid authorization header format")
			http.Error(w, `{"error":"invalid authorization header format"}`, http.StatusUnauthorized)
			return
		}

		claims, user, err := a.Resolve(r.Context(), parts[1])
		switch {
		case err == nil:
		case errors.Is(err, ErrUserNotFound):
			logging.LogSecurityEvent(r.Context(), logging.SecurityEventUserNotFound, "token for unknown user")
			http.Error(w, `{"error":"user not found"}`, http.StatusUnauthorized)
			return
		case errors.Is(err, ErrInactiveUser):
			logging.LogSecurityEvent(r.Context(), logging.SecurityEventInactiveUser, "token for inactive user")
			http.Error(w, `{"error":"user is not active"}`, http.StatusUnauthorized)
			return
		case errors.Is(err, services.ErrInvalidToken), errors.Is(err, services.ErrExpiredToken):
			logging.LogSecurityEvent(r.Context(), logging.SecurityEventInvalidJWT, "invalid or expired token")
			http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
			return
		default:
			logging.LogErrorWithStatus(r.Context(), http.StatusInternalServerError, "authentication failed", logging.WrapError(err, "resolve user"))
			http.Error(w, `{"error":"authentication failed"}`, http.StatusInternalServerError)
			return
		}

		ctx := context.WithValue(r.Context(), ClaimsKey, claims)
		ctx = context.WithValue(ctx, UserKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole restricts access to users whose stored role is at least min.
// Must be used after the authenticator. Returns 403 otherwise.
func RequireRole(min services.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := GetUser(r.Context())
			if !ok || !services.Role(user.Role).AtLeast(min) {
				logging.LogSecurityEvent(r.Context(), logging.SecurityEventInsufficientRole, string(min)+" role required")
				http.Error(w, `{"error":"insufficient permissions"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetClaims retrieves the JWT claims from the request context.
// Returns nil if no claims are present (e.g., unauthenticated request).
func GetClaims(ctx context.Context) *services.Claims {
	claims, _ := ctx.Value(ClaimsKey).(*services.Claims)
	return claims
}

// GetUser retrieves the authenticated user from the request context.
func GetUser(ctx context.Context) (db.User, bool) {
	user, ok := ctx.Value(UserKey).(db.User)
	return user, ok
}
