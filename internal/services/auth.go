// Package services contains the core business logic for Zyro.
package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role represents a user's permission level across the organization.
type Role string

const (
	RoleAdmin    Role = "admin"    // Full control, sees every project
	RoleManager  Role = "manager"  // Manages projects and their issues
	RoleEmployee Role = "employee" // Works on issues in assigned projects
)

var roleRank = map[Role]int{
	RoleEmployee: 1,
	RoleManager:  2,
	RoleAdmin:    3,
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// AtLeast reports whether r grants at least the permissions of min.
func (r Role) AtLeast(min Role) bool {
	return roleRank[r] >= roleRank[min] && roleRank[r] > 0
}

// TokenType distinguishes short-lived access tokens from refresh tokens.
type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

var (
	// ErrInvalidToken covers malformed, badly signed and wrongly typed tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned for well-formed tokens past their expiry.
	ErrExpiredToken = errors.New("token expired")
)

// Claims represents the JWT payload for authenticated requests.
type Claims struct {
	UserID int64     `json:"user_id"`
	Role   Role      `json:"role"`
	Type   TokenType `json:"typ"`
	jwt.RegisteredClaims
}

// TokenPair is issued on login and refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

// AuthService handles JWT token generation and validation.
type AuthService struct {
	secret          []byte
	accessDuration  time.Duration
	refreshDuration time.Duration
}

// NewAuthService creates an AuthService with the given signing secret and token durations.
func NewAuthService(secret string, accessDuration, refreshDuration time.Duration) *AuthService {
	return &AuthService{
		secret:          []byte(secret),
		accessDuration:  accessDuration,
		refreshDuration: refreshDuration,
	}
}

// GenerateToken creates a signed access token for the given user and role.
func (s *AuthService) GenerateToken(userID int64, role Role) (string, error) {
	return s.sign(userID, role, TokenAccess, s.accessDuration)
}

// GenerateTokenPair creates an access token and a longer lived refresh token.
func (s *AuthService) GenerateTokenPair(userID int64, role Role) (TokenPair, error) {
	access, err := s.sign(userID, role, TokenAccess, s.accessDuration)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.sign(userID, role, TokenRefresh, s.refreshDuration)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresIn: s.accessDuration}, nil
}

func (s *AuthService) sign(userID int64, role Role, typ TokenType, duration time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Role:   role,
		Type:   typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "zyro",
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", typ, err)
	}
	return signed, nil
}

// ValidateToken verifies an access token's signature and expiry, returning its claims.
func (s *AuthService) ValidateToken(tokenString string) (*Claims, error) {
	return s.validate(tokenString, TokenAccess)
}

// ValidateRefreshToken verifies a refresh token.
func (s *AuthService) ValidateRefreshToken(tokenString string) (*Claims, error) {
	return s.validate(tokenString, TokenRefresh)
}

func (s *AuthService) validate(tokenString string, want TokenType) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Type != want {
		return nil, fmt.Errorf("%w: expected %s token", ErrInvalidToken, want)
	}
	if claims.UserID == 0 {
		return nil, fmt.Errorf("%w: user_id not found", ErrInvalidToken)
	}
	return claims, nil
}
