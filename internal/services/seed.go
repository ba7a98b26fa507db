package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zyro/backend/internal/crypto"
	"github.com/zyro/backend/internal/db"
)

// AccountStore is the subset of queries needed to bootstrap accounts.
type AccountStore interface {
	CountUsers(ctx context.Context) (int64, error)
	CreateUser(ctx context.Context, arg db.CreateUserParams) (db.User, error)
}

// SeedAdmin creates the initial admin account when no users exist yet.
// It reports whether an account was created.
func SeedAdmin(ctx context.Context, store AccountStore, email, password, name string) (bool, error) {
	count, err := store.CountUsers(ctx)
	if err != nil {
		return false, fmt.Errorf("count users: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	hash, err := crypto.HashPassword(password, crypto.DefaultCost)
	if err != nil {
		return false, err
	}

	user, err := store.CreateUser(ctx, db.CreateUserParams{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         string(RoleAdmin),
	})
	if err != nil {
		return false, fmt.Errorf("create admin: %w", err)
	}

	slog.Info("seeded admin account", slog.Int64("user_id", user.ID), slog.String("email", user.Email))
	return true, nil
}
