package services

import (
	"context"
	"errors"
	"testing"

	"github.com/zyro/backend/internal/crypto"
	"github.com/zyro/backend/internal/db"
)

type fakeAccounts struct {
	users    []db.User
	countErr error
}

func (f *fakeAccounts) CountUsers(context.Context) (int64, error) {
	return int64(len(f.users)), f.countErr
}

func (f *fakeAccounts) CreateUser(_ context.Context, arg db.CreateUserParams) (db.User, error) {
	u := db.User{
		ID:           int64(len(f.users) + 1),
		Name:         arg.Name,
		Email:        arg.Email,
		PasswordHash: arg.PasswordHash,
		Role:         arg.Role,
		Status:       "active",
	}
	f.users = append(f.users, u)
	return u, nil
}

func TestSeedAdmin(t *testing.T) {
	store := &fakeAccounts{}

	created, err := SeedAdmin(context.Background(), store, "admin@zyro.local", "s3cret", "Admin")
	if err != nil || !created {
		t.Fatalf("SeedAdmin() = %v, %v, want true, nil", created, err)
	}

	admin := store.users[0]
	if admin.Role != string(RoleAdmin) {
		t.Errorf("Role = %q, want admin", admin.Role)
	}
	if err := crypto.VerifyPassword("s3cret", admin.PasswordHash); err != nil {
		t.Errorf("stored hash does not verify: %v", err)
	}

	created, err = SeedAdmin(context.Background(), store, "other@zyro.local", "x", "Other")
	if err != nil || created {
		t.Errorf("second SeedAdmin() = %v, %v, want false, nil", created, err)
	}
	if len(store.users) != 1 {
		t.Errorf("users = %d, want 1", len(store.users))
	}
}

func TestSeedAdmin_CountError(t *testing.T) {
	store := &fakeAccounts{countErr: errors.New("disk I/O error")}

	if _, err := SeedAdmin(context.Background(), store, "a@b.c", "x", "A"); err == nil {
		t.Fatal("expected error")
	}
}
