package database

import (
	"path/filepath"
	"testing"
)

func TestRunMigrations_Idempotent(t *testing.T) {
	sqlDB, err := New(filepath.Join(t.TempDir(), "zyro.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer sqlDB.Close()

	if err := RunMigrations(sqlDB); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	if err := RunMigrations(sqlDB); err != nil {
		t.Fatalf("RunMigrations() second run error = %v", err)
	}

	for _, table := range []string{"users", "projects", "project_members", "issues"} {
		var name string
		err := sqlDB.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestNew_EnforcesForeignKeys(t *testing.T) {
	sqlDB, err := New(MemoryPath)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer sqlDB.Close()

	var enabled int
	if err := sqlDB.QueryRow(`PRAGMA foreign_keys`).Scan(&enabled); err != nil {
		t.Fatalf("PRAGMA foreign_keys: %v", err)
	}
	if enabled != 1 {
		t.Errorf("foreign_keys = %d, want 1", enabled)
	}
}
