package database

import (
	"context"
	"path/filepath"
	"testing"

	"docvault/internal/config"
)

func TestNewIndexFromConfig(t *testing.T) {
	t.Run("memory index is migrated", func(t *testing.T) {
		idx, err := NewIndexFromConfig(config.DatabaseConfig{Type: "memory"}, Options{})
		if err != nil {
			t.Fatalf("NewIndexFromConfig() error = %v", err)
		}
		defer idx.Close()

		if err := idx.CheckMigrations(); err != nil {
			t.Errorf("CheckMigrations() error = %v", err)
		}
		if _, err := idx.Index(context.Background(), "/a", true, 0); err != nil {
			t.Errorf("Index() error = %v", err)
		}
	})

	t.Run("sqlite index lives in the data dir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "db")
		idx, err := NewIndexFromConfig(config.DatabaseConfig{Type: "sqlite", DataDir: dir}, Options{})
		if err != nil {
			t.Fatalf("NewIndexFromConfig() error = %v", err)
		}
		defer idx.Close()

		if want := filepath.Join(dir, IndexFileName); idx.Path() != want {
			t.Errorf("Path() = %q, want %q", idx.Path(), want)
		}
		st, err := idx.MigrationStatus()
		if err != nil {
			t.Fatalf("MigrationStatus() error = %v", err)
		}
		if st.Version != 0 || st.Pending() == 0 {
			t.Errorf("fresh database status = %+v, want unmigrated", st)
		}
	})

	t.Run("errors", func(t *testing.T) {
		for name, cfg := range map[string]config.DatabaseConfig{
			"missing data dir": {Type: "sqlite"},
			"unknown type":     {Type: "postgres"},
		} {
			if _, err := NewIndexFromConfig(cfg, Options{}); err == nil {
				t.Errorf("%s: expected error", name)
			}
		}
	})
}
