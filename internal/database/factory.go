package database

import (
	"fmt"
	"os"
	"path/filepath"

	"docvault/internal/config"
)

// IndexFileName is the SQLite file created in the data directory.
const IndexFileName = "index.db"

// NewIndexFromConfig creates an SQLiteIndex based on the database config type.
// In-memory indexes start empty, so they are migrated immediately.
func NewIndexFromConfig(cfg config.DatabaseConfig, opts Options) (*SQLiteIndex, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		return NewSQLiteIndex(filepath.Join(cfg.DataDir, IndexFileName), opts)
	case "memory":
		idx, err := NewSQLiteIndex(":memory:", opts)
		if err != nil {
			return nil, err
		}
		if err := idx.MigrateUp(); err != nil {
			idx.Close()
			return nil, fmt.Errorf("migrating in-memory index: %w", err)
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
