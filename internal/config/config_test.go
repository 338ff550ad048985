package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	expand := false
	original := &Config{
		BaseDir: "/home/user/.local/share/dv",
		LogDir:  "/home/user/.local/share/dv/log",
		Logging: LoggingConfig{Level: "debug", MaxSizeMB: 5, MaxBackups: 2},
		Storage: StorageConfig{
			Type:     "s3",
			S3Bucket: "docs",
			S3Prefix: "archive",
			S3Region: "us-east-1",
		},
		Database: DatabaseConfig{Type: "sqlite", DataDir: "/home/user/.local/share/dv/db"},
		Indexer: IndexerConfig{
			BatchSize:        50,
			Workers:          4,
			Queue:            "badger",
			QueueDir:         "/tmp/q",
			Ignore:           []string{"*.tmp", ".git"},
			ExpandStateCodes: &expand,
		},
		Metrics: MetricsConfig{Enabled: true, Listen: "127.0.0.1:9000"},
	}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.BaseDir != original.BaseDir {
		t.Errorf("BaseDir = %q, want %q", got.BaseDir, original.BaseDir)
	}
	if got.Storage.Type != "s3" || got.Storage.S3Bucket != "docs" || got.Storage.S3Prefix != "archive" {
		t.Errorf("Storage = %+v, want s3 docs/archive", got.Storage)
	}
	if got.Database.DataDir != original.Database.DataDir {
		t.Errorf("Database.DataDir = %q, want %q", got.Database.DataDir, original.Database.DataDir)
	}
	if got.Indexer.Queue != "badger" || got.Indexer.Workers != 4 || got.Indexer.BatchSize != 50 {
		t.Errorf("Indexer = %+v", got.Indexer)
	}
	if got.Indexer.ExpandStates() {
		t.Error("ExpandStates() = true, want false")
	}
	if len(got.Indexer.Ignore) != 2 {
		t.Fatalf("len(Indexer.Ignore) = %d, want 2", len(got.Indexer.Ignore))
	}
	if !got.Metrics.Enabled || got.Metrics.Listen != "127.0.0.1:9000" {
		t.Errorf("Metrics = %+v", got.Metrics)
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("/data/dv")

	if cfg.LogDir != "/data/dv/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/dv/log")
	}
	if cfg.Storage.Type != "filesystem" || cfg.Storage.FSRoot != "/data/dv/files" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.Database.Type != "sqlite" || cfg.Database.DataDir != "/data/dv/db" {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if cfg.Indexer.BatchSize != DefaultBatchSize {
		t.Errorf("Indexer.BatchSize = %d, want %d", cfg.Indexer.BatchSize, DefaultBatchSize)
	}
	if cfg.Indexer.Workers < 1 {
		t.Errorf("Indexer.Workers = %d, want >= 1", cfg.Indexer.Workers)
	}
	if cfg.Indexer.LockDir != "/data/dv/locks" {
		t.Errorf("Indexer.LockDir = %q", cfg.Indexer.LockDir)
	}
	if !cfg.Indexer.ExpandStates() {
		t.Error("ExpandStates() = false, want true by default")
	}
	// Built-in patterns live in the fs package; the config only adds to them.
	if len(cfg.Indexer.Ignore) != 0 {
		t.Errorf("Indexer.Ignore = %v, want no extra patterns", cfg.Indexer.Ignore)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("Validate(NewConfig) error = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"default is valid", func(*Config) {}, ""},
		{"unknown storage type", func(c *Config) { c.Storage.Type = "ftp" }, "Storage.Type"},
		{"filesystem without root", func(c *Config) { c.Storage.FSRoot = "" }, "FSRoot"},
		{"s3 without bucket", func(c *Config) {
			c.Storage = StorageConfig{Type: "s3"}
		}, "S3Bucket"},
		{"s3 with bucket", func(c *Config) {
			c.Storage = StorageConfig{Type: "s3", S3Bucket: "b", S3Endpoint: "http://localhost:9000"}
		}, ""},
		{"half of the s3 credentials", func(c *Config) {
			c.Storage = StorageConfig{Type: "s3", S3Bucket: "b", S3AccessKeyID: "id"}
		}, "must be set together"},
		{"sqlite without data dir", func(c *Config) { c.Database.DataDir = "" }, "DataDir"},
		{"memory database", func(c *Config) { c.Database = DatabaseConfig{Type: "memory"} }, ""},
		{"unknown queue", func(c *Config) { c.Indexer.Queue = "kafka" }, "Queue"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "Level"},
		{"bad ignore pattern", func(c *Config) { c.Indexer.Ignore = []string{"[a-"} }, "indexer.ignore[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig("/data/dv")
			tt.mutate(cfg)

			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "dv.toml")
		cfg := NewConfig(dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "dv.toml")
		cfg := NewConfig(dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}

		err := Init(path, cfg)
		if err == nil {
			t.Fatal("second Init() expected error")
		}
	})

	t.Run("rejects invalid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "dv.toml")
		cfg := NewConfig(dir)
		cfg.Storage.Type = "tape"

		if err := Init(path, cfg); err == nil {
			t.Fatal("Init() expected validation error")
		}
		if _, err := os.Stat(path); err == nil {
			t.Error("invalid config was written")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config and applies defaults", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "dv.toml")
		content := "base_dir = \"" + dir + "\"\n\n[storage]\ntype = \"memory\"\n\n[database]\ntype = \"memory\"\n"
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.Storage.Type != "memory" {
			t.Errorf("Storage.Type = %q, want memory", got.Storage.Type)
		}
		if got.Indexer.BatchSize != DefaultBatchSize {
			t.Errorf("Indexer.BatchSize = %d, want %d", got.Indexer.BatchSize, DefaultBatchSize)
		}
		if got.LogDir != filepath.Join(dir, "log") {
			t.Errorf("LogDir = %q", got.LogDir)
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		_, err := ReadFromFile("/nonexistent/path/dv.toml")
		if err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})

	t.Run("returns error for invalid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "dv.toml")
		content := "base_dir = \"" + dir + "\"\n\n[storage]\ntype = \"floppy\"\n\n[database]\ntype = \"memory\"\n"
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}

		if _, err := ReadFromFile(path); err == nil {
			t.Fatal("ReadFromFile() expected validation error")
		}
	})
}
