package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for dv.
type Config struct {
	BaseDir  string         `toml:"base_dir" validate:"required"`
	LogDir   string         `toml:"log_dir"`
	Logging  LoggingConfig  `toml:"logging"`
	Storage  StorageConfig  `toml:"storage"`
	Database DatabaseConfig `toml:"database"`
	Indexer  IndexerConfig  `toml:"indexer"`
	Metrics  MetricsConfig  `toml:"metrics"`
}

// LoggingConfig controls the log file and its rotation.
type LoggingConfig struct {
	Level      string `toml:"level" validate:"omitempty,oneof=debug info warn error"`
	MaxSizeMB  int    `toml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `toml:"max_backups" validate:"gte=0"`
}

// StorageConfig represents configuration for the physical store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StorageConfig struct {
	Type string `toml:"type" validate:"required,oneof=filesystem s3 memory"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty" validate:"required_if=Type filesystem"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty" validate:"required_if=Type s3"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty" validate:"omitempty,url"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`
}

// DatabaseConfig represents configuration for the metadata index.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type" validate:"required,oneof=sqlite memory"` // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty" validate:"required_if=Type sqlite"`
}

// IndexerConfig tunes the reindex batch process.
type IndexerConfig struct {
	BatchSize        int      `toml:"batch_size" validate:"gte=1"`
	Workers          int      `toml:"workers" validate:"gte=1"`
	Queue            string   `toml:"queue" validate:"oneof=memory badger"`
	QueueDir         string   `toml:"queue_dir,omitempty" validate:"required_if=Queue badger"`
	LockDir          string   `toml:"lock_dir"`
	// Ignore patterns are added to the built-in fs.DefaultIgnorePatterns.
	Ignore           []string `toml:"ignore"`
	ExpandStateCodes *bool    `toml:"expand_state_codes,omitempty"`
}

// ExpandStates reports whether state codes are expanded in directory names.
// Unset means enabled.
func (c IndexerConfig) ExpandStates() bool {
	return c.ExpandStateCodes == nil || *c.ExpandStateCodes
}

// MetricsConfig controls the Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen,omitempty" validate:"omitempty,hostname_port"`
}

// Defaults used by ApplyDefaults.
const (
	DefaultBatchSize  = 200
	DefaultLogLevel   = "info"
	DefaultMaxSizeMB  = 10
	DefaultMaxBackups = 3
)

// NewConfig creates a new Config with paths below baseDir.
func NewConfig(baseDir string) *Config {
	cfg := &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Storage: StorageConfig{
			Type:   "filesystem",
			FSRoot: filepath.Join(baseDir, "files"),
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Indexer: IndexerConfig{
			Ignore: []string{},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills in zero values.
func (c *Config) ApplyDefaults() {
	if c.LogDir == "" && c.BaseDir != "" {
		c.LogDir = filepath.Join(c.BaseDir, "log")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = DefaultMaxSizeMB
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = DefaultMaxBackups
	}
	if c.Indexer.BatchSize == 0 {
		c.Indexer.BatchSize = DefaultBatchSize
	}
	if c.Indexer.Workers == 0 {
		c.Indexer.Workers = runtime.NumCPU()
	}
	if c.Indexer.Queue == "" {
		c.Indexer.Queue = "memory"
	}
	if c.Indexer.QueueDir == "" && c.BaseDir != "" {
		c.Indexer.QueueDir = filepath.Join(c.BaseDir, "queue")
	}
	if c.Indexer.LockDir == "" && c.BaseDir != "" {
		c.Indexer.LockDir = filepath.Join(c.BaseDir, "locks")
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		c.Metrics.Listen = "127.0.0.1:9464"
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path, applies the
// defaults and validates the result.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := Validate(cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
