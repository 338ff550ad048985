package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Environment variables overriding the default locations.
const (
	EnvConfigPath = "DV_CONFIG_PATH"
	EnvHome       = "DV_HOME"
)

// Paths are the default locations of the config file and the data
// directory.
type Paths struct {
	ConfigPath string
	BaseDir    string
}

// LogDir is where dv.log is written unless the config says otherwise.
func (p Paths) LogDir() string {
	return filepath.Join(p.BaseDir, "log")
}

// GetDefaults resolves the default paths. DV_CONFIG_PATH replaces
// ~/.config/dv.toml and DV_HOME replaces ~/.local/share/dv.
func GetDefaults() (Paths, error) {
	configPath, err := fromEnvOrHome(EnvConfigPath, ".config", "dv.toml")
	if err != nil {
		return Paths{}, err
	}
	baseDir, err := fromEnvOrHome(EnvHome, ".local", "share", "dv")
	if err != nil {
		return Paths{}, err
	}
	return Paths{ConfigPath: configPath, BaseDir: baseDir}, nil
}

func fromEnvOrHome(env string, elem ...string) (string, error) {
	if path := os.Getenv(env); path != "" {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(append([]string{homeDir}, elem...)...), nil
}
