// Package config provides configuration for the chaindb state store and
// its tooling.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"
)

// Config holds all chaindb configuration.
type Config struct {
	// Storage settings for the state file and arena.
	Storage StorageConfig `yaml:"storage"`

	// Logging settings.
	Logging LoggingConfig `yaml:"logging"`
}

// StorageConfig holds state-store settings.
type StorageConfig struct {
	// DataDir is the directory for the state file and exports.
	DataDir string `yaml:"data_dir"`

	// StateFile is the state file name within DataDir.
	StateFile string `yaml:"state_file"`

	// ArenaInitialSize is the starting arena region size ("64MB").
	ArenaInitialSize string `yaml:"arena_initial_size"`

	// ArenaMaxSize caps arena growth ("1GB").
	ArenaMaxSize string `yaml:"arena_max_size"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			DataDir:          "~/.chaindb",
			StateFile:        "state.chaindb",
			ArenaInitialSize: (64 * datasize.MB).String(),
			ArenaMaxSize:     (1 * datasize.GB).String(),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// ConfigFileName is the default config file name.
const ConfigFileName = "config.yaml"

// LoadConfig loads configuration from a YAML file in dataDir.
// If the file doesn't exist, it creates one with default values.
func LoadConfig(dataDir string) (*Config, error) {
	expandedDir := ExpandPath(dataDir)
	configPath := filepath.Join(expandedDir, ConfigFileName)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.Storage.DataDir = dataDir
		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Save writes the config to path as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// StatePath returns the absolute state file path.
func (c *Config) StatePath() string {
	return filepath.Join(ExpandPath(c.Storage.DataDir), c.Storage.StateFile)
}

// ArenaConfig parses the storage sizing into byte counts.
func (c *Config) ArenaConfig() (initial, max uint64, err error) {
	i, err := datasize.ParseString(c.Storage.ArenaInitialSize)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to parse arena_initial_size: %w", err)
	}
	m, err := datasize.ParseString(c.Storage.ArenaMaxSize)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to parse arena_max_size: %w", err)
	}
	return i.Bytes(), m.Bytes(), nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
