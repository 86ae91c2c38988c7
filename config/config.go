// Package config loads the virtops CLI configuration.
//
// Config is stored at $XDG_CONFIG_HOME/virtops/config.yaml (defaults to
// ~/.config/virtops/config.yaml) unless VIRTOPS_CONFIG names another file.
// A missing file yields the defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"virtops/internal/logging"
)

const envConfig = "VIRTOPS_CONFIG"

const (
	StoreSQLite  = "sqlite"
	StoreJSONDir = "jsondir"
)

// Config holds the settings shared by every command.
type Config struct {
	// DataRoot holds the state store: virtops.db for sqlite, one directory
	// per kind for jsondir.
	DataRoot  string `yaml:"data_root,omitempty"`
	Store     string `yaml:"store,omitempty"`
	LogLevel  string `yaml:"log_level,omitempty"`
	LogFormat string `yaml:"log_format,omitempty"`
	LogFile   string `yaml:"log_file,omitempty"`
	// Parallel bounds how many identities converge at once; 0 means no bound.
	Parallel int `yaml:"parallel,omitempty"`
	// Sudo runs external commands through sudo -n when not root.
	Sudo bool `yaml:"sudo,omitempty"`
	// LibvirtURI is passed to virsh and virt-install, e.g. qemu:///system.
	LibvirtURI string `yaml:"libvirt_uri,omitempty"`

	path string
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		DataRoot: DefaultDataRoot(),
		Store:    StoreSQLite,
		LogLevel: logging.LevelWarn,
		Parallel: 4,
	}
}

// DefaultPath returns the config file location.
func DefaultPath() string {
	if fromEnv := strings.TrimSpace(os.Getenv(envConfig)); fromEnv != "" {
		return fromEnv
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		home, homeErr := os.UserHomeDir()
		if homeErr != nil {
			return filepath.Join(".config", "virtops", "config.yaml")
		}
		return filepath.Join(home, ".config", "virtops", "config.yaml")
	}
	return filepath.Join(dir, "virtops", "config.yaml")
}

// DefaultDataRoot is /var/lib/virtops for root and the user's data
// directory otherwise.
func DefaultDataRoot() string {
	if os.Geteuid() == 0 {
		return "/var/lib/virtops"
	}
	if dir := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); dir != "" {
		return filepath.Join(dir, "virtops")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".local", "share", "virtops")
	}
	return filepath.Join(home, ".local", "share", "virtops")
}

// Load reads path, DefaultPath when empty, over the defaults.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath()
	}
	cfg := Default()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}
	if len(data) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %q: %w", path, err)
	}
	cfg.path = path
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %q: %w", path, err)
	}
	return cfg, nil
}

// Path returns the file the config was loaded from.
func (c *Config) Path() string { return c.path }

func (c *Config) Validate() error {
	switch c.Store {
	case StoreSQLite, StoreJSONDir:
	default:
		return fmt.Errorf("store %q is not one of %s, %s", c.Store, StoreSQLite, StoreJSONDir)
	}
	if strings.TrimSpace(c.DataRoot) == "" {
		return errors.New("data_root is required")
	}
	if c.Parallel < 0 {
		return fmt.Errorf("parallel must not be negative, got %d", c.Parallel)
	}
	return nil
}

// Logging returns the logging options the config selects.
func (c *Config) Logging() logging.Options {
	return logging.Options{Level: c.LogLevel, Format: c.LogFormat, File: c.LogFile}
}
