// Package config loads squaled's external topology file: the unix
// socket address, logging policy, optional admin HTTP surface, and the
// set of pools (each with its backend and attached workers).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root of the YAML topology file, per SPEC_FULL.md §3.1.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	Pools   []PoolSpec    `yaml:"pools"`
}

// ServerConfig carries the unix socket address/mode and the optional
// admin HTTP surface.
type ServerConfig struct {
	SocketPath string      `yaml:"socket_path"`
	SocketMode int         `yaml:"socket_mode"`
	Admin      AdminConfig `yaml:"admin"`
}

// AdminConfig controls the optional gin-based introspection HTTP surface.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"` // 0 = auto-assign
}

// LoggingConfig controls log level, destination, and rotation, trimmed to what
// squaled's internal/logging.Manager uses.
type LoggingConfig struct {
	Level    string `yaml:"level" default:"info"`
	File     string `yaml:"file" default:""`
	MaxSize  int    `yaml:"max_size" default:"100"`
	MaxAge   int    `yaml:"max_age" default:"30"`
	Compress bool   `yaml:"compress" default:"true"`
}

// PoolSpec configures one JobList and its attached workers.
type PoolSpec struct {
	Name            string       `yaml:"name"`
	Backend         string       `yaml:"backend"`
	MaxPendingWarn  int          `yaml:"max_pending_warn"`
	MaxPendingBlock int          `yaml:"max_pending_block"`
	Workers         []WorkerSpec `yaml:"workers"`
}

// WorkerSpec configures one worker attached to a pool: its backend
// connection properties (a DSN or discrete fields, per backend) and its
// cycle-after reconnect threshold.
type WorkerSpec struct {
	DSN          string            `yaml:"dsn"`
	DatabasePath string            `yaml:"database_path"`
	CycleAfter   int               `yaml:"cycle_after"`
	CommitEvery  int               `yaml:"commit_every"`
	Properties   map[string]string `yaml:"properties"`
}

// ToBackendProperties merges the discrete fields a backend.Factory reads
// (dsn, database_path, commit_every) with the free-form Properties bag,
// reproducing the original squalexml.c per-worker property-map idiom
// (see SPEC_FULL.md §5.2) without requiring XML parsing.
func (w WorkerSpec) ToBackendProperties() map[string]string {
	props := make(map[string]string, len(w.Properties)+3)
	for k, v := range w.Properties {
		props[k] = v
	}
	if w.DSN != "" {
		props["dsn"] = w.DSN
	}
	if w.DatabasePath != "" {
		props["database_path"] = w.DatabasePath
	}
	if w.CommitEvery > 0 {
		props["commit_every"] = fmt.Sprintf("%d", w.CommitEvery)
	}
	return props
}

// Load resolves the config file via a three-case order:
// explicit path via SQUALED_CONFIG_FILE, then a discovered well-known
// path, then built-in defaults.
func Load() (*Config, error) {
	cfg := Default()

	path := getConfigPath()
	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, fmt.Errorf("failed to load config from file %s: %w", path, err)
		}
	}

	cfg.loadFromEnv()
	return cfg, nil
}

// LoadFromFile loads configuration from an explicit path, e.g. from the
// CLI's --config-file flag.
func LoadFromFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFromFile(path); err != nil {
		return nil, fmt.Errorf("failed to load config from file %s: %w", path, err)
	}
	cfg.loadFromEnv()
	return cfg, nil
}

// Default returns a configuration with built-in defaults and no pools.
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

func (c *Config) setDefaults() {
	c.Server.SocketPath = "/var/run/squaled/squaled.sock"
	c.Server.SocketMode = 0o777
	c.Server.Admin.Enabled = false
	c.Server.Admin.Host = "127.0.0.1"
	c.Server.Admin.Port = 0

	c.Logging.Level = "info"
	c.Logging.File = "squaled.log"
	c.Logging.MaxSize = 100
	c.Logging.MaxAge = 30
	c.Logging.Compress = true
}

func (c *Config) loadFromFile(path string) error {
	if err := validateConfigPath(path); err != nil {
		return fmt.Errorf("invalid config path: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, c)
}

// validateConfigPath guards against directory traversal and
// unrecognized extensions.
func validateConfigPath(path string) error {
	cleanPath := filepath.Clean(path)
	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("directory traversal not allowed")
	}

	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("only .yaml and .yml files are allowed")
	}
	return nil
}

func (c *Config) loadFromEnv() {
	if level := os.Getenv("SQUALED_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if path := os.Getenv("SQUALED_SOCKET_PATH"); path != "" {
		c.Server.SocketPath = path
	}
}

// getConfigPath returns the configuration file path, following a
// discovery order: an explicit environment override, then well-known
// file names in the working directory, then the user config directory.
func getConfigPath() string {
	if path := os.Getenv("SQUALED_CONFIG_FILE"); path != "" {
		return path
	}

	for _, path := range []string{"squaled.yaml", "squaled.yml"} {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	if configDir, err := os.UserConfigDir(); err == nil {
		userConfigPath := filepath.Join(configDir, "squaled", "squaled.yaml")
		if _, err := os.Stat(userConfigPath); err == nil {
			return userConfigPath
		}
	}

	return ""
}

// Validate rejects duplicate pool names, non-positive worker counts, and
// an inverted admission-threshold pair, per SPEC_FULL.md §3.1.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Pools))
	for _, p := range c.Pools {
		if p.Name == "" {
			return fmt.Errorf("pool with empty name")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate pool name: %s", p.Name)
		}
		seen[p.Name] = true

		if len(p.Workers) <= 0 {
			return fmt.Errorf("pool %q: must configure at least one worker", p.Name)
		}
		if p.MaxPendingWarn > 0 && p.MaxPendingBlock > 0 && p.MaxPendingWarn > p.MaxPendingBlock {
			return fmt.Errorf("pool %q: max_pending_warn (%d) > max_pending_block (%d)", p.Name, p.MaxPendingWarn, p.MaxPendingBlock)
		}
	}

	if c.Server.SocketPath == "" {
		return fmt.Errorf("server.socket_path must be set")
	}

	return nil
}
