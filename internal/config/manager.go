package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/squaled/squaled/internal/utils"
)

// ConfigManager resolves and prepares squaled's configuration following
// an explicit-path -> discovered-file -> default order.
type ConfigManager struct {
	workingDir   string
	explicitPath string
	verbose      bool
	dirManager   *DirectoryManager
}

// NewConfigManager creates a ConfigManager rooted at workingDir (current
// directory if empty).
func NewConfigManager(workingDir, explicitPath string, verbose bool) *ConfigManager {
	if workingDir == "" {
		workingDir, _ = os.Getwd()
	}
	return &ConfigManager{
		workingDir:   workingDir,
		explicitPath: explicitPath,
		verbose:      verbose,
	}
}

// LoadConfig resolves and loads the configuration.
func (cm *ConfigManager) LoadConfig() (*Config, error) {
	if cm.explicitPath != "" {
		if _, err := os.Stat(cm.explicitPath); err != nil {
			return nil, fmt.Errorf("specified config file not found: %s", cm.explicitPath)
		}
		return LoadFromFile(cm.explicitPath)
	}

	if path := cm.findConfigInWorkingDir(); path != "" {
		return LoadFromFile(path)
	}

	return Default(), nil
}

func (cm *ConfigManager) findConfigInWorkingDir() string {
	for _, name := range []string{"squaled.yaml", "squaled.yml"} {
		path := filepath.Join(cm.workingDir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// SetupEnvironment prepares directories and assigns the admin port,
// then validates the fully resolved configuration.
func (cm *ConfigManager) SetupEnvironment(cfg *Config) error {
	cm.dirManager = NewDirectoryManager(cfg, cm.verbose)
	if err := cm.dirManager.Initialize(); err != nil {
		return fmt.Errorf("failed to setup directories: %w", err)
	}

	if cfg.Server.Admin.Enabled && cfg.Server.Admin.Port == 0 {
		port, err := utils.GetFreePort()
		if err != nil {
			return fmt.Errorf("failed to assign admin port: %w", err)
		}
		cfg.Server.Admin.Port = port
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	return nil
}

// GetDirectoryManager returns the directory manager built by SetupEnvironment.
func (cm *ConfigManager) GetDirectoryManager() *DirectoryManager {
	return cm.dirManager
}

// ConfigSummary returns a short human-readable summary of cfg, used in
// startup logs.
func (cm *ConfigManager) ConfigSummary(cfg *Config) string {
	source := "default (no file found)"
	if cm.explicitPath != "" {
		source = cm.explicitPath
	} else if path := cm.findConfigInWorkingDir(); path != "" {
		source = path
	}

	return fmt.Sprintf(
		"config file: %s\nsocket: %s\npools: %d\nlog level: %s",
		source, cfg.Server.SocketPath, len(cfg.Pools), cfg.Logging.Level,
	)
}
