package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// DirectoryManager ensures the directories squaled needs at startup —
// the unix socket's parent directory and the log directory — exist,
// creating any that are missing. It does not check that they are writable.
type DirectoryManager struct {
	cfg     *Config
	verbose bool
}

// NewDirectoryManager creates a DirectoryManager for cfg.
func NewDirectoryManager(cfg *Config, verbose bool) *DirectoryManager {
	return &DirectoryManager{cfg: cfg, verbose: verbose}
}

// SocketDir returns the directory that must exist to bind the unix socket.
func (dm *DirectoryManager) SocketDir() string {
	return filepath.Dir(dm.cfg.Server.SocketPath)
}

// LogDir returns the directory containing the configured log file, or
// "" if logging is stdout-only.
func (dm *DirectoryManager) LogDir() string {
	if dm.cfg.Logging.File == "" {
		return ""
	}
	return filepath.Dir(dm.cfg.Logging.File)
}

// Initialize creates the socket and log directories if missing.
func (dm *DirectoryManager) Initialize() error {
	if err := dm.ensureDirectory(dm.SocketDir(), "socket"); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}
	if logDir := dm.LogDir(); logDir != "" {
		if err := dm.ensureDirectory(logDir, "log"); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}
	return nil
}

func (dm *DirectoryManager) ensureDirectory(path, name string) error {
	if path == "" || path == "." {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if dm.verbose {
			fmt.Printf("creating %s directory: %s\n", name, path)
		}
		if err := os.MkdirAll(path, 0o750); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", path, err)
		}
	} else if err != nil {
		return fmt.Errorf("failed to check directory %s: %w", path, err)
	}
	return nil
}
