// Package logging provides squaled's process-wide logger: a leveled,
// optionally file-backed writer with lumberjack-based rotation, using
// the six-level scheme of
// SPEC_FULL.md §3.2 (ERROR, CRITICAL, WARNING, MESSAGE, INFO, DEBUG).
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/squaled/squaled/internal/config"
)

var levelOrder = map[string]int{
	"debug":    0,
	"info":     1,
	"message":  2,
	"warning":  3,
	"critical": 4,
	"error":    5,
}

// Manager is squaled's process-wide logger. It satisfies client.Logger
// (Warnf/Errorf) so the client package can report protocol problems
// without importing this package's concrete type.
type Manager struct {
	mu      sync.Mutex
	cfg     *config.LoggingConfig
	dirMgr  *config.DirectoryManager
	logger  *log.Logger
	logFile *lumberjack.Logger
	level   int
	verbose bool
}

// NewManager creates a Manager for cfg. dirMgr may be nil if the log
// directory has already been prepared by the caller.
func NewManager(cfg *config.LoggingConfig, dirMgr *config.DirectoryManager, verbose bool) *Manager {
	return &Manager{cfg: cfg, dirMgr: dirMgr, verbose: verbose}
}

// Initialize opens the configured log file (if any) and wires stdout +
// file writers into a single logger.
func (lm *Manager) Initialize() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.level = lm.levelFor(lm.cfg.Level)

	var writers []io.Writer
	writers = append(writers, os.Stdout)

	if lm.cfg.File != "" {
		lm.logFile = &lumberjack.Logger{
			Filename:  lm.cfg.File,
			MaxSize:   lm.cfg.MaxSize,
			MaxAge:    lm.cfg.MaxAge,
			Compress:  lm.cfg.Compress,
			LocalTime: true,
		}
		writers = append(writers, lm.logFile)
	}

	lm.logger = log.New(io.MultiWriter(writers...), "", 0)

	if lm.verbose {
		fmt.Printf("logging initialized: level=%s file=%s\n", lm.cfg.Level, lm.cfg.File)
	}
	return nil
}

func (lm *Manager) levelFor(name string) int {
	if lvl, ok := levelOrder[normalizeLevel(name)]; ok {
		return lvl
	}
	return levelOrder["info"]
}

func normalizeLevel(name string) string {
	name = strings.ToLower(name)
	switch name {
	case "warn":
		return "warning"
	case "err":
		return "error"
	default:
		return name
	}
}

func (lm *Manager) shouldLog(level string) bool {
	lvl, ok := levelOrder[normalizeLevel(level)]
	if !ok {
		lvl = levelOrder["info"]
	}
	return lvl >= lm.level
}

func (lm *Manager) write(level, format string, args ...interface{}) {
	lm.mu.Lock()
	logger := lm.logger
	lm.mu.Unlock()

	if logger == nil || !lm.shouldLog(level) {
		return
	}

	msg := fmt.Sprintf(format, args...)
	ts := time.Now().Format(time.RFC3339)
	logger.Printf("[%s] %s %s", levelTag(level), ts, msg)
}

func levelTag(level string) string {
	switch normalizeLevel(level) {
	case "debug":
		return "DEBUG"
	case "info":
		return "INFO"
	case "message":
		return "MESSAGE"
	case "warning":
		return "WARNING"
	case "critical":
		return "CRITICAL"
	case "error":
		return "ERROR"
	default:
		return "INFO"
	}
}

func (lm *Manager) Debug(format string, args ...interface{})    { lm.write("debug", format, args...) }
func (lm *Manager) Info(format string, args ...interface{})     { lm.write("info", format, args...) }
func (lm *Manager) Message(format string, args ...interface{})  { lm.write("message", format, args...) }
func (lm *Manager) Warning(format string, args ...interface{})  { lm.write("warning", format, args...) }
func (lm *Manager) Critical(format string, args ...interface{}) { lm.write("critical", format, args...) }
func (lm *Manager) Error(format string, args ...interface{})    { lm.write("error", format, args...) }

// Warnf and Errorf satisfy client.Logger.
func (lm *Manager) Warnf(format string, args ...interface{}) { lm.write("warning", format, args...) }
func (lm *Manager) Errorf(format string, args ...interface{}) { lm.write("error", format, args...) }

// Reopen closes and reopens the log file in place, for SIGHUP-triggered
// log rotation outside of lumberjack's own size-based rotation.
func (lm *Manager) Reopen() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if lm.logFile == nil {
		return nil
	}
	// lumberjack reopens the file at the same path on the next write.
	return lm.logFile.Close()
}

// Close releases the underlying log file.
func (lm *Manager) Close() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if lm.logFile != nil {
		return lm.logFile.Close()
	}
	return nil
}

// LogStartup records process startup.
func (lm *Manager) LogStartup(version, socketPath string) {
	lm.Info("squaled %s starting, socket=%s", version, socketPath)
}

// LogShutdown records process shutdown.
func (lm *Manager) LogShutdown() {
	lm.Info("squaled shutting down")
}
