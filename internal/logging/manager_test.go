package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/squaled/squaled/internal/config"
)

func newTestManager(t *testing.T, level string) (*Manager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "squaled.log")
	cfg := &config.LoggingConfig{Level: level, File: path, MaxSize: 10, MaxAge: 7, Compress: false}
	m := NewManager(cfg, nil, false)
	require.NoError(t, m.Initialize())
	return m, path
}

func TestInitialize_WritesToConfiguredFile(t *testing.T) {
	m, path := newTestManager(t, "info")
	defer m.Close()

	m.Info("hello %s", "world")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello world")
	assert.Contains(t, string(data), "INFO")
}

func TestShouldLog_FiltersBelowConfiguredLevel(t *testing.T) {
	m, path := newTestManager(t, "warning")
	defer m.Close()

	m.Debug("should not appear")
	m.Info("also should not appear")
	m.Warning("this should appear")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.False(t, strings.Contains(content, "should not appear"))
	assert.True(t, strings.Contains(content, "this should appear"))
}

func TestWarnfErrorf_SatisfyClientLoggerInterface(t *testing.T) {
	m, path := newTestManager(t, "debug")
	defer m.Close()

	m.Warnf("warn %d", 1)
	m.Errorf("err %d", 2)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "warn 1")
	assert.Contains(t, content, "err 2")
}

func TestReopen_NoFileConfiguredIsNoop(t *testing.T) {
	cfg := &config.LoggingConfig{Level: "info"}
	m := NewManager(cfg, nil, false)
	require.NoError(t, m.Initialize())
	assert.NoError(t, m.Reopen())
}
