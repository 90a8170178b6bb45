package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dapsession.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, filepath.Join(".dapsession", "launch.yaml"), cfg.LaunchFile)
	assert.Equal(t, filepath.Join(".dapsession", "breakpoints.yaml"), cfg.BreakpointsFile)
	assert.Equal(t, 30*time.Second, cfg.Debug.RequestTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Debug.ThreadDebounce)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  format: json
launch_file: debug/launch.toml
debug:
  request_timeout: 5s
  thread_debounce: 20ms
terminal:
  rows: 50
trace:
  enabled: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "debug/launch.toml", cfg.LaunchFile)
	assert.Equal(t, 5*time.Second, cfg.Debug.RequestTimeout)
	assert.Equal(t, 20*time.Millisecond, cfg.Debug.ThreadDebounce)
	assert.Equal(t, uint16(50), cfg.Terminal.Rows)
	assert.Equal(t, uint16(80), cfg.Terminal.Cols)
	assert.True(t, cfg.Trace.Enabled)
	assert.True(t, cfg.Debug.WatchBreakpoints)
}

func TestLoad_SearchesWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dapsession.yaml"), []byte("workspace_folder: /ws\n"), 0o644))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/ws", cfg.WorkspaceFolder)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("DAPSESSION_LOG_LEVEL", "warn")
	t.Setenv("DAPSESSION_DEBUG_REQUEST_TIMEOUT", "2s")
	path := writeConfig(t, "log:\n  level: debug\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 2*time.Second, cfg.Debug.RequestTimeout)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, ErrFileNotFound)

	_, err = Load(writeConfig(t, "log: [\n"))
	assert.ErrorContains(t, err, "read config")

	_, err = Load(writeConfig(t, "log:\n  level: loud\n"))
	assert.ErrorIs(t, err, ErrValidationFailed)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "log.level", verr.Key)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		key    string
	}{
		{"format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"launch file", func(c *Config) { c.LaunchFile = "" }, "launch_file"},
		{"timeout", func(c *Config) { c.Debug.RequestTimeout = 0 }, "debug.request_timeout"},
		{"debounce", func(c *Config) { c.Debug.ThreadDebounce = -time.Second }, "debug.thread_debounce"},
		{"dial", func(c *Config) { c.Debug.DialAttempts = 0 }, "debug.dial_attempts"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.key, verr.Key)
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestResolvePath(t *testing.T) {
	cfg := Default()
	cfg.WorkspaceFolder = "/ws"
	assert.Equal(t, "/ws/.dapsession/launch.yaml", cfg.ResolvePath(cfg.LaunchFile))
	assert.Equal(t, "/abs/file", cfg.ResolvePath("/abs/file"))
	assert.Equal(t, "", cfg.ResolvePath(""))
}
