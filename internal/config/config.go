package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DAPSESSION"

// Config holds dapsession settings.
type Config struct {
	Log LogConfig `mapstructure:"log"`

	// WorkspaceFolder substitutes ${workspaceFolder}. Empty means the working directory.
	WorkspaceFolder string `mapstructure:"workspace_folder"`

	// LaunchFile holds the debug configurations.
	LaunchFile string `mapstructure:"launch_file"`

	// BreakpointsFile holds the persisted breakpoints.
	BreakpointsFile string `mapstructure:"breakpoints_file"`

	Debug    DebugConfig    `mapstructure:"debug"`
	Terminal TerminalConfig `mapstructure:"terminal"`
	Trace    TraceConfig    `mapstructure:"trace"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	// File receives the log; empty means stderr.
	File string `mapstructure:"file"`
}

// DebugConfig configures sessions and their adapter connections.
type DebugConfig struct {
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	ThreadDebounce   time.Duration `mapstructure:"thread_debounce"`
	DialAttempts     int           `mapstructure:"dial_attempts"`
	DialDelay        time.Duration `mapstructure:"dial_delay"`
	WatchBreakpoints bool          `mapstructure:"watch_breakpoints"`
}

// TerminalConfig configures programs started for runInTerminal.
type TerminalConfig struct {
	Rows            uint16        `mapstructure:"rows"`
	Cols            uint16        `mapstructure:"cols"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// TraceConfig configures request tracing.
type TraceConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		LaunchFile:      filepath.Join(".dapsession", "launch.yaml"),
		BreakpointsFile: filepath.Join(".dapsession", "breakpoints.yaml"),
		Debug: DebugConfig{
			RequestTimeout:   30 * time.Second,
			ThreadDebounce:   100 * time.Millisecond,
			DialAttempts:     5,
			DialDelay:        200 * time.Millisecond,
			WatchBreakpoints: true,
		},
		Terminal: TerminalConfig{
			Rows:            24,
			Cols:            80,
			ShutdownTimeout: 5 * time.Second,
		},
	}
}

// Load reads settings. When file is empty, dapsession.yaml is searched for
// and may be absent; an explicit file must exist.
func Load(file string) (*Config, error) {
	v := viper.New()

	if file != "" {
		if _, err := os.Stat(file); errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, file)
		}
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("dapsession")
		v.SetConfigType("yaml")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "dapsession"))
		}
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("workspace_folder", cfg.WorkspaceFolder)
	v.SetDefault("launch_file", cfg.LaunchFile)
	v.SetDefault("breakpoints_file", cfg.BreakpointsFile)
	v.SetDefault("debug.request_timeout", cfg.Debug.RequestTimeout)
	v.SetDefault("debug.thread_debounce", cfg.Debug.ThreadDebounce)
	v.SetDefault("debug.dial_attempts", cfg.Debug.DialAttempts)
	v.SetDefault("debug.dial_delay", cfg.Debug.DialDelay)
	v.SetDefault("debug.watch_breakpoints", cfg.Debug.WatchBreakpoints)
	v.SetDefault("terminal.rows", cfg.Terminal.Rows)
	v.SetDefault("terminal.cols", cfg.Terminal.Cols)
	v.SetDefault("terminal.shutdown_timeout", cfg.Terminal.ShutdownTimeout)
	v.SetDefault("trace.enabled", cfg.Trace.Enabled)
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return &ValidationError{Key: "log.level", Message: err.Error()}
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return &ValidationError{Key: "log.format", Message: fmt.Sprintf("unknown format %q", c.Log.Format)}
	}
	if c.LaunchFile == "" {
		return &ValidationError{Key: "launch_file", Message: "must not be empty"}
	}
	if c.Debug.RequestTimeout <= 0 {
		return &ValidationError{Key: "debug.request_timeout", Message: "must be positive"}
	}
	if c.Debug.ThreadDebounce < 0 {
		return &ValidationError{Key: "debug.thread_debounce", Message: "must not be negative"}
	}
	if c.Debug.DialAttempts < 1 {
		return &ValidationError{Key: "debug.dial_attempts", Message: "must be at least 1"}
	}
	return nil
}

// ResolvePath makes a relative path absolute against the workspace folder.
func (c *Config) ResolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	base := c.WorkspaceFolder
	if base == "" {
		if wd, err := os.Getwd(); err == nil {
			base = wd
		}
	}
	return filepath.Join(base, path)
}
