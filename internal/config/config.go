// Package config handles configuration loading and validation for ghostd.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// Version is the current configuration schema version.
// Version 1 was the flat pre-daemon schema; version 2 nests the
// engine, overlay, daemon, and logging sections.
const Version = 2

// Config is the root configuration for ghostd.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Engine configures the typing-pause engine.
	Engine EngineConfig `toml:"engine" json:"engine" yaml:"engine"`

	// Overlay configures the ghost-text overlay window.
	Overlay OverlayConfig `toml:"overlay" json:"overlay" yaml:"overlay"`

	// Daemon configures the background process and its IPC surface.
	Daemon DaemonConfig `toml:"daemon" json:"daemon" yaml:"daemon"`

	// Logging configures log output.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	mu sync.RWMutex `toml:"-" json:"-" yaml:"-"`
}

// EngineConfig holds typing-pause engine configuration.
type EngineConfig struct {
	// DebounceMs is the keyboard quiet period before a pause fires.
	DebounceMs int `toml:"debounce_ms" json:"debounce_ms" yaml:"debounce_ms"`

	// ContextLength is the maximum number of characters of trailing
	// text captured from the focused control on each pause.
	ContextLength int `toml:"context_length" json:"context_length" yaml:"context_length"`

	// FocusPollMs is the focus watcher poll interval.
	FocusPollMs int `toml:"focus_poll_ms" json:"focus_poll_ms" yaml:"focus_poll_ms"`

	// EnableFocusEvents determines whether focus-change events are
	// published alongside pause events.
	EnableFocusEvents bool `toml:"enable_focus_events" json:"enable_focus_events" yaml:"enable_focus_events"`
}

// OverlayConfig holds ghost-text overlay configuration.
type OverlayConfig struct {
	// FontName is the overlay typeface. Defaults to a platform
	// monospace face when empty.
	FontName string `toml:"font_name" json:"font_name" yaml:"font_name"`

	// FontSize is the overlay text size in points.
	FontSize int `toml:"font_size" json:"font_size" yaml:"font_size"`

	// TextColor is the ghost text color as RGBA components in 0..1.
	TextColor [4]float64 `toml:"text_color" json:"text_color" yaml:"text_color"`

	// BackgroundColor is the overlay background as RGBA components
	// in 0..1. Zero alpha requests a transparent background.
	BackgroundColor [4]float64 `toml:"background_color" json:"background_color" yaml:"background_color"`

	// OffsetX and OffsetY shift the overlay from the caret anchor,
	// in pixels.
	OffsetX int `toml:"offset_x" json:"offset_x" yaml:"offset_x"`
	OffsetY int `toml:"offset_y" json:"offset_y" yaml:"offset_y"`
}

// DaemonConfig holds background process and IPC configuration.
type DaemonConfig struct {
	// SocketPath is the Unix socket path (or named pipe on Windows).
	SocketPath string `toml:"socket_path" json:"socket_path" yaml:"socket_path"`

	// MaxClients is the maximum concurrent IPC connections.
	MaxClients int `toml:"max_clients" json:"max_clients" yaml:"max_clients"`

	// Metrics determines whether counters are collected and served
	// over IPC.
	Metrics bool `toml:"metrics" json:"metrics" yaml:"metrics"`

	// PidFile is the path to the PID file.
	PidFile string `toml:"pid_file" json:"pid_file" yaml:"pid_file"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// File is the log file path. Empty disables file output.
	File string `toml:"file" json:"file" yaml:"file"`

	// MaxSizeMB is the maximum log file size before rotation.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// Console determines whether logs are also written to stderr.
	Console bool `toml:"console" json:"console" yaml:"console"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: Version,
		Engine: EngineConfig{
			DebounceMs:        300,
			ContextLength:     100,
			FocusPollMs:       500,
			EnableFocusEvents: false,
		},
		Overlay: OverlayConfig{
			FontName:        defaultFontName(),
			FontSize:        14,
			TextColor:       [4]float64{0.5, 0.5, 0.5, 0.7},
			BackgroundColor: [4]float64{0, 0, 0, 0},
			OffsetX:         2,
			OffsetY:         0,
		},
		Daemon: DaemonConfig{
			SocketPath: getDefaultSocketPath(PlatformRuntimeDir()),
			MaxClients: 8,
			Metrics:    true,
			PidFile:    filepath.Join(PlatformRuntimeDir(), "ghostd.pid"),
		},
		Logging: LoggingConfig{
			Level:     "info",
			Format:    "text",
			File:      filepath.Join(PlatformLogDir(), "ghostd.log"),
			MaxSizeMB: 10,
			Console:   true,
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// GhostdDir returns the base ghostd data directory.
// Uses platform-specific paths or the GHOSTD_DATA_DIR environment override.
func GhostdDir() string {
	if envDir := os.Getenv("GHOSTD_DATA_DIR"); envDir != "" {
		return envDir
	}
	return PlatformDataDir()
}

// Load reads configuration from the specified path.
// If the file doesn't exist, returns default configuration.
// Supports TOML, JSON, and YAML formats based on file extension.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}

	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates all directories the daemon writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Daemon.PidFile),
	}
	if c.Logging.File != "" {
		dirs = append(dirs, filepath.Dir(c.Logging.File))
	}
	if c.Daemon.SocketPath != "" && runtime.GOOS != "windows" {
		dirs = append(dirs, filepath.Dir(c.Daemon.SocketPath))
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with GHOSTD_ and use underscores.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v := os.Getenv("GHOSTD_SOCKET"); v != "" {
		c.Daemon.SocketPath = v
	}
	if v := os.Getenv("GHOSTD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("GHOSTD_LOG_PATH"); v != "" {
		c.Logging.File = v
	}
	if v := os.Getenv("GHOSTD_PID_FILE"); v != "" {
		c.Daemon.PidFile = v
	}
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	clone := &Config{
		Version: c.Version,
		Engine:  c.Engine,
		Overlay: c.Overlay,
		Daemon:  c.Daemon,
		Logging: c.Logging,
	}
	return clone
}

// DebounceInterval returns the pause debounce as a duration.
func (c *Config) DebounceInterval() time.Duration {
	return time.Duration(c.Engine.DebounceMs) * time.Millisecond
}

// FocusPollInterval returns the focus watcher poll interval as a duration.
func (c *Config) FocusPollInterval() time.Duration {
	return time.Duration(c.Engine.FocusPollMs) * time.Millisecond
}

// Chainable setters, used by embedders that configure the engine in code.

// WithDebounce sets the pause debounce interval.
func (c *Config) WithDebounce(d time.Duration) *Config {
	c.Engine.DebounceMs = int(d / time.Millisecond)
	return c
}

// WithContextLength sets the maximum captured context length.
func (c *Config) WithContextLength(n int) *Config {
	c.Engine.ContextLength = n
	return c
}

// WithFocusEvents enables or disables focus-change events.
func (c *Config) WithFocusEvents(enabled bool) *Config {
	c.Engine.EnableFocusEvents = enabled
	return c
}

// WithFont sets the overlay typeface and size.
func (c *Config) WithFont(name string, size int) *Config {
	c.Overlay.FontName = name
	c.Overlay.FontSize = size
	return c
}

// WithTextColor sets the ghost text color. Components are 0..1.
func (c *Config) WithTextColor(r, g, b, a float64) *Config {
	c.Overlay.TextColor = [4]float64{r, g, b, a}
	return c
}

// WithBackgroundColor sets the overlay background color. Components are 0..1.
func (c *Config) WithBackgroundColor(r, g, b, a float64) *Config {
	c.Overlay.BackgroundColor = [4]float64{r, g, b, a}
	return c
}

// WithSocketPath sets the IPC socket path.
func (c *Config) WithSocketPath(path string) *Config {
	c.Daemon.SocketPath = path
	return c
}

// WithLogLevel sets the log level.
func (c *Config) WithLogLevel(level string) *Config {
	c.Logging.Level = level
	return c
}

// Helper functions

func defaultFontName() string {
	switch runtime.GOOS {
	case "windows":
		return "Consolas"
	default:
		// Core X11 font name; present on every X server.
		return "fixed"
	}
}
