// Package config handles configuration loading, validation, and management
// for tabanywhered.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds the complete daemon configuration.
type Config struct {
	// Source configuration for the accessibility event source.
	Source SourceConfig `toml:"source" json:"source" yaml:"source"`

	// Debounce configuration for suggestion triggering.
	Debounce DebounceConfig `toml:"debounce" json:"debounce" yaml:"debounce"`

	// Provider configuration for the suggestion backend.
	Provider ProviderConfig `toml:"provider" json:"provider" yaml:"provider"`

	// Injection configuration for text insertion.
	Injection InjectionConfig `toml:"injection" json:"injection" yaml:"injection"`

	// Overlay configuration for the suggestion window.
	Overlay OverlayConfig `toml:"overlay" json:"overlay" yaml:"overlay"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// IPC configuration for the control socket.
	IPC IPCConfig `toml:"ipc" json:"ipc" yaml:"ipc"`
}

// SourceConfig holds accessibility event source configuration.
type SourceConfig struct {
	// Backend selects the event source implementation.
	// "atspi" (Linux accessibility bus) or "auto".
	Backend string `toml:"backend" json:"backend" yaml:"backend"`

	// EligibleRoles are accessibility role substrings that qualify a field
	// for suggestions. A focused element whose role matches none of these
	// is ignored.
	EligibleRoles []string `toml:"eligible_roles" json:"eligible_roles" yaml:"eligible_roles"`

	// IgnoredApplications are application names whose fields never receive
	// suggestions.
	IgnoredApplications []string `toml:"ignored_applications" json:"ignored_applications" yaml:"ignored_applications"`
}

// DebounceConfig holds suggestion trigger timing configuration.
type DebounceConfig struct {
	// QuietPeriodMs is how long typing must be quiet before a suggestion
	// request is issued.
	QuietPeriodMs int `toml:"quiet_period_ms" json:"quiet_period_ms" yaml:"quiet_period_ms"`

	// MinIntervalMs is the hard minimum interval between two suggestion
	// requests, independent of the quiet period.
	MinIntervalMs int `toml:"min_interval_ms" json:"min_interval_ms" yaml:"min_interval_ms"`
}

// ProviderConfig holds suggestion provider configuration.
type ProviderConfig struct {
	// Mode selects the provider implementation: "http" or "stub".
	Mode string `toml:"mode" json:"mode" yaml:"mode"`

	// Endpoint is the completion endpoint URL for the http provider.
	Endpoint string `toml:"endpoint" json:"endpoint" yaml:"endpoint"`

	// TimeoutMs bounds each provider request.
	TimeoutMs int `toml:"timeout_ms" json:"timeout_ms" yaml:"timeout_ms"`

	// MaxTokens limits the completion length requested from the provider.
	MaxTokens int `toml:"max_tokens" json:"max_tokens" yaml:"max_tokens"`

	// Temperature is the sampling temperature sent to the provider.
	Temperature float64 `toml:"temperature" json:"temperature" yaml:"temperature"`

	// CacheSize is the number of entries kept in the in-memory suggestion
	// cache. Zero disables caching.
	CacheSize int `toml:"cache_size" json:"cache_size" yaml:"cache_size"`
}

// InjectionConfig holds text insertion configuration.
type InjectionConfig struct {
	// PasteSettleMs is how long to wait after triggering a paste before
	// restoring the clipboard.
	PasteSettleMs int `toml:"paste_settle_ms" json:"paste_settle_ms" yaml:"paste_settle_ms"`

	// ToolTimeoutMs bounds each external clipboard/paste tool invocation.
	ToolTimeoutMs int `toml:"tool_timeout_ms" json:"tool_timeout_ms" yaml:"tool_timeout_ms"`
}

// OverlayConfig holds suggestion overlay configuration.
type OverlayConfig struct {
	// Enabled controls whether the overlay window is shown at all.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// MaxWidth is the maximum overlay width in pixels.
	MaxWidth int `toml:"max_width" json:"max_width" yaml:"max_width"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is "stdout", "stderr", "file", or "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file path when Output includes "file".
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the log file size limit before rotation.
	MaxSizeMB int64 `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of rotated log files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
}

// IPCConfig holds control socket configuration.
type IPCConfig struct {
	// Enabled controls whether the control socket is served.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// SocketPath is the unix socket path. Empty uses the runtime default.
	SocketPath string `toml:"socket_path" json:"socket_path" yaml:"socket_path"`
}

// DefaultConfig returns the default daemon configuration.
func DefaultConfig() *Config {
	return &Config{
		Source: SourceConfig{
			Backend:       "auto",
			EligibleRoles: []string{"entry", "text", "edit"},
		},
		Debounce: DebounceConfig{
			QuietPeriodMs: 500,
			MinIntervalMs: 300,
		},
		Provider: ProviderConfig{
			Mode:        "http",
			Endpoint:    "http://localhost:8000/v1/completions",
			TimeoutMs:   5000,
			MaxTokens:   25,
			Temperature: 0.7,
			CacheSize:   128,
		},
		Injection: InjectionConfig{
			PasteSettleMs: 100,
			ToolTimeoutMs: 2000,
		},
		Overlay: OverlayConfig{
			Enabled:  true,
			MaxWidth: 480,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			MaxSizeMB:  20,
			MaxBackups: 3,
		},
		IPC: IPCConfig{
			Enabled: true,
		},
	}
}

// QuietPeriod returns the debounce quiet period as a duration.
func (c *DebounceConfig) QuietPeriod() time.Duration {
	return time.Duration(c.QuietPeriodMs) * time.Millisecond
}

// MinInterval returns the hard minimum inter-request interval.
func (c *DebounceConfig) MinInterval() time.Duration {
	return time.Duration(c.MinIntervalMs) * time.Millisecond
}

// Timeout returns the provider request timeout.
func (c *ProviderConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// PasteSettle returns the post-paste settle delay.
func (c *InjectionConfig) PasteSettle() time.Duration {
	return time.Duration(c.PasteSettleMs) * time.Millisecond
}

// ToolTimeout returns the external tool invocation timeout.
func (c *InjectionConfig) ToolTimeout() time.Duration {
	return time.Duration(c.ToolTimeoutMs) * time.Millisecond
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Source.Backend {
	case "auto", "atspi":
	default:
		return fmt.Errorf("source.backend: unknown backend %q", c.Source.Backend)
	}
	if len(c.Source.EligibleRoles) == 0 {
		return fmt.Errorf("source.eligible_roles: must not be empty")
	}
	if c.Debounce.QuietPeriodMs <= 0 {
		return fmt.Errorf("debounce.quiet_period_ms: must be positive, got %d", c.Debounce.QuietPeriodMs)
	}
	if c.Debounce.MinIntervalMs < 0 {
		return fmt.Errorf("debounce.min_interval_ms: must not be negative, got %d", c.Debounce.MinIntervalMs)
	}
	switch c.Provider.Mode {
	case "http":
		if c.Provider.Endpoint == "" {
			return fmt.Errorf("provider.endpoint: required for http mode")
		}
	case "stub":
	default:
		return fmt.Errorf("provider.mode: unknown mode %q", c.Provider.Mode)
	}
	if c.Provider.TimeoutMs <= 0 {
		return fmt.Errorf("provider.timeout_ms: must be positive, got %d", c.Provider.TimeoutMs)
	}
	if c.Provider.Temperature < 0 || c.Provider.Temperature > 2 {
		return fmt.Errorf("provider.temperature: must be in [0, 2], got %g", c.Provider.Temperature)
	}
	if c.Provider.CacheSize < 0 {
		return fmt.Errorf("provider.cache_size: must not be negative, got %d", c.Provider.CacheSize)
	}
	if c.Injection.PasteSettleMs < 0 {
		return fmt.Errorf("injection.paste_settle_ms: must not be negative, got %d", c.Injection.PasteSettleMs)
	}
	if c.Injection.ToolTimeoutMs <= 0 {
		return fmt.Errorf("injection.tool_timeout_ms: must be positive, got %d", c.Injection.ToolTimeoutMs)
	}
	if _, err := parseLevelName(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}

// parseLevelName validates a log level name without importing the logging
// package (config must stay leaf-level).
func parseLevelName(s string) (string, error) {
	switch strings.ToLower(s) {
	case "debug", "info", "warn", "warning", "error":
		return strings.ToLower(s), nil
	default:
		return "", fmt.Errorf("unknown log level: %s", s)
	}
}

// ApplyEnvOverrides applies environment variable overrides.
// Variables are prefixed with TABANYWHERE_ and use underscores.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("TABANYWHERE_PROVIDER_ENDPOINT"); v != "" {
		c.Provider.Endpoint = v
	}
	if v := os.Getenv("TABANYWHERE_PROVIDER_MODE"); v != "" {
		c.Provider.Mode = v
	}
	if v := os.Getenv("TABANYWHERE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("TABANYWHERE_SOCKET_PATH"); v != "" {
		c.IPC.SocketPath = v
	}
	if v := os.Getenv("TABANYWHERE_QUIET_PERIOD_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			c.Debounce.QuietPeriodMs = ms
		}
	}
}

// DefaultSocketPath returns the default control socket path.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "tabanywhere", "tabanywhered.sock")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".tabanywhere", "tabanywhered.sock")
}

// DefaultConfigPath returns the default configuration file path.
func DefaultConfigPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "tabanywhere", "config.toml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "tabanywhere", "config.toml")
}
