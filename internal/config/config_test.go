package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Debounce.QuietPeriod() != 500*time.Millisecond {
		t.Errorf("quiet period = %v, want 500ms", cfg.Debounce.QuietPeriod())
	}
	if cfg.Debounce.MinInterval() != 300*time.Millisecond {
		t.Errorf("min interval = %v, want 300ms", cfg.Debounce.MinInterval())
	}
	if cfg.Provider.Mode != "http" {
		t.Errorf("provider mode = %q, want http", cfg.Provider.Mode)
	}
	if len(cfg.Source.EligibleRoles) == 0 {
		t.Error("eligible roles should not be empty")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		valid  bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"stub provider without endpoint", func(c *Config) {
			c.Provider.Mode = "stub"
			c.Provider.Endpoint = ""
		}, true},
		{"zero quiet period", func(c *Config) { c.Debounce.QuietPeriodMs = 0 }, false},
		{"negative min interval", func(c *Config) { c.Debounce.MinIntervalMs = -1 }, false},
		{"unknown provider mode", func(c *Config) { c.Provider.Mode = "carrier-pigeon" }, false},
		{"http provider without endpoint", func(c *Config) { c.Provider.Endpoint = "" }, false},
		{"temperature out of range", func(c *Config) { c.Provider.Temperature = 3.5 }, false},
		{"unknown backend", func(c *Config) { c.Source.Backend = "uia" }, false},
		{"no eligible roles", func(c *Config) { c.Source.EligibleRoles = nil }, false},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, false},
		{"zero tool timeout", func(c *Config) { c.Injection.ToolTimeoutMs = 0 }, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := DefaultConfig()
			test.mutate(cfg)
			err := cfg.Validate()
			if test.valid && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !test.valid && err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	content := `
[debounce]
quiet_period_ms = 250

[provider]
mode = "stub"
max_tokens = 40
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(path)
	defer loader.Close()

	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Debounce.QuietPeriodMs != 250 {
		t.Errorf("quiet_period_ms = %d, want 250", cfg.Debounce.QuietPeriodMs)
	}
	if cfg.Provider.Mode != "stub" {
		t.Errorf("provider mode = %q, want stub", cfg.Provider.Mode)
	}
	if cfg.Provider.MaxTokens != 40 {
		t.Errorf("max_tokens = %d, want 40", cfg.Provider.MaxTokens)
	}
	// Unset fields keep their defaults.
	if cfg.Debounce.MinIntervalMs != 300 {
		t.Errorf("min_interval_ms = %d, want default 300", cfg.Debounce.MinIntervalMs)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := "provider:\n  mode: stub\n  timeout_ms: 1500\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Provider.TimeoutMs != 1500 {
		t.Errorf("timeout_ms = %d, want 1500", cfg.Provider.TimeoutMs)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader(filepath.Join(t.TempDir(), "nope.toml")).Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Debounce.QuietPeriodMs != 500 {
		t.Errorf("expected defaults, got quiet_period_ms = %d", cfg.Debounce.QuietPeriodMs)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TABANYWHERE_PROVIDER_ENDPOINT", "http://example.test/v1/completions")
	t.Setenv("TABANYWHERE_QUIET_PERIOD_MS", "750")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	if cfg.Provider.Endpoint != "http://example.test/v1/completions" {
		t.Errorf("endpoint override not applied: %q", cfg.Provider.Endpoint)
	}
	if cfg.Debounce.QuietPeriodMs != 750 {
		t.Errorf("quiet period override not applied: %d", cfg.Debounce.QuietPeriodMs)
	}
}

func TestWatchReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[debounce]\nquiet_period_ms = 400\n"), 0600); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(path)
	defer loader.Close()

	if _, err := loader.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	changed := make(chan *Config, 1)
	loader.OnChange(func(c *Config) {
		select {
		case changed <- c:
		default:
		}
	})

	if err := loader.Watch(); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	if err := os.WriteFile(path, []byte("[debounce]\nquiet_period_ms = 900\n"), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-changed:
		if cfg.Debounce.QuietPeriodMs != 900 {
			t.Errorf("reloaded quiet_period_ms = %d, want 900", cfg.Debounce.QuietPeriodMs)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload callback")
	}
}
