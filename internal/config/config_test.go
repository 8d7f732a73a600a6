package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// Helper to clear all config-related env vars
func clearEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"SEMBLANCE_DEVICE_NAME",
		"SEMBLANCE_DEVICE_TYPE",
		"SEMBLANCE_DEVICE_PLATFORM",
		"SEMBLANCE_IDENTITY_PATH",
		"SEMBLANCE_SYNC_PORT",
		"SEMBLANCE_SYNC_INTERVAL",
		"SEMBLANCE_REQUEST_TIMEOUT",
		"SEMBLANCE_SHUTDOWN_TIMEOUT",
		"SEMBLANCE_DB_PATH",
		"SEMBLANCE_DISCOVERY_ENABLED",
		"SEMBLANCE_BROWSE_INTERVAL",
		"SEMBLANCE_LOG_LEVEL",
		"SEMBLANCE_LOG_FORMAT",
		"SEMBLANCE_CONFIG_PATH",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}
}

// dur converts Duration to time.Duration for comparison
func dur(d Duration) time.Duration {
	return time.Duration(d)
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	// Point at a path that does not exist so any config/syncd.yaml in the
	// working directory cannot leak into the test.
	os.Setenv("SEMBLANCE_CONFIG_PATH", filepath.Join(t.TempDir(), "absent.yaml"))
	defer os.Unsetenv("SEMBLANCE_CONFIG_PATH")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Device.Name == "" {
		t.Error("Device.Name should default to the hostname")
	}
	if cfg.Device.Type != "desktop" {
		t.Errorf("Device.Type = %q, want %q", cfg.Device.Type, "desktop")
	}
	if cfg.Device.IdentityPath != "data/identity.json" {
		t.Errorf("Device.IdentityPath = %q", cfg.Device.IdentityPath)
	}

	if cfg.Sync.Port != 7463 {
		t.Errorf("Sync.Port = %d, want 7463", cfg.Sync.Port)
	}
	if dur(cfg.Sync.Interval) != 60*time.Second {
		t.Errorf("Sync.Interval = %v, want 60s", cfg.Sync.Interval)
	}
	if dur(cfg.Sync.RequestTimeout) != 10*time.Second {
		t.Errorf("Sync.RequestTimeout = %v, want 10s", cfg.Sync.RequestTimeout)
	}
	if dur(cfg.Sync.ShutdownTimeout) != 15*time.Second {
		t.Errorf("Sync.ShutdownTimeout = %v, want 15s", cfg.Sync.ShutdownTimeout)
	}

	if cfg.Database.Path != "data/syncd.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "data/syncd.db")
	}

	if !cfg.Discovery.Enabled {
		t.Error("Discovery.Enabled should default to true")
	}
	if dur(cfg.Discovery.BrowseInterval) != 15*time.Second {
		t.Errorf("Discovery.BrowseInterval = %v, want 15s", cfg.Discovery.BrowseInterval)
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	clearEnv(t)
	defer clearEnv(t)

	os.Setenv("SEMBLANCE_CONFIG_PATH", filepath.Join(t.TempDir(), "absent.yaml"))
	os.Setenv("SEMBLANCE_DEVICE_NAME", "Work Laptop")
	os.Setenv("SEMBLANCE_DEVICE_TYPE", "mobile")
	os.Setenv("SEMBLANCE_SYNC_PORT", "9000")
	os.Setenv("SEMBLANCE_SYNC_INTERVAL", "2m")
	os.Setenv("SEMBLANCE_DB_PATH", "/tmp/custom.db")
	os.Setenv("SEMBLANCE_DISCOVERY_ENABLED", "false")
	os.Setenv("SEMBLANCE_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Device.Name != "Work Laptop" {
		t.Errorf("Device.Name = %q", cfg.Device.Name)
	}
	if cfg.Device.Type != "mobile" {
		t.Errorf("Device.Type = %q", cfg.Device.Type)
	}
	if cfg.Sync.Port != 9000 {
		t.Errorf("Sync.Port = %d", cfg.Sync.Port)
	}
	if dur(cfg.Sync.Interval) != 2*time.Minute {
		t.Errorf("Sync.Interval = %v", cfg.Sync.Interval)
	}
	if cfg.Database.Path != "/tmp/custom.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.Discovery.Enabled {
		t.Error("Discovery.Enabled should be overridden to false")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

func TestLoadFromFile_ValidYAML(t *testing.T) {
	clearEnv(t)

	yamlContent := `
device:
  name: "Living Room PC"
  type: "desktop"
  platform: "linux"
sync:
  port: 7500
  interval: "30s"
database:
  path: "/var/lib/syncd/syncd.db"
discovery:
  enabled: false
log:
  level: "warn"
  format: "text"
`
	path := filepath.Join(t.TempDir(), "syncd.yaml")
	if err := os.WriteFile(path, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Device.Name != "Living Room PC" {
		t.Errorf("Device.Name = %q", cfg.Device.Name)
	}
	if cfg.Sync.Port != 7500 {
		t.Errorf("Sync.Port = %d", cfg.Sync.Port)
	}
	if dur(cfg.Sync.Interval) != 30*time.Second {
		t.Errorf("Sync.Interval = %v", cfg.Sync.Interval)
	}
	if cfg.Discovery.Enabled {
		t.Error("Discovery.Enabled should be false from YAML")
	}
	if cfg.Log.Level != "warn" || cfg.Log.Format != "text" {
		t.Errorf("Log = %+v", cfg.Log)
	}

	// Unspecified sections keep their defaults.
	if dur(cfg.Sync.ShutdownTimeout) != 15*time.Second {
		t.Errorf("Sync.ShutdownTimeout = %v, want default 15s", cfg.Sync.ShutdownTimeout)
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	clearEnv(t)
	defer clearEnv(t)

	yamlContent := `
sync:
  port: 7500
`
	path := filepath.Join(t.TempDir(), "syncd.yaml")
	if err := os.WriteFile(path, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	os.Setenv("SEMBLANCE_CONFIG_PATH", path)
	os.Setenv("SEMBLANCE_SYNC_PORT", "9100")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Sync.Port != 9100 {
		t.Errorf("Sync.Port = %d, want env override 9100", cfg.Sync.Port)
	}
}

func TestLoadFromFile_InvalidYAML(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "syncd.yaml")
	if err := os.WriteFile(path, []byte("device: [unterminated"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := LoadFromFile(path); err == nil {
		t.Error("LoadFromFile() should fail on malformed YAML")
	}
}

func TestLoadFromFile_InvalidDuration(t *testing.T) {
	clearEnv(t)

	yamlContent := `
sync:
  interval: "not-a-duration"
`
	path := filepath.Join(t.TempDir(), "syncd.yaml")
	if err := os.WriteFile(path, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err := LoadFromFile(path)
	if err == nil {
		t.Fatal("LoadFromFile() should fail on invalid duration")
	}
	if !strings.Contains(err.Error(), "invalid duration") {
		t.Errorf("error = %v, want invalid duration", err)
	}
}

func TestValidate_RejectsBadValues(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown device type", func(c *Config) { c.Device.Type = "tablet" }},
		{"empty device name", func(c *Config) { c.Device.Name = "" }},
		{"port zero", func(c *Config) { c.Sync.Port = 0 }},
		{"port too large", func(c *Config) { c.Sync.Port = 70000 }},
		{"zero interval", func(c *Config) { c.Sync.Interval = 0 }},
		{"empty db path", func(c *Config) { c.Database.Path = "" }},
		{"unknown log level", func(c *Config) { c.Log.Level = "verbose" }},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newDefaults()
			tt.mutate(cfg)
			if err := cfg.validate(); err == nil {
				t.Error("validate() should reject the config")
			}
		})
	}
}

func TestLoad_MissingConfigFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	os.Setenv("SEMBLANCE_CONFIG_PATH", filepath.Join(t.TempDir(), "nope.yaml"))
	defer os.Unsetenv("SEMBLANCE_CONFIG_PATH")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() with missing file error = %v", err)
	}
	if cfg.Sync.Port != 7463 {
		t.Errorf("Sync.Port = %d, want default", cfg.Sync.Port)
	}
}
