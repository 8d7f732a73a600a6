package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/semblance-app/syncd/internal/types"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Sync      SyncConfig      `yaml:"sync"`
	Database  DatabaseConfig  `yaml:"database"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Log       LogConfig       `yaml:"log"`
}

// DeviceConfig describes the local device identity advertised to peers.
type DeviceConfig struct {
	Name         string `yaml:"name"`
	Type         string `yaml:"type"`
	Platform     string `yaml:"platform"`
	IdentityPath string `yaml:"identity_path"`
}

// SyncConfig contains sync server and scheduling settings.
type SyncConfig struct {
	Port            int      `yaml:"port"`
	Interval        Duration `yaml:"interval"`
	RequestTimeout  Duration `yaml:"request_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig contains database settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// DiscoveryConfig contains mDNS discovery settings.
type DiscoveryConfig struct {
	Enabled        bool     `yaml:"enabled"`
	BrowseInterval Duration `yaml:"browse_interval"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("SEMBLANCE_CONFIG_PATH", "config/syncd.yaml")

	// Missing file is not an error; defaults plus env cover it
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	name, err := os.Hostname()
	if err != nil || name == "" {
		name = "semblance-device"
	}

	return &Config{
		Device: DeviceConfig{
			Name:         name,
			Type:         string(types.DeviceTypeDesktop),
			Platform:     runtime.GOOS,
			IdentityPath: "data/identity.json",
		},
		Sync: SyncConfig{
			Port:            7463,
			Interval:        Duration(types.DefaultSyncInterval),
			RequestTimeout:  Duration(10 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Database: DatabaseConfig{
			Path: "data/syncd.db",
		},
		Discovery: DiscoveryConfig{
			Enabled:        true,
			BrowseInterval: Duration(15 * time.Second),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
// Missing file is not an error; we just use defaults.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Device
	if v := os.Getenv("SEMBLANCE_DEVICE_NAME"); v != "" {
		cfg.Device.Name = v
	}
	if v := os.Getenv("SEMBLANCE_DEVICE_TYPE"); v != "" {
		cfg.Device.Type = v
	}
	if v := os.Getenv("SEMBLANCE_DEVICE_PLATFORM"); v != "" {
		cfg.Device.Platform = v
	}
	if v := os.Getenv("SEMBLANCE_IDENTITY_PATH"); v != "" {
		cfg.Device.IdentityPath = v
	}

	// Sync
	if v := os.Getenv("SEMBLANCE_SYNC_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Sync.Port = port
		}
	}
	if v := os.Getenv("SEMBLANCE_SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.Interval = Duration(d)
		}
	}
	if v := os.Getenv("SEMBLANCE_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.RequestTimeout = Duration(d)
		}
	}
	if v := os.Getenv("SEMBLANCE_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.ShutdownTimeout = Duration(d)
		}
	}

	// Database
	if v := os.Getenv("SEMBLANCE_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Discovery
	if v := os.Getenv("SEMBLANCE_DISCOVERY_ENABLED"); v != "" {
		cfg.Discovery.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("SEMBLANCE_BROWSE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Discovery.BrowseInterval = Duration(d)
		}
	}

	// Log
	if v := os.Getenv("SEMBLANCE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SEMBLANCE_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// validate checks that configuration values are usable.
func (c *Config) validate() error {
	switch types.DeviceType(c.Device.Type) {
	case types.DeviceTypeDesktop, types.DeviceTypeMobile:
	default:
		return fmt.Errorf("invalid device type %q (want %q or %q)",
			c.Device.Type, types.DeviceTypeDesktop, types.DeviceTypeMobile)
	}

	if c.Device.Name == "" {
		return fmt.Errorf("device name must not be empty")
	}
	if c.Sync.Port < 1 || c.Sync.Port > 65535 {
		return fmt.Errorf("invalid sync port %d", c.Sync.Port)
	}
	if time.Duration(c.Sync.Interval) <= 0 {
		return fmt.Errorf("sync interval must be positive")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path must not be empty")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format %q", c.Log.Format)
	}

	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
