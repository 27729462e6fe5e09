package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Remote   RemoteConfig   `yaml:"remote"`
	Auth     AuthConfig     `yaml:"auth"`
	Sync     SyncConfig     `yaml:"sync"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig contains local database settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RemoteConfig contains remote document store settings.
type RemoteConfig struct {
	BaseURL string   `yaml:"base_url"`
	APIKey  string   `yaml:"-"` // env-only, never in YAML
	Timeout Duration `yaml:"timeout"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	APIKey string `yaml:"-"` // env-only, never in YAML
}

// SyncConfig contains offline queue and connectivity settings.
type SyncConfig struct {
	ProbeInterval Duration `yaml:"probe_interval"`
	MaxRetries    int      `yaml:"max_retries"`
	StorageKey    string   `yaml:"storage_key"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration wraps time.Duration so YAML values can be written as "10s".
type Duration time.Duration

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

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load builds configuration with precedence: defaults, then the YAML file
// named by HEARTH_CONFIG_PATH (a missing file is fine), then HEARTH_* env
// overrides. Returns an immutable Config suitable for concurrent reads.
func Load() (*Config, error) {
	cfg := newDefaults()

	path := os.Getenv("HEARTH_CONFIG_PATH")
	if path == "" {
		path = "config/hearth.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile is Load with an explicit, required path.
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

func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Database: DatabaseConfig{
			Path: "data/hearth.db",
		},
		Remote: RemoteConfig{
			BaseURL: "http://localhost:9090",
			Timeout: Duration(30 * time.Second),
		},
		Sync: SyncConfig{
			ProbeInterval: Duration(10 * time.Second),
			MaxRetries:    3,
			StorageKey:    "hearth_offline_queue",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// applyEnvOverrides folds HEARTH_* environment variables into the config.
// Empty and malformed values are ignored, leaving the prior value in place.
func applyEnvOverrides(cfg *Config) {
	envString("HEARTH_DB_PATH", &cfg.Database.Path)
	envString("HEARTH_REMOTE_URL", &cfg.Remote.BaseURL)
	envString("HEARTH_REMOTE_API_KEY", &cfg.Remote.APIKey)
	envString("HEARTH_API_KEY", &cfg.Auth.APIKey)
	envString("HEARTH_STORAGE_KEY", &cfg.Sync.StorageKey)
	envString("HEARTH_LOG_LEVEL", &cfg.Log.Level)
	envString("HEARTH_LOG_FORMAT", &cfg.Log.Format)

	envInt("HEARTH_PORT", &cfg.Server.Port)
	envInt("HEARTH_MAX_RETRIES", &cfg.Sync.MaxRetries)

	envDuration("HEARTH_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("HEARTH_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("HEARTH_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	envDuration("HEARTH_REMOTE_TIMEOUT", &cfg.Remote.Timeout)
	envDuration("HEARTH_PROBE_INTERVAL", &cfg.Sync.ProbeInterval)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(key string, dst *Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}

// validate checks that required configuration values are set.
// In dev mode (HEARTH_DEV_MODE=true), API key validation is skipped.
func (c *Config) validate() error {
	if c.Sync.MaxRetries < 1 {
		return errors.New("sync.max_retries must be at least 1")
	}
	if time.Duration(c.Sync.ProbeInterval) <= 0 {
		return errors.New("sync.probe_interval must be positive")
	}

	if os.Getenv("HEARTH_DEV_MODE") == "true" {
		return nil
	}

	if c.Remote.APIKey == "" {
		return errors.New("HEARTH_REMOTE_API_KEY is required")
	}
	if c.Auth.APIKey == "" {
		return errors.New("HEARTH_API_KEY is required")
	}
	return nil
}
