// Package config loads offsync configuration from an optional YAML file,
// OFFSYNC_* environment variables and defaults.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/roach88/offsync/internal/model"
)

// EnvPrefix is the prefix of environment overrides: sync.endpoint is read
// from OFFSYNC_SYNC_ENDPOINT.
const EnvPrefix = "OFFSYNC"

// Config holds all configuration for an offsync client.
type Config struct {
	Database string   `mapstructure:"database"`
	Tenant   string   `mapstructure:"tenant"`
	ClientID string   `mapstructure:"client_id"`
	Entities []string `mapstructure:"entities"`

	Sync    SyncConfig    `mapstructure:"sync"`
	Network NetworkConfig `mapstructure:"network"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// SyncConfig holds the sync endpoint and cycle timing.
type SyncConfig struct {
	Endpoint     string        `mapstructure:"endpoint"`
	AuthToken    string        `mapstructure:"auth_token"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Interval     time.Duration `mapstructure:"interval"`
	ClaimTimeout time.Duration `mapstructure:"claim_timeout"`
	BackoffMin   time.Duration `mapstructure:"backoff_min"`
	BackoffMax   time.Duration `mapstructure:"backoff_max"`
}

// NetworkConfig holds connectivity detection settings. With no health URL
// the monitor relies on host interfaces alone.
type NetworkConfig struct {
	HealthURL     string        `mapstructure:"health_url"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
	InitialOnline bool          `mapstructure:"initial_online"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Load reads configuration from configPath (optional), the environment and
// defaults, then validates it.
func Load(configPath string) (*Config, error) {
	return LoadViper(viper.New(), configPath)
}

// LoadViper is Load on a caller-supplied viper instance, so command-line
// flags bound to v take precedence over file and environment.
func LoadViper(v *viper.Viper, configPath string) (*Config, error) {
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Entities = splitList(cfg.Entities)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults alone always decode.
	_ = v.Unmarshal(&cfg)
	cfg.Entities = splitList(cfg.Entities)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database", "offsync.db")
	v.SetDefault("tenant", "")
	v.SetDefault("client_id", "")
	v.SetDefault("entities", []string{})

	v.SetDefault("sync.endpoint", "")
	v.SetDefault("sync.auth_token", "")
	v.SetDefault("sync.timeout", "30s")
	v.SetDefault("sync.interval", "5m")
	v.SetDefault("sync.claim_timeout", "10m")
	v.SetDefault("sync.backoff_min", "1s")
	v.SetDefault("sync.backoff_max", "5m")

	v.SetDefault("network.health_url", "")
	v.SetDefault("network.probe_interval", "30s")
	v.SetDefault("network.probe_timeout", "5s")
	v.SetDefault("network.initial_online", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9464")
}

// Validate checks if the configuration is valid. The sync endpoint is not
// required: commands that never talk to the server work without it.
func (c *Config) Validate() error {
	if c.Database == "" {
		return errors.New("database path is required")
	}
	if _, err := c.EntityTypes(); err != nil {
		return err
	}

	if c.Sync.Endpoint != "" {
		if err := checkURL("sync endpoint", c.Sync.Endpoint); err != nil {
			return err
		}
	}
	if c.Network.HealthURL != "" {
		if err := checkURL("health url", c.Network.HealthURL); err != nil {
			return err
		}
	}

	for name, d := range map[string]time.Duration{
		"sync timeout":           c.Sync.Timeout,
		"sync interval":          c.Sync.Interval,
		"sync claim timeout":     c.Sync.ClaimTimeout,
		"sync backoff min":       c.Sync.BackoffMin,
		"network probe interval": c.Network.ProbeInterval,
		"network probe timeout":  c.Network.ProbeTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.Sync.BackoffMax < c.Sync.BackoffMin {
		return fmt.Errorf("sync backoff max (%s) is below backoff min (%s)", c.Sync.BackoffMax, c.Sync.BackoffMin)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level %q", c.Logging.Level)
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return errors.New("metrics addr is required when metrics are enabled")
	}
	return nil
}

// EntityTypes resolves the configured entity types. Empty means every
// known type.
func (c *Config) EntityTypes() ([]model.EntityType, error) {
	types := make([]model.EntityType, 0, len(c.Entities))
	for _, name := range c.Entities {
		types = append(types, model.EntityType(name))
	}
	if _, err := model.NewRegistry(types...); err != nil {
		return nil, err
	}
	return types, nil
}

// Registry builds the entity registry for the configured types.
func (c *Config) Registry() (*model.Registry, error) {
	types, err := c.EntityTypes()
	if err != nil {
		return nil, err
	}
	return model.NewRegistry(types...)
}

func checkURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid %s %q: scheme must be http or https", name, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid %s %q: missing host", name, raw)
	}
	return nil
}

// splitList accepts both YAML lists and the comma-separated form used in
// environment variables.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
