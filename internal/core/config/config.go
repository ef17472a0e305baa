package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/rentpulse-lab/project-rentpulse/internal/core/whitelist"
)

// Config is the top-level application config plus the resolved filter
// whitelist.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Database    DatabaseConfig    `koanf:"database"`
	Whitelist   WhitelistConfig   `koanf:"whitelist"`
	Aggregation AggregationConfig `koanf:"aggregation"`
	Metrics     MetricsConfig     `koanf:"metrics"`
	Reconcile   ReconcileConfig   `koanf:"reconcile"`

	// Filters is populated by Load after parsing the whitelist file.
	Filters *whitelist.Whitelist `koanf:"-"`
}

type ServerConfig struct {
	Port          int    `koanf:"port"`
	Host          string `koanf:"host"`
	MaxBodySizeMB int    `koanf:"max_body_size_mb"`
	Mode          string `koanf:"mode"` // debug | release
}

type DatabaseConfig struct {
	Type         string `koanf:"type"`
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

// WhitelistConfig points at an optional YAML file overriding the built-in
// amenity whitelist. An empty path means use the defaults.
type WhitelistConfig struct {
	Path string `koanf:"path"`
}

type AggregationConfig struct {
	Enabled      bool   `koanf:"enabled"`
	MaxRetries   int    `koanf:"max_retries"`
	RetryBackoff string `koanf:"retry_backoff"` // parsed and validated on startup
}

type MetricsConfig struct {
	JWTSecret       string `koanf:"jwt_secret"`
	TopFiltersLimit int    `koanf:"top_filters_limit"`
}

type ReconcileConfig struct {
	Enabled     bool   `koanf:"enabled"`
	Interval    string `koanf:"interval"`
	WorkerCount int    `koanf:"worker_count"`
}

func (c AggregationConfig) RetryBackoffDuration() time.Duration {
	d, err := time.ParseDuration(c.RetryBackoff)
	if err != nil {
		return 25 * time.Millisecond
	}
	return d
}

func (c ReconcileConfig) IntervalDuration() time.Duration {
	d, err := time.ParseDuration(c.Interval)
	if err != nil {
		return 10 * time.Minute
	}
	return d
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d (must be 1-65535)", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.MaxBodySizeMB <= 0 {
		return fmt.Errorf("server.max_body_size_mb must be > 0")
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return fmt.Errorf("invalid server.mode %q (must be debug or release)", c.Server.Mode)
	}

	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be > 0")
	}
	if c.Database.MaxIdleConns <= 0 {
		return fmt.Errorf("database.max_idle_conns must be > 0")
	}
	if c.Database.Type != "" && c.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database.type %q", c.Database.Type)
	}

	if c.Whitelist.Path != "" {
		if _, err := os.Stat(c.Whitelist.Path); err != nil {
			return fmt.Errorf("whitelist.path %q is not accessible: %w", c.Whitelist.Path, err)
		}
	}

	if c.Aggregation.MaxRetries <= 0 {
		return fmt.Errorf("aggregation.max_retries must be > 0")
	}
	backoff, err := time.ParseDuration(c.Aggregation.RetryBackoff)
	if err != nil {
		return fmt.Errorf("invalid aggregation.retry_backoff %q: %w", c.Aggregation.RetryBackoff, err)
	}
	if backoff <= 0 {
		return fmt.Errorf("aggregation.retry_backoff must be > 0")
	}

	if strings.TrimSpace(c.Metrics.JWTSecret) == "" {
		return fmt.Errorf("metrics.jwt_secret is required")
	}
	if c.Metrics.TopFiltersLimit <= 0 || c.Metrics.TopFiltersLimit > 10 {
		return fmt.Errorf("metrics.top_filters_limit must be 1-10")
	}

	if c.Reconcile.Enabled {
		interval, err := time.ParseDuration(c.Reconcile.Interval)
		if err != nil {
			return fmt.Errorf("invalid reconcile.interval %q: %w", c.Reconcile.Interval, err)
		}
		if interval <= 0 {
			return fmt.Errorf("reconcile.interval must be > 0")
		}
		if c.Reconcile.WorkerCount <= 0 {
			return fmt.Errorf("reconcile.worker_count must be > 0")
		}
	}

	return nil
}

// Load parses config from file + env, validates it, then resolves the filter
// whitelist.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port":               8080,
		"server.host":               "0.0.0.0",
		"server.max_body_size_mb":   1,
		"server.mode":               "release",
		"database.type":             "postgres",
		"database.dsn":              "",
		"database.max_open_conns":   25,
		"database.max_idle_conns":   25,
		"database.auto_migrate":     true,
		"whitelist.path":            "",
		"aggregation.enabled":       true,
		"aggregation.max_retries":   5,
		"aggregation.retry_backoff": "25ms",
		"metrics.jwt_secret":        "",
		"metrics.top_filters_limit": 10,
		"reconcile.enabled":         true,
		"reconcile.interval":        "10m",
		"reconcile.worker_count":    4,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("RENTPULSE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "RENTPULSE_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	filters, err := whitelist.Load(cfg.Whitelist.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load filter whitelist: %w", err)
	}
	cfg.Filters = filters

	return &cfg, nil
}
