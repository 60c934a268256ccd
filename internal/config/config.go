// Package config loads and validates the application configuration from
// defaults, a YAML file and STRATA_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/strata-lab/strata/internal/snapshot"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Cache     CacheConfig     `koanf:"cache"`
	Snapshots SnapshotsConfig `koanf:"snapshots"`
	Retention RetentionConfig `koanf:"retention"`
	Publisher PublisherConfig `koanf:"publisher"`
}

type ServerConfig struct {
	Port          int    `koanf:"port"`
	Host          string `koanf:"host"`
	MaxBodySizeMB int    `koanf:"max_body_size_mb"`
	Mode          string `koanf:"mode"` // debug | release
}

type DatabaseConfig struct {
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

// CacheConfig bounds the hot tier.
type CacheConfig struct {
	MaxAggregates      int    `koanf:"max_aggregates"`
	MaxEventsPerStream int    `koanf:"max_events_per_stream"`
	TTL                string `koanf:"ttl"`
}

// SnapshotsConfig selects and tunes the snapshot strategy.
type SnapshotsConfig struct {
	// Strategy is one of "simple", "time", "adaptive".
	Strategy string `koanf:"strategy"`

	// Threshold is the simple strategy's event count.
	Threshold int64 `koanf:"threshold"`

	// Interval is the time-based strategy's wall-clock gap.
	Interval string `koanf:"interval"`

	Adaptive AdaptiveConfig `koanf:"adaptive"`
}

type AdaptiveConfig struct {
	BaseThreshold    int64   `koanf:"base_threshold"`
	MinThreshold     int64   `koanf:"min_threshold"`
	MaxThreshold     int64   `koanf:"max_threshold"`
	ComplexityWeight float64 `koanf:"complexity_weight"`
	AccessWeight     float64 `koanf:"access_weight"`
	TimeWeight       float64 `koanf:"time_weight"`
	ReferenceAge     string  `koanf:"reference_age"`
}

type RetentionConfig struct {
	Enabled     bool   `koanf:"enabled"`
	Interval    string `koanf:"interval"`
	KeepCount   int    `koanf:"keep_count"`
	WorkerCount int    `koanf:"worker_count"`
}

type PublisherConfig struct {
	Enabled bool     `koanf:"enabled"`
	Brokers []string `koanf:"brokers"`
	Topic   string   `koanf:"topic"`
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

	if c.Cache.MaxAggregates <= 0 {
		return fmt.Errorf("cache.max_aggregates must be > 0")
	}
	if c.Cache.MaxEventsPerStream <= 0 {
		return fmt.Errorf("cache.max_events_per_stream must be > 0")
	}
	if _, err := parsePositiveDuration(c.Cache.TTL); err != nil {
		return fmt.Errorf("invalid cache.ttl: %w", err)
	}

	switch c.Snapshots.Strategy {
	case "simple":
		if c.Snapshots.Threshold <= 0 {
			return fmt.Errorf("snapshots.threshold must be > 0 for the simple strategy")
		}
	case "time":
		if _, err := parsePositiveDuration(c.Snapshots.Interval); err != nil {
			return fmt.Errorf("invalid snapshots.interval: %w", err)
		}
	case "adaptive":
		a := c.Snapshots.Adaptive
		if a.MinThreshold <= 0 || a.MaxThreshold < a.MinThreshold {
			return fmt.Errorf("snapshots.adaptive thresholds must satisfy 0 < min <= max")
		}
		if a.ComplexityWeight < 0 || a.AccessWeight < 0 || a.TimeWeight < 0 {
			return fmt.Errorf("snapshots.adaptive weights must be >= 0")
		}
		if _, err := parsePositiveDuration(a.ReferenceAge); err != nil {
			return fmt.Errorf("invalid snapshots.adaptive.reference_age: %w", err)
		}
	default:
		return fmt.Errorf("unsupported snapshots.strategy %q (must be simple, time or adaptive)", c.Snapshots.Strategy)
	}

	if c.Retention.Enabled {
		if _, err := parsePositiveDuration(c.Retention.Interval); err != nil {
			return fmt.Errorf("invalid retention.interval: %w", err)
		}
		if c.Retention.KeepCount <= 0 {
			return fmt.Errorf("retention.keep_count must be > 0")
		}
		if c.Retention.WorkerCount <= 0 {
			return fmt.Errorf("retention.worker_count must be > 0")
		}
	}

	if c.Publisher.Enabled {
		if len(c.Publisher.Brokers) == 0 {
			return fmt.Errorf("publisher.brokers is required when the publisher is enabled")
		}
		if strings.TrimSpace(c.Publisher.Topic) == "" {
			return fmt.Errorf("publisher.topic is required when the publisher is enabled")
		}
	}

	return nil
}

// BuildStrategy constructs the configured snapshot strategy.
// Call after Validate.
func (c *Config) BuildStrategy() (snapshot.Strategy, error) {
	switch c.Snapshots.Strategy {
	case "simple":
		return snapshot.NewSimpleStrategy(c.Snapshots.Threshold), nil
	case "time":
		interval, err := parsePositiveDuration(c.Snapshots.Interval)
		if err != nil {
			return nil, fmt.Errorf("invalid snapshots.interval: %w", err)
		}
		return snapshot.NewTimeBasedStrategy(interval), nil
	case "adaptive":
		a := c.Snapshots.Adaptive
		age, err := parsePositiveDuration(a.ReferenceAge)
		if err != nil {
			return nil, fmt.Errorf("invalid snapshots.adaptive.reference_age: %w", err)
		}
		return snapshot.NewAdaptiveStrategy(snapshot.AdaptiveConfig{
			BaseThreshold:    a.BaseThreshold,
			MinThreshold:     a.MinThreshold,
			MaxThreshold:     a.MaxThreshold,
			ComplexityWeight: a.ComplexityWeight,
			AccessWeight:     a.AccessWeight,
			TimeWeight:       a.TimeWeight,
			ReferenceAge:     age,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported snapshots.strategy %q", c.Snapshots.Strategy)
	}
}

// CacheTTL returns the parsed hot-tier TTL. Call after Validate.
func (c *Config) CacheTTL() time.Duration {
	d, _ := parsePositiveDuration(c.Cache.TTL)
	return d
}

// RetentionInterval returns the parsed sweep interval. Call after Validate.
func (c *Config) RetentionInterval() time.Duration {
	d, _ := parsePositiveDuration(c.Retention.Interval)
	return d
}

func parsePositiveDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be > 0, got %s", d)
	}
	return d, nil
}

// Load parses config from defaults, an optional YAML file and the
// environment, then validates it.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port":                          8080,
		"server.host":                          "0.0.0.0",
		"server.max_body_size_mb":              1,
		"server.mode":                          "release",
		"database.dsn":                         "",
		"database.max_open_conns":              25,
		"database.max_idle_conns":              25,
		"database.auto_migrate":                true,
		"cache.max_aggregates":                 1024,
		"cache.max_events_per_stream":          256,
		"cache.ttl":                            "5m",
		"snapshots.strategy":                   "simple",
		"snapshots.threshold":                  10,
		"snapshots.interval":                   "10m",
		"snapshots.adaptive.base_threshold":    50,
		"snapshots.adaptive.min_threshold":     5,
		"snapshots.adaptive.max_threshold":     200,
		"snapshots.adaptive.complexity_weight": 1.0,
		"snapshots.adaptive.access_weight":     1.0,
		"snapshots.adaptive.time_weight":       1.0,
		"snapshots.adaptive.reference_age":     "10m",
		"retention.enabled":                    true,
		"retention.interval":                   "10m",
		"retention.keep_count":                 3,
		"retention.worker_count":               4,
		"publisher.enabled":                    false,
		"publisher.topic":                      "strata.events",
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("STRATA_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "STRATA_")), "__", ".", -1)
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

	return &cfg, nil
}
