// Package config loads engine configuration from a YAML file with
// environment-variable overrides. A .env file, when present, is loaded
// first so container and local runs share the same override mechanism.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Oracle    OracleConfig    `yaml:"oracle"`
	Risk      RiskConfig      `yaml:"risk"`
	Exit      ExitConfig      `yaml:"exit"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// StorageConfig selects the persistence backend. An empty PostgresURL runs
// the engine on the in-memory store; RedisURL adds the read-through cache
// in front of PostgreSQL.
type StorageConfig struct {
	PostgresURL  string `yaml:"postgres_url"`
	RedisURL     string `yaml:"redis_url"`
	CacheTTLSecs int    `yaml:"cache_ttl_seconds"`
}

// OracleConfig controls the Gamma price oracle.
type OracleConfig struct {
	GammaBase      string `yaml:"gamma_base"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// RiskConfig holds trade validation limits, in dollars except MinConfidence.
type RiskConfig struct {
	MaxSingleTrade float64 `yaml:"max_single_trade"`
	MaxHighRisk    float64 `yaml:"max_high_risk"`
	MaxMediumRisk  float64 `yaml:"max_medium_risk"`
	MinConfidence  float64 `yaml:"min_confidence"`
	MinTradeAmount float64 `yaml:"min_trade_amount"`
	KellyFraction  float64 `yaml:"kelly_fraction"`
}

// ExitConfig holds the default auto-exit thresholds.
type ExitConfig struct {
	StopLossPercent   float64 `yaml:"stop_loss_percent"`
	TakeProfitPercent float64 `yaml:"take_profit_percent"`
	IntervalSeconds   int     `yaml:"interval_seconds"`
	DryRun            *bool   `yaml:"dry_run"` // pointer so "false" survives defaulting
}

// AnalyticsConfig controls record retention.
type AnalyticsConfig struct {
	RetentionDays int `yaml:"retention_days"`
}

// LogConfig controls the log format and level.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads the YAML file at path, applies env overrides, and fills
// defaults. A missing file is not an error: defaults plus environment make
// a complete configuration.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("config: parse %q: %w", path, err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)
	return &cfg, nil
}

// OracleTimeout returns the oracle fetch timeout as a duration.
func (c *Config) OracleTimeout() time.Duration {
	return time.Duration(c.Oracle.TimeoutSeconds) * time.Second
}

// ExitInterval returns the monitoring tick interval as a duration.
func (c *Config) ExitInterval() time.Duration {
	return time.Duration(c.Exit.IntervalSeconds) * time.Second
}

// CacheTTL returns the Redis cache TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Storage.CacheTTLSecs) * time.Second
}

// Retention returns the analytics retention window as a duration.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Analytics.RetentionDays) * 24 * time.Hour
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.PostgresURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Storage.RedisURL = v
	}
	if v := os.Getenv("GAMMA_BASE"); v != "" {
		cfg.Oracle.GammaBase = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("EXIT_DRY_RUN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Exit.DryRun = &b
		}
	}
}

func setDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Storage.CacheTTLSecs <= 0 {
		cfg.Storage.CacheTTLSecs = 60
	}
	if cfg.Oracle.TimeoutSeconds <= 0 {
		cfg.Oracle.TimeoutSeconds = 10
	}
	if cfg.Risk.MaxSingleTrade <= 0 {
		cfg.Risk.MaxSingleTrade = 1000
	}
	if cfg.Risk.MaxHighRisk <= 0 {
		cfg.Risk.MaxHighRisk = 200
	}
	if cfg.Risk.MaxMediumRisk <= 0 {
		cfg.Risk.MaxMediumRisk = 500
	}
	if cfg.Risk.MinConfidence <= 0 {
		cfg.Risk.MinConfidence = 60
	}
	if cfg.Risk.MinTradeAmount <= 0 {
		cfg.Risk.MinTradeAmount = 10
	}
	if cfg.Risk.KellyFraction <= 0 {
		cfg.Risk.KellyFraction = 0.25
	}
	if cfg.Exit.StopLossPercent >= 0 {
		cfg.Exit.StopLossPercent = -15
	}
	if cfg.Exit.TakeProfitPercent <= 0 {
		cfg.Exit.TakeProfitPercent = 30
	}
	if cfg.Exit.IntervalSeconds <= 0 {
		cfg.Exit.IntervalSeconds = 30
	}
	if cfg.Exit.DryRun == nil {
		dryRun := true
		cfg.Exit.DryRun = &dryRun
	}
	if cfg.Analytics.RetentionDays <= 0 {
		cfg.Analytics.RetentionDays = 90
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}
