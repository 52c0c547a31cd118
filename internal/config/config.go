// Package config loads and validates the configuration for the irmd
// daemon. All values arrive as opaque strings from the environment (the
// system's external-contract boundary); this package's job is to parse
// and range-check them. Bound with viper so a future config file or flag
// could override the same keys without touching call sites, mirroring
// the pack's viper+pflag convention.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the root configuration for the irmd daemon.
type Config struct {
	DatabaseURL string `mapstructure:"database-url"`
	HTTPAddr    string `mapstructure:"http-addr"`
	MetricsAddr string `mapstructure:"metrics-addr"`
	LogLevel    string `mapstructure:"log-level"`
	LogFormat   string `mapstructure:"log-format"`

	BaselineInterval  time.Duration `mapstructure:"-"`
	ScoringInterval   time.Duration `mapstructure:"-"`
	RetentionInterval time.Duration `mapstructure:"-"`

	BaselineIntervalMS  int `mapstructure:"baseline-interval-ms"`
	ScoringIntervalMS   int `mapstructure:"scoring-interval-ms"`
	RetentionIntervalMS int `mapstructure:"retention-interval-ms"`

	DefaultRetentionDays int `mapstructure:"default-retention-days"`
	AlertThreshold       int `mapstructure:"alert-threshold"`
	ScoringWindowMinutes int `mapstructure:"scoring-window-minutes"`

	JobStateDBPath string `mapstructure:"jobstate-db-path"`
	BcryptCost     int    `mapstructure:"bcrypt-cost"`
}

// Load reads configuration from environment variables (with the exact
// names specified by the system contract — no prefix), applying defaults
// and validating ranges.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("database-url", "postgres://localhost:5432/irm?sslmode=disable")
	v.SetDefault("http-addr", ":8080")
	v.SetDefault("metrics-addr", "127.0.0.1:9091")
	v.SetDefault("log-level", "info")
	v.SetDefault("log-format", "json")
	v.SetDefault("baseline-interval-ms", 300000)
	v.SetDefault("scoring-interval-ms", 300000)
	v.SetDefault("retention-interval-ms", 86400000)
	v.SetDefault("default-retention-days", 90)
	v.SetDefault("alert-threshold", 60)
	v.SetDefault("scoring-window-minutes", 60)
	v.SetDefault("jobstate-db-path", "./irmd-jobstate.db")
	v.SetDefault("bcrypt-cost", 12)

	pflag.String("database-url", "", "PostgreSQL DSN")
	pflag.String("http-addr", "", "Ingestion HTTP listen address")
	pflag.String("metrics-addr", "", "Prometheus metrics listen address (loopback)")
	pflag.String("log-level", "", "debug|info|warn|error")
	pflag.String("log-format", "", "json|console")
	if !pflag.Parsed() {
		pflag.Parse()
	}
	_ = v.BindPFlags(pflag.CommandLine)

	// Bind the exact environment variable names the system contract defines
	// (§6.2), plus the expansion vars of SPEC_FULL.md §6. No shared prefix:
	// these names are fixed by the contract, not namespaced per-service.
	envBindings := map[string]string{
		"database-url":           "DATABASE_URL",
		"http-addr":              "HTTP_ADDR",
		"metrics-addr":           "METRICS_ADDR",
		"log-level":              "LOG_LEVEL",
		"log-format":             "LOG_FORMAT",
		"baseline-interval-ms":   "BASELINE_INTERVAL_MS",
		"scoring-interval-ms":    "SCORING_INTERVAL_MS",
		"retention-interval-ms":  "RETENTION_INTERVAL_MS",
		"default-retention-days": "DEFAULT_RETENTION_DAYS",
		"alert-threshold":        "ALERT_THRESHOLD",
		"scoring-window-minutes": "SCORING_WINDOW_MINUTES",
		"jobstate-db-path":       "JOBSTATE_DB_PATH",
		"bcrypt-cost":            "BCRYPT_COST",
	}
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.BaselineInterval = time.Duration(cfg.BaselineIntervalMS) * time.Millisecond
	cfg.ScoringInterval = time.Duration(cfg.ScoringIntervalMS) * time.Millisecond
	cfg.RetentionInterval = time.Duration(cfg.RetentionIntervalMS) * time.Millisecond

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate range-checks the configuration.
func (c *Config) Validate() error {
	validLevels := []string{"debug", "info", "warn", "error"}
	ok := false
	for _, lvl := range validLevels {
		if strings.EqualFold(c.LogLevel, lvl) {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("invalid log-level: %s, must be one of %v", c.LogLevel, validLevels)
	}
	if c.DefaultRetentionDays <= 0 {
		return fmt.Errorf("default-retention-days must be positive, got %d", c.DefaultRetentionDays)
	}
	if c.AlertThreshold < 0 || c.AlertThreshold > 100 {
		return fmt.Errorf("alert-threshold must be in [0,100], got %d", c.AlertThreshold)
	}
	if c.ScoringWindowMinutes <= 0 {
		return fmt.Errorf("scoring-window-minutes must be positive, got %d", c.ScoringWindowMinutes)
	}
	if c.BcryptCost < 10 {
		return fmt.Errorf("bcrypt-cost must be >= 10, got %d", c.BcryptCost)
	}
	if c.BaselineIntervalMS <= 0 || c.ScoringIntervalMS <= 0 || c.RetentionIntervalMS <= 0 {
		return fmt.Errorf("job intervals must be positive")
	}
	return nil
}
