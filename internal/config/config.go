package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"path/filepath"

	"github.com/spf13/viper"
)

// Config represents the complete configuration schema for the Vigil
// monitoring platform.
//
// Configuration sources (in order of precedence):
//  1. Defaults
//  2. Configuration file (optional)
//  3. Environment variables
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Probes    ProbeConfig     `mapstructure:"probes" yaml:"probes"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Checks    ChecksConfig    `mapstructure:"checks" yaml:"checks"`
	Rollup    RollupConfig    `mapstructure:"rollup" yaml:"rollup"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

type StorageConfig struct {
	// Driver selects the database backend: "sqlite" or "postgres".
	Driver          string        `mapstructure:"driver" yaml:"driver"`
	DSN             string        `mapstructure:"dsn" yaml:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// ProbeConfig controls the remote probe coordination layer: job leases,
// probe liveness and clock-skew tolerance.
type ProbeConfig struct {
	// LeaseFloor is the minimum lease length for a claimed job regardless
	// of the monitor's own timeout.
	LeaseFloor time.Duration `mapstructure:"lease_floor" yaml:"lease_floor"`

	// SkewMargin is added to every lease and heartbeat expiry to tolerate
	// clock skew between probes and the coordinator.
	SkewMargin time.Duration `mapstructure:"skew_margin" yaml:"skew_margin"`

	// LivenessWindow is how long a probe may go without a heartbeat before
	// it is marked inactive.
	LivenessWindow time.Duration `mapstructure:"liveness_window" yaml:"liveness_window"`

	// MaxClaimBatch caps the number of jobs a single claim call may take.
	MaxClaimBatch int `mapstructure:"max_claim_batch" yaml:"max_claim_batch"`
}

type SchedulerConfig struct {
	WorkerCount  int           `mapstructure:"worker_count" yaml:"worker_count"`
	TickInterval time.Duration `mapstructure:"tick_interval" yaml:"tick_interval"`
	MaxRetries   int           `mapstructure:"max_retries" yaml:"max_retries"`
}

type ChecksConfig struct {
	HTTP HTTPDefaultsConfig `mapstructure:"http" yaml:"http"`
	Ping PingDefaultsConfig `mapstructure:"ping" yaml:"ping"`
}

type HTTPDefaultsConfig struct {
	Method          string            `mapstructure:"method" yaml:"method"`
	Headers         map[string]string `mapstructure:"headers" yaml:"headers"`
	Body            string            `mapstructure:"body" yaml:"body"`
	TimeoutSeconds  int               `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	ExpectedStatus  int               `mapstructure:"expected_status" yaml:"expected_status"`
	FollowRedirects bool              `mapstructure:"follow_redirects" yaml:"follow_redirects"`
	VerifySSL       bool              `mapstructure:"verify_ssl" yaml:"verify_ssl"`
}

type PingDefaultsConfig struct {
	Count          int `mapstructure:"count" yaml:"count"`
	IntervalMs     int `mapstructure:"interval_ms" yaml:"interval_ms"`
	TimeoutSeconds int `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// RollupConfig controls daily aggregation.
type RollupConfig struct {
	// Interval between automatic rollup sweeps for the previous day.
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`

	// BackfillDays is how many trailing days a manual backfill covers
	// when no explicit range is given.
	BackfillDays int `mapstructure:"backfill_days" yaml:"backfill_days"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error, fatal, panic
	Pretty bool   `mapstructure:"pretty" yaml:"pretty"` // human-readable console output
}

// Load loads configuration from defaults, configuration file,
// and environment variables, then validates the result.
//
// The function fails fast on:
//   - Invalid configuration file
//   - Invalid or missing required configuration values
func Load() (*Config, error) {
	v := viper.New()

	// Register default values
	setDefaults(v)

	// Environment variable support
	v.SetEnvPrefix("VIGIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AllowEmptyEnv(false)
	v.AutomaticEnv()

	// Optional configuration file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Cross-platform config directory
	if configDir := getConfigDir(); configDir != "" {
		v.AddConfigPath(configDir)
	}

	// Read configuration file if present
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config file error: %w", err)
		}
	}

	// Unmarshal configuration into struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Normalize configuration
	normalizeConfig(&cfg)

	// Validate final configuration
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// normalizeConfig normalizes configuration values.
func normalizeConfig(c *Config) {
	c.Log.Level = strings.ToLower(c.Log.Level)
	c.Storage.Driver = strings.ToLower(c.Storage.Driver)
}

// getConfigDir returns the appropriate config directory for the current OS
func getConfigDir() string {
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "vigil")
		}
		return ""
	}

	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, ".vigil")
	}
	return ""
}
