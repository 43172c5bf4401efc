package config

import (
	"fmt"
	"net"
	"slices"
	"strconv"
)

var validLogLevels = []string{"debug", "info", "warn", "error", "fatal", "panic"}

var validStorageDrivers = []string{"sqlite", "postgres"}

// validateConfig validates the configuration and returns an error if invalid.
func validateConfig(c *Config) error {
	for _, validate := range []func() error{
		func() error { return validateServerConfig(c.Server) },
		func() error { return validateStorageConfig(c.Storage) },
		func() error { return validateProbeConfig(c.Probes) },
		func() error { return validateSchedulerConfig(c.Scheduler) },
		func() error { return validateRollupConfig(c.Rollup) },
		func() error { return validateLogConfig(c.Log) },
	} {
		if err := validate(); err != nil {
			return err
		}
	}
	return nil
}

// validateServerConfig validates server configuration.
func validateServerConfig(s ServerConfig) error {
	if s.Addr == "" {
		return fmt.Errorf("server.addr cannot be empty")
	}

	// Validate address format
	_, portStr, err := net.SplitHostPort(s.Addr)
	if err != nil {
		return fmt.Errorf("server.addr invalid format: %w", err)
	}

	if portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("server.addr invalid port: %w", err)
		}
		if port < 1 || port > 65535 {
			return fmt.Errorf("server.addr port out of range (1-65535)")
		}
	}

	if s.ReadTimeout <= 0 || s.WriteTimeout <= 0 || s.IdleTimeout <= 0 {
		return fmt.Errorf("server timeouts must be positive")
	}

	return nil
}

// validateStorageConfig validates storage configuration.
func validateStorageConfig(s StorageConfig) error {
	if !slices.Contains(validStorageDrivers, s.Driver) {
		return fmt.Errorf("storage.driver must be one of %v, got %q", validStorageDrivers, s.Driver)
	}

	if s.DSN == "" {
		return fmt.Errorf("storage.dsn cannot be empty")
	}

	if s.MaxOpenConns < 1 {
		return fmt.Errorf("storage.max_open_conns must be at least 1")
	}

	if s.MaxIdleConns < 0 || s.MaxIdleConns > s.MaxOpenConns {
		return fmt.Errorf("storage.max_idle_conns must be between 0 and max_open_conns")
	}

	return nil
}

// validateProbeConfig validates probe coordination configuration.
func validateProbeConfig(p ProbeConfig) error {
	if p.LeaseFloor <= 0 {
		return fmt.Errorf("probes.lease_floor must be positive")
	}

	if p.SkewMargin < 0 {
		return fmt.Errorf("probes.skew_margin cannot be negative")
	}

	if p.LivenessWindow <= 0 {
		return fmt.Errorf("probes.liveness_window must be positive")
	}

	if p.MaxClaimBatch < 1 || p.MaxClaimBatch > 500 {
		return fmt.Errorf("probes.max_claim_batch must be between 1 and 500")
	}

	return nil
}

// validateSchedulerConfig validates scheduler configuration.
func validateSchedulerConfig(s SchedulerConfig) error {
	if s.WorkerCount < 1 || s.WorkerCount > 256 {
		return fmt.Errorf("scheduler.worker_count must be between 1 and 256")
	}

	if s.TickInterval <= 0 {
		return fmt.Errorf("scheduler.tick_interval must be positive")
	}

	if s.MaxRetries < 0 || s.MaxRetries > 10 {
		return fmt.Errorf("scheduler.max_retries must be between 0 and 10")
	}

	return nil
}

// validateRollupConfig validates rollup configuration.
func validateRollupConfig(r RollupConfig) error {
	if r.Interval <= 0 {
		return fmt.Errorf("rollup.interval must be positive")
	}

	if r.BackfillDays < 1 || r.BackfillDays > 365 {
		return fmt.Errorf("rollup.backfill_days must be between 1 and 365")
	}

	return nil
}

// validateLogConfig validates logging configuration.
func validateLogConfig(l LogConfig) error {
	if !slices.Contains(validLogLevels, l.Level) {
		return fmt.Errorf("log.level must be one of %v, got %q", validLogLevels, l.Level)
	}

	return nil
}
