package config

import "github.com/spf13/viper"

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "60s")

	// Storage defaults
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.dsn", "vigil.db")
	v.SetDefault("storage.max_open_conns", 32)
	v.SetDefault("storage.max_idle_conns", 8)
	v.SetDefault("storage.conn_max_lifetime", "1h")

	// Probe coordination defaults
	v.SetDefault("probes.lease_floor", "30s")
	v.SetDefault("probes.skew_margin", "10s")
	v.SetDefault("probes.liveness_window", "90s")
	v.SetDefault("probes.max_claim_batch", 25)

	// Scheduler defaults
	v.SetDefault("scheduler.worker_count", 8)
	v.SetDefault("scheduler.tick_interval", "5s")
	v.SetDefault("scheduler.max_retries", 3)

	// Check execution defaults
	v.SetDefault("checks.http.method", "GET")
	v.SetDefault("checks.http.timeout_seconds", 30)
	v.SetDefault("checks.http.expected_status", 200)
	v.SetDefault("checks.http.follow_redirects", true)
	v.SetDefault("checks.http.verify_ssl", true)
	v.SetDefault("checks.ping.count", 3)
	v.SetDefault("checks.ping.interval_ms", 1000)
	v.SetDefault("checks.ping.timeout_seconds", 5)

	// Rollup defaults
	v.SetDefault("rollup.interval", "1h")
	v.SetDefault("rollup.backfill_days", 7)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}
