package checks

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"time"

	"vigil/internal/config"
	"vigil/internal/storage"
)

// PingMonitorConfig is the per-monitor ping configuration stored in
// Monitor.Config.
type PingMonitorConfig struct {
	Count          int `json:"count,omitempty"`
	IntervalMs     int `json:"interval_ms,omitempty"`
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

// PingChecker implements ICMP ping checks via the system ping binary, so
// the process does not need raw-socket privileges.
type PingChecker struct {
	*BaseChecker
	defaults config.PingDefaultsConfig
}

// NewPingChecker creates a new ping checker instance.
func NewPingChecker(cfg *config.Config) *PingChecker {
	return &PingChecker{
		BaseChecker: NewBaseChecker(),
		defaults:    cfg.Checks.Ping,
	}
}

// Types returns the monitor types served by this checker.
func (p *PingChecker) Types() []string {
	return []string{storage.MonitorTypePing}
}

var (
	avgRTTPattern    = regexp.MustCompile(`(?:rtt|round-trip)[^=]*= *[\d.]+/([\d.]+)/`)
	packetLossString = regexp.MustCompile(`([\d.]+)% packet loss`)
)

// Check executes an ICMP ping monitoring check.
func (p *PingChecker) Check(ctx context.Context, monitor *storage.Monitor) (*storage.CheckResult, error) {
	start := time.Now()

	cfg := p.parseConfig(monitor.Config)

	if _, err := net.ResolveIPAddr("ip", monitor.Target); err != nil {
		elapsed := time.Since(start).Milliseconds()
		return p.FailResult(monitor.ID, fmt.Errorf("failed to resolve target: %w", err), elapsed, nil), err
	}

	output, err := p.run(ctx, monitor.Target, cfg)
	elapsed := time.Since(start).Milliseconds()

	loss, lossKnown := parsePacketLoss(output)
	if err != nil && !lossKnown {
		return p.FailResult(monitor.ID, fmt.Errorf("ping failed: %w", err), elapsed, nil), err
	}
	if lossKnown && loss >= 100 {
		failErr := fmt.Errorf("100%% packet loss to %s", monitor.Target)
		return p.FailResult(monitor.ID, failErr, elapsed, nil), failErr
	}

	result := p.SuccessResult(monitor.ID, elapsed, nil)
	if avg, ok := parseAvgRTT(output); ok {
		result.ResponseTimeMs = avg
	}
	return result, nil
}

func (p *PingChecker) parseConfig(raw string) *PingMonitorConfig {
	cfg := &PingMonitorConfig{
		Count:          p.defaults.Count,
		IntervalMs:     p.defaults.IntervalMs,
		TimeoutSeconds: p.defaults.TimeoutSeconds,
	}
	if raw != "" && raw != "{}" {
		var override PingMonitorConfig
		if json.Unmarshal([]byte(raw), &override) == nil {
			if override.Count > 0 {
				cfg.Count = override.Count
			}
			if override.IntervalMs > 0 {
				cfg.IntervalMs = override.IntervalMs
			}
			if override.TimeoutSeconds > 0 {
				cfg.TimeoutSeconds = override.TimeoutSeconds
			}
		}
	}
	if cfg.Count < 1 {
		cfg.Count = 3
	}
	if cfg.TimeoutSeconds < 1 {
		cfg.TimeoutSeconds = 5
	}
	return cfg
}

func (p *PingChecker) run(ctx context.Context, target string, cfg *PingMonitorConfig) (string, error) {
	count := strconv.Itoa(cfg.Count)
	timeout := strconv.Itoa(cfg.TimeoutSeconds)

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "ping", "-n", count, "-w",
			strconv.Itoa(cfg.TimeoutSeconds*1000), target)
	} else {
		cmd = exec.CommandContext(ctx, "ping", "-c", count, "-W", timeout, target)
	}

	output, err := cmd.CombinedOutput()
	return string(output), err
}

func parseAvgRTT(output string) (int, bool) {
	m := avgRTTPattern.FindStringSubmatch(output)
	if len(m) != 2 {
		return 0, false
	}
	avg, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return int(avg), true
}

func parsePacketLoss(output string) (float64, bool) {
	m := packetLossString.FindStringSubmatch(output)
	if len(m) != 2 {
		return 0, false
	}
	loss, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return loss, true
}
