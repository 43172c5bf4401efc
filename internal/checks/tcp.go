package checks

import (
	"context"
	"fmt"
	"net"
	"time"

	"vigil/internal/storage"
)

// TCPChecker implements plain TCP connect checks against "host:port"
// targets.
type TCPChecker struct {
	*BaseChecker
}

// NewTCPChecker creates a new TCP checker instance.
func NewTCPChecker() *TCPChecker {
	return &TCPChecker{BaseChecker: NewBaseChecker()}
}

// Types returns the monitor types served by this checker.
func (t *TCPChecker) Types() []string {
	return []string{storage.MonitorTypeTCP}
}

// Check dials the target and reports connect latency.
func (t *TCPChecker) Check(ctx context.Context, monitor *storage.Monitor) (*storage.CheckResult, error) {
	start := time.Now()

	if _, _, err := net.SplitHostPort(monitor.Target); err != nil {
		confErr := fmt.Errorf("invalid config: target must be host:port: %w", err)
		return t.FailResult(monitor.ID, confErr, 0, nil), confErr
	}

	dialer := net.Dialer{Timeout: time.Duration(monitor.TimeoutMs) * time.Millisecond}
	conn, err := dialer.DialContext(ctx, "tcp", monitor.Target)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		return t.FailResult(monitor.ID, fmt.Errorf("connect failed: %w", err), elapsed, nil), err
	}
	_ = conn.Close()

	result := t.SuccessResult(monitor.ID, elapsed, nil)
	tcpMs := int(elapsed)
	result.TCPMs = &tcpMs
	return result, nil
}
