// Package checks provides base functionality for all checker implementations.
package checks

import (
	"strings"
	"time"

	"vigil/internal/storage"
)

// BaseChecker provides shared result construction and error classification
// for all checker implementations.
type BaseChecker struct{}

// NewBaseChecker creates a new base checker instance.
func NewBaseChecker() *BaseChecker {
	return &BaseChecker{}
}

// NewResult creates a result skeleton for the given monitor, stamped now.
func (b *BaseChecker) NewResult(monitorID string) *storage.CheckResult {
	return &storage.CheckResult{
		MonitorID: monitorID,
		CheckedAt: time.Now(),
	}
}

// FailResult creates a result for a check that reached a verdict of
// "target unhealthy". The raw status is failure or error depending on the
// error class.
func (b *BaseChecker) FailResult(monitorID string, err error, responseTime int64, statusCode *int) *storage.CheckResult {
	msg := err.Error()
	result := b.NewResult(monitorID)
	result.RawStatus = b.ClassifyError(err)
	result.ResponseTimeMs = int(responseTime)
	result.StatusCode = statusCode
	result.ErrorMessage = &msg
	return result
}

// SuccessResult creates a result for a passed check. Degraded
// classification from the monitor's latency threshold happens in the
// manager, not here.
func (b *BaseChecker) SuccessResult(monitorID string, responseTime int64, statusCode *int) *storage.CheckResult {
	result := b.NewResult(monitorID)
	result.RawStatus = storage.RawStatusSuccess
	result.ResponseTimeMs = int(responseTime)
	result.StatusCode = statusCode
	return result
}

// ClassifyError maps an error to a raw status class. Target-side problems
// (refused, unreachable, timed out, bad response) are failures; anything
// that prevented the check from reaching a verdict is an error.
func (b *BaseChecker) ClassifyError(err error) string {
	msg := strings.ToLower(err.Error())

	targetSide := []string{
		"timeout",
		"deadline exceeded",
		"connection refused",
		"connection reset",
		"no route to host",
		"host unreachable",
		"no such host",
		"100% packet loss",
		"unexpected status code",
		"expected content not found",
		"certificate",
		"tls handshake",
	}
	for _, marker := range targetSide {
		if strings.Contains(msg, marker) {
			return storage.RawStatusFailure
		}
	}
	return storage.RawStatusError
}
