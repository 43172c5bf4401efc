// Package checks contains the built-in checker implementations the
// scheduler runs for monitors without remote probe regions. Each check
// type implements the Checker interface; remote probes run their own
// equivalents and report through the coordinator instead.
package checks

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"vigil/internal/config"
	"vigil/internal/storage"
)

// ErrUnsupportedType is returned for monitor types with no local checker.
var ErrUnsupportedType = errors.New("unsupported monitor type")

// Checker defines the interface that all check types must implement.
type Checker interface {
	// Check executes the monitoring check and returns the result. The
	// returned result is non-nil even on error so the outcome is always
	// recordable.
	Check(ctx context.Context, monitor *storage.Monitor) (*storage.CheckResult, error)

	// Types returns the monitor types the checker serves.
	Types() []string
}

// Manager routes check execution to the appropriate checker implementation
// and applies the monitor's latency-degradation threshold to the outcome.
type Manager struct {
	checkers map[string]Checker
}

// NewManager creates a check manager with all available checkers.
func NewManager(cfg *config.Config) *Manager {
	m := &Manager{checkers: make(map[string]Checker)}

	m.register(NewHTTPChecker(cfg))
	m.register(NewDNSChecker())
	m.register(NewTCPChecker())
	m.register(NewTLSChecker())
	m.register(NewPingChecker(cfg))

	return m
}

func (m *Manager) register(checker Checker) {
	for _, t := range checker.Types() {
		m.checkers[t] = checker
		log.Debug().Str("type", t).Msg("Checker registered")
	}
}

// Supports reports whether a local checker exists for the monitor type.
// Heartbeat monitors are passive and never check-executed.
func (m *Manager) Supports(monitorType string) bool {
	_, ok := m.checkers[monitorType]
	return ok
}

// Execute runs the check for a monitor and classifies the outcome,
// downgrading slow successes to degraded per the monitor's threshold.
func (m *Manager) Execute(ctx context.Context, monitor *storage.Monitor) (*storage.CheckResult, error) {
	checker, ok := m.checkers[monitor.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, monitor.Type)
	}

	log.Debug().Str("monitor_id", monitor.ID).Str("type", monitor.Type).Msg("Executing check")

	result, err := checker.Check(ctx, monitor)
	if err != nil && result == nil {
		return nil, err
	}

	if result.RawStatus == storage.RawStatusSuccess &&
		monitor.DegradedThresholdMs > 0 &&
		result.ResponseTimeMs >= monitor.DegradedThresholdMs {
		result.RawStatus = storage.RawStatusDegraded
	}

	log.Debug().
		Str("monitor_id", monitor.ID).
		Str("raw_status", result.RawStatus).
		Int("response_time_ms", result.ResponseTimeMs).
		Msg("Check completed")
	return result, nil
}

// SupportedTypes returns the monitor types with a local checker.
func (m *Manager) SupportedTypes() []string {
	types := make([]string, 0, len(m.checkers))
	for t := range m.checkers {
		types = append(types, t)
	}
	return types
}
