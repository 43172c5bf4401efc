// Package status implements the monitor status state machine.
//
// The engine consumes raw check outcomes for a monitor, applies hysteresis
// smoothing, and emits externally visible status transitions. Smoothing only
// applies on the way down: recovery to active happens on the first success.
package status

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"vigil/internal/storage"
)

var (
	// ErrMonitorPaused is returned when a result arrives for a paused
	// monitor. Ingestion is suppressed entirely while paused.
	ErrMonitorPaused = errors.New("monitor is paused")

	// ErrOutOfOrderResult is returned when a result's timestamp precedes
	// the monitor's last processed result beyond the tolerance window.
	// Such results are kept in storage for audit but excluded from status
	// computation to preserve ordering invariants.
	ErrOutOfOrderResult = errors.New("result is out of order")

	// ErrMonitorNotFound is returned for unknown monitor ids.
	ErrMonitorNotFound = errors.New("monitor not found")
)

// defaultOrderTolerance is how far behind the last processed result a
// timestamp may fall before it is excluded from status computation.
const defaultOrderTolerance = 30 * time.Second

// Result describes the outcome of feeding one raw result through the state
// machine.
type Result struct {
	OldStatus    string
	NewStatus    string
	Transitioned bool
}

// TransitionFunc is invoked after every committed status transition.
// Transitions are never rolled back once committed.
type TransitionFunc func(ctx context.Context, t storage.StatusTransition)

// Engine maintains per-monitor hysteresis counters and computes status
// transitions. All mutation for one monitor happens under a per-monitor
// lock so sequential status computation is never raced by concurrent
// ingestion for the same monitor.
type Engine struct {
	storage   *storage.Storage
	tolerance time.Duration

	onTransition TransitionFunc
	sink         ResultSink

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine creates a status engine backed by the given storage.
func NewEngine(st *storage.Storage) *Engine {
	return &Engine{
		storage:   st,
		tolerance: defaultOrderTolerance,
		locks:     make(map[string]*sync.Mutex),
	}
}

// OnTransition registers the transition callback. Must be called before the
// engine starts receiving results.
func (e *Engine) OnTransition(fn TransitionFunc) {
	e.onTransition = fn
}

// lockMonitor returns the mutex serializing one monitor's ingestion.
func (e *Engine) lockMonitor(monitorID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	l, ok := e.locks[monitorID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[monitorID] = l
	}
	return l
}

// RecordResult feeds one raw check outcome through the state machine.
//
// It returns the old and new externally visible status and whether a
// transition occurred. Paused monitors reject ingestion with
// ErrMonitorPaused; results arriving out of order beyond the tolerance
// window are rejected with ErrOutOfOrderResult.
func (e *Engine) RecordResult(ctx context.Context, monitorID, rawStatus string, responseTimeMs int, at time.Time) (Result, error) {
	l := e.lockMonitor(monitorID)
	l.Lock()
	defer l.Unlock()

	var monitor storage.Monitor
	if err := e.storage.DB().WithContext(ctx).First(&monitor, "id = ?", monitorID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Result{}, ErrMonitorNotFound
		}
		return Result{}, fmt.Errorf("failed to load monitor: %w", err)
	}

	if monitor.Status == storage.MonitorStatusPaused {
		return Result{}, ErrMonitorPaused
	}

	if monitor.LastProcessedAt != nil && at.Before(monitor.LastProcessedAt.Add(-e.tolerance)) {
		return Result{OldStatus: monitor.Status, NewStatus: monitor.Status}, ErrOutOfOrderResult
	}

	oldStatus := monitor.Status
	newStatus := e.applyResult(&monitor, rawStatus, responseTimeMs)
	monitor.LastProcessedAt = &at

	transitioned := newStatus != oldStatus
	if transitioned {
		monitor.Status = newStatus
		transitionAt := at
		monitor.LastTransitionAt = &transitionAt
	}

	updates := map[string]interface{}{
		"consecutive_failures": monitor.ConsecutiveFailures,
		"consecutive_degraded": monitor.ConsecutiveDegraded,
		"last_processed_at":    monitor.LastProcessedAt,
	}
	if transitioned {
		updates["status"] = monitor.Status
		updates["last_transition_at"] = monitor.LastTransitionAt
	}

	err := e.storage.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&storage.Monitor{}).Where("id = ?", monitorID).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to persist status: %w", err)
		}
		if transitioned {
			transition := storage.StatusTransition{
				MonitorID:  monitorID,
				FromStatus: oldStatus,
				ToStatus:   newStatus,
				At:         at,
			}
			if err := tx.Create(&transition).Error; err != nil {
				return fmt.Errorf("failed to record transition: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	if transitioned {
		log.Info().
			Str("monitor_id", monitorID).
			Str("from", oldStatus).
			Str("to", newStatus).
			Msg("Monitor status transition")

		if e.onTransition != nil {
			e.onTransition(ctx, storage.StatusTransition{
				MonitorID:  monitorID,
				FromStatus: oldStatus,
				ToStatus:   newStatus,
				At:         at,
			})
		}
	}

	return Result{OldStatus: oldStatus, NewStatus: newStatus, Transitioned: transitioned}, nil
}

// applyResult mutates the monitor's hysteresis counters for one raw outcome
// and returns the resulting externally visible status.
func (e *Engine) applyResult(m *storage.Monitor, rawStatus string, responseTimeMs int) string {
	if isSuccessClass(m, rawStatus, responseTimeMs) {
		// Recovery is immediate: the first healthy outcome resets both
		// counters and activates the monitor regardless of prior state.
		m.ConsecutiveFailures = 0
		m.ConsecutiveDegraded = 0
		return storage.MonitorStatusActive
	}

	switch rawStatus {
	case storage.RawStatusFailure, storage.RawStatusError:
		m.ConsecutiveFailures++
		m.ConsecutiveDegraded++
	case storage.RawStatusDegraded:
		// A degraded outcome interrupts a pure failure streak but keeps
		// the degraded accumulation going.
		m.ConsecutiveFailures = 0
		m.ConsecutiveDegraded++
	}

	if m.ConsecutiveFailures >= m.DownAfterCount {
		return storage.MonitorStatusDown
	}

	// The degraded threshold only fires when the streak actually contains
	// degraded outcomes: a pure failure run heading for down must not stop
	// over at degraded on the way.
	if m.ConsecutiveDegraded >= m.DegradedAfterCount && m.ConsecutiveDegraded > m.ConsecutiveFailures {
		return storage.MonitorStatusDegraded
	}

	return m.Status
}

// isSuccessClass reports whether a raw outcome counts as healthy for the
// state machine. Degraded outcomes below the monitor's own latency threshold
// are treated as successes.
func isSuccessClass(m *storage.Monitor, rawStatus string, responseTimeMs int) bool {
	if rawStatus == storage.RawStatusSuccess {
		return true
	}
	if rawStatus == storage.RawStatusDegraded && m.DegradedThresholdMs > 0 && responseTimeMs < m.DegradedThresholdMs {
		return true
	}
	return false
}

// Pause sets a monitor to paused. Entering pause is idempotent; future
// scheduling and ingestion stop until Resume.
func (e *Engine) Pause(ctx context.Context, monitorID string) error {
	l := e.lockMonitor(monitorID)
	l.Lock()
	defer l.Unlock()

	res := e.storage.DB().WithContext(ctx).Model(&storage.Monitor{}).
		Where("id = ?", monitorID).
		Update("status", storage.MonitorStatusPaused)
	if res.Error != nil {
		return fmt.Errorf("failed to pause monitor: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrMonitorNotFound
	}
	return nil
}

// Resume returns a paused monitor to pending with clean counters. Resuming
// a non-paused monitor is a no-op.
func (e *Engine) Resume(ctx context.Context, monitorID string) error {
	l := e.lockMonitor(monitorID)
	l.Lock()
	defer l.Unlock()

	err := e.storage.DB().WithContext(ctx).Model(&storage.Monitor{}).
		Where("id = ? AND status = ?", monitorID, storage.MonitorStatusPaused).
		Updates(map[string]interface{}{
			"status":               storage.MonitorStatusPending,
			"consecutive_failures": 0,
			"consecutive_degraded": 0,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to resume monitor: %w", err)
	}
	return nil
}
