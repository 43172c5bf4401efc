// Package core provides the monitoring engine for the Vigil platform.
//
// The engine owns the ingestion pipeline (result store, status state
// machine, alert evaluation), the scheduler that dispatches due checks to
// local checkers or probe jobs, and the periodic maintenance sweeps.
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"vigil/internal/alerting"
	"vigil/internal/checks"
	"vigil/internal/config"
	"vigil/internal/probe"
	"vigil/internal/rollup"
	"vigil/internal/status"
	"vigil/internal/storage"
)

// Engine orchestrates all monitoring activity: ingestion, scheduling,
// probe coordination, alerting and rollups.
type Engine struct {
	config      *config.Config
	storage     *storage.Storage
	scheduler   *Scheduler
	status      *status.Engine
	evaluator   *alerting.Evaluator
	coordinator *probe.Coordinator
	checker     *checks.Manager
	aggregator  *rollup.Aggregator

	running bool
	mu      sync.RWMutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewEngine creates a monitoring engine. The trigger sink receives
// alert-trigger events for the notification layer; nil disables fan-out
// but keeps the audit history.
func NewEngine(cfg *config.Config, st *storage.Storage, triggers alerting.TriggerSink) *Engine {
	e := &Engine{
		config:     cfg,
		storage:    st,
		scheduler:  NewScheduler(cfg.Scheduler),
		status:     status.NewEngine(st),
		evaluator:  alerting.NewEvaluator(st, triggers),
		checker:    checks.NewManager(cfg),
		aggregator: rollup.NewAggregator(st),
	}

	// The engine is the single ingestion funnel: local checks, probe
	// submissions and heartbeat pings all land in Ingest.
	e.coordinator = probe.NewCoordinator(st, cfg.Probes, e)
	e.status.SetResultSink(e)

	return e
}

// Status exposes the status engine for API handlers.
func (e *Engine) Status() *status.Engine { return e.status }

// Coordinator exposes the probe coordinator for API handlers.
func (e *Engine) Coordinator() *probe.Coordinator { return e.coordinator }

// Aggregator exposes the rollup aggregator for API handlers.
func (e *Engine) Aggregator() *rollup.Aggregator { return e.aggregator }

// Scheduler exposes the worker-pool scheduler for health reporting.
func (e *Engine) Scheduler() *Scheduler { return e.scheduler }

// Ingest runs the full pipeline for one check result: append to the
// result store, advance the status state machine, then evaluate alert
// policies against the updated monitor.
//
// The append always happens, even for results the state machine refuses
// (paused monitor, out-of-order timestamp); those are kept for audit and
// skip status and alert processing.
func (e *Engine) Ingest(ctx context.Context, result *storage.CheckResult) error {
	if err := e.storage.DB().WithContext(ctx).Create(result).Error; err != nil {
		return fmt.Errorf("failed to store result: %w", err)
	}

	_, err := e.status.RecordResult(ctx, result.MonitorID, result.RawStatus, result.ResponseTimeMs, result.CheckedAt)
	if err != nil {
		switch {
		case errors.Is(err, status.ErrMonitorPaused):
			log.Debug().Str("monitor_id", result.MonitorID).Msg("Result stored for paused monitor, processing skipped")
			return nil
		case errors.Is(err, status.ErrOutOfOrderResult):
			log.Warn().
				Str("monitor_id", result.MonitorID).
				Time("checked_at", result.CheckedAt).
				Msg("Out-of-order result stored for audit, excluded from status computation")
			return nil
		default:
			return err
		}
	}

	var m storage.Monitor
	if err := e.storage.DB().WithContext(ctx).First(&m, "id = ?", result.MonitorID).Error; err != nil {
		return fmt.Errorf("failed to reload monitor: %w", err)
	}
	return e.evaluator.Evaluate(ctx, &m)
}

// PauseMonitor stops future scheduling for a monitor and invalidates its
// unclaimed probe jobs in the same transaction. In-flight claimed jobs
// complete normally; their results are stored but not processed.
func (e *Engine) PauseMonitor(ctx context.Context, monitorID string) error {
	err := e.storage.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&storage.Monitor{}).
			Where("id = ?", monitorID).
			Update("status", storage.MonitorStatusPaused)
		if res.Error != nil {
			return fmt.Errorf("failed to pause monitor: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return status.ErrMonitorNotFound
		}
		return e.coordinator.CancelPendingJobs(ctx, tx, monitorID)
	})
	if err != nil {
		return err
	}

	log.Info().Str("monitor_id", monitorID).Msg("Monitor paused")
	return nil
}

// ResumeMonitor returns a paused monitor to pending with fresh hysteresis
// counters and makes it immediately due for a check.
func (e *Engine) ResumeMonitor(ctx context.Context, monitorID string) error {
	if err := e.status.Resume(ctx, monitorID); err != nil {
		return err
	}

	now := time.Now()
	err := e.storage.DB().WithContext(ctx).Model(&storage.Monitor{}).
		Where("id = ?", monitorID).
		Update("next_due_at", now).Error
	if err != nil {
		return fmt.Errorf("failed to reschedule monitor: %w", err)
	}
	return nil
}

// Start begins scheduling and background maintenance.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return fmt.Errorf("engine is already running")
	}

	engineCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	log.Info().Msg("Starting monitoring engine")

	var monitorCount int64
	if err := e.storage.DB().Model(&storage.Monitor{}).Count(&monitorCount).Error; err != nil {
		cancel()
		return fmt.Errorf("failed to count monitors: %w", err)
	}
	log.Info().Int64("count", monitorCount).Msg("Loaded monitors")

	if err := e.scheduler.Start(engineCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	if err := e.registerMaintenanceJobs(); err != nil {
		cancel()
		e.scheduler.Stop()
		return err
	}

	e.running = true
	log.Info().Msg("Monitoring engine started")
	return nil
}

// IsRunning reports whether the engine is currently running.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Stop shuts the engine down gracefully.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return
	}

	log.Info().Msg("Stopping monitoring engine")

	if e.cancel != nil {
		e.cancel()
	}
	e.scheduler.Stop()
	e.wg.Wait()

	e.running = false
	log.Info().Msg("Monitoring engine stopped")
}
