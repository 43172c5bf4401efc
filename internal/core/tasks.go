package core

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"vigil/internal/storage"
)

// registerMaintenanceJobs wires the periodic work: the dispatch loop,
// heartbeat watchdog, probe liveness sweep and daily rollup.
func (e *Engine) registerMaintenanceJobs() error {
	jobs := []*PeriodicJob{
		{
			ID:         "dispatch",
			Interval:   e.config.Scheduler.TickInterval,
			Task:       e.dispatchDue,
			RunOnStart: true,
		},
		{
			ID:       "heartbeat-watchdog",
			Interval: e.config.Scheduler.TickInterval,
			Task:     e.status.SweepHeartbeats,
		},
		{
			ID:       "probe-liveness",
			Interval: livenessSweepInterval(e.config.Probes.LivenessWindow),
			Task:     e.coordinator.SweepLiveness,
		},
		{
			ID:       "daily-rollup",
			Interval: e.config.Rollup.Interval,
			Task:     e.aggregator.RollupYesterday,
		},
	}

	for _, job := range jobs {
		if err := e.scheduler.AddJob(job); err != nil {
			return fmt.Errorf("failed to register %s job: %w", job.ID, err)
		}
	}
	return nil
}

// livenessSweepInterval samples probe liveness a few times per window so a
// dead probe is noticed well before its lease stock runs dry.
func livenessSweepInterval(window time.Duration) time.Duration {
	interval := window / 3
	if interval < 10*time.Second {
		interval = 10 * time.Second
	}
	return interval
}

// dispatchDue finds monitors whose next check is due and either runs the
// check locally or materializes probe jobs for the monitor's regions.
// Schedule state lives in the store (next_due_at), and each monitor is
// claimed with a guarded advance before dispatch, so replicas picking up
// the same tick dispatch every due monitor exactly once.
func (e *Engine) dispatchDue(ctx context.Context) error {
	now := time.Now()

	var monitors []storage.Monitor
	err := e.storage.DB().WithContext(ctx).
		Where("status <> ? AND type <> ?", storage.MonitorStatusPaused, storage.MonitorTypeHeartbeat).
		Where("next_due_at IS NULL OR next_due_at <= ?", now).
		Find(&monitors).Error
	if err != nil {
		return fmt.Errorf("failed to load due monitors: %w", err)
	}

	for i := range monitors {
		m := monitors[i]

		regions, err := storage.DecodeStringList(m.Regions)
		if err != nil {
			log.Error().Str("monitor_id", m.ID).Err(err).Msg("Skipping monitor with malformed regions")
			continue
		}

		claimed, err := e.claimSchedule(ctx, &m, now)
		if err != nil {
			log.Error().Str("monitor_id", m.ID).Err(err).Msg("Failed to advance schedule")
			continue
		}
		if !claimed {
			continue
		}

		if len(regions) > 0 {
			if err := e.coordinator.EnqueueDueJobs(ctx, &m); err != nil {
				log.Error().Str("monitor_id", m.ID).Err(err).Msg("Failed to enqueue probe jobs")
			}
		} else if e.checker.Supports(m.Type) {
			monitor := m
			e.scheduler.Submit(ctx, "check:"+m.ID, func(taskCtx context.Context) error {
				return e.runLocalCheck(taskCtx, &monitor)
			})
		} else {
			log.Debug().Str("monitor_id", m.ID).Str("type", m.Type).Msg("No local checker and no probe regions, skipping")
		}
	}
	return nil
}

// claimSchedule advances next_due_at with a guard on the old value, the
// same check-and-set used for job lease claims. A zero row count means
// another replica already claimed this occurrence.
func (e *Engine) claimSchedule(ctx context.Context, m *storage.Monitor, now time.Time) (bool, error) {
	next := now.Add(time.Duration(m.IntervalSeconds) * time.Second)
	res := e.storage.DB().WithContext(ctx).Model(&storage.Monitor{}).
		Where("id = ? AND (next_due_at IS NULL OR next_due_at <= ?)", m.ID, now).
		Update("next_due_at", next)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// runLocalCheck executes one check in-process and feeds the outcome
// through the ingestion pipeline.
func (e *Engine) runLocalCheck(ctx context.Context, m *storage.Monitor) error {
	result, err := e.checker.Execute(ctx, m)
	if err != nil {
		return fmt.Errorf("check execution failed for %s: %w", m.ID, err)
	}
	return e.Ingest(ctx, result)
}
