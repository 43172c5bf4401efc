package status

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"vigil/internal/storage"
)

// ErrUnknownHeartbeatToken is returned for pings against tokens that do not
// belong to any heartbeat monitor.
var ErrUnknownHeartbeatToken = errors.New("unknown heartbeat token")

// Heartbeat ping statuses accepted on the public ingestion endpoint.
const (
	PingStart    = "start"
	PingComplete = "complete"
	PingFail     = "fail"
)

// ResultSink ingests a check result into the result store and downstream
// processing (status computation, alert evaluation).
type ResultSink interface {
	Ingest(ctx context.Context, result *storage.CheckResult) error
}

// SetResultSink wires the ingestion pipeline used for heartbeat pings and
// synthesized liveness failures. Must be set before SweepHeartbeats runs.
func (e *Engine) SetResultSink(sink ResultSink) {
	e.sink = sink
}

// Ping records one heartbeat ping for the monitor owning the token.
//
// A "start" ping only refreshes liveness; "complete" and "fail" feed a
// success or failure result through the ingestion pipeline. durationMs is
// the reported job duration and becomes the result's response time.
func (e *Engine) Ping(ctx context.Context, token, pingStatus string, durationMs int) error {
	var monitor storage.Monitor
	err := e.storage.DB().WithContext(ctx).
		First(&monitor, "heartbeat_token = ? AND type = ?", token, storage.MonitorTypeHeartbeat).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUnknownHeartbeatToken
		}
		return fmt.Errorf("failed to resolve heartbeat token: %w", err)
	}

	now := time.Now()
	if err := e.storage.DB().WithContext(ctx).Model(&storage.Monitor{}).
		Where("id = ?", monitor.ID).
		Update("last_heartbeat_at", now).Error; err != nil {
		return fmt.Errorf("failed to refresh heartbeat: %w", err)
	}

	var rawStatus string
	switch pingStatus {
	case PingStart:
		return nil
	case PingComplete:
		rawStatus = storage.RawStatusSuccess
	case PingFail:
		rawStatus = storage.RawStatusFailure
	default:
		return fmt.Errorf("unsupported ping status: %s", pingStatus)
	}

	result := &storage.CheckResult{
		MonitorID:      monitor.ID,
		RawStatus:      rawStatus,
		ResponseTimeMs: durationMs,
		CheckedAt:      now,
	}
	return e.sink.Ingest(ctx, result)
}

// SweepHeartbeats synthesizes failures for overdue heartbeat monitors:
// when no ping arrived within interval plus grace period, a failure result
// is fed through the same state machine as real outcomes.
//
// Repeated silence produces one synthesized failure per missed window,
// giving hysteresis counters a continuous timeline to work with.
func (e *Engine) SweepHeartbeats(ctx context.Context) error {
	var monitors []storage.Monitor
	err := e.storage.DB().WithContext(ctx).
		Where("type = ? AND status <> ?", storage.MonitorTypeHeartbeat, storage.MonitorStatusPaused).
		Find(&monitors).Error
	if err != nil {
		return fmt.Errorf("failed to load heartbeat monitors: %w", err)
	}

	now := time.Now()
	for i := range monitors {
		m := &monitors[i]

		window := time.Duration(m.IntervalSeconds)*time.Second +
			time.Duration(m.HeartbeatGraceSeconds)*time.Second

		// A never-pinged monitor is measured from creation.
		lastSignal := m.CreatedAt
		if m.LastHeartbeatAt != nil && m.LastHeartbeatAt.After(lastSignal) {
			lastSignal = *m.LastHeartbeatAt
		}
		if m.LastProcessedAt != nil && m.LastProcessedAt.After(lastSignal) {
			lastSignal = *m.LastProcessedAt
		}

		if now.Sub(lastSignal) <= window {
			continue
		}

		msg := fmt.Sprintf("no heartbeat received within %s", window)
		result := &storage.CheckResult{
			MonitorID:    m.ID,
			RawStatus:    storage.RawStatusFailure,
			ErrorMessage: &msg,
			CheckedAt:    now,
		}
		if err := e.sink.Ingest(ctx, result); err != nil {
			log.Error().Str("monitor_id", m.ID).Err(err).Msg("Failed to ingest synthesized heartbeat failure")
		}
	}
	return nil
}
