package status

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/storage"
)

// pipeSink captures ingested results and feeds them back through the state
// machine, the way the engine's ingestion funnel does.
type pipeSink struct {
	engine  *Engine
	results []*storage.CheckResult
}

func (s *pipeSink) Ingest(ctx context.Context, r *storage.CheckResult) error {
	s.results = append(s.results, r)
	_, err := s.engine.RecordResult(ctx, r.MonitorID, r.RawStatus, r.ResponseTimeMs, r.CheckedAt)
	return err
}

func createHeartbeatMonitor(t *testing.T, st *storage.Storage, mutate func(*storage.Monitor)) *storage.Monitor {
	t.Helper()

	token := uuid.NewString()
	m := &storage.Monitor{
		ID:                    uuid.NewString(),
		OrgID:                 uuid.NewString(),
		Name:                  "nightly backup",
		Type:                  storage.MonitorTypeHeartbeat,
		IntervalSeconds:       60,
		TimeoutMs:             1000,
		HeartbeatToken:        &token,
		HeartbeatGraceSeconds: 30,
		DegradedAfterCount:    1,
		DownAfterCount:        1,
		Status:                storage.MonitorStatusActive,
	}
	if mutate != nil {
		mutate(m)
	}
	require.NoError(t, st.DB().Create(m).Error)
	return m
}

// backdateCreation moves a monitor's creation time into the past so the
// never-pinged liveness window can be exceeded.
func backdateCreation(t *testing.T, st *storage.Storage, monitorID string, d time.Duration) {
	t.Helper()

	require.NoError(t, st.DB().Model(&storage.Monitor{}).
		Where("id = ?", monitorID).
		Update("created_at", time.Now().Add(-d)).Error)
}

func TestSweepHeartbeatsSynthesizesFailureForOverdueMonitor(t *testing.T) {
	st := newTestStorage(t)
	e := NewEngine(st)
	sink := &pipeSink{engine: e}
	e.SetResultSink(sink)
	ctx := context.Background()

	// interval 60s + grace 30s, last signal 5 minutes ago: overdue.
	m := createHeartbeatMonitor(t, st, nil)
	backdateCreation(t, st, m.ID, 5*time.Minute)

	require.NoError(t, e.SweepHeartbeats(ctx))

	require.Len(t, sink.results, 1)
	assert.Equal(t, m.ID, sink.results[0].MonitorID)
	assert.Equal(t, storage.RawStatusFailure, sink.results[0].RawStatus)
	require.NotNil(t, sink.results[0].ErrorMessage)
	assert.Contains(t, *sink.results[0].ErrorMessage, "no heartbeat received")

	var reloaded storage.Monitor
	require.NoError(t, st.DB().First(&reloaded, "id = ?", m.ID).Error)
	assert.Equal(t, storage.MonitorStatusDown, reloaded.Status)
}

func TestSweepHeartbeatsOnePerMissedWindow(t *testing.T) {
	st := newTestStorage(t)
	e := NewEngine(st)
	sink := &pipeSink{engine: e}
	e.SetResultSink(sink)
	ctx := context.Background()

	m := createHeartbeatMonitor(t, st, nil)
	backdateCreation(t, st, m.ID, 5*time.Minute)

	require.NoError(t, e.SweepHeartbeats(ctx))
	require.Len(t, sink.results, 1)

	// The synthesized failure advanced the processed timestamp, so an
	// immediate re-sweep finds the monitor inside its window again.
	require.NoError(t, e.SweepHeartbeats(ctx))
	assert.Len(t, sink.results, 1)
}

func TestSweepHeartbeatsSkipsHealthyAndPausedMonitors(t *testing.T) {
	st := newTestStorage(t)
	e := NewEngine(st)
	sink := &pipeSink{engine: e}
	e.SetResultSink(sink)
	ctx := context.Background()

	// Created just now: within interval+grace.
	createHeartbeatMonitor(t, st, nil)

	// Overdue but recently pinged.
	pinged := createHeartbeatMonitor(t, st, func(m *storage.Monitor) {
		now := time.Now()
		m.LastHeartbeatAt = &now
	})
	backdateCreation(t, st, pinged.ID, 10*time.Minute)

	// Overdue but paused.
	paused := createHeartbeatMonitor(t, st, func(m *storage.Monitor) {
		m.Status = storage.MonitorStatusPaused
	})
	backdateCreation(t, st, paused.ID, 10*time.Minute)

	require.NoError(t, e.SweepHeartbeats(ctx))
	assert.Empty(t, sink.results)
}

func TestPingRefreshesLivenessAndIngests(t *testing.T) {
	st := newTestStorage(t)
	e := NewEngine(st)
	sink := &pipeSink{engine: e}
	e.SetResultSink(sink)
	ctx := context.Background()

	m := createHeartbeatMonitor(t, st, nil)

	// Start only refreshes liveness.
	require.NoError(t, e.Ping(ctx, *m.HeartbeatToken, PingStart, 0))
	assert.Empty(t, sink.results)

	var reloaded storage.Monitor
	require.NoError(t, st.DB().First(&reloaded, "id = ?", m.ID).Error)
	assert.NotNil(t, reloaded.LastHeartbeatAt)

	// Complete and fail feed the pipeline.
	require.NoError(t, e.Ping(ctx, *m.HeartbeatToken, PingComplete, 1200))
	require.Len(t, sink.results, 1)
	assert.Equal(t, storage.RawStatusSuccess, sink.results[0].RawStatus)
	assert.Equal(t, 1200, sink.results[0].ResponseTimeMs)

	require.NoError(t, e.Ping(ctx, *m.HeartbeatToken, PingFail, 0))
	require.Len(t, sink.results, 2)
	assert.Equal(t, storage.RawStatusFailure, sink.results[1].RawStatus)

	assert.ErrorIs(t, e.Ping(ctx, uuid.NewString(), PingComplete, 0), ErrUnknownHeartbeatToken)
}
