package status

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/config"
	"vigil/internal/storage"
)

func newTestStorage(t *testing.T) *storage.Storage {
	t.Helper()

	st, err := storage.New(config.StorageConfig{
		Driver:          "sqlite",
		DSN:             filepath.Join(t.TempDir(), "vigil_test.db"),
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	return st
}

func createMonitor(t *testing.T, st *storage.Storage, mutate func(*storage.Monitor)) *storage.Monitor {
	t.Helper()

	m := &storage.Monitor{
		ID:                 uuid.NewString(),
		OrgID:              uuid.NewString(),
		Name:               "api endpoint",
		Type:               storage.MonitorTypeHTTP,
		Target:             "https://example.com/health",
		IntervalSeconds:    60,
		TimeoutMs:          5000,
		DegradedAfterCount: 1,
		DownAfterCount:     1,
		Status:             storage.MonitorStatusPending,
	}
	if mutate != nil {
		mutate(m)
	}
	require.NoError(t, st.DB().Create(m).Error)

	return m
}

func TestDownAfterConsecutiveFailures(t *testing.T) {
	st := newTestStorage(t)
	engine := NewEngine(st)
	ctx := context.Background()

	monitor := createMonitor(t, st, func(m *storage.Monitor) {
		m.DownAfterCount = 2
	})

	base := time.Now()

	// First failure: below the down threshold, no transition, and no stop
	// at degraded since the streak contains only failures.
	res, err := engine.RecordResult(ctx, monitor.ID, storage.RawStatusFailure, 0, base)
	require.NoError(t, err)
	assert.False(t, res.Transitioned)
	assert.Equal(t, storage.MonitorStatusPending, res.NewStatus)

	// Second failure flips pending -> down directly.
	res, err = engine.RecordResult(ctx, monitor.ID, storage.RawStatusFailure, 0, base.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, res.Transitioned)
	assert.Equal(t, storage.MonitorStatusPending, res.OldStatus)
	assert.Equal(t, storage.MonitorStatusDown, res.NewStatus)

	// A single success recovers immediately, no hysteresis on the way up.
	res, err = engine.RecordResult(ctx, monitor.ID, storage.RawStatusSuccess, 120, base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, res.Transitioned)
	assert.Equal(t, storage.MonitorStatusDown, res.OldStatus)
	assert.Equal(t, storage.MonitorStatusActive, res.NewStatus)
}

func TestErrorResultsCountTowardDown(t *testing.T) {
	st := newTestStorage(t)
	engine := NewEngine(st)
	ctx := context.Background()

	monitor := createMonitor(t, st, func(m *storage.Monitor) {
		m.DownAfterCount = 2
	})

	base := time.Now()
	_, err := engine.RecordResult(ctx, monitor.ID, storage.RawStatusFailure, 0, base)
	require.NoError(t, err)

	res, err := engine.RecordResult(ctx, monitor.ID, storage.RawStatusError, 0, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, storage.MonitorStatusDown, res.NewStatus)
}

func TestDegradedAccumulation(t *testing.T) {
	st := newTestStorage(t)
	engine := NewEngine(st)
	ctx := context.Background()

	monitor := createMonitor(t, st, func(m *storage.Monitor) {
		m.DegradedAfterCount = 2
		m.DownAfterCount = 5
	})

	base := time.Now()
	res, err := engine.RecordResult(ctx, monitor.ID, storage.RawStatusDegraded, 900, base)
	require.NoError(t, err)
	assert.False(t, res.Transitioned)

	res, err = engine.RecordResult(ctx, monitor.ID, storage.RawStatusDegraded, 950, base.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, res.Transitioned)
	assert.Equal(t, storage.MonitorStatusDegraded, res.NewStatus)

	// A failure after degraded keeps the degraded accumulation alive but
	// does not flip to down below the threshold.
	res, err = engine.RecordResult(ctx, monitor.ID, storage.RawStatusFailure, 0, base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, storage.MonitorStatusDegraded, res.NewStatus)
}

func TestDegradedBelowLatencyThresholdIsSuccessClass(t *testing.T) {
	st := newTestStorage(t)
	engine := NewEngine(st)
	ctx := context.Background()

	monitor := createMonitor(t, st, func(m *storage.Monitor) {
		m.DegradedThresholdMs = 500
	})

	// Degraded raw status but under the monitor's own threshold: counts as
	// a healthy outcome and activates the monitor.
	res, err := engine.RecordResult(ctx, monitor.ID, storage.RawStatusDegraded, 200, time.Now())
	require.NoError(t, err)
	assert.Equal(t, storage.MonitorStatusActive, res.NewStatus)
}

func TestPausedMonitorRejectsIngestion(t *testing.T) {
	st := newTestStorage(t)
	engine := NewEngine(st)
	ctx := context.Background()

	monitor := createMonitor(t, st, nil)
	require.NoError(t, engine.Pause(ctx, monitor.ID))

	// Pausing twice is idempotent.
	require.NoError(t, engine.Pause(ctx, monitor.ID))

	_, err := engine.RecordResult(ctx, monitor.ID, storage.RawStatusFailure, 0, time.Now())
	assert.ErrorIs(t, err, ErrMonitorPaused)

	require.NoError(t, engine.Resume(ctx, monitor.ID))
	require.NoError(t, engine.Resume(ctx, monitor.ID))

	res, err := engine.RecordResult(ctx, monitor.ID, storage.RawStatusSuccess, 100, time.Now())
	require.NoError(t, err)
	assert.Equal(t, storage.MonitorStatusActive, res.NewStatus)
}

func TestOutOfOrderResultExcluded(t *testing.T) {
	st := newTestStorage(t)
	engine := NewEngine(st)
	ctx := context.Background()

	monitor := createMonitor(t, st, func(m *storage.Monitor) {
		m.DownAfterCount = 2
	})

	now := time.Now()
	_, err := engine.RecordResult(ctx, monitor.ID, storage.RawStatusSuccess, 100, now)
	require.NoError(t, err)

	// A result from well before the last processed timestamp is rejected
	// and must not disturb the current status.
	res, err := engine.RecordResult(ctx, monitor.ID, storage.RawStatusFailure, 0, now.Add(-5*time.Minute))
	assert.ErrorIs(t, err, ErrOutOfOrderResult)
	assert.Equal(t, storage.MonitorStatusActive, res.NewStatus)

	var reloaded storage.Monitor
	require.NoError(t, st.DB().First(&reloaded, "id = ?", monitor.ID).Error)
	assert.Equal(t, storage.MonitorStatusActive, reloaded.Status)
	assert.Equal(t, 0, reloaded.ConsecutiveFailures)
}

func TestTransitionsAreRecordedAndEmitted(t *testing.T) {
	st := newTestStorage(t)
	engine := NewEngine(st)
	ctx := context.Background()

	var emitted []storage.StatusTransition
	engine.OnTransition(func(_ context.Context, tr storage.StatusTransition) {
		emitted = append(emitted, tr)
	})

	monitor := createMonitor(t, st, nil)

	_, err := engine.RecordResult(ctx, monitor.ID, storage.RawStatusFailure, 0, time.Now())
	require.NoError(t, err)
	_, err = engine.RecordResult(ctx, monitor.ID, storage.RawStatusSuccess, 80, time.Now().Add(time.Second))
	require.NoError(t, err)

	require.Len(t, emitted, 2)
	assert.Equal(t, storage.MonitorStatusDown, emitted[0].ToStatus)
	assert.Equal(t, storage.MonitorStatusActive, emitted[1].ToStatus)

	var count int64
	require.NoError(t, st.DB().Model(&storage.StatusTransition{}).
		Where("monitor_id = ?", monitor.ID).Count(&count).Error)
	assert.EqualValues(t, 2, count)
}
