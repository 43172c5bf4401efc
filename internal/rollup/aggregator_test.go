package rollup

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
		Driver:       "sqlite",
		DSN:          filepath.Join(t.TempDir(), "vigil.db"),
		MaxOpenConns: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func createRollupMonitor(t *testing.T, st *storage.Storage, timezone string) *storage.Monitor {
	t.Helper()

	m := &storage.Monitor{
		ID:              uuid.NewString(),
		OrgID:           uuid.NewString(),
		Name:            "api",
		Type:            storage.MonitorTypeHTTP,
		Target:          "http://api.example.com/health",
		IntervalSeconds: 60,
		TimeoutMs:       5000,
		Timezone:        timezone,
		Status:          storage.MonitorStatusActive,
	}
	require.NoError(t, st.DB().Create(m).Error)
	return m
}

func insertResultAt(t *testing.T, st *storage.Storage, monitorID, rawStatus string, responseMs int, checkedAt time.Time) {
	t.Helper()

	require.NoError(t, st.DB().Create(&storage.CheckResult{
		MonitorID:      monitorID,
		RawStatus:      rawStatus,
		ResponseTimeMs: responseMs,
		CheckedAt:      checkedAt,
	}).Error)
}

func loadAggregate(t *testing.T, st *storage.Storage, monitorID string, date string) *storage.DailyAggregate {
	t.Helper()

	var agg storage.DailyAggregate
	require.NoError(t, st.DB().
		Where("monitor_id = ? AND date = ?", monitorID, date).
		First(&agg).Error)
	return &agg
}

func TestRollupDayCountsAndUptime(t *testing.T) {
	st := newTestStorage(t)
	a := NewAggregator(st)
	ctx := context.Background()

	m := createRollupMonitor(t, st, "UTC")
	day := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)

	insertResultAt(t, st, m.ID, storage.RawStatusSuccess, 100, day.Add(1*time.Hour))
	insertResultAt(t, st, m.ID, storage.RawStatusSuccess, 200, day.Add(2*time.Hour))
	insertResultAt(t, st, m.ID, storage.RawStatusDegraded, 900, day.Add(3*time.Hour))
	insertResultAt(t, st, m.ID, storage.RawStatusFailure, 0, day.Add(4*time.Hour))
	insertResultAt(t, st, m.ID, storage.RawStatusError, 0, day.Add(5*time.Hour))

	// Outside the day: previous and next day must not leak in.
	insertResultAt(t, st, m.ID, storage.RawStatusFailure, 0, day.Add(-time.Minute))
	insertResultAt(t, st, m.ID, storage.RawStatusFailure, 0, day.Add(24*time.Hour))

	require.NoError(t, a.RollupDay(ctx, m.ID, day))

	agg := loadAggregate(t, st, m.ID, "2026-08-27")
	assert.Equal(t, 2, agg.SuccessCount)
	assert.Equal(t, 1, agg.DegradedCount)
	assert.Equal(t, 2, agg.FailureCount)
	assert.Equal(t, 5, agg.TotalCount)

	// Degraded counts as up: (2+1)/5 = 60%.
	require.NotNil(t, agg.UptimePercentage)
	assert.InDelta(t, 60.0, *agg.UptimePercentage, 0.001)
	assert.InDelta(t, 240.0, agg.AvgResponseTimeMs, 0.001)
}

func TestRollupDayIsIdempotent(t *testing.T) {
	st := newTestStorage(t)
	a := NewAggregator(st)
	ctx := context.Background()

	m := createRollupMonitor(t, st, "UTC")
	day := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)

	insertResultAt(t, st, m.ID, storage.RawStatusSuccess, 100, day.Add(time.Hour))
	insertResultAt(t, st, m.ID, storage.RawStatusFailure, 0, day.Add(2*time.Hour))

	require.NoError(t, a.RollupDay(ctx, m.ID, day))
	first := loadAggregate(t, st, m.ID, "2026-08-27")

	require.NoError(t, a.RollupDay(ctx, m.ID, day))

	var count int64
	require.NoError(t, st.DB().Model(&storage.DailyAggregate{}).
		Where("monitor_id = ?", m.ID).
		Count(&count).Error)
	assert.EqualValues(t, 1, count, "rollup replaces, never duplicates")

	// The stored row is byte-identical after a re-run, updated_at included.
	second := loadAggregate(t, st, m.ID, "2026-08-27")
	assert.Equal(t, first, second)
}

func TestRollupDayWithNoResults(t *testing.T) {
	st := newTestStorage(t)
	a := NewAggregator(st)
	ctx := context.Background()

	m := createRollupMonitor(t, st, "UTC")
	day := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)

	require.NoError(t, a.RollupDay(ctx, m.ID, day))

	agg := loadAggregate(t, st, m.ID, "2026-08-27")
	assert.Zero(t, agg.TotalCount)
	assert.Nil(t, agg.UptimePercentage, "no results means no uptime figure, not 0%")
}

func TestRollupDayUsesMonitorTimezone(t *testing.T) {
	st := newTestStorage(t)
	a := NewAggregator(st)
	ctx := context.Background()

	// Tokyo is UTC+9: 23:30 UTC on the 26th is 08:30 on the 27th locally.
	m := createRollupMonitor(t, st, "Asia/Tokyo")
	insertResultAt(t, st, m.ID, storage.RawStatusSuccess, 100,
		time.Date(2026, 8, 26, 23, 30, 0, 0, time.UTC))

	day := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)
	require.NoError(t, a.RollupDay(ctx, m.ID, day))

	agg := loadAggregate(t, st, m.ID, "2026-08-27")
	assert.Equal(t, 1, agg.TotalCount)
	assert.Equal(t, 1, agg.SuccessCount)
}

func TestRollupDayPercentiles(t *testing.T) {
	st := newTestStorage(t)
	a := NewAggregator(st)
	ctx := context.Background()

	m := createRollupMonitor(t, st, "UTC")
	day := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)

	for i := 1; i <= 100; i++ {
		insertResultAt(t, st, m.ID, storage.RawStatusSuccess, i*10,
			day.Add(time.Duration(i)*time.Minute))
	}

	require.NoError(t, a.RollupDay(ctx, m.ID, day))

	agg := loadAggregate(t, st, m.ID, "2026-08-27")
	assert.Equal(t, 500, agg.P50ResponseTimeMs)
	assert.Equal(t, 950, agg.P95ResponseTimeMs)
	assert.Equal(t, 990, agg.P99ResponseTimeMs)
}

func TestRollupDayUnknownMonitor(t *testing.T) {
	st := newTestStorage(t)
	a := NewAggregator(st)

	err := a.RollupDay(context.Background(), uuid.NewString(), time.Now())
	assert.ErrorIs(t, err, ErrMonitorNotFound)
}
