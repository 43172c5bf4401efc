package deploy

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

func TestFindAdjacentWindow(t *testing.T) {
	st := newTestStorage(t)
	c := NewCorrelator(st)
	ctx := context.Background()

	orgID := uuid.NewString()
	incident := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)

	before, err := c.Record(ctx, orgID, "", "checkout", "v1.4.2", incident.Add(-10*time.Minute))
	require.NoError(t, err)
	after, err := c.Record(ctx, orgID, "", "checkout", "v1.4.3", incident.Add(20*time.Minute))
	require.NoError(t, err)
	_, err = c.Record(ctx, orgID, "", "checkout", "v1.3.0", incident.Add(-3*time.Hour))
	require.NoError(t, err)

	// Another org's deployment never appears.
	_, err = c.Record(ctx, uuid.NewString(), "", "checkout", "v9.9.9", incident)
	require.NoError(t, err)

	events, err := c.FindAdjacent(ctx, orgID, "", incident, 30*time.Minute)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, after.ID, events[0].ID, "most recent first")
	assert.Equal(t, before.ID, events[1].ID)
}

func TestFindAdjacentMonitorFilter(t *testing.T) {
	st := newTestStorage(t)
	c := NewCorrelator(st)
	ctx := context.Background()

	orgID := uuid.NewString()
	monitorID := uuid.NewString()
	otherMonitorID := uuid.NewString()
	incident := time.Now()

	mine, err := c.Record(ctx, orgID, monitorID, "api", "v2.0.0", incident.Add(-time.Minute))
	require.NoError(t, err)
	wide, err := c.Record(ctx, orgID, "", "platform", "2026-08-27.1", incident.Add(-2*time.Minute))
	require.NoError(t, err)
	_, err = c.Record(ctx, orgID, otherMonitorID, "api", "v2.0.1", incident.Add(-3*time.Minute))
	require.NoError(t, err)

	events, err := c.FindAdjacent(ctx, orgID, monitorID, incident, 10*time.Minute)
	require.NoError(t, err)
	require.Len(t, events, 2, "own deployments plus service-wide ones")
	assert.Equal(t, mine.ID, events[0].ID)
	assert.Equal(t, wide.ID, events[1].ID)
}

func TestFindAdjacentEmptyWindow(t *testing.T) {
	st := newTestStorage(t)
	c := NewCorrelator(st)

	events, err := c.FindAdjacent(context.Background(), uuid.NewString(), "", time.Now(), time.Hour)
	require.NoError(t, err)
	assert.Empty(t, events)
}
