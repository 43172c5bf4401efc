package probe

import (
	"context"
	"path/filepath"
	"sync"
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

func testProbeConfig() config.ProbeConfig {
	return config.ProbeConfig{
		LeaseFloor:     30 * time.Second,
		SkewMargin:     10 * time.Second,
		LivenessWindow: 90 * time.Second,
		MaxClaimBatch:  25,
	}
}

type captureSink struct {
	mu      sync.Mutex
	results []*storage.CheckResult
}

func (s *captureSink) Ingest(_ context.Context, r *storage.CheckResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
	return nil
}

func createProbeMonitor(t *testing.T, st *storage.Storage, regions string) *storage.Monitor {
	t.Helper()

	m := &storage.Monitor{
		ID:              uuid.NewString(),
		OrgID:           uuid.NewString(),
		Name:            "checkout",
		Type:            storage.MonitorTypeHTTPS,
		Target:          "https://checkout.example.com/health",
		IntervalSeconds: 60,
		TimeoutMs:       5000,
		Regions:         regions,
		Status:          storage.MonitorStatusActive,
	}
	require.NoError(t, st.DB().Create(m).Error)
	return m
}

func TestClaimJobsRequiresKnownToken(t *testing.T) {
	st := newTestStorage(t)
	c := NewCoordinator(st, testProbeConfig(), &captureSink{})

	_, err := c.ClaimJobs(context.Background(), "no-such-token", 5)
	assert.ErrorIs(t, err, ErrUnknownProbe)
}

func TestEnqueueDueJobsOnePerRegionAndDeduplicates(t *testing.T) {
	st := newTestStorage(t)
	c := NewCoordinator(st, testProbeConfig(), &captureSink{})
	ctx := context.Background()

	m := createProbeMonitor(t, st, `["us-east","eu-west"]`)

	require.NoError(t, c.EnqueueDueJobs(ctx, m))
	require.NoError(t, c.EnqueueDueJobs(ctx, m))

	var jobs []storage.ProbeJob
	require.NoError(t, st.DB().Where("monitor_id = ?", m.ID).Find(&jobs).Error)
	require.Len(t, jobs, 2)

	regions := map[string]bool{}
	for _, j := range jobs {
		regions[j.Region] = true
		assert.Equal(t, storage.JobStatusPending, j.Status)
	}
	assert.True(t, regions["us-east"])
	assert.True(t, regions["eu-west"])
}

func TestClaimJobsMatchesRegionAndSnapshotsTarget(t *testing.T) {
	st := newTestStorage(t)
	c := NewCoordinator(st, testProbeConfig(), &captureSink{})
	ctx := context.Background()

	m := createProbeMonitor(t, st, `["eu-west"]`)
	require.NoError(t, c.EnqueueDueJobs(ctx, m))

	_, usToken, err := c.RegisterProbe(ctx, m.OrgID, "p-us", "us-east")
	require.NoError(t, err)
	_, euToken, err := c.RegisterProbe(ctx, m.OrgID, "p-eu", "eu-west")
	require.NoError(t, err)

	got, err := c.ClaimJobs(ctx, usToken, 5)
	require.NoError(t, err)
	assert.Empty(t, got, "probe outside the job's region must see nothing")

	got, err = c.ClaimJobs(ctx, euToken, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, m.ID, got[0].MonitorID)
	assert.Equal(t, m.Target, got[0].Target)
	assert.Equal(t, m.Type, got[0].Type)
	assert.Equal(t, m.TimeoutMs, got[0].TimeoutMs)
	assert.True(t, got[0].ExpiresAt.After(time.Now()))
}

func TestConcurrentClaimsNeverDoubleLease(t *testing.T) {
	st := newTestStorage(t)
	c := NewCoordinator(st, testProbeConfig(), &captureSink{})
	ctx := context.Background()

	m := createProbeMonitor(t, st, `["us-east"]`)
	require.NoError(t, c.EnqueueDueJobs(ctx, m))

	const claimers = 8
	tokens := make([]string, claimers)
	for i := 0; i < claimers; i++ {
		var err error
		_, tokens[i], err = c.RegisterProbe(ctx, m.OrgID, "p", "us-east")
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	wins := make(chan ClaimedJob, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(token string) {
			defer wg.Done()
			got, err := c.ClaimJobs(ctx, token, 5)
			assert.NoError(t, err)
			for _, j := range got {
				wins <- j
			}
		}(tokens[i])
	}
	wg.Wait()
	close(wins)

	var claimed []ClaimedJob
	for j := range wins {
		claimed = append(claimed, j)
	}
	require.Len(t, claimed, 1, "exactly one claimer may hold the lease")

	var job storage.ProbeJob
	require.NoError(t, st.DB().First(&job, "id = ?", claimed[0].JobID).Error)
	assert.Equal(t, storage.JobStatusClaimed, job.Status)
	require.NotNil(t, job.ProbeID)
}

func TestExpiredLeaseIsReclaimable(t *testing.T) {
	st := newTestStorage(t)
	c := NewCoordinator(st, testProbeConfig(), &captureSink{})
	ctx := context.Background()

	m := createProbeMonitor(t, st, `["us-east"]`)
	require.NoError(t, c.EnqueueDueJobs(ctx, m))

	first, firstToken, err := c.RegisterProbe(ctx, m.OrgID, "p1", "us-east")
	require.NoError(t, err)
	_, secondToken, err := c.RegisterProbe(ctx, m.OrgID, "p2", "us-east")
	require.NoError(t, err)

	got, err := c.ClaimJobs(ctx, firstToken, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)

	// Unexpired lease: second probe must not steal it.
	stolen, err := c.ClaimJobs(ctx, secondToken, 5)
	require.NoError(t, err)
	assert.Empty(t, stolen)

	// Expire the lease; the job becomes claimable again.
	past := time.Now().Add(-time.Minute)
	require.NoError(t, st.DB().Model(&storage.ProbeJob{}).
		Where("id = ?", got[0].JobID).
		Update("expires_at", past).Error)

	stolen, err = c.ClaimJobs(ctx, secondToken, 5)
	require.NoError(t, err)
	require.Len(t, stolen, 1)
	assert.Equal(t, got[0].JobID, stolen[0].JobID)

	var job storage.ProbeJob
	require.NoError(t, st.DB().First(&job, "id = ?", got[0].JobID).Error)
	require.NotNil(t, job.ProbeID)
	assert.NotEqual(t, first.ID, *job.ProbeID)
}

func TestExclusiveAssignmentWithInactiveFallback(t *testing.T) {
	st := newTestStorage(t)
	c := NewCoordinator(st, testProbeConfig(), &captureSink{})
	ctx := context.Background()

	m := createProbeMonitor(t, st, `["us-east"]`)
	require.NoError(t, c.EnqueueDueJobs(ctx, m))

	owner, ownerToken, err := c.RegisterProbe(ctx, m.OrgID, "owner", "us-east")
	require.NoError(t, err)
	_, otherToken, err := c.RegisterProbe(ctx, m.OrgID, "other", "us-east")
	require.NoError(t, err)

	require.NoError(t, c.AssignMonitor(ctx, owner.ID, m.ID, 10, true))

	got, err := c.ClaimJobs(ctx, otherToken, 5)
	require.NoError(t, err)
	assert.Empty(t, got, "exclusive assignment blocks other probes")

	got, err = c.ClaimJobs(ctx, ownerToken, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)

	// New round of work with the exclusive owner dead: peers take over.
	require.NoError(t, st.DB().Model(&storage.ProbeJob{}).
		Where("id = ?", got[0].JobID).
		Update("expires_at", time.Now().Add(-time.Minute)).Error)
	require.NoError(t, st.DB().Model(&storage.Probe{}).
		Where("id = ?", owner.ID).
		Update("active", false).Error)

	got, err = c.ClaimJobs(ctx, otherToken, 5)
	require.NoError(t, err)
	require.Len(t, got, 1, "inactive exclusive owner falls back to region peers")
}

func TestSubmitResultValidatesLease(t *testing.T) {
	st := newTestStorage(t)
	sink := &captureSink{}
	c := NewCoordinator(st, testProbeConfig(), sink)
	ctx := context.Background()

	m := createProbeMonitor(t, st, `["us-east"]`)
	require.NoError(t, c.EnqueueDueJobs(ctx, m))

	_, holderToken, err := c.RegisterProbe(ctx, m.OrgID, "holder", "us-east")
	require.NoError(t, err)
	_, strangerToken, err := c.RegisterProbe(ctx, m.OrgID, "stranger", "us-east")
	require.NoError(t, err)

	sub := &Submission{
		Status:         storage.RawStatusSuccess,
		ResponseTimeMs: 120,
		CheckedAt:      time.Now(),
	}

	var pending storage.ProbeJob
	require.NoError(t, st.DB().First(&pending, "monitor_id = ?", m.ID).Error)

	err = c.SubmitResult(ctx, pending.ID, holderToken, sub)
	assert.ErrorIs(t, err, ErrLeaseConflict, "unclaimed job accepts no result")

	err = c.SubmitResult(ctx, uuid.NewString(), holderToken, sub)
	assert.ErrorIs(t, err, ErrJobNotFound)

	got, err := c.ClaimJobs(ctx, holderToken, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)

	err = c.SubmitResult(ctx, got[0].JobID, strangerToken, sub)
	assert.ErrorIs(t, err, ErrStaleSubmission, "foreign lease is rejected")

	require.NoError(t, c.SubmitResult(ctx, got[0].JobID, holderToken, sub))

	var job storage.ProbeJob
	require.NoError(t, st.DB().First(&job, "id = ?", got[0].JobID).Error)
	assert.Equal(t, storage.JobStatusCompleted, job.Status)

	require.Len(t, sink.results, 1)
	assert.Equal(t, m.ID, sink.results[0].MonitorID)
	assert.Equal(t, "us-east", sink.results[0].Region)
	assert.Equal(t, storage.RawStatusSuccess, sink.results[0].RawStatus)

	// A duplicate of an already completed job is discarded.
	err = c.SubmitResult(ctx, got[0].JobID, holderToken, sub)
	assert.ErrorIs(t, err, ErrStaleSubmission)
	assert.Len(t, sink.results, 1)
}

func TestSubmitResultAfterLeaseExpiry(t *testing.T) {
	st := newTestStorage(t)
	sink := &captureSink{}
	c := NewCoordinator(st, testProbeConfig(), sink)
	ctx := context.Background()

	m := createProbeMonitor(t, st, `["us-east"]`)
	require.NoError(t, c.EnqueueDueJobs(ctx, m))

	_, token, err := c.RegisterProbe(ctx, m.OrgID, "slow", "us-east")
	require.NoError(t, err)

	got, err := c.ClaimJobs(ctx, token, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)

	require.NoError(t, st.DB().Model(&storage.ProbeJob{}).
		Where("id = ?", got[0].JobID).
		Update("expires_at", time.Now().Add(-time.Second)).Error)

	err = c.SubmitResult(ctx, got[0].JobID, token, &Submission{
		Status:         storage.RawStatusSuccess,
		ResponseTimeMs: 90,
	})
	assert.ErrorIs(t, err, ErrStaleSubmission)
	assert.Empty(t, sink.results)
}

func TestHeartbeatAndLivenessSweep(t *testing.T) {
	st := newTestStorage(t)
	c := NewCoordinator(st, testProbeConfig(), &captureSink{})
	ctx := context.Background()

	p, token, err := c.RegisterProbe(ctx, uuid.NewString(), "edge", "ap-south")
	require.NoError(t, err)

	require.NoError(t, c.Heartbeat(ctx, token, `{"load":0.2}`))

	var fresh storage.Probe
	require.NoError(t, st.DB().First(&fresh, "id = ?", p.ID).Error)
	require.NotNil(t, fresh.LastHeartbeatAt)
	assert.True(t, fresh.Active)

	// Recent heartbeat survives the sweep.
	require.NoError(t, c.SweepLiveness(ctx))
	require.NoError(t, st.DB().First(&fresh, "id = ?", p.ID).Error)
	assert.True(t, fresh.Active)

	// Stale heartbeat does not.
	stale := time.Now().Add(-10 * time.Minute)
	require.NoError(t, st.DB().Model(&storage.Probe{}).
		Where("id = ?", p.ID).
		Update("last_heartbeat_at", stale).Error)

	require.NoError(t, c.SweepLiveness(ctx))
	require.NoError(t, st.DB().First(&fresh, "id = ?", p.ID).Error)
	assert.False(t, fresh.Active)

	// A heartbeat reactivates the probe.
	require.NoError(t, c.Heartbeat(ctx, token, `{"load":0.1}`))
	require.NoError(t, st.DB().First(&fresh, "id = ?", p.ID).Error)
	assert.True(t, fresh.Active)
}

func TestCancelPendingJobs(t *testing.T) {
	st := newTestStorage(t)
	c := NewCoordinator(st, testProbeConfig(), &captureSink{})
	ctx := context.Background()

	m := createProbeMonitor(t, st, `["us-east","eu-west"]`)
	require.NoError(t, c.EnqueueDueJobs(ctx, m))

	require.NoError(t, c.CancelPendingJobs(ctx, nil, m.ID))

	var jobs []storage.ProbeJob
	require.NoError(t, st.DB().Where("monitor_id = ?", m.ID).Find(&jobs).Error)
	require.Len(t, jobs, 2)
	for _, j := range jobs {
		assert.Equal(t, storage.JobStatusCanceled, j.Status)
	}
}
