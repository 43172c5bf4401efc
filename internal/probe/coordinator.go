// Package probe implements the remote probe coordination layer: probe
// registration and liveness, monitor assignment, job leasing and result
// submission.
//
// Probes are untrusted remote agents. Every interaction is explicit
// request/response authenticated by a per-probe token, and every piece of
// work is a time-bounded lease so that a crashed or partitioned probe can
// never strand a check or corrupt history with a late duplicate.
package probe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"vigil/internal/config"
	"vigil/internal/storage"
)

var (
	// ErrUnknownProbe is returned when no probe matches the presented token.
	ErrUnknownProbe = errors.New("unknown probe token")

	// ErrJobNotFound is returned for submissions against unknown job ids.
	ErrJobNotFound = errors.New("job not found")

	// ErrLeaseConflict is returned when a job is already claimed under an
	// unexpired lease. The caller must re-poll; the coordinator never
	// retries internally.
	ErrLeaseConflict = errors.New("job lease conflict")

	// ErrStaleSubmission is returned when a result is submitted against an
	// expired or foreign lease. The submission is rejected and discarded,
	// never silently accepted.
	ErrStaleSubmission = errors.New("stale or foreign lease")

	// ErrMonitorNotFound is returned for assignments against unknown
	// monitors.
	ErrMonitorNotFound = errors.New("monitor not found")
)

// ResultSink receives accepted probe submissions for ingestion into the
// check result store and downstream status/alert processing.
type ResultSink interface {
	Ingest(ctx context.Context, result *storage.CheckResult) error
}

// TargetSnapshot freezes what a probe needs to execute one check, taken at
// job materialization time so a concurrent monitor edit cannot change work
// already handed out.
type TargetSnapshot struct {
	Target    string `json:"target"`
	Type      string `json:"type"`
	TimeoutMs int    `json:"timeout_ms"`
}

// ClaimedJob is the coordinator's answer to a successful claim.
type ClaimedJob struct {
	JobID     string    `json:"job_id"`
	MonitorID string    `json:"monitor_id"`
	Target    string    `json:"target"`
	Type      string    `json:"type"`
	TimeoutMs int       `json:"timeout_ms"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Submission is a probe-reported check outcome.
type Submission struct {
	Status         string `json:"status"`
	ResponseTimeMs int    `json:"response_time_ms"`
	StatusCode     *int   `json:"status_code,omitempty"`

	DNSMs      *int `json:"dns_ms,omitempty"`
	TCPMs      *int `json:"tcp_ms,omitempty"`
	TLSMs      *int `json:"tls_ms,omitempty"`
	TTFBMs     *int `json:"ttfb_ms,omitempty"`
	TransferMs *int `json:"transfer_ms,omitempty"`

	CertIssuer          *string    `json:"cert_issuer,omitempty"`
	CertSubject         *string    `json:"cert_subject,omitempty"`
	CertValidFrom       *time.Time `json:"cert_valid_from,omitempty"`
	CertValidTo         *time.Time `json:"cert_valid_to,omitempty"`
	CertDaysUntilExpiry *int       `json:"cert_days_until_expiry,omitempty"`
	CertSerial          *string    `json:"cert_serial,omitempty"`
	CertFingerprint     *string    `json:"cert_fingerprint,omitempty"`

	ErrorMessage *string `json:"error_message,omitempty"`
	Metadata     string  `json:"metadata,omitempty"`

	CheckedAt time.Time `json:"checked_at"`
}

// Coordinator manages probes, assignments and job leases.
type Coordinator struct {
	storage *storage.Storage
	cfg     config.ProbeConfig
	sink    ResultSink
}

// NewCoordinator creates a coordinator backed by the given storage.
func NewCoordinator(st *storage.Storage, cfg config.ProbeConfig, sink ResultSink) *Coordinator {
	return &Coordinator{
		storage: st,
		cfg:     cfg,
		sink:    sink,
	}
}

// HashToken returns the hex-encoded SHA-256 of a probe auth token, the form
// stored at rest.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// RegisterProbe creates a probe and returns it together with the plaintext
// auth token. The plaintext is never recoverable afterwards.
func (c *Coordinator) RegisterProbe(ctx context.Context, orgID, name, region string) (*storage.Probe, string, error) {
	token := uuid.NewString()

	p := &storage.Probe{
		ID:        uuid.NewString(),
		OrgID:     orgID,
		Name:      name,
		Region:    region,
		TokenHash: HashToken(token),
		Active:    true,
	}
	if err := c.storage.DB().WithContext(ctx).Create(p).Error; err != nil {
		return nil, "", fmt.Errorf("failed to register probe: %w", err)
	}

	log.Info().Str("probe_id", p.ID).Str("region", region).Msg("Probe registered")
	return p, token, nil
}

// authenticate resolves a probe from its presented token.
func (c *Coordinator) authenticate(ctx context.Context, token string) (*storage.Probe, error) {
	var p storage.Probe
	err := c.storage.DB().WithContext(ctx).First(&p, "token_hash = ?", HashToken(token)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownProbe
		}
		return nil, fmt.Errorf("failed to authenticate probe: %w", err)
	}
	return &p, nil
}

// AssignMonitor binds a monitor to a probe. Assigning an already assigned
// pair updates its priority and exclusivity.
func (c *Coordinator) AssignMonitor(ctx context.Context, probeID, monitorID string, priority int, exclusive bool) error {
	var count int64
	if err := c.storage.DB().WithContext(ctx).Model(&storage.Monitor{}).
		Where("id = ?", monitorID).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check monitor: %w", err)
	}
	if count == 0 {
		return ErrMonitorNotFound
	}

	assignment := storage.ProbeAssignment{
		ProbeID:   probeID,
		MonitorID: monitorID,
		Priority:  priority,
		Exclusive: exclusive,
	}

	res := c.storage.DB().WithContext(ctx).Model(&storage.ProbeAssignment{}).
		Where("probe_id = ? AND monitor_id = ?", probeID, monitorID).
		Updates(map[string]interface{}{"priority": priority, "exclusive": exclusive})
	if res.Error != nil {
		return fmt.Errorf("failed to update assignment: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if err := c.storage.DB().WithContext(ctx).Create(&assignment).Error; err != nil {
			return fmt.Errorf("failed to create assignment: %w", err)
		}
	}
	return nil
}

// EnqueueDueJobs materializes one pending job per probe region for a monitor
// that is due for a remote check. Regions that already carry an open job for
// the monitor are skipped so slow probes do not pile up duplicate work.
func (c *Coordinator) EnqueueDueJobs(ctx context.Context, m *storage.Monitor) error {
	regions, err := storage.DecodeStringList(m.Regions)
	if err != nil {
		return fmt.Errorf("monitor %s has malformed regions: %w", m.ID, err)
	}

	snapshot, err := json.Marshal(TargetSnapshot{
		Target:    m.Target,
		Type:      m.Type,
		TimeoutMs: m.TimeoutMs,
	})
	if err != nil {
		return fmt.Errorf("failed to snapshot target: %w", err)
	}

	for _, region := range regions {
		// Claimed-but-expired jobs still count as open: the claim path
		// recycles them, so enqueueing another would duplicate the check.
		var open int64
		err := c.storage.DB().WithContext(ctx).Model(&storage.ProbeJob{}).
			Where("monitor_id = ? AND region = ? AND status IN ?",
				m.ID, region, []string{storage.JobStatusPending, storage.JobStatusClaimed}).
			Count(&open).Error
		if err != nil {
			return fmt.Errorf("failed to count open jobs: %w", err)
		}
		if open > 0 {
			continue
		}

		job := &storage.ProbeJob{
			ID:             uuid.NewString(),
			MonitorID:      m.ID,
			Region:         region,
			TargetSnapshot: string(snapshot),
			Status:         storage.JobStatusPending,
		}
		if err := c.storage.DB().WithContext(ctx).Create(job).Error; err != nil {
			return fmt.Errorf("failed to enqueue job: %w", err)
		}
	}
	return nil
}

// ClaimJobs atomically transitions up to limit claimable jobs in the
// requesting probe's region into the claimed state with a fresh lease.
//
// A job is claimable when pending or when a previous claim's lease has
// expired. The transition is a single guarded UPDATE per job, so two
// concurrent claimers can never both hold an unexpired lease.
func (c *Coordinator) ClaimJobs(ctx context.Context, probeToken string, limit int) ([]ClaimedJob, error) {
	p, err := c.authenticate(ctx, probeToken)
	if err != nil {
		return nil, err
	}

	if limit < 1 {
		limit = 1
	}
	if limit > c.cfg.MaxClaimBatch {
		limit = c.cfg.MaxClaimBatch
	}

	now := time.Now()

	// Candidate jobs in the probe's region, preferred assignments first.
	// Over-fetch modestly: some candidates will be lost to concurrent
	// claimers or filtered by exclusivity.
	var candidates []storage.ProbeJob
	err = c.storage.DB().WithContext(ctx).
		Select("probe_jobs.*").
		Joins("LEFT JOIN probe_assignments ON probe_assignments.monitor_id = probe_jobs.monitor_id AND probe_assignments.probe_id = ?", p.ID).
		Where("probe_jobs.region = ?", p.Region).
		Where("probe_jobs.status = ? OR (probe_jobs.status = ? AND probe_jobs.expires_at < ?)",
			storage.JobStatusPending, storage.JobStatusClaimed, now).
		Order("COALESCE(probe_assignments.priority, 1000000) ASC, probe_jobs.created_at ASC").
		Limit(limit * 2).
		Find(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list claimable jobs: %w", err)
	}

	claimed := make([]ClaimedJob, 0, limit)
	for i := range candidates {
		if len(claimed) >= limit {
			break
		}

		job := &candidates[i]

		ok, err := c.mayClaim(ctx, p, job.MonitorID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		var snapshot TargetSnapshot
		if err := json.Unmarshal([]byte(job.TargetSnapshot), &snapshot); err != nil {
			log.Error().Str("job_id", job.ID).Err(err).Msg("Skipping job with malformed target snapshot")
			continue
		}

		// Lease must outlive the check itself plus clock skew so that
		// legitimately in-flight work is never reclaimed.
		lease := time.Duration(snapshot.TimeoutMs)*time.Millisecond + c.cfg.SkewMargin
		if lease < c.cfg.LeaseFloor {
			lease = c.cfg.LeaseFloor
		}
		expiresAt := now.Add(lease)

		res := c.storage.DB().WithContext(ctx).Model(&storage.ProbeJob{}).
			Where("id = ? AND (status = ? OR (status = ? AND expires_at < ?))",
				job.ID, storage.JobStatusPending, storage.JobStatusClaimed, now).
			Updates(map[string]interface{}{
				"status":     storage.JobStatusClaimed,
				"probe_id":   p.ID,
				"leased_at":  now,
				"expires_at": expiresAt,
			})
		if res.Error != nil {
			return nil, fmt.Errorf("failed to claim job: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			// Lost the race to another probe.
			continue
		}

		claimed = append(claimed, ClaimedJob{
			JobID:     job.ID,
			MonitorID: job.MonitorID,
			Target:    snapshot.Target,
			Type:      snapshot.Type,
			TimeoutMs: snapshot.TimeoutMs,
			ExpiresAt: expiresAt,
		})
	}

	return claimed, nil
}

// mayClaim applies exclusivity rules: a monitor with an exclusive assignment
// is only claimable by the assigned probe while that probe is alive. When
// the exclusive probe goes inactive its monitors fall back to region peers.
func (c *Coordinator) mayClaim(ctx context.Context, p *storage.Probe, monitorID string) (bool, error) {
	var exclusives []storage.ProbeAssignment
	err := c.storage.DB().WithContext(ctx).
		Where("monitor_id = ? AND exclusive = ?", monitorID, true).
		Find(&exclusives).Error
	if err != nil {
		return false, fmt.Errorf("failed to load assignments: %w", err)
	}

	if len(exclusives) == 0 {
		return true, nil
	}

	for i := range exclusives {
		if exclusives[i].ProbeID == p.ID {
			return true, nil
		}
	}

	// Foreign exclusive assignment: claimable only if every exclusive
	// holder is inactive (degraded-mode fallback).
	for i := range exclusives {
		var holder storage.Probe
		err := c.storage.DB().WithContext(ctx).
			First(&holder, "id = ?", exclusives[i].ProbeID).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return false, fmt.Errorf("failed to load probe: %w", err)
		}
		if err == nil && holder.Active {
			return false, nil
		}
	}
	return true, nil
}

// SubmitResult validates a probe's result against its lease and, when
// accepted, feeds it into the result store and marks the job completed.
//
// Submissions against expired or foreign leases return ErrStaleSubmission
// and are logged for probe-health diagnostics; nothing is ever silently
// accepted, so a reclaimed job's late duplicate cannot corrupt history.
func (c *Coordinator) SubmitResult(ctx context.Context, jobID, probeToken string, sub *Submission) error {
	p, err := c.authenticate(ctx, probeToken)
	if err != nil {
		return err
	}

	var job storage.ProbeJob
	err = c.storage.DB().WithContext(ctx).First(&job, "id = ?", jobID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrJobNotFound
		}
		return fmt.Errorf("failed to load job: %w", err)
	}

	now := time.Now()

	// Guarded completion: only the holder of the unexpired lease may
	// complete the job.
	res := c.storage.DB().WithContext(ctx).Model(&storage.ProbeJob{}).
		Where("id = ? AND status = ? AND probe_id = ? AND expires_at >= ?",
			jobID, storage.JobStatusClaimed, p.ID, now).
		Update("status", storage.JobStatusCompleted)
	if res.Error != nil {
		return fmt.Errorf("failed to complete job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		log.Warn().
			Str("job_id", jobID).
			Str("probe_id", p.ID).
			Str("job_status", job.Status).
			Msg("Rejected stale or foreign result submission")

		if job.Status == storage.JobStatusPending {
			return ErrLeaseConflict
		}
		return ErrStaleSubmission
	}

	result := &storage.CheckResult{
		MonitorID:           job.MonitorID,
		Region:              job.Region,
		RawStatus:           sub.Status,
		ResponseTimeMs:      sub.ResponseTimeMs,
		StatusCode:          sub.StatusCode,
		DNSMs:               sub.DNSMs,
		TCPMs:               sub.TCPMs,
		TLSMs:               sub.TLSMs,
		TTFBMs:              sub.TTFBMs,
		TransferMs:          sub.TransferMs,
		CertIssuer:          sub.CertIssuer,
		CertSubject:         sub.CertSubject,
		CertValidFrom:       sub.CertValidFrom,
		CertValidTo:         sub.CertValidTo,
		CertDaysUntilExpiry: sub.CertDaysUntilExpiry,
		CertSerial:          sub.CertSerial,
		CertFingerprint:     sub.CertFingerprint,
		ErrorMessage:        sub.ErrorMessage,
		Metadata:            sub.Metadata,
		CheckedAt:           sub.CheckedAt,
	}
	if result.CheckedAt.IsZero() {
		result.CheckedAt = now
	}

	return c.sink.Ingest(ctx, result)
}

// Heartbeat refreshes a probe's liveness and stores its reported metrics.
func (c *Coordinator) Heartbeat(ctx context.Context, probeToken, metrics string) error {
	p, err := c.authenticate(ctx, probeToken)
	if err != nil {
		return err
	}

	now := time.Now()
	err = c.storage.DB().WithContext(ctx).Model(&storage.Probe{}).
		Where("id = ?", p.ID).
		Updates(map[string]interface{}{
			"last_heartbeat_at": now,
			"metrics":           metrics,
			"active":            true,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to record heartbeat: %w", err)
	}
	return nil
}

// SweepLiveness marks probes inactive when they miss the liveness window
// (plus skew margin). Their exclusive assignments become claimable by
// region peers; nothing is reassigned automatically, to avoid thrash.
func (c *Coordinator) SweepLiveness(ctx context.Context) error {
	cutoff := time.Now().Add(-(c.cfg.LivenessWindow + c.cfg.SkewMargin))

	res := c.storage.DB().WithContext(ctx).Model(&storage.Probe{}).
		Where("active = ?", true).
		Where("(last_heartbeat_at IS NULL AND created_at < ?) OR last_heartbeat_at < ?", cutoff, cutoff).
		Update("active", false)
	if res.Error != nil {
		return fmt.Errorf("failed to sweep probe liveness: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		log.Warn().Int64("count", res.RowsAffected).Msg("Probes marked inactive after missed heartbeats")
	}
	return nil
}

// CancelPendingJobs invalidates all unclaimed jobs for a monitor, used when
// a monitor is paused or deleted. Claimed jobs are left to complete; their
// results are accepted but skip status and alert processing while paused.
func (c *Coordinator) CancelPendingJobs(ctx context.Context, db *gorm.DB, monitorID string) error {
	if db == nil {
		db = c.storage.DB()
	}
	err := db.WithContext(ctx).Model(&storage.ProbeJob{}).
		Where("monitor_id = ? AND status = ?", monitorID, storage.JobStatusPending).
		Update("status", storage.JobStatusCanceled).Error
	if err != nil {
		return fmt.Errorf("failed to cancel pending jobs: %w", err)
	}
	return nil
}
