package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"vigil/internal/storage"
)

// errCooldownActive aborts the check-and-set transaction when the policy
// fired too recently. Internal only; a suppressed policy is not an error.
var errCooldownActive = errors.New("cooldown active")

// TriggerEvent is handed to the notification layer, one per channel.
// Delivery mechanics and retries live downstream.
type TriggerEvent struct {
	PolicyID    string    `json:"policy_id"`
	MonitorID   string    `json:"monitor_id"`
	ChannelID   string    `json:"channel_id"`
	Status      string    `json:"status"`
	Reason      string    `json:"reason"`
	TriggeredAt time.Time `json:"triggered_at"`
}

// TriggerSink receives alert-trigger events. Fan-out is at-least-once: a
// sink failure is logged, never retried by the evaluator.
type TriggerSink interface {
	Trigger(ctx context.Context, event TriggerEvent) error
}

// Evaluator evaluates alert policies after every result ingestion and
// status transition.
type Evaluator struct {
	storage *storage.Storage
	sink    TriggerSink
}

// NewEvaluator creates an evaluator emitting into the given sink. A nil
// sink is allowed; events are then only recorded in history.
func NewEvaluator(st *storage.Storage, sink TriggerSink) *Evaluator {
	return &Evaluator{storage: st, sink: sink}
}

// Evaluate runs every enabled policy whose filter includes the monitor.
// Policy evaluation failures are logged and do not abort the remaining
// policies.
func (e *Evaluator) Evaluate(ctx context.Context, m *storage.Monitor) error {
	var policies []storage.AlertPolicy
	err := e.storage.DB().WithContext(ctx).
		Where("org_id = ? AND enabled = ?", m.OrgID, true).
		Find(&policies).Error
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	for i := range policies {
		if err := e.evaluatePolicy(ctx, &policies[i], m); err != nil {
			log.Error().
				Str("policy_id", policies[i].ID).
				Str("monitor_id", m.ID).
				Err(err).
				Msg("Policy evaluation failed")
		}
	}
	return nil
}

func (e *Evaluator) evaluatePolicy(ctx context.Context, p *storage.AlertPolicy, m *storage.Monitor) error {
	included, err := e.policyIncludes(p, m.ID)
	if err != nil {
		return err
	}
	if !included {
		return nil
	}

	cond, err := ParseCondition(p.Condition)
	if err != nil {
		// Conditions are validated at creation; a malformed one in the
		// store is skipped, not fatal.
		return err
	}
	if cond.IsEmpty() {
		return nil
	}

	fired, reason, err := e.conditionTrue(ctx, cond, m)
	if err != nil {
		return err
	}
	if !fired {
		return nil
	}

	status := storage.AlertStatusTriggered
	if cond.ConsecutiveSuccesses != nil {
		status = storage.AlertStatusResolved
	}

	entry, err := e.fireWithCooldown(ctx, p, m.ID, status, reason)
	if err != nil {
		if errors.Is(err, errCooldownActive) {
			return nil
		}
		return err
	}

	e.fanOut(ctx, p, entry)
	return nil
}

// policyIncludes applies the policy's monitor filter; an empty filter
// matches every monitor in the organization.
func (e *Evaluator) policyIncludes(p *storage.AlertPolicy, monitorID string) (bool, error) {
	ids, err := storage.DecodeStringList(p.Monitors)
	if err != nil {
		return false, fmt.Errorf("policy %s has malformed monitor filter: %w", p.ID, err)
	}
	if len(ids) == 0 {
		return true, nil
	}
	for _, id := range ids {
		if id == monitorID {
			return true, nil
		}
	}
	return false, nil
}

func (e *Evaluator) conditionTrue(ctx context.Context, c *Condition, m *storage.Monitor) (bool, string, error) {
	switch {
	case c.ConsecutiveFailures != nil:
		n := *c.ConsecutiveFailures
		ok, err := e.lastNAre(ctx, m.ID, n, []string{storage.RawStatusFailure, storage.RawStatusError})
		return ok, fmt.Sprintf("consecutiveFailures:%d", n), err

	case c.ConsecutiveSuccesses != nil:
		n := *c.ConsecutiveSuccesses
		ok, err := e.lastNAre(ctx, m.ID, n, []string{storage.RawStatusSuccess})
		return ok, fmt.Sprintf("consecutiveSuccesses:%d", n), err

	case c.FailuresInWindow != nil:
		w := c.FailuresInWindow
		since := time.Now().Add(-time.Duration(w.WindowMinutes) * time.Minute)

		var count int64
		err := e.storage.DB().WithContext(ctx).Model(&storage.CheckResult{}).
			Where("monitor_id = ? AND checked_at >= ? AND raw_status IN ?",
				m.ID, since, []string{storage.RawStatusFailure, storage.RawStatusError}).
			Count(&count).Error
		if err != nil {
			return false, "", fmt.Errorf("failed to count window failures: %w", err)
		}
		reason := fmt.Sprintf("failuresInWindow:%d/%dm", w.Count, w.WindowMinutes)
		return count >= int64(w.Count), reason, nil

	case c.DegradedDuration != nil:
		secs := *c.DegradedDuration
		if m.Status != storage.MonitorStatusDegraded || m.LastTransitionAt == nil {
			return false, "", nil
		}
		elapsed := time.Since(*m.LastTransitionAt)
		reason := fmt.Sprintf("degradedDuration:%ds", secs)
		return elapsed >= time.Duration(secs)*time.Second, reason, nil
	}
	return false, "", nil
}

// lastNAre reports whether the monitor's last n results all carry one of
// the given raw statuses. Fewer than n results means false.
func (e *Evaluator) lastNAre(ctx context.Context, monitorID string, n int, statuses []string) (bool, error) {
	var results []storage.CheckResult
	err := e.storage.DB().WithContext(ctx).
		Select("raw_status").
		Where("monitor_id = ?", monitorID).
		Order("checked_at DESC, id DESC").
		Limit(n).
		Find(&results).Error
	if err != nil {
		return false, fmt.Errorf("failed to load recent results: %w", err)
	}
	if len(results) < n {
		return false, nil
	}

	for _, r := range results {
		match := false
		for _, s := range statuses {
			if r.RawStatus == s {
				match = true
				break
			}
		}
		if !match {
			return false, nil
		}
	}
	return true, nil
}

// fireWithCooldown performs the cooldown check-and-set inside one
// transaction. The lookback alone is not enough: two concurrent
// evaluations at READ COMMITTED would both see no recent history and both
// insert. The transaction therefore opens with a guarded write on the
// policy row, which takes a row-level lock in the store; the loser blocks
// until the winner commits and its lookback then sees the winner's row.
func (e *Evaluator) fireWithCooldown(ctx context.Context, p *storage.AlertPolicy, monitorID, status, reason string) (*storage.AlertHistory, error) {
	entry := &storage.AlertHistory{
		PolicyID:    p.ID,
		MonitorID:   monitorID,
		Status:      status,
		Reason:      reason,
		TriggeredAt: time.Now(),
	}

	err := e.storage.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked := tx.Model(&storage.AlertPolicy{}).
			Where("id = ?", p.ID).
			Update("updated_at", entry.TriggeredAt)
		if locked.Error != nil {
			return fmt.Errorf("failed to lock policy row: %w", locked.Error)
		}
		if locked.RowsAffected == 0 {
			return fmt.Errorf("policy %s no longer exists", p.ID)
		}

		var last storage.AlertHistory
		err := tx.Where("policy_id = ? AND monitor_id = ?", p.ID, monitorID).
			Order("triggered_at DESC, id DESC").
			First(&last).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to load alert history: %w", err)
		}

		if err == nil && p.CooldownMinutes > 0 {
			cooldown := time.Duration(p.CooldownMinutes) * time.Minute
			if entry.TriggeredAt.Sub(last.TriggeredAt) < cooldown {
				return errCooldownActive
			}
		}

		return tx.Create(entry).Error
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("policy_id", p.ID).
		Str("monitor_id", monitorID).
		Str("status", status).
		Str("reason", reason).
		Msg("Alert fired")
	return entry, nil
}

// fanOut emits one trigger event per enabled channel. Channel failures are
// logged for diagnostics and never block or retry the remaining channels.
func (e *Evaluator) fanOut(ctx context.Context, p *storage.AlertPolicy, entry *storage.AlertHistory) {
	if e.sink == nil {
		return
	}

	channelIDs, err := storage.DecodeStringList(p.Channels)
	if err != nil {
		log.Error().Str("policy_id", p.ID).Err(err).Msg("Policy has malformed channel list")
		return
	}

	for _, channelID := range channelIDs {
		var channel storage.AlertChannel
		err := e.storage.DB().WithContext(ctx).First(&channel, "id = ?", channelID).Error
		if err != nil {
			log.Error().Str("channel_id", channelID).Err(err).Msg("Skipping unknown alert channel")
			continue
		}
		if !channel.Enabled {
			continue
		}

		event := TriggerEvent{
			PolicyID:    entry.PolicyID,
			MonitorID:   entry.MonitorID,
			ChannelID:   channel.ID,
			Status:      entry.Status,
			Reason:      entry.Reason,
			TriggeredAt: entry.TriggeredAt,
		}
		if err := e.sink.Trigger(ctx, event); err != nil {
			log.Error().
				Str("policy_id", entry.PolicyID).
				Str("channel_id", channel.ID).
				Err(err).
				Msg("Alert channel delivery failed")
		}
	}
}
