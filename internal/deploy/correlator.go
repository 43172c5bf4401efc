// Package deploy records deployment events and answers temporal
// correlation queries against them. It is a read-side join only; no state
// machine hangs off a deployment.
package deploy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"vigil/internal/storage"
)

// Correlator finds deployments temporally adjacent to incidents.
type Correlator struct {
	storage *storage.Storage
}

// NewCorrelator creates a correlator backed by the given storage.
func NewCorrelator(st *storage.Storage) *Correlator {
	return &Correlator{storage: st}
}

// Record stores a deployment event. MonitorID may be empty for
// service-wide deployments.
func (c *Correlator) Record(ctx context.Context, orgID, monitorID, service, version string, deployedAt time.Time) (*storage.DeploymentEvent, error) {
	event := &storage.DeploymentEvent{
		ID:         uuid.NewString(),
		OrgID:      orgID,
		Service:    service,
		Version:    version,
		DeployedAt: deployedAt,
	}
	if monitorID != "" {
		event.MonitorID = &monitorID
	}
	if event.DeployedAt.IsZero() {
		event.DeployedAt = time.Now()
	}

	if err := c.storage.DB().WithContext(ctx).Create(event).Error; err != nil {
		return nil, fmt.Errorf("failed to record deployment: %w", err)
	}
	return event, nil
}

// FindAdjacent returns the organization's deployments within the window on
// either side of the reference time, most recent first. When monitorID is
// non-empty the result is narrowed to that monitor's deployments plus
// service-wide ones.
func (c *Correlator) FindAdjacent(ctx context.Context, orgID, monitorID string, around time.Time, window time.Duration) ([]storage.DeploymentEvent, error) {
	from := around.Add(-window).UTC()
	to := around.Add(window).UTC()

	q := c.storage.DB().WithContext(ctx).
		Where("org_id = ? AND deployed_at >= ? AND deployed_at <= ?", orgID, from, to)
	if monitorID != "" {
		q = q.Where("monitor_id IS NULL OR monitor_id = ?", monitorID)
	}

	var events []storage.DeploymentEvent
	if err := q.Order("deployed_at DESC").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to query deployments: %w", err)
	}
	return events, nil
}
