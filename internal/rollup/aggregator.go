// Package rollup computes idempotent daily aggregates from raw check
// results. Each rollup fully recomputes and replaces the row for a
// (monitor, date) pair, so late-arriving results are handled by simply
// rolling the day up again.
package rollup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"vigil/internal/storage"
)

// ErrMonitorNotFound is returned for rollups against unknown monitors.
var ErrMonitorNotFound = errors.New("monitor not found")

// dateLayout is the day-key form stored on DailyAggregate rows.
const dateLayout = "2006-01-02"

// Aggregator recomputes daily rollups.
type Aggregator struct {
	storage *storage.Storage
}

// NewAggregator creates an aggregator backed by the given storage.
func NewAggregator(st *storage.Storage) *Aggregator {
	return &Aggregator{storage: st}
}

// RollupDay recomputes the aggregate for one monitor and one calendar day
// in the monitor's configured timezone and replaces the stored row.
//
// Invoking it twice over identical underlying data produces identical
// rows; it never increments, only replaces.
func (a *Aggregator) RollupDay(ctx context.Context, monitorID string, date time.Time) error {
	var m storage.Monitor
	err := a.storage.DB().WithContext(ctx).First(&m, "id = ?", monitorID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrMonitorNotFound
		}
		return fmt.Errorf("failed to load monitor: %w", err)
	}

	loc := time.UTC
	if m.Timezone != "" {
		loc, err = time.LoadLocation(m.Timezone)
		if err != nil {
			return fmt.Errorf("monitor %s has invalid timezone %q: %w", m.ID, m.Timezone, err)
		}
	}

	local := date.In(loc)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	dayEnd := dayStart.AddDate(0, 0, 1)

	var results []storage.CheckResult
	err = a.storage.DB().WithContext(ctx).
		Select("raw_status", "response_time_ms").
		Where("monitor_id = ? AND checked_at >= ? AND checked_at < ?", m.ID, dayStart.UTC(), dayEnd.UTC()).
		Find(&results).Error
	if err != nil {
		return fmt.Errorf("failed to load results: %w", err)
	}

	agg := computeAggregate(m.ID, dayStart.Format(dateLayout), results)

	// Full-row replacement keyed on (monitor_id, date). updated_at is left
	// out of the replacement set so re-running over identical data leaves
	// the stored row byte-identical.
	err = a.storage.DB().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "monitor_id"}, {Name: "date"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"success_count", "degraded_count", "failure_count", "total_count",
				"uptime_percentage", "avg_response_time_ms",
				"p50_response_time_ms", "p95_response_time_ms", "p99_response_time_ms",
			}),
		}).
		Create(agg).Error
	if err != nil {
		return fmt.Errorf("failed to upsert aggregate: %w", err)
	}
	return nil
}

// computeAggregate derives one day's aggregate from its raw results.
// Degraded counts toward uptime: the target was up, just slow.
func computeAggregate(monitorID, date string, results []storage.CheckResult) *storage.DailyAggregate {
	agg := &storage.DailyAggregate{
		MonitorID: monitorID,
		Date:      date,
	}

	if len(results) == 0 {
		return agg
	}

	times := make([]int, 0, len(results))
	var totalMs int64
	for _, r := range results {
		switch r.RawStatus {
		case storage.RawStatusSuccess:
			agg.SuccessCount++
		case storage.RawStatusDegraded:
			agg.DegradedCount++
		case storage.RawStatusFailure, storage.RawStatusError:
			agg.FailureCount++
		}
		times = append(times, r.ResponseTimeMs)
		totalMs += int64(r.ResponseTimeMs)
	}
	agg.TotalCount = len(results)

	uptime := float64(agg.SuccessCount+agg.DegradedCount) / float64(agg.TotalCount) * 100
	agg.UptimePercentage = &uptime

	agg.AvgResponseTimeMs = float64(totalMs) / float64(agg.TotalCount)

	sort.Ints(times)
	agg.P50ResponseTimeMs = percentile(times, 50)
	agg.P95ResponseTimeMs = percentile(times, 95)
	agg.P99ResponseTimeMs = percentile(times, 99)

	return agg
}

// percentile returns the nearest-rank percentile of sorted values.
func percentile(sorted []int, p int) int {
	if len(sorted) == 0 {
		return 0
	}
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

// RollupYesterday rolls up the previous calendar day for every non-paused
// monitor, each in its own timezone. Individual monitor failures are
// logged and skipped so one bad timezone cannot stall the nightly run.
func (a *Aggregator) RollupYesterday(ctx context.Context) error {
	return a.rollupOffsetDays(ctx, 1)
}

// Backfill re-rolls the trailing days (today inclusive) for every
// non-paused monitor, picking up late-arriving results.
func (a *Aggregator) Backfill(ctx context.Context, days int) error {
	for offset := 0; offset < days; offset++ {
		if err := a.rollupOffsetDays(ctx, offset); err != nil {
			return err
		}
	}
	return nil
}

func (a *Aggregator) rollupOffsetDays(ctx context.Context, offset int) error {
	var monitors []storage.Monitor
	err := a.storage.DB().WithContext(ctx).
		Select("id", "timezone").
		Where("status <> ?", storage.MonitorStatusPaused).
		Find(&monitors).Error
	if err != nil {
		return fmt.Errorf("failed to list monitors: %w", err)
	}

	date := time.Now().AddDate(0, 0, -offset)
	for i := range monitors {
		if err := a.RollupDay(ctx, monitors[i].ID, date); err != nil {
			log.Error().
				Str("monitor_id", monitors[i].ID).
				Err(err).
				Msg("Daily rollup failed")
		}
	}
	return nil
}
