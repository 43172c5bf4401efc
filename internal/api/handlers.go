// Package api provides public endpoints for system health and connectivity.
//
// These endpoints are designed to be lightweight, fast, and reliable for external monitoring
// systems (e.g., load balancers, uptime monitors, observability tools).
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"vigil/internal/core"
	"vigil/internal/storage"
)

// Handler manages public endpoints.
type Handler struct {
	engine    *core.Engine
	storage   *storage.Storage
	startTime time.Time
}

// NewHandler initializes a new public API handler. Both dependencies may be
// nil in test environments.
func NewHandler(engine *core.Engine, st *storage.Storage) *Handler {
	return &Handler{
		engine:    engine,
		storage:   st,
		startTime: time.Now(),
	}
}

// Ping handles GET /ping
//
// A lightweight endpoint for basic connectivity verification.
func (h *Handler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
	})
}

// Health handles GET /health
//
// Aggregates real-time state from the core subsystems: database connectivity
// and latency, engine running state with active monitor count, and the
// background scheduler's registered job count. Overall status is "healthy"
// only if all components report healthy.
func (h *Handler) Health(c *gin.Context) {
	ctx := c.Request.Context()

	uptime := time.Since(h.startTime)

	dbStatus, dbResponseTime := h.checkDatabaseHealth(ctx)
	engineStatus, monitorsActive := h.checkEngineHealth()
	schedulerStatus, jobCount := h.checkSchedulerHealth()

	overallStatus := "healthy"
	if dbStatus != "healthy" || engineStatus != "healthy" || schedulerStatus != "healthy" {
		overallStatus = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    uptime.String(),
		"components": gin.H{
			"database": gin.H{
				"status":           dbStatus,
				"response_time_ms": dbResponseTime,
			},
			"engine": gin.H{
				"status":          engineStatus,
				"monitors_active": monitorsActive,
			},
			"scheduler": gin.H{
				"status":    schedulerStatus,
				"job_count": jobCount,
			},
		},
	})
}

// checkDatabaseHealth performs a database connectivity and latency test.
func (h *Handler) checkDatabaseHealth(ctx context.Context) (string, int64) {
	if h.storage == nil {
		return "unhealthy", 0
	}

	start := time.Now()
	sqlDB, err := h.storage.DB().DB()
	if err != nil {
		return "unhealthy", time.Since(start).Milliseconds()
	}

	err = sqlDB.PingContext(ctx)
	responseTime := time.Since(start).Milliseconds()
	if err != nil {
		return "unhealthy", responseTime
	}

	return "healthy", responseTime
}

// checkEngineHealth verifies the monitoring engine's operational status.
// The count of non-paused monitors stands in for active workload.
func (h *Handler) checkEngineHealth() (string, int) {
	if h.engine == nil || !h.engine.IsRunning() {
		return "unhealthy", 0
	}

	if h.storage == nil {
		return "degraded", 0
	}

	var count int64
	if err := h.storage.DB().
		Model(&storage.Monitor{}).
		Where("status <> ?", storage.MonitorStatusPaused).
		Count(&count).Error; err != nil {
		return "degraded", 0
	}

	return "healthy", int(count)
}

// checkSchedulerHealth assesses the background job scheduler's health.
func (h *Handler) checkSchedulerHealth() (string, int) {
	if h.engine == nil || !h.engine.IsRunning() {
		return "unhealthy", 0
	}

	jobs := h.engine.Scheduler().JobCount()
	if jobs == 0 {
		return "degraded", 0
	}

	return "healthy", jobs
}
