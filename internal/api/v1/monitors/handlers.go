// Package monitors implements monitor CRUD and the read-side reporting
// endpoints: current status, daily aggregates, certificate health and
// deployment correlation.
package monitors

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"vigil/internal/api/types"
	"vigil/internal/certs"
	"vigil/internal/core"
	"vigil/internal/deploy"
	"vigil/internal/rollup"
	"vigil/internal/status"
	"vigil/internal/storage"
)

// Handler manages monitor API endpoints.
type Handler struct {
	engine     *core.Engine
	storage    *storage.Storage
	correlator *deploy.Correlator
}

// NewHandler creates a monitor API handler.
func NewHandler(engine *core.Engine, st *storage.Storage, correlator *deploy.Correlator) *Handler {
	return &Handler{engine: engine, storage: st, correlator: correlator}
}

type createRequest struct {
	OrgID               string `json:"org_id" binding:"required"`
	Name                string `json:"name" binding:"required"`
	Type                string `json:"type" binding:"required"`
	Target              string `json:"target"`
	IntervalSeconds     int    `json:"interval_seconds" binding:"required"`
	TimeoutMs           int    `json:"timeout_ms" binding:"required"`
	Regions             string `json:"regions"`
	DegradedThresholdMs int    `json:"degraded_threshold_ms"`
	DegradedAfterCount  int    `json:"degraded_after_count"`
	DownAfterCount      int    `json:"down_after_count"`
	HeartbeatGrace      int    `json:"heartbeat_grace_seconds"`
	Timezone            string `json:"timezone"`
	DependsOn           string `json:"depends_on"`
	Config              string `json:"config"`
}

// Create handles POST /api/v1/monitors.
func (h *Handler) Create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
		return
	}

	now := time.Now().UTC()
	m := &storage.Monitor{
		ID:                    uuid.NewString(),
		OrgID:                 req.OrgID,
		Name:                  req.Name,
		Type:                  req.Type,
		Target:                req.Target,
		IntervalSeconds:       req.IntervalSeconds,
		TimeoutMs:             req.TimeoutMs,
		Regions:               req.Regions,
		DegradedThresholdMs:   req.DegradedThresholdMs,
		DegradedAfterCount:    req.DegradedAfterCount,
		DownAfterCount:        req.DownAfterCount,
		HeartbeatGraceSeconds: req.HeartbeatGrace,
		Timezone:              req.Timezone,
		DependsOn:             req.DependsOn,
		Config:                req.Config,
		NextDueAt:             &now,
	}

	if err := storage.ValidateMonitor(m); err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
		return
	}

	if err := h.storage.DB().WithContext(c.Request.Context()).Create(m).Error; err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusCreated, types.SuccessResponse(m))
}

// List handles GET /api/v1/monitors with page/page_size pagination.
func (h *Handler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "50"))
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 50
	}

	q := h.storage.DB().WithContext(c.Request.Context()).Model(&storage.Monitor{})
	if orgID := c.Query("org_id"); orgID != "" {
		q = q.Where("org_id = ?", orgID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse(err.Error()))
		return
	}

	var list []storage.Monitor
	err := q.Order("created_at DESC").Limit(pageSize).Offset((page - 1) * pageSize).Find(&list).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse(err.Error()))
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	c.JSON(http.StatusOK, types.SuccessResponseWithPagination(list, &types.PaginationResponse{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
	}))
}

// Get handles GET /api/v1/monitors/:id.
func (h *Handler) Get(c *gin.Context) {
	m, ok := h.loadMonitor(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, types.SuccessResponse(m))
}

// Status handles GET /api/v1/monitors/:id/status. It returns the current
// derived status plus the most recent raw result.
func (h *Handler) Status(c *gin.Context) {
	m, ok := h.loadMonitor(c)
	if !ok {
		return
	}

	var latest storage.CheckResult
	err := h.storage.DB().WithContext(c.Request.Context()).
		Where("monitor_id = ?", m.ID).
		Order("checked_at DESC, id DESC").
		First(&latest).Error

	resp := gin.H{
		"monitor_id":         m.ID,
		"status":             m.Status,
		"last_transition_at": m.LastTransitionAt,
	}
	if err == nil {
		resp["latest_result"] = latest
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusOK, types.SuccessResponse(resp))
}

// Aggregates handles GET /api/v1/monitors/:id/aggregates?days=N.
func (h *Handler) Aggregates(c *gin.Context) {
	m, ok := h.loadMonitor(c)
	if !ok {
		return
	}

	days, _ := strconv.Atoi(c.DefaultQuery("days", "30"))
	if days <= 0 || days > 365 {
		days = 30
	}

	since := time.Now().UTC().AddDate(0, 0, -days).Format("2006-01-02")
	var aggregates []storage.DailyAggregate
	err := h.storage.DB().WithContext(c.Request.Context()).
		Where("monitor_id = ? AND date >= ?", m.ID, since).
		Order("date ASC").
		Find(&aggregates).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusOK, types.SuccessResponse(gin.H{
		"monitor_id": m.ID,
		"days":       days,
		"aggregates": aggregates,
	}))
}

// Certificate handles GET /api/v1/monitors/:id/certificate. It classifies
// the latest certificate-bearing check result and the latest CT scan.
func (h *Handler) Certificate(c *gin.Context) {
	m, ok := h.loadMonitor(c)
	if !ok {
		return
	}

	db := h.storage.DB().WithContext(c.Request.Context())

	var latest *storage.CheckResult
	var result storage.CheckResult
	err := db.Where("monitor_id = ? AND cert_days_until_expiry IS NOT NULL", m.ID).
		Order("checked_at DESC, id DESC").
		First(&result).Error
	if err == nil {
		latest = &result
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse(err.Error()))
		return
	}

	var scan *storage.CTScanResult
	var scanRow storage.CTScanResult
	err = db.Where("monitor_id = ?", m.ID).
		Order("scanned_at DESC, id DESC").
		First(&scanRow).Error
	if err == nil {
		scan = &scanRow
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse(err.Error()))
		return
	}

	resp := gin.H{
		"monitor_id":     m.ID,
		"classification": certs.Classify(latest, scan),
	}
	if latest != nil {
		resp["certificate"] = gin.H{
			"issuer":            latest.CertIssuer,
			"subject":           latest.CertSubject,
			"valid_from":        latest.CertValidFrom,
			"valid_to":          latest.CertValidTo,
			"days_until_expiry": latest.CertDaysUntilExpiry,
			"serial":            latest.CertSerial,
			"fingerprint":       latest.CertFingerprint,
		}
	}

	c.JSON(http.StatusOK, types.SuccessResponse(resp))
}

// Deployments handles GET /api/v1/monitors/:id/deployments. It returns
// deployment events adjacent to a point in time, defaulting to the
// monitor's last status transition.
func (h *Handler) Deployments(c *gin.Context) {
	m, ok := h.loadMonitor(c)
	if !ok {
		return
	}

	around := time.Now().UTC()
	if m.LastTransitionAt != nil {
		around = *m.LastTransitionAt
	}
	if raw := c.Query("around"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, types.ValidationErrorResponse("around must be RFC 3339"))
			return
		}
		around = parsed
	}

	windowMinutes, _ := strconv.Atoi(c.DefaultQuery("window_minutes", "60"))
	if windowMinutes <= 0 || windowMinutes > 1440 {
		windowMinutes = 60
	}

	events, err := h.correlator.FindAdjacent(c.Request.Context(), m.OrgID, m.ID,
		around, time.Duration(windowMinutes)*time.Minute)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusOK, types.SuccessResponse(gin.H{
		"monitor_id":     m.ID,
		"around":         around,
		"window_minutes": windowMinutes,
		"deployments":    events,
	}))
}

// Pause handles POST /api/v1/monitors/:id/pause. Pausing also cancels the
// monitor's pending probe jobs.
func (h *Handler) Pause(c *gin.Context) {
	if err := h.engine.PauseMonitor(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, status.ErrMonitorNotFound) {
			c.JSON(http.StatusNotFound, types.NotFoundErrorResponse("monitor"))
			return
		}
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, types.SuccessResponse(nil))
}

// Resume handles POST /api/v1/monitors/:id/resume.
func (h *Handler) Resume(c *gin.Context) {
	if err := h.engine.ResumeMonitor(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, status.ErrMonitorNotFound) {
			c.JSON(http.StatusNotFound, types.NotFoundErrorResponse("monitor"))
			return
		}
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, types.SuccessResponse(nil))
}

// Rollup handles POST /api/v1/monitors/:id/rollup?date=YYYY-MM-DD. Manual
// re-aggregation for a single day; safe to repeat.
func (h *Handler) Rollup(c *gin.Context) {
	date := c.DefaultQuery("date", time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02"))
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse("date must be YYYY-MM-DD"))
		return
	}

	if err := h.engine.Aggregator().RollupDay(c.Request.Context(), c.Param("id"), day); err != nil {
		if errors.Is(err, rollup.ErrMonitorNotFound) {
			c.JSON(http.StatusNotFound, types.NotFoundErrorResponse("monitor"))
			return
		}
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusOK, types.SuccessResponse(gin.H{"monitor_id": c.Param("id"), "date": date}))
}

func (h *Handler) loadMonitor(c *gin.Context) (*storage.Monitor, bool) {
	var m storage.Monitor
	err := h.storage.DB().WithContext(c.Request.Context()).
		Where("id = ?", c.Param("id")).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, types.NotFoundErrorResponse("monitor"))
		} else {
			c.JSON(http.StatusInternalServerError, types.InternalErrorResponse(err.Error()))
		}
		return nil, false
	}
	return &m, true
}
