// Package policies implements alert policy and channel management. Condition
// payloads are validated at creation so the evaluator only ever sees the
// closed condition set.
package policies

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"vigil/internal/alerting"
	"vigil/internal/api/types"
	"vigil/internal/storage"
)

// Handler manages alert policy API endpoints.
type Handler struct {
	storage *storage.Storage
}

// NewHandler creates an alert policy API handler.
func NewHandler(st *storage.Storage) *Handler {
	return &Handler{storage: st}
}

type createPolicyRequest struct {
	OrgID           string          `json:"org_id" binding:"required"`
	Name            string          `json:"name" binding:"required"`
	Enabled         *bool           `json:"enabled"`
	Channels        []string        `json:"channels"`
	Monitors        []string        `json:"monitors"`
	Condition       json.RawMessage `json:"condition"`
	CooldownMinutes int             `json:"cooldown_minutes"`
}

// Create handles POST /api/v1/policies.
func (h *Handler) Create(c *gin.Context) {
	var req createPolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
		return
	}
	if req.CooldownMinutes < 0 {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse("cooldown_minutes cannot be negative"))
		return
	}

	condition := string(req.Condition)
	if condition != "" {
		parsed, err := alerting.ParseCondition(condition)
		if err == nil {
			err = alerting.ValidateCondition(parsed)
		}
		if err != nil {
			c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
			return
		}
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	policy := &storage.AlertPolicy{
		ID:              uuid.NewString(),
		OrgID:           req.OrgID,
		Name:            req.Name,
		Enabled:         enabled,
		Channels:        storage.EncodeStringList(req.Channels),
		Monitors:        storage.EncodeStringList(req.Monitors),
		Condition:       condition,
		CooldownMinutes: req.CooldownMinutes,
	}

	if err := h.storage.DB().WithContext(c.Request.Context()).Create(policy).Error; err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusCreated, types.SuccessResponse(policy))
}

// List handles GET /api/v1/policies?org_id=.
func (h *Handler) List(c *gin.Context) {
	q := h.storage.DB().WithContext(c.Request.Context()).Model(&storage.AlertPolicy{})
	if orgID := c.Query("org_id"); orgID != "" {
		q = q.Where("org_id = ?", orgID)
	}

	var policies []storage.AlertPolicy
	if err := q.Order("created_at DESC").Find(&policies).Error; err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusOK, types.SuccessResponse(policies))
}

type createChannelRequest struct {
	OrgID   string `json:"org_id" binding:"required"`
	Type    string `json:"type" binding:"required"`
	Name    string `json:"name"`
	Enabled *bool  `json:"enabled"`
}

// CreateChannel handles POST /api/v1/channels.
func (h *Handler) CreateChannel(c *gin.Context) {
	var req createChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	channel := &storage.AlertChannel{
		ID:      uuid.NewString(),
		OrgID:   req.OrgID,
		Type:    req.Type,
		Name:    req.Name,
		Enabled: enabled,
	}

	if err := h.storage.DB().WithContext(c.Request.Context()).Create(channel).Error; err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusCreated, types.SuccessResponse(channel))
}
