// Package deployments implements deployment event ingestion for the
// correlation window query.
package deployments

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"vigil/internal/api/types"
	"vigil/internal/deploy"
)

// Handler manages deployment API endpoints.
type Handler struct {
	correlator *deploy.Correlator
}

// NewHandler creates a deployment API handler.
func NewHandler(correlator *deploy.Correlator) *Handler {
	return &Handler{correlator: correlator}
}

type recordRequest struct {
	OrgID      string     `json:"org_id" binding:"required"`
	MonitorID  string     `json:"monitor_id"`
	Service    string     `json:"service" binding:"required"`
	Version    string     `json:"version"`
	DeployedAt *time.Time `json:"deployed_at"`
}

// Record handles POST /api/v1/deployments. DeployedAt defaults to the
// ingestion time when the event carries no timestamp.
func (h *Handler) Record(c *gin.Context) {
	var req recordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
		return
	}

	deployedAt := time.Now().UTC()
	if req.DeployedAt != nil {
		deployedAt = req.DeployedAt.UTC()
	}

	event, err := h.correlator.Record(c.Request.Context(), req.OrgID, req.MonitorID, req.Service, req.Version, deployedAt)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusCreated, types.SuccessResponse(event))
}
