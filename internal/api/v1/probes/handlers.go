// Package probes implements the probe-facing wire contract: registration,
// assignment, job claiming, result submission and probe heartbeats.
package probes

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"vigil/internal/api/types"
	"vigil/internal/probe"
)

// Handler manages probe coordination endpoints.
type Handler struct {
	coordinator *probe.Coordinator
}

// NewHandler creates a probe API handler.
func NewHandler(coordinator *probe.Coordinator) *Handler {
	return &Handler{coordinator: coordinator}
}

type registerRequest struct {
	OrgID  string `json:"org_id" binding:"required"`
	Name   string `json:"name" binding:"required"`
	Region string `json:"region" binding:"required"`
}

// Register handles POST /api/v1/probes.
//
// The response carries the plaintext auth token exactly once; only its
// hash is stored.
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
		return
	}

	p, token, err := h.coordinator.RegisterProbe(c.Request.Context(), req.OrgID, req.Name, req.Region)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusCreated, types.SuccessResponse(gin.H{
		"probe": p,
		"token": token,
	}))
}

type assignRequest struct {
	MonitorID string `json:"monitor_id" binding:"required"`
	Priority  int    `json:"priority"`
	Exclusive bool   `json:"exclusive"`
}

// Assign handles POST /api/v1/probes/:id/assignments.
func (h *Handler) Assign(c *gin.Context) {
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
		return
	}

	err := h.coordinator.AssignMonitor(c.Request.Context(), c.Param("id"), req.MonitorID, req.Priority, req.Exclusive)
	if err != nil {
		if errors.Is(err, probe.ErrMonitorNotFound) {
			c.JSON(http.StatusNotFound, types.NotFoundErrorResponse("monitor"))
			return
		}
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusOK, types.SuccessResponse(nil))
}

type claimRequest struct {
	ProbeToken string `json:"probe_token" binding:"required"`
	Limit      int    `json:"limit"`
}

// Claim handles POST /api/v1/jobs/claim.
func (h *Handler) Claim(c *gin.Context) {
	var req claimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
		return
	}
	if req.Limit <= 0 {
		req.Limit = 1
	}

	jobs, err := h.coordinator.ClaimJobs(c.Request.Context(), req.ProbeToken, req.Limit)
	if err != nil {
		if errors.Is(err, probe.ErrUnknownProbe) {
			c.JSON(http.StatusUnauthorized, types.AuthenticationErrorResponse("unknown probe token"))
			return
		}
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusOK, types.SuccessResponse(gin.H{"jobs": jobs}))
}

type submitRequest struct {
	ProbeToken string `json:"probe_token" binding:"required"`
	probe.Submission
}

// SubmitResult handles POST /api/v1/jobs/:id/result.
//
// Responses follow the lease contract: 401 for unknown tokens, 404 for
// unknown jobs, 409 for lease conflicts and stale submissions.
func (h *Handler) SubmitResult(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
		return
	}

	err := h.coordinator.SubmitResult(c.Request.Context(), c.Param("id"), req.ProbeToken, &req.Submission)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, types.SuccessResponse(nil))
	case errors.Is(err, probe.ErrUnknownProbe):
		c.JSON(http.StatusUnauthorized, types.AuthenticationErrorResponse("unknown probe token"))
	case errors.Is(err, probe.ErrJobNotFound):
		c.JSON(http.StatusNotFound, types.NotFoundErrorResponse("job"))
	case errors.Is(err, probe.ErrLeaseConflict):
		c.JSON(http.StatusConflict, types.LeaseConflictErrorResponse("job is not claimed by this probe"))
	case errors.Is(err, probe.ErrStaleSubmission):
		c.JSON(http.StatusConflict, types.StaleSubmissionErrorResponse("lease expired or held by another probe"))
	default:
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse(err.Error()))
	}
}

type heartbeatRequest struct {
	ProbeToken string `json:"probe_token" binding:"required"`
	Metrics    string `json:"metrics"`
}

// Heartbeat handles POST /api/v1/probes/heartbeat.
func (h *Handler) Heartbeat(c *gin.Context) {
	var req heartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
		return
	}

	err := h.coordinator.Heartbeat(c.Request.Context(), req.ProbeToken, req.Metrics)
	if err != nil {
		if errors.Is(err, probe.ErrUnknownProbe) {
			c.JSON(http.StatusUnauthorized, types.AuthenticationErrorResponse("unknown probe token"))
			return
		}
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusOK, types.SuccessResponse(nil))
}
