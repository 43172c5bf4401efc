package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"vigil/internal/api/types"
	v1 "vigil/internal/api/v1"
	"vigil/internal/status"
)

// setupRoutes configures API routes.
func (s *Server) setupRoutes() {
	baseHandler := NewHandler(s.engine, s.storage)

	// Base api router group
	apiGroup := s.router.Group("/api")

	apiGroup.GET("/ping", baseHandler.Ping)
	apiGroup.GET("/health", baseHandler.Health)

	// Public heartbeat ingestion; the token is the only credential.
	s.router.POST("/heartbeat/:token", s.handleHeartbeatPing)

	v1Group := apiGroup.Group("/v1")
	v1.SetupRoutes(v1Group, s.engine, s.storage)
}

// handleHeartbeatPing handles POST /heartbeat/:token?status=&duration=.
//
// Status defaults to "complete" so bare curl pings from cron jobs work;
// duration is the reported job runtime in milliseconds.
func (s *Server) handleHeartbeatPing(c *gin.Context) {
	pingStatus := c.DefaultQuery("status", status.PingComplete)
	switch pingStatus {
	case status.PingStart, status.PingComplete, status.PingFail:
	default:
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse("status must be start, complete or fail"))
		return
	}
	durationMs, _ := strconv.Atoi(c.Query("duration"))

	err := s.engine.Status().Ping(c.Request.Context(), c.Param("token"), pingStatus, durationMs)
	if err != nil {
		if errors.Is(err, status.ErrUnknownHeartbeatToken) {
			c.JSON(http.StatusNotFound, types.NotFoundErrorResponse("heartbeat token"))
			return
		}
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusOK, types.SuccessResponse(nil))
}
