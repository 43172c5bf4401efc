// Package v1 wires the versioned API route groups to their handlers.
package v1

import (
	"github.com/gin-gonic/gin"

	"vigil/internal/api/v1/deployments"
	"vigil/internal/api/v1/monitors"
	"vigil/internal/api/v1/policies"
	"vigil/internal/api/v1/probes"
	"vigil/internal/core"
	"vigil/internal/deploy"
	"vigil/internal/storage"
)

// SetupRoutes registers all v1 endpoints on the given router group.
func SetupRoutes(rg *gin.RouterGroup, engine *core.Engine, st *storage.Storage) {
	correlator := deploy.NewCorrelator(st)

	monitorHandler := monitors.NewHandler(engine, st, correlator)
	monitorGroup := rg.Group("/monitors")
	{
		monitorGroup.POST("", monitorHandler.Create)
		monitorGroup.GET("", monitorHandler.List)
		monitorGroup.GET("/:id", monitorHandler.Get)
		monitorGroup.GET("/:id/status", monitorHandler.Status)
		monitorGroup.GET("/:id/aggregates", monitorHandler.Aggregates)
		monitorGroup.GET("/:id/certificate", monitorHandler.Certificate)
		monitorGroup.GET("/:id/deployments", monitorHandler.Deployments)
		monitorGroup.POST("/:id/pause", monitorHandler.Pause)
		monitorGroup.POST("/:id/resume", monitorHandler.Resume)
		monitorGroup.POST("/:id/rollup", monitorHandler.Rollup)
	}

	probeHandler := probes.NewHandler(engine.Coordinator())
	probeGroup := rg.Group("/probes")
	{
		probeGroup.POST("", probeHandler.Register)
		probeGroup.POST("/:id/assignments", probeHandler.Assign)
		probeGroup.POST("/heartbeat", probeHandler.Heartbeat)
	}

	jobGroup := rg.Group("/jobs")
	{
		jobGroup.POST("/claim", probeHandler.Claim)
		jobGroup.POST("/:id/result", probeHandler.SubmitResult)
	}

	policyHandler := policies.NewHandler(st)
	rg.POST("/policies", policyHandler.Create)
	rg.GET("/policies", policyHandler.List)
	rg.POST("/channels", policyHandler.CreateChannel)

	deploymentHandler := deployments.NewHandler(correlator)
	rg.POST("/deployments", deploymentHandler.Record)
}
