package api

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all transcoding module API routes.
//
// API Structure:
//
//	/api/health                       - Liveness and runtime status
//	/api/v1 (authenticated)
//	├── POST /jobs                    - Upload a source and create a job
//	├── GET  /jobs                    - List the caller's jobs
//	├── GET  /jobs/:jobId             - Read one job
//	├── GET  /jobs/:jobId/watch       - Websocket change stream
//	└── POST /functions/process-job   - Fire-and-forget job invocation
//	/media/*path                      - Local store artifacts (optional)
func RegisterRoutes(router *gin.Engine, auth gin.HandlerFunc, jobs *JobHandler, health *HealthHandler, media *MediaHandler) {
	router.GET("/api/health", health.Health)

	v1 := router.Group("/api/v1")
	v1.Use(auth)
	{
		v1.POST("/jobs", jobs.CreateJob)
		v1.GET("/jobs", jobs.ListJobs)
		v1.GET("/jobs/:jobId", jobs.GetJob)
		v1.GET("/jobs/:jobId/watch", jobs.WatchJob)

		v1.POST("/functions/process-job", jobs.ProcessJob)
	}

	if media != nil {
		router.GET("/media/*path", media.ServeMedia)
		router.HEAD("/media/*path", media.ServeMedia)
	}
}
