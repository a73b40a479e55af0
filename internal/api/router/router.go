package router

import (
	"context"
	"net/http"
	"time"

	"github.com/cuongbtq/shell-executor/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", healthHandler(deps))

	jobHandler := handler.NewJobHandler(deps)
	runHandler := handler.NewRunHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			// GET /api/v1/jobs - Flattened report of all jobs, ?status=ERROR,BLOCKED
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:name - Report of one job
			jobs.GET("/:name", jobHandler.GetJob)

			// GET /api/v1/jobs/:name/log - Console log
			jobs.GET("/:name/log", jobHandler.GetJobLog)

			// GET /api/v1/jobs/:name/runs - Run history with cursor pagination
			jobs.GET("/:name/runs", jobHandler.ListJobRuns)
		}

		runs := v1.Group("/runs")
		{
			// POST /api/v1/runs - Start a run in the background
			runs.POST("", runHandler.CreateRun)

			// GET /api/v1/runs/current - Active and last run
			runs.GET("/current", runHandler.GetCurrentRun)
		}

		// GET /api/v1/export.csv - CSV export of all jobs
		v1.GET("/export.csv", jobHandler.ExportCSV)
	}

	return r
}

func healthHandler(deps *handler.Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{
			"database": "disabled",
			"rabbitmq": "disabled",
		}
		healthy := true

		if deps.Database != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := deps.Database.HealthCheck(ctx); err != nil {
				checks["database"] = err.Error()
				healthy = false
			} else {
				checks["database"] = "ok"
			}
		}

		if deps.Broker != nil {
			if deps.Broker.IsConnected() {
				checks["rabbitmq"] = "ok"
			} else {
				checks["rabbitmq"] = "disconnected"
				healthy = false
			}
		}

		status, code := "healthy", http.StatusOK
		if !healthy {
			status, code = "degraded", http.StatusServiceUnavailable
		}

		c.JSON(code, gin.H{
			"status":  status,
			"service": "shell-executor-api",
			"checks":  checks,
			"run":     deps.Runner.Status(),
		})
	}
}
