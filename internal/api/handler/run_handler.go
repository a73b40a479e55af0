package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/shell-executor/internal/api/dto"
	"github.com/cuongbtq/shell-executor/internal/runner"
	"github.com/cuongbtq/shell-executor/internal/worker/domain"
	"github.com/gin-gonic/gin"
)

// CreateRun handles POST /api/v1/runs
// Starts a run in the background. An empty body runs every job with the
// configured defaults.
func (h *RunHandler) CreateRun(c *gin.Context) {
	var req dto.CreateRunRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	runID, err := h.runner.Start(h.runCtx, runner.Request{
		Jobs:           req.Jobs,
		MaxConcurrency: req.MaxConcurrency,
		RerunStatus:    req.RerunStatus,
	})
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrRunInProgress):
		c.JSON(http.StatusConflict, gin.H{
			"error":  err.Error(),
			"run_id": h.runner.Status().RunID,
		})
		return
	case errors.Is(err, domain.ErrJobNotFound), errors.Is(err, domain.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	default:
		h.logger.Error("Failed to start run", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to start run",
		})
		return
	}

	h.logger.Info("Run accepted",
		slog.String("run_id", runID),
		slog.Any("jobs", req.Jobs),
	)

	c.JSON(http.StatusAccepted, dto.CreateRunResponse{
		RunID:  runID,
		Status: "accepted",
	})
}

// GetCurrentRun handles GET /api/v1/runs/current
// Reports the active run, if any, and the summary of the last one
func (h *RunHandler) GetCurrentRun(c *gin.Context) {
	c.JSON(http.StatusOK, h.runner.Status())
}
