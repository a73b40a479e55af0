package handler

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cuongbtq/shell-executor/internal/api/dto"
	"github.com/cuongbtq/shell-executor/internal/report"
	"github.com/cuongbtq/shell-executor/internal/worker/domain"
	"github.com/cuongbtq/shell-executor/internal/worker/history"
	"github.com/gin-gonic/gin"
)

// ListJobs handles GET /api/v1/jobs
// Returns the flattened report of every job, optionally filtered by status
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	statuses, err := parseStatusFilter(req.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	h.runner.Refresh()

	jobs := report.FilterByStatus(h.runner.Registry().Jobs(), statuses...)
	rows := report.TableAll(jobs)

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:  rows,
		Count: len(rows),
	})
}

// GetJob handles GET /api/v1/jobs/:name
// Returns the full report of one job
func (h *JobHandler) GetJob(c *gin.Context) {
	job, ok := h.lookup(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, dto.JobResponse{
		Report:     report.New(job),
		Dependency: job.Dependency,
	})
}

// GetJobLog handles GET /api/v1/jobs/:name/log
// Streams the job's console log as plain text
func (h *JobHandler) GetJobLog(c *gin.Context) {
	job, ok := h.lookup(c)
	if !ok {
		return
	}

	data, err := os.ReadFile(job.LogPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job has no console log yet",
			})
			return
		}
		h.logger.Error("Failed to read console log",
			slog.String("job", job.Name),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to read console log",
		})
		return
	}

	c.Data(http.StatusOK, "text/plain; charset=utf-8", data)
}

// ListJobRuns handles GET /api/v1/jobs/:name/runs
// Lists finished attempts of a job from the run history, newest first
func (h *JobHandler) ListJobRuns(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Run history is disabled",
		})
		return
	}

	job, ok := h.lookup(c)
	if !ok {
		return
	}

	var req dto.ListRunsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	cursor, err := history.DecodeCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	var status string
	if req.Status != "" {
		parsed, err := domain.ParseStatus(req.Status)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": err.Error(),
			})
			return
		}
		status = string(parsed)
	}

	runs, next, err := h.history.ListRuns(c.Request.Context(), history.Filter{
		JobName:  job.Name,
		Status:   status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list job runs",
			slog.String("job", job.Name),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list job runs",
		})
		return
	}

	resp := dto.ListRunsResponse{
		Runs:       make([]dto.RunDTO, len(runs)),
		NextCursor: next,
	}
	for i, run := range runs {
		resp.Runs[i] = toRunDTO(run)
	}

	c.JSON(http.StatusOK, resp)
}

// ExportCSV handles GET /api/v1/export.csv
// Downloads the flattened report of every job as CSV
func (h *JobHandler) ExportCSV(c *gin.Context) {
	h.runner.Refresh()

	rows := report.TableAll(h.runner.Registry().Jobs())

	c.Header("Content-Disposition", `attachment; filename="jobs.csv"`)
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Status(http.StatusOK)

	if err := report.WriteCSV(c.Writer, rows); err != nil {
		h.logger.Error("Failed to write CSV export", slog.String("error", err.Error()))
		_ = c.Error(err)
	}
}

// lookup resolves the :name parameter against states reloaded from disk, so
// single-job views agree with the list after an out-of-process run
func (h *JobHandler) lookup(c *gin.Context) (*domain.Job, bool) {
	name := c.Param("name")

	h.runner.Refresh()

	job, ok := h.runner.Registry().Lookup(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error": domain.ErrJobNotFound.Error(),
			"job":   name,
		})
		return nil, false
	}
	return job, true
}

func parseStatusFilter(raw string) ([]domain.Status, error) {
	if raw == "" {
		return nil, nil
	}

	var statuses []domain.Status
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		// BLOCKED is only ever reported, so it is accepted here but not by ParseStatus
		if strings.EqualFold(part, string(domain.StatusBlocked)) {
			statuses = append(statuses, domain.StatusBlocked)
			continue
		}
		s, err := domain.ParseStatus(part)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, s)
	}
	return statuses, nil
}

func toRunDTO(run history.Run) dto.RunDTO {
	out := dto.RunDTO{
		RunID:           run.RunID,
		JobName:         run.JobName,
		Status:          run.Status,
		FailedCommand:   run.FailedCommand.String,
		DurationSeconds: run.DurationSeconds,
		FinishedAt:      run.FinishedAt.Format(time.RFC3339),
	}
	if run.StartedAt.Valid {
		out.StartedAt = run.StartedAt.Time.Format(time.RFC3339)
	}
	return out
}
