package dto

import "github.com/cuongbtq/shell-executor/internal/report"

type ListJobsRequest struct {
	// Status is a comma-separated list of statuses, e.g. "ERROR,BLOCKED"
	Status string `form:"status"`
}

type ListJobsResponse struct {
	Jobs  []map[string]any `json:"jobs"`
	Count int              `json:"count"`
}

type JobResponse struct {
	report.Report
	Dependency string `json:"dep,omitempty"`
}

type ListRunsRequest struct {
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListRunsResponse struct {
	Runs       []RunDTO `json:"runs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type RunDTO struct {
	RunID           string `json:"run_id"`
	JobName         string `json:"job_name"`
	Status          string `json:"status"`
	FailedCommand   string `json:"failed_cmd,omitempty"`
	StartedAt       string `json:"started_at,omitempty"`
	DurationSeconds int64  `json:"duration_seconds"`
	FinishedAt      string `json:"finished_at"`
}

type CreateRunRequest struct {
	Jobs           []string `json:"jobs"`
	MaxConcurrency int      `json:"max_concurrency" binding:"gte=0"`
	RerunStatus    []string `json:"rerun_status"`
}

type CreateRunResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}
