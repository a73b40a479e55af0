package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/shell-executor/internal/runner"
	"github.com/cuongbtq/shell-executor/internal/worker/history"
)

// RunHistory lists finished job attempts
type RunHistory interface {
	ListRuns(ctx context.Context, filter history.Filter) ([]history.Run, string, error)
}

// HealthChecker reports whether a backing service is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ConnectionChecker reports whether a long-lived connection is up
type ConnectionChecker interface {
	IsConnected() bool
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger *slog.Logger
	Runner *runner.Runner
	// RunContext bounds runs started over HTTP; it outlives single requests
	RunContext context.Context
	// History is nil when the run history database is disabled
	History RunHistory
	// Database and Broker are nil when disabled
	Database HealthChecker
	Broker   ConnectionChecker
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger  *slog.Logger
	runner  *runner.Runner
	history RunHistory
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:  deps.Logger,
		runner:  deps.Runner,
		history: deps.History,
	}
}

// RunHandler handles run-related HTTP requests
type RunHandler struct {
	logger *slog.Logger
	runner *runner.Runner
	runCtx context.Context
}

// NewRunHandler creates a new RunHandler instance
func NewRunHandler(deps *Dependencies) *RunHandler {
	runCtx := deps.RunContext
	if runCtx == nil {
		runCtx = context.Background()
	}
	return &RunHandler{
		logger: deps.Logger,
		runner: deps.Runner,
		runCtx: runCtx,
	}
}
