package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"strings"
	"time"

	"github.com/cuongbtq/shell-executor/internal/worker/domain"
	"github.com/cuongbtq/shell-executor/internal/worker/notify"
	"github.com/cuongbtq/shell-executor/internal/worker/storage"
)

// DefaultShell interprets every job command
const DefaultShell = "/bin/sh"

// ExecutorConfig holds execution unit configuration
type ExecutorConfig struct {
	Logger   *slog.Logger
	Storage  *storage.Storage
	Notifier notify.Notifier
	Shell    string
}

// Executor runs one job's command sequence and records the outcome. An
// Executor may run many jobs concurrently, but never the same job twice at a
// time; the scheduler guarantees that.
type Executor struct {
	logger   *slog.Logger
	storage  *storage.Storage
	notifier notify.Notifier
	shell    string
	now      func() time.Time
}

// NewExecutor creates a new execution unit
func NewExecutor(cfg *ExecutorConfig) *Executor {
	shell := cfg.Shell
	if shell == "" {
		shell = DefaultShell
	}

	return &Executor{
		logger:   cfg.Logger,
		storage:  cfg.Storage,
		notifier: cfg.Notifier,
		shell:    shell,
		now:      time.Now,
	}
}

// Prepare resets the job's working directory, writes the rerun script and
// persists the job record with status WAITING. On failure the job is recorded
// as ERROR, as far as the disk allows.
func (e *Executor) Prepare(ctx context.Context, runID string, job *domain.Job) error {
	if err := e.prepare(ctx, runID, job); err != nil {
		e.fail(ctx, runID, job, "")
		return err
	}
	return nil
}

func (e *Executor) prepare(ctx context.Context, runID string, job *domain.Job) error {
	// Step 1: Recreate the working directory
	if err := os.RemoveAll(job.WorkDir); err != nil {
		return fmt.Errorf("failed to remove working directory: %w", err)
	}
	if err := os.MkdirAll(job.WorkDir, 0o755); err != nil {
		return fmt.Errorf("failed to create working directory: %w", err)
	}

	// Step 2: Write a script that replays this attempt by hand
	if err := os.WriteFile(job.ScriptPath(), []byte(RerunScript(job)), 0o755); err != nil {
		return fmt.Errorf("failed to write rerun script: %w", err)
	}
	// WriteFile keeps the mode of an existing file and applies umask otherwise
	if err := os.Chmod(job.ScriptPath(), 0o755); err != nil {
		return fmt.Errorf("failed to chmod rerun script: %w", err)
	}

	// Step 3: Reset runtime state and persist it before anything executes
	state := job.Update(func(s *domain.State) {
		*s = domain.State{Status: domain.StatusWaiting}
	})
	if err := e.persist(ctx, runID, job, state); err != nil {
		return err
	}

	e.logger.Debug("Job prepared",
		slog.String("job", job.Name),
		slog.String("work_dir", job.WorkDir),
	)

	return nil
}

// Execute runs the job's commands in order and stops at the first failure.
// The outcome is recorded on the job and on disk; it is never returned.
func (e *Executor) Execute(ctx context.Context, runID string, job *domain.Job) {
	logger := e.logger.With(
		slog.String("job", job.Name),
		slog.String("run_id", runID),
	)

	if ctx.Err() != nil {
		logger.Info("Job not started - context canceled")
		return
	}

	// Step 1: Build the command environment
	env := MergeEnv(os.Environ(), job.Environment)

	// Step 2: Mark the job RUNNING
	startedAt := e.now()
	state := job.Update(func(s *domain.State) {
		s.Status = domain.StatusRunning
		s.FailedCommand = ""
	})
	if err := e.persist(ctx, runID, job, state); err != nil {
		logger.Error("Failed to persist RUNNING status", slog.String("error", err.Error()))
		e.fail(ctx, runID, job, "")
		return
	}

	logger.Info("Job started", slog.Int("commands", len(job.Commands)))

	logFile, err := os.OpenFile(job.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger.Error("Failed to open console log", slog.String("error", err.Error()))
		e.fail(ctx, runID, job, "")
		return
	}
	defer logFile.Close()

	// Step 3: Run commands sequentially, fail fast
	for _, command := range job.Commands {
		if _, err := fmt.Fprintf(logFile, "++ %s\n", command); err != nil {
			logger.Error("Failed to write console log", slog.String("error", err.Error()))
			e.fail(ctx, runID, job, command)
			return
		}

		cmd := exec.CommandContext(ctx, e.shell, "-c", command)
		cmd.Dir = job.WorkDir
		cmd.Env = env
		cmd.Stdout = logFile
		cmd.Stderr = logFile

		if err := cmd.Run(); err != nil {
			logger.Warn("Command failed",
				slog.String("command", command),
				slog.Int("exit_code", exitCode(err)),
				slog.String("error", err.Error()),
			)
			e.fail(ctx, runID, job, command)
			return
		}
	}

	// Step 4: Collect user results; a malformed file is only a warning
	results, err := e.storage.ReadResults(job)
	if err != nil {
		logger.Warn("Ignoring user result file",
			slog.String("path", job.ResultPath()),
			slog.String("error", err.Error()),
		)
	}

	// Step 5: Record timing at second resolution and mark DONE
	start := startedAt.Truncate(time.Second)
	end := e.now().Truncate(time.Second)
	state = job.Update(func(s *domain.State) {
		s.Status = domain.StatusDone
		s.UserResults = results
		s.StartTime = start
		s.Duration = end.Sub(start)
	})
	if err := e.persist(ctx, runID, job, state); err != nil {
		logger.Error("Failed to persist DONE status", slog.String("error", err.Error()))
		return
	}

	logger.Info("Job completed successfully",
		slog.Duration("duration", state.Duration),
		slog.Int("results", len(results)),
	)
}

// fail records ERROR with the offending command
func (e *Executor) fail(ctx context.Context, runID string, job *domain.Job, command string) {
	state := job.Update(func(s *domain.State) {
		s.Status = domain.StatusError
		s.FailedCommand = command
	})
	if err := e.persist(ctx, runID, job, state); err != nil {
		e.logger.Error("Failed to persist ERROR status",
			slog.String("job", job.Name),
			slog.String("error", err.Error()),
		)
	}
}

// persist writes the record and notifies observers
func (e *Executor) persist(ctx context.Context, runID string, job *domain.Job, state domain.State) error {
	if err := e.storage.Save(job, state); err != nil {
		return err
	}
	if e.notifier != nil {
		// Observers must not hold up the job; a cancelled run still reports
		_ = e.notifier.Notify(context.WithoutCancel(ctx), notify.NewEvent(runID, job, state, e.now()))
	}
	return nil
}

// MergeEnv overlays job variables on a KEY=VALUE environment. Job values win.
func MergeEnv(base []string, overrides map[string]string) []string {
	merged := make(map[string]string, len(base)+len(overrides))
	for _, kv := range base {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		merged[key] = value
	}
	for key, value := range overrides {
		merged[key] = value
	}

	env := make([]string, 0, len(merged))
	for key, value := range merged {
		env = append(env, key+"="+value)
	}
	slices.Sort(env)
	return env
}

// RerunScript renders a shell script that replays the job by hand
func RerunScript(job *domain.Job) string {
	var b strings.Builder
	b.WriteString("set -e -x\n")

	keys := make([]string, 0, len(job.Environment))
	for key := range job.Environment {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		fmt.Fprintf(&b, "export %s=%s\n", key, shellQuote(job.Environment[key]))
	}

	for _, command := range job.Commands {
		b.WriteString(command)
		b.WriteByte('\n')
	}
	return b.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
