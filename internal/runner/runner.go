package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/shell-executor/internal/registry"
	"github.com/cuongbtq/shell-executor/internal/worker"
	"github.com/cuongbtq/shell-executor/internal/worker/domain"
	"github.com/google/uuid"
)

// Request asks for a run. Zero values fall back to the runner defaults.
type Request struct {
	Jobs           []string `json:"jobs"`
	MaxConcurrency int      `json:"max_concurrency"`
	RerunStatus    []string `json:"rerun_status"`
}

// Defaults apply to requests that leave a setting unset
type Defaults struct {
	MaxConcurrency int
	RerunPolicy    domain.RerunPolicy
}

// Config holds runner configuration
type Config struct {
	Logger    *slog.Logger
	Registry  *registry.Registry
	Scheduler *worker.Scheduler
	Defaults  Defaults
}

// Status describes the current and the last finished run
type Status struct {
	Running   bool            `json:"running"`
	RunID     string          `json:"run_id,omitempty"`
	StartedAt *time.Time      `json:"started_at,omitempty"`
	Last      *worker.Summary `json:"last,omitempty"`
	LastError string          `json:"last_error,omitempty"`
}

// Runner turns run requests into scheduler runs over one registry and allows
// a single run at a time
type Runner struct {
	logger    *slog.Logger
	registry  *registry.Registry
	scheduler *worker.Scheduler
	defaults  Defaults

	mu        sync.Mutex
	running   bool
	current   string
	startedAt time.Time
	last      *worker.Summary
	lastErr   error
	wg        sync.WaitGroup
}

// New creates a new runner
func New(cfg *Config) *Runner {
	defaults := cfg.Defaults
	if defaults.MaxConcurrency <= 0 {
		defaults.MaxConcurrency = domain.DefaultConcurrency
	}
	if defaults.RerunPolicy == nil {
		defaults.RerunPolicy = domain.DefaultRerunPolicy()
	}

	return &Runner{
		logger:    cfg.Logger,
		registry:  cfg.Registry,
		scheduler: cfg.Scheduler,
		defaults:  defaults,
	}
}

// Registry returns the job registry the runner drives
func (r *Runner) Registry() *registry.Registry {
	return r.registry
}

// Run executes a request and blocks until the run ends
func (r *Runner) Run(ctx context.Context, req Request) (*worker.Summary, error) {
	jobs, opts, err := r.plan(req)
	if err != nil {
		return nil, err
	}
	opts.RunID = uuid.New().String()

	if err := r.begin(opts.RunID); err != nil {
		return nil, err
	}

	return r.execute(ctx, jobs, opts)
}

// Start validates a request, starts the run in the background and returns its
// ID. ctx bounds the run, so it should outlive the caller's request.
func (r *Runner) Start(ctx context.Context, req Request) (string, error) {
	jobs, opts, err := r.plan(req)
	if err != nil {
		return "", err
	}
	opts.RunID = uuid.New().String()

	if err := r.begin(opts.RunID); err != nil {
		return "", err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		_, _ = r.execute(ctx, jobs, opts)
	}()

	return opts.RunID, nil
}

// Wait blocks until background runs have finished
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Status reports the active run, if any, and the last finished one
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Status{
		Running: r.running,
		Last:    r.last,
	}
	if r.running {
		st.RunID = r.current
		startedAt := r.startedAt
		st.StartedAt = &startedAt
	}
	if r.lastErr != nil {
		st.LastError = r.lastErr.Error()
	}
	return st
}

// Refresh re-reads job states from disk unless a run is active, so that runs
// made by other processes become visible
func (r *Runner) Refresh() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return false
	}
	r.registry.Reload()
	return true
}

// plan resolves the request against the registry and the defaults
func (r *Runner) plan(req Request) ([]*domain.Job, worker.RunOptions, error) {
	jobs, err := r.registry.Select(req.Jobs...)
	if err != nil {
		return nil, worker.RunOptions{}, err
	}

	opts := worker.RunOptions{
		MaxConcurrency: req.MaxConcurrency,
		RerunPolicy:    r.defaults.RerunPolicy,
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = r.defaults.MaxConcurrency
	}
	if len(req.RerunStatus) > 0 {
		policy, err := domain.ParseRerunPolicy(req.RerunStatus)
		if err != nil {
			return nil, worker.RunOptions{}, err
		}
		opts.RerunPolicy = policy
	}

	return jobs, opts, nil
}

func (r *Runner) begin(runID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return domain.ErrRunInProgress
	}
	r.running = true
	r.current = runID
	r.startedAt = time.Now().UTC().Truncate(time.Second)
	return nil
}

func (r *Runner) execute(ctx context.Context, jobs []*domain.Job, opts worker.RunOptions) (*worker.Summary, error) {
	logger := r.logger.With(slog.String("run_id", opts.RunID))

	var (
		summary *worker.Summary
		err     error
	)
	defer func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.running = false
		r.current = ""
		if summary != nil {
			r.last = summary
		}
		r.lastErr = err
	}()

	if err = r.registry.SaveSnapshot(); err != nil {
		logger.Error("Failed to snapshot job registry", slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to start run: %w", err)
	}

	summary, err = r.scheduler.RunAll(ctx, r.registry, jobs, opts)
	if err != nil {
		logger.Warn("Run ended early", slog.String("error", err.Error()))
	}
	return summary, err
}
