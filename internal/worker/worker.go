package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cuongbtq/shell-executor/internal/worker/domain"
	"github.com/google/uuid"
)

// Unit prepares and executes a single job
type Unit interface {
	Prepare(ctx context.Context, runID string, job *domain.Job) error
	Execute(ctx context.Context, runID string, job *domain.Job)
}

// JobSet resolves dependency names
type JobSet interface {
	Lookup(name string) (*domain.Job, bool)
}

// Config holds scheduler configuration
type Config struct {
	Logger *slog.Logger
	Unit   Unit
}

// RunOptions scope a single RunAll invocation
type RunOptions struct {
	// RunID identifies the run in logs and events; generated when empty
	RunID          string
	MaxConcurrency int
	RerunPolicy    domain.RerunPolicy
}

// Summary describes what a run did
type Summary struct {
	RunID    string   `json:"run_id"`
	Rounds   int      `json:"rounds"`
	Executed []string `json:"executed"`
	Failed   []string `json:"failed"`
	Skipped  []string `json:"skipped"`
	Blocked  []string `json:"blocked"`
}

// Scheduler drives a pending job set to completion in batch-barrier rounds
type Scheduler struct {
	logger *slog.Logger
	unit   Unit
	active sync.Mutex
}

// NewScheduler creates a new scheduler
func NewScheduler(cfg *Config) *Scheduler {
	return &Scheduler{
		logger: cfg.Logger,
		unit:   cfg.Unit,
	}
}

// RunAll executes the pending jobs respecting dependencies, the rerun policy
// and the concurrency limit. It returns once every job has reached a terminal
// status in this run, was skipped, or was found BLOCKED. Job failures are
// recorded on the jobs; the returned error is non-nil only if ctx was
// cancelled or another run is already active.
func (s *Scheduler) RunAll(ctx context.Context, set JobSet, pending []*domain.Job, opts RunOptions) (*Summary, error) {
	if !s.active.TryLock() {
		return nil, domain.ErrRunInProgress
	}
	defer s.active.Unlock()

	concurrency := opts.MaxConcurrency
	if concurrency <= 0 {
		concurrency = domain.DefaultConcurrency
	}
	policy := opts.RerunPolicy
	if policy == nil {
		policy = domain.DefaultRerunPolicy()
	}

	runID := opts.RunID
	if runID == "" {
		runID = uuid.New().String()
	}

	summary := &Summary{RunID: runID}
	logger := s.logger.With(slog.String("run_id", summary.RunID))

	pending = dedupe(pending)
	for _, job := range pending {
		job.SetBlocked(false)
	}

	logger.Info("Starting run",
		slog.Int("jobs", len(pending)),
		slog.Int("max_concurrency", concurrency),
		slog.Any("rerun_status", policy.Statuses()),
	)

	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			logger.Warn("Run cancelled", slog.Int("pending", len(pending)))
			return summary, err
		}

		summary.Rounds++
		r := s.scan(set, pending, policy)
		summary.Skipped = append(summary.Skipped, names(r.skipped)...)

		if len(r.ready) == 0 && len(r.skipped) == 0 {
			// Nothing can change any more: every remaining job waits on a
			// dependency that will not become DONE in this run
			for _, job := range r.waiting {
				job.SetBlocked(true)
				logger.Warn("Job blocked",
					slog.String("job", job.Name),
					slog.String("dependency", job.Dependency),
				)
			}
			summary.Blocked = names(r.waiting)
			break
		}

		ready, unprepared := s.prepare(ctx, summary.RunID, r.ready)
		summary.Failed = append(summary.Failed, names(unprepared)...)

		logger.Info("Dispatching round",
			slog.Int("round", summary.Rounds),
			slog.Int("submitted", len(ready)),
			slog.Int("skipped", len(r.skipped)),
			slog.Int("waiting", len(r.waiting)),
		)

		dispatched := s.runBatch(ctx, summary.RunID, ready, concurrency)

		// A job cancelled before its first command is still WAITING
		for _, job := range dispatched {
			status := job.Status()
			if status == domain.StatusWaiting {
				continue
			}
			summary.Executed = append(summary.Executed, job.Name)
			if status == domain.StatusError {
				summary.Failed = append(summary.Failed, job.Name)
			}
		}

		pending = r.waiting
	}

	logger.Info("Run finished",
		slog.Int("rounds", summary.Rounds),
		slog.Int("executed", len(summary.Executed)),
		slog.Int("failed", len(summary.Failed)),
		slog.Int("skipped", len(summary.Skipped)),
		slog.Int("blocked", len(summary.Blocked)),
	)

	return summary, ctx.Err()
}

type round struct {
	ready   []*domain.Job
	skipped []*domain.Job
	waiting []*domain.Job
}

// scan partitions the pending set. A dependency counts as satisfied only if it
// is DONE and not itself still pending in this run.
func (s *Scheduler) scan(set JobSet, pending []*domain.Job, policy domain.RerunPolicy) round {
	inPending := make(map[string]struct{}, len(pending))
	for _, job := range pending {
		inPending[job.Name] = struct{}{}
	}

	var r round
	for _, job := range pending {
		if !dependencyDone(set, job, inPending) {
			r.waiting = append(r.waiting, job)
			continue
		}
		if !policy.Allows(job.Status()) {
			s.logger.Debug("Job skipped",
				slog.String("job", job.Name),
				slog.String("status", string(job.Status())),
			)
			r.skipped = append(r.skipped, job)
			continue
		}
		r.ready = append(r.ready, job)
	}
	return r
}

func dependencyDone(set JobSet, job *domain.Job, inPending map[string]struct{}) bool {
	if job.Dependency == "" {
		return true
	}
	if _, ok := inPending[job.Dependency]; ok {
		return false
	}
	dep, ok := set.Lookup(job.Dependency)
	if !ok {
		return false
	}
	return dep.Status() == domain.StatusDone
}

// prepare runs Prepare for each job on the coordinating goroutine. Jobs that
// cannot be prepared are marked ERROR and left out of the batch.
func (s *Scheduler) prepare(ctx context.Context, runID string, jobs []*domain.Job) (ready, failed []*domain.Job) {
	ready = make([]*domain.Job, 0, len(jobs))
	for _, job := range jobs {
		if err := s.unit.Prepare(ctx, runID, job); err != nil {
			s.logger.Error("Failed to prepare job",
				slog.String("job", job.Name),
				slog.String("error", err.Error()),
			)
			job.Update(func(st *domain.State) {
				st.Status = domain.StatusError
				st.FailedCommand = ""
			})
			failed = append(failed, job)
			continue
		}
		ready = append(ready, job)
	}
	return ready, failed
}

func dedupe(jobs []*domain.Job) []*domain.Job {
	seen := make(map[string]struct{}, len(jobs))
	out := make([]*domain.Job, 0, len(jobs))
	for _, job := range jobs {
		if _, ok := seen[job.Name]; ok {
			continue
		}
		seen[job.Name] = struct{}{}
		out = append(out, job)
	}
	return out
}

func names(jobs []*domain.Job) []string {
	out := make([]string, len(jobs))
	for i, job := range jobs {
		out[i] = job.Name
	}
	return out
}
