package history

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/shell-executor/internal/worker/notify"
	"github.com/cuongbtq/shell-executor/shared/postgresql"
	"github.com/jmoiron/sqlx"
)

// Page size limits for ListRuns
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

const schema = `
CREATE TABLE IF NOT EXISTS job_runs (
	id               BIGSERIAL PRIMARY KEY,
	run_id           TEXT        NOT NULL,
	job_name         TEXT        NOT NULL,
	status           TEXT        NOT NULL,
	failed_cmd       TEXT,
	started_at       TIMESTAMPTZ,
	duration_seconds BIGINT      NOT NULL DEFAULT 0,
	finished_at      TIMESTAMPTZ NOT NULL,
	UNIQUE (run_id, job_name)
);
CREATE INDEX IF NOT EXISTS idx_job_runs_job_finished
	ON job_runs (job_name, finished_at DESC, id DESC);
`

// Store keeps the history of finished job attempts in PostgreSQL. It is a
// notify.Notifier: only DONE and ERROR events are recorded.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new history store
func NewStore(pg *postgresql.Client, logger *slog.Logger) *Store {
	return &Store{
		db:     pg.GetDB(),
		logger: logger,
	}
}

// EnsureSchema creates the job_runs table if it does not exist
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create job_runs schema: %w", err)
	}
	return nil
}

// Notify records terminal events
func (s *Store) Notify(ctx context.Context, event notify.Event) error {
	if !event.Status.Terminal() {
		return nil
	}
	run := runFromEvent(event)
	return s.RecordRun(ctx, &run)
}

// RecordRun inserts a run. A second outcome for the same job in the same run
// replaces the first.
func (s *Store) RecordRun(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO job_runs (
			run_id, job_name, status, failed_cmd,
			started_at, duration_seconds, finished_at
		) VALUES (
			:run_id, :job_name, :status, :failed_cmd,
			:started_at, :duration_seconds, :finished_at
		)
		ON CONFLICT (run_id, job_name) DO UPDATE SET
			status           = EXCLUDED.status,
			failed_cmd       = EXCLUDED.failed_cmd,
			started_at       = EXCLUDED.started_at,
			duration_seconds = EXCLUDED.duration_seconds,
			finished_at      = EXCLUDED.finished_at
	`

	if _, err := s.db.NamedExecContext(ctx, query, run); err != nil {
		return fmt.Errorf("failed to record job run: %w", err)
	}

	s.logger.Debug("Job run recorded",
		slog.String("job", run.JobName),
		slog.String("run_id", run.RunID),
		slog.String("status", run.Status),
	)

	return nil
}

// Filter selects a page of runs, newest first
type Filter struct {
	JobName  string
	Status   string
	PageSize int
	Cursor   *Cursor
}

// ListRuns returns up to PageSize runs plus the cursor of the next page, which
// is empty on the last page
func (s *Store) ListRuns(ctx context.Context, filter Filter) ([]Run, string, error) {
	filter.PageSize = clampPageSize(filter.PageSize)
	query, args := buildListQuery(filter)

	var runs []Run
	if err := s.db.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, "", fmt.Errorf("failed to list job runs: %w", err)
	}

	// One extra row was fetched to detect another page
	var next string
	if len(runs) > filter.PageSize {
		runs = runs[:filter.PageSize]
		last := runs[len(runs)-1]
		next = EncodeCursor(&Cursor{FinishedAt: last.FinishedAt, ID: last.ID})
	}

	return runs, next, nil
}

func buildListQuery(filter Filter) (string, []any) {
	query := `
		SELECT
			id, run_id, job_name, status, failed_cmd,
			started_at, duration_seconds, finished_at
		FROM job_runs
		WHERE 1=1`
	args := []any{}
	argIdx := 1

	if filter.JobName != "" {
		query += fmt.Sprintf(" AND job_name = $%d", argIdx)
		args = append(args, filter.JobName)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (finished_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.FinishedAt, filter.Cursor.ID)
		argIdx += 2
	}

	query += " ORDER BY finished_at DESC, id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	return query, args
}

func clampPageSize(n int) int {
	if n <= 0 {
		return DefaultPageSize
	}
	return min(n, MaxPageSize)
}
