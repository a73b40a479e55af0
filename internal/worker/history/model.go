package history

import (
	"database/sql"
	"time"

	"github.com/cuongbtq/shell-executor/internal/worker/notify"
)

// Run is one finished attempt of a job, as stored in job_runs
type Run struct {
	ID              int64          `db:"id"`
	RunID           string         `db:"run_id"`
	JobName         string         `db:"job_name"`
	Status          string         `db:"status"`
	FailedCommand   sql.NullString `db:"failed_cmd"`
	StartedAt       sql.NullTime   `db:"started_at"`
	DurationSeconds int64          `db:"duration_seconds"`
	FinishedAt      time.Time      `db:"finished_at"`
}

func runFromEvent(event notify.Event) Run {
	run := Run{
		RunID:           event.RunID,
		JobName:         event.Job,
		Status:          string(event.Status),
		DurationSeconds: int64(event.Duration / time.Second),
		FinishedAt:      event.At.UTC(),
	}
	if event.FailedCommand != "" {
		run.FailedCommand = sql.NullString{String: event.FailedCommand, Valid: true}
	}
	if !event.StartTime.IsZero() {
		run.StartedAt = sql.NullTime{Time: event.StartTime.UTC(), Valid: true}
	}
	return run
}
