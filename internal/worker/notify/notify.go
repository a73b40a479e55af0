package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/shell-executor/internal/worker/domain"
)

// Event describes a persisted job status change
type Event struct {
	RunID         string        `json:"run_id"`
	Job           string        `json:"job"`
	Status        domain.Status `json:"status"`
	FailedCommand string        `json:"failed_cmd,omitempty"`
	StartTime     time.Time     `json:"job_start_time,omitzero"`
	Duration      time.Duration `json:"job_duration,omitzero"`
	At            time.Time     `json:"at"`
}

// NewEvent captures a job's state for the given run
func NewEvent(runID string, job *domain.Job, state domain.State, at time.Time) Event {
	return Event{
		RunID:         runID,
		Job:           job.Name,
		Status:        state.Status,
		FailedCommand: state.FailedCommand,
		StartTime:     state.StartTime,
		Duration:      state.Duration,
		At:            at,
	}
}

// Notifier receives job status changes. Errors are reported to the caller but
// never change the outcome of a job.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Multi fans an event out to every notifier
type Multi struct {
	notifiers []Notifier
	logger    *slog.Logger
}

// NewMulti builds a fan-out notifier; nil entries are ignored
func NewMulti(logger *slog.Logger, notifiers ...Notifier) *Multi {
	m := &Multi{logger: logger}
	for _, n := range notifiers {
		if n != nil {
			m.notifiers = append(m.notifiers, n)
		}
	}
	return m
}

// Notify delivers to all notifiers and logs individual failures
func (m *Multi) Notify(ctx context.Context, event Event) error {
	if m == nil {
		return nil
	}
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, event); err != nil {
			m.logger.Warn("Failed to deliver job event",
				slog.String("job", event.Job),
				slog.String("status", string(event.Status)),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}
