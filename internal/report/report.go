package report

import (
	"fmt"
	"maps"
	"time"

	"github.com/cuongbtq/shell-executor/internal/worker/domain"
)

// TimeLayout formats job start times
const TimeLayout = "2006-01-02 15:04:05"

// Flattened column prefixes
const (
	EnvPrefix    = "env/"
	ResultPrefix = "result/"
)

// Report is a point-in-time view of one job
type Report struct {
	JobName       string            `json:"job_name" yaml:"job_name"`
	Status        domain.Status     `json:"status" yaml:"status"`
	Commands      []string          `json:"cmds" yaml:"cmds"`
	FailedCommand string            `json:"failed_cmd" yaml:"failed_cmd"`
	WorkDir       string            `json:"cwd" yaml:"cwd"`
	ConsoleLog    string            `json:"console_log" yaml:"console_log"`
	Environment   map[string]string `json:"envs" yaml:"envs"`
	Results       map[string]any    `json:"results" yaml:"results"`
	StartTime     string            `json:"job_start_time" yaml:"job_start_time"`
	Duration      string            `json:"job_duration" yaml:"job_duration"`
}

// New builds the report of a job. It only reads the job's current state and
// is safe to call while the job runs.
func New(job *domain.Job) Report {
	state := job.Snapshot()

	results := state.UserResults
	if results == nil {
		results = map[string]any{}
	}

	r := Report{
		JobName:       job.Name,
		Status:        job.ReportedStatus(),
		Commands:      append([]string(nil), job.Commands...),
		FailedCommand: state.FailedCommand,
		WorkDir:       job.WorkDir,
		ConsoleLog:    job.LogPath,
		Environment:   maps.Clone(job.Environment),
		Results:       results,
	}
	if !state.StartTime.IsZero() {
		r.StartTime = state.StartTime.Local().Format(TimeLayout)
		r.Duration = FormatDuration(state.Duration)
	}
	return r
}

// Table flattens a report into one row: envs and results become
// env/<key> and result/<key> columns
func Table(job *domain.Job) map[string]any {
	r := New(job)

	row := map[string]any{
		"job_name":       r.JobName,
		"status":         string(r.Status),
		"cmds":           r.Commands,
		"failed_cmd":     r.FailedCommand,
		"cwd":            r.WorkDir,
		"console_log":    r.ConsoleLog,
		"job_start_time": r.StartTime,
		"job_duration":   r.Duration,
	}
	for k, v := range r.Environment {
		row[EnvPrefix+k] = v
	}
	for k, v := range r.Results {
		row[ResultPrefix+k] = v
	}
	return row
}

// TableAll returns one row per job, in the given order
func TableAll(jobs []*domain.Job) []map[string]any {
	rows := make([]map[string]any, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, Table(job))
	}
	return rows
}

// FilterByStatus keeps the jobs whose reported status is one of statuses. No
// statuses means no filtering.
func FilterByStatus(jobs []*domain.Job, statuses ...domain.Status) []*domain.Job {
	if len(statuses) == 0 {
		return jobs
	}
	out := make([]*domain.Job, 0, len(jobs))
	for _, job := range jobs {
		reported := job.ReportedStatus()
		for _, s := range statuses {
			if reported == s {
				out = append(out, job)
				break
			}
		}
	}
	return out
}

// FormatDuration renders d as H:MM:SS
func FormatDuration(d time.Duration) string {
	d = d.Truncate(time.Second)
	if d < 0 {
		d = 0
	}
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	return fmt.Sprintf("%d:%02d:%02d", h, m, s)
}
