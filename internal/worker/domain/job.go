package domain

import (
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

// Status is the lifecycle state of a job
type Status string

// ParseStatus converts a case-insensitive status name
func ParseStatus(s string) (Status, error) {
	status := Status(strings.ToUpper(strings.TrimSpace(s)))
	switch status {
	case StatusEmpty, StatusWaiting, StatusRunning, StatusDone, StatusError:
		return status, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// Terminal reports whether no automatic transition follows the status
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// State is the mutable runtime record of a job
type State struct {
	Status        Status
	FailedCommand string
	UserResults   map[string]any
	StartTime     time.Time
	Duration      time.Duration
}

func (s State) clone() State {
	s.UserResults = maps.Clone(s.UserResults)
	return s
}

// Job is a named shell-command pipeline with an optional single dependency.
// Definition fields are immutable after construction; runtime state is only
// accessed through the methods below.
type Job struct {
	Name        string
	Dependency  string
	Environment map[string]string
	Commands    []string
	WorkDir     string
	LogPath     string

	mu      sync.RWMutex
	state   State
	blocked bool
}

// NewJob builds a job rooted at <workspace>/<name>
func NewJob(workspace, name, dependency string, env map[string]string, commands []string) (*Job, error) {
	if len(commands) == 0 {
		return nil, NewConfigError(name, ErrEmptyCommands, "")
	}
	if env == nil {
		env = map[string]string{}
	}

	workDir := filepath.Join(workspace, name)
	return &Job{
		Name:        name,
		Dependency:  dependency,
		Environment: env,
		Commands:    slices.Clone(commands),
		WorkDir:     workDir,
		LogPath:     filepath.Join(workDir, LogFile),
		state:       State{Status: StatusEmpty},
	}, nil
}

// RecordPath is the job's durable state record
func (j *Job) RecordPath() string {
	return filepath.Join(j.WorkDir, RecordFile)
}

// ResultPath is where the job's own commands may leave a result mapping
func (j *Job) ResultPath() string {
	return filepath.Join(j.WorkDir, ResultFile)
}

// ScriptPath is the replayable rerun script
func (j *Job) ScriptPath() string {
	return filepath.Join(j.WorkDir, RerunScript)
}

// Status returns the last recorded status
func (j *Job) Status() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state.Status
}

// ReportedStatus is Status, or BLOCKED if the last run could not reach the job
func (j *Job) ReportedStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.blocked {
		return StatusBlocked
	}
	return j.state.Status
}

// Snapshot returns a copy of the runtime state
func (j *Job) Snapshot() State {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state.clone()
}

// Update mutates the runtime state under the job's lock and returns a copy of
// the result
func (j *Job) Update(fn func(*State)) State {
	j.mu.Lock()
	defer j.mu.Unlock()
	fn(&j.state)
	return j.state.clone()
}

// Restore replaces the runtime state, typically with what was read from disk
func (j *Job) Restore(s State) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if s.Status == "" {
		s.Status = StatusEmpty
	}
	j.state = s.clone()
}

// SetBlocked marks or clears the reporting-only BLOCKED flag
func (j *Job) SetBlocked(blocked bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.blocked = blocked
}

// RerunPolicy is the set of statuses that make a previously attempted job
// eligible to execute again. EMPTY and WAITING are always eligible.
type RerunPolicy map[Status]struct{}

// NewRerunPolicy builds a policy from explicit statuses
func NewRerunPolicy(statuses ...Status) RerunPolicy {
	p := make(RerunPolicy, len(statuses))
	for _, s := range statuses {
		p[s] = struct{}{}
	}
	return p
}

// DefaultRerunPolicy re-runs failed jobs only
func DefaultRerunPolicy() RerunPolicy {
	return NewRerunPolicy(StatusError)
}

// ParseRerunPolicy parses status names. An empty list yields the default policy.
func ParseRerunPolicy(names []string) (RerunPolicy, error) {
	if len(names) == 0 {
		return DefaultRerunPolicy(), nil
	}
	p := make(RerunPolicy, len(names))
	for _, name := range names {
		s, err := ParseStatus(name)
		if err != nil {
			return nil, err
		}
		p[s] = struct{}{}
	}
	return p, nil
}

// Allows reports whether a job currently in status s may be executed
func (p RerunPolicy) Allows(s Status) bool {
	if s == StatusEmpty || s == StatusWaiting {
		return true
	}
	_, ok := p[s]
	return ok
}

// Statuses lists the explicit statuses in a stable order
func (p RerunPolicy) Statuses() []string {
	out := make([]string, 0, len(p))
	for s := range p {
		out = append(out, string(s))
	}
	slices.Sort(out)
	return out
}
