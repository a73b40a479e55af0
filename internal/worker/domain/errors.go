package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when a job name is not part of the registry
	ErrJobNotFound = errors.New("job not found")

	// ErrStateNotFound is returned when a job has no persisted record yet
	ErrStateNotFound = errors.New("job state not found")

	// ErrRunInProgress is returned when a run is requested while another is active
	ErrRunInProgress = errors.New("a run is already in progress")

	// ErrInvalidStatus is returned when a status name cannot be parsed
	ErrInvalidStatus = errors.New("invalid job status")

	// ErrInvalidResult is returned when the user result file is not a mapping
	ErrInvalidResult = errors.New("user result file is not a mapping")
)

// Job definition errors
var (
	ErrEmptyCommands      = errors.New("cmds is empty")
	ErrInvalidCommands    = errors.New("cmds is not a list of strings")
	ErrInvalidEnvironment = errors.New("envs is not a mapping")
	ErrInvalidDependency  = errors.New("dep is not a string")
	ErrUnknownDependency  = errors.New("dep names an unknown job")
	ErrSelfDependency     = errors.New("dep names the job itself")
	ErrInvalidJob         = errors.New("job definition is not a mapping")
	ErrDuplicateJob       = errors.New("job is defined more than once")
	ErrDependencyToken    = errors.New("cmds use @DEP but the job has no dep")
	ErrInvalidRegistry    = errors.New("job registry is not a mapping")
)

// ConfigError reports a malformed job definition
type ConfigError struct {
	Job    string
	Err    error
	Detail string
}

func (e *ConfigError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("job %q: %s: %s", e.Job, e.Err.Error(), e.Detail)
	}
	return fmt.Sprintf("job %q: %s", e.Job, e.Err.Error())
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a ConfigError for the named job
func NewConfigError(job string, err error, detail string) error {
	return &ConfigError{Job: job, Err: err, Detail: detail}
}
