package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cuongbtq/shell-executor/internal/worker/domain"
	"gopkg.in/yaml.v3"
)

// Record is the on-disk representation of a job: its definition plus the
// latest runtime state.
type Record struct {
	Name          string            `yaml:"name"`
	Dependency    string            `yaml:"dep,omitempty"`
	Environment   map[string]string `yaml:"envs,omitempty"`
	Commands      []string          `yaml:"cmds"`
	Status        domain.Status     `yaml:"status"`
	FailedCommand string            `yaml:"failed_cmd,omitempty"`
	StartTime     time.Time         `yaml:"job_start_time,omitempty"`
	Duration      time.Duration     `yaml:"job_duration,omitempty"`
	Results       map[string]any    `yaml:"results,omitempty"`
	UpdatedAt     time.Time         `yaml:"updated_at"`
}

// legacyStatuses is the lookup order for marker files left by older workspaces
var legacyStatuses = []domain.Status{
	domain.StatusDone,
	domain.StatusError,
	domain.StatusRunning,
	domain.StatusWaiting,
}

// Storage persists job records inside each job's working directory
type Storage struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewStorage creates a new Storage instance
func NewStorage(logger *slog.Logger) *Storage {
	return &Storage{
		logger: logger,
		now:    time.Now,
	}
}

// Load reads the persisted state of a job. Workspaces written before the
// record format existed are recognised by their status marker files.
// Returns domain.ErrStateNotFound when the job has never been prepared.
func (s *Storage) Load(job *domain.Job) (domain.State, error) {
	data, err := os.ReadFile(job.RecordPath())
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return domain.State{}, fmt.Errorf("failed to read job record: %w", err)
		}
		return s.loadLegacy(job)
	}

	var rec Record
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return domain.State{}, fmt.Errorf("failed to parse job record: %w", err)
	}

	status := rec.Status
	if status == "" {
		status = domain.StatusEmpty
	}

	return domain.State{
		Status:        status,
		FailedCommand: rec.FailedCommand,
		UserResults:   normalize(rec.Results).(map[string]any),
		StartTime:     rec.StartTime,
		Duration:      rec.Duration,
	}, nil
}

func (s *Storage) loadLegacy(job *domain.Job) (domain.State, error) {
	for _, status := range legacyStatuses {
		marker := filepath.Join(job.WorkDir, domain.LegacyMarker+string(status))
		if _, err := os.Stat(marker); err == nil {
			s.logger.Debug("Job status read from legacy marker",
				slog.String("job", job.Name),
				slog.String("status", string(status)),
			)
			return domain.State{Status: status}, nil
		}
	}
	return domain.State{}, domain.ErrStateNotFound
}

// Save atomically replaces the job's record with its definition and the given
// state. The working directory is created if missing.
func (s *Storage) Save(job *domain.Job, state domain.State) error {
	rec := Record{
		Name:          job.Name,
		Dependency:    job.Dependency,
		Environment:   job.Environment,
		Commands:      job.Commands,
		Status:        state.Status,
		FailedCommand: state.FailedCommand,
		StartTime:     state.StartTime,
		Duration:      state.Duration,
		Results:       state.UserResults,
		UpdatedAt:     s.now().UTC().Truncate(time.Second),
	}

	data, err := yaml.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("failed to marshal job record: %w", err)
	}

	if err := os.MkdirAll(job.WorkDir, 0o755); err != nil {
		return fmt.Errorf("failed to create working directory: %w", err)
	}

	if err := WriteFileAtomic(job.RecordPath(), data, 0o644); err != nil {
		return fmt.Errorf("failed to write job record: %w", err)
	}

	s.logger.Debug("Job record saved",
		slog.String("job", job.Name),
		slog.String("status", string(state.Status)),
	)

	return nil
}

// ReadResults reads the optional mapping a job's commands left behind. A
// missing file yields an empty mapping. A file that is not a mapping also
// yields an empty mapping together with an error wrapping
// domain.ErrInvalidResult, which callers treat as a warning.
func (s *Storage) ReadResults(job *domain.Job) (map[string]any, error) {
	data, err := os.ReadFile(job.ResultPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]any{}, nil
		}
		return map[string]any{}, fmt.Errorf("failed to read user result file: %w", err)
	}

	var value any
	if err := yaml.Unmarshal(data, &value); err != nil {
		return map[string]any{}, fmt.Errorf("%w: %v", domain.ErrInvalidResult, err)
	}

	results, ok := normalize(value).(map[string]any)
	if !ok {
		return map[string]any{}, fmt.Errorf("%w: got %T", domain.ErrInvalidResult, value)
	}

	return results, nil
}

// normalize rewrites every mapping yaml.v3 decoded with non-string keys into
// map[string]any so results stay JSON-encodable. Keys are rendered with
// fmt.Sprint.
func normalize(value any) any {
	switch v := value.(type) {
	case map[string]any:
		for k, item := range v {
			v[k] = normalize(item)
		}
		return v
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[fmt.Sprint(k)] = normalize(item)
		}
		return out
	case []any:
		for i, item := range v {
			v[i] = normalize(item)
		}
		return v
	default:
		return value
	}
}

// WriteFileAtomic writes data to a temporary file in the target directory and
// renames it over path, so readers see either the old or the new content.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
