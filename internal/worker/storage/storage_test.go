package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuongbtq/shell-executor/internal/worker/domain"
	"github.com/cuongbtq/shell-executor/shared/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJob(t *testing.T) *domain.Job {
	t.Helper()
	job, err := domain.NewJob(t.TempDir(), "build", "fetch", map[string]string{"MODE": "fast"}, []string{"make", "make test"})
	require.NoError(t, err)
	return job
}

func newTestStorage() *Storage {
	return NewStorage(logger.NewDiscard().Logger)
}

func TestStorage_LoadMissing(t *testing.T) {
	s := newTestStorage()
	job := newTestJob(t)

	_, err := s.Load(job)
	assert.ErrorIs(t, err, domain.ErrStateNotFound)
}

func TestStorage_SaveAndLoad(t *testing.T) {
	s := newTestStorage()
	job := newTestJob(t)
	start := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	err := s.Save(job, domain.State{
		Status:      domain.StatusDone,
		StartTime:   start,
		Duration:    42 * time.Second,
		UserResults: map[string]any{"score": 7},
	})
	require.NoError(t, err)

	state, err := s.Load(job)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusDone, state.Status)
	assert.True(t, start.Equal(state.StartTime))
	assert.Equal(t, 42*time.Second, state.Duration)
	assert.Equal(t, map[string]any{"score": 7}, state.UserResults)
	assert.Empty(t, state.FailedCommand)
}

func TestStorage_SaveReplacesRecord(t *testing.T) {
	s := newTestStorage()
	job := newTestJob(t)

	require.NoError(t, s.Save(job, domain.State{Status: domain.StatusRunning}))
	require.NoError(t, s.Save(job, domain.State{Status: domain.StatusError, FailedCommand: "make test"}))

	state, err := s.Load(job)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, state.Status)
	assert.Equal(t, "make test", state.FailedCommand)

	// no temporary files are left behind
	entries, err := os.ReadDir(job.WorkDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.RecordFile, entries[0].Name())
}

func TestStorage_RecordKeepsDefinition(t *testing.T) {
	s := newTestStorage()
	job := newTestJob(t)

	require.NoError(t, s.Save(job, domain.State{Status: domain.StatusWaiting}))

	data, err := os.ReadFile(job.RecordPath())
	require.NoError(t, err)

	content := string(data)
	assert.Contains(t, content, "name: build")
	assert.Contains(t, content, "dep: fetch")
	assert.Contains(t, content, "MODE: fast")
	assert.Contains(t, content, "- make test")
	assert.Contains(t, content, "status: WAITING")
}

func TestStorage_LoadLegacyMarker(t *testing.T) {
	s := newTestStorage()
	job := newTestJob(t)

	require.NoError(t, os.MkdirAll(job.WorkDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(job.WorkDir, "SE_STATUS@ERROR"), nil, 0o644))

	state, err := s.Load(job)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, state.Status)
}

func TestStorage_LoadCorruptRecord(t *testing.T) {
	s := newTestStorage()
	job := newTestJob(t)

	require.NoError(t, os.MkdirAll(job.WorkDir, 0o755))
	require.NoError(t, os.WriteFile(job.RecordPath(), []byte("status: [unclosed"), 0o644))

	_, err := s.Load(job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse job record")
}

func TestStorage_ReadResults(t *testing.T) {
	tests := []struct {
		name     string
		content  *string
		expected map[string]any
		invalid  bool
	}{
		{
			name:     "missing file",
			content:  nil,
			expected: map[string]any{},
		},
		{
			name:     "valid mapping",
			content:  ptr("accuracy: 0.93\nmodel: resnet\n"),
			expected: map[string]any{"accuracy": 0.93, "model": "resnet"},
		},
		{
			name:     "integer keys",
			content:  ptr("1: first\n2: second\n"),
			expected: map[string]any{"1": "first", "2": "second"},
		},
		{
			name:    "nested integer keys",
			content: ptr("scores:\n  1: 0.5\n  2: 0.75\nruns:\n  - {true: yes}\n"),
			expected: map[string]any{
				"scores": map[string]any{"1": 0.5, "2": 0.75},
				"runs":   []any{map[string]any{"true": "yes"}},
			},
		},
		{
			name:     "list instead of mapping",
			content:  ptr("- 1\n- 2\n"),
			expected: map[string]any{},
			invalid:  true,
		},
		{
			name:     "scalar",
			content:  ptr("just text"),
			expected: map[string]any{},
			invalid:  true,
		},
		{
			name:     "malformed yaml",
			content:  ptr("a: [1, 2"),
			expected: map[string]any{},
			invalid:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStorage()
			job := newTestJob(t)
			require.NoError(t, os.MkdirAll(job.WorkDir, 0o755))

			if tt.content != nil {
				require.NoError(t, os.WriteFile(job.ResultPath(), []byte(*tt.content), 0o644))
			}

			results, err := s.ReadResults(job)
			if tt.invalid {
				assert.ErrorIs(t, err, domain.ErrInvalidResult)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.expected, results)
		})
	}
}

func TestStorage_NestedResultsRoundTrip(t *testing.T) {
	s := newTestStorage()
	job := newTestJob(t)
	require.NoError(t, os.MkdirAll(job.WorkDir, 0o755))
	require.NoError(t, os.WriteFile(job.ResultPath(), []byte("by_epoch: {1: 0.5}\n"), 0o644))

	results, err := s.ReadResults(job)
	require.NoError(t, err)
	require.NoError(t, s.Save(job, domain.State{Status: domain.StatusDone, UserResults: results}))

	state, err := s.Load(job)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"by_epoch": map[string]any{"1": 0.5}}, state.UserResults)
}

func ptr(s string) *string {
	return &s
}
