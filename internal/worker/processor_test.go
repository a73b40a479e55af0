package worker

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/cuongbtq/shell-executor/internal/worker/domain"
	"github.com/cuongbtq/shell-executor/internal/worker/notify"
	"github.com/cuongbtq/shell-executor/internal/worker/storage"
	"github.com/cuongbtq/shell-executor/shared/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingNotifier captures every event it receives
type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Notify(_ context.Context, event notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingNotifier) statuses() []domain.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Status, len(r.events))
	for i, e := range r.events {
		out[i] = e.Status
	}
	return out
}

func newTestExecutor(t *testing.T) (*Executor, *storage.Storage, *recordingNotifier) {
	t.Helper()
	log := logger.NewDiscard().Logger
	store := storage.NewStorage(log)
	rec := &recordingNotifier{}
	return NewExecutor(&ExecutorConfig{
		Logger:   log,
		Storage:  store,
		Notifier: rec,
	}), store, rec
}

func newJob(t *testing.T, workspace, name string, env map[string]string, cmds ...string) *domain.Job {
	t.Helper()
	job, err := domain.NewJob(workspace, name, "", env, cmds)
	require.NoError(t, err)
	return job
}

func runJob(t *testing.T, e *Executor, job *domain.Job) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.Prepare(ctx, "run-1", job))
	e.Execute(ctx, "run-1", job)
}

func TestExecutor_StopsAtFirstFailure(t *testing.T) {
	e, store, rec := newTestExecutor(t)
	job := newJob(t, t.TempDir(), "flaky", nil, "true", "false", "echo never")

	runJob(t, e, job)

	state := job.Snapshot()
	assert.Equal(t, domain.StatusError, state.Status)
	assert.Equal(t, "false", state.FailedCommand)

	logData, err := os.ReadFile(job.LogPath)
	require.NoError(t, err)
	log := string(logData)
	assert.Equal(t, 1, strings.Count(log, "++ true\n"))
	assert.Contains(t, log, "++ false\n")
	assert.NotContains(t, log, "echo never")

	persisted, err := store.Load(job)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, persisted.Status)
	assert.Equal(t, "false", persisted.FailedCommand)

	assert.Equal(t, []domain.Status{
		domain.StatusWaiting,
		domain.StatusRunning,
		domain.StatusError,
	}, rec.statuses())
}

func TestExecutor_Success(t *testing.T) {
	e, store, rec := newTestExecutor(t)
	job := newJob(t, t.TempDir(), "train", nil,
		"echo building",
		"printf 'accuracy: 0.5\\nmodel: tiny\\n' > "+domain.ResultFile,
	)

	runJob(t, e, job)

	state := job.Snapshot()
	assert.Equal(t, domain.StatusDone, state.Status)
	assert.Empty(t, state.FailedCommand)
	assert.Equal(t, map[string]any{"accuracy": 0.5, "model": "tiny"}, state.UserResults)
	assert.False(t, state.StartTime.IsZero())
	assert.Zero(t, state.StartTime.Nanosecond())
	assert.GreaterOrEqual(t, state.Duration.Seconds(), 0.0)

	logData, err := os.ReadFile(job.LogPath)
	require.NoError(t, err)
	assert.Contains(t, string(logData), "++ echo building\nbuilding\n")

	persisted, err := store.Load(job)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDone, persisted.Status)
	assert.Equal(t, state.UserResults, persisted.UserResults)

	assert.Equal(t, domain.StatusDone, rec.statuses()[len(rec.statuses())-1])
}

func TestExecutor_InvalidResultIsIgnored(t *testing.T) {
	e, _, _ := newTestExecutor(t)
	job := newJob(t, t.TempDir(), "list", nil,
		"echo '- a' > "+domain.ResultFile,
		"echo '- b' >> "+domain.ResultFile,
	)

	runJob(t, e, job)

	state := job.Snapshot()
	assert.Equal(t, domain.StatusDone, state.Status)
	assert.Equal(t, map[string]any{}, state.UserResults)
}

func TestExecutor_NonStringResultKeys(t *testing.T) {
	tests := []struct {
		name     string
		cmds     []string
		expected map[string]any
	}{
		{
			name: "top-level integer keys",
			cmds: []string{
				"echo '1: first' > " + domain.ResultFile,
				"echo '2: second' >> " + domain.ResultFile,
			},
			expected: map[string]any{"1": "first", "2": "second"},
		},
		{
			name: "nested integer keys",
			cmds: []string{
				"echo 'scores:' > " + domain.ResultFile,
				"echo '  1: 0.5' >> " + domain.ResultFile,
			},
			expected: map[string]any{"scores": map[string]any{"1": 0.5}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, store, _ := newTestExecutor(t)
			job := newJob(t, t.TempDir(), "keys", nil, tt.cmds...)

			runJob(t, e, job)

			state := job.Snapshot()
			assert.Equal(t, domain.StatusDone, state.Status)
			assert.Equal(t, tt.expected, state.UserResults)

			_, err := json.Marshal(state.UserResults)
			assert.NoError(t, err)

			persisted, err := store.Load(job)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, persisted.UserResults)
		})
	}
}

func TestExecutor_EnvironmentOverride(t *testing.T) {
	t.Setenv("SE_TEST_GREETING", "from-process")
	t.Setenv("SE_TEST_INHERITED", "kept")

	e, _, _ := newTestExecutor(t)
	job := newJob(t, t.TempDir(), "env",
		map[string]string{"SE_TEST_GREETING": "from-job"},
		`echo "$SE_TEST_GREETING $SE_TEST_INHERITED"`,
	)

	runJob(t, e, job)

	require.Equal(t, domain.StatusDone, job.Status())
	logData, err := os.ReadFile(job.LogPath)
	require.NoError(t, err)
	assert.Contains(t, string(logData), "from-job kept\n")
}

func TestExecutor_RunsInWorkDir(t *testing.T) {
	e, _, _ := newTestExecutor(t)
	job := newJob(t, t.TempDir(), "cwd", nil, "touch marker")

	runJob(t, e, job)

	require.Equal(t, domain.StatusDone, job.Status())
	assert.FileExists(t, filepath.Join(job.WorkDir, "marker"))
}

func TestExecutor_PrepareResetsWorkDir(t *testing.T) {
	e, store, _ := newTestExecutor(t)
	job := newJob(t, t.TempDir(), "reset", map[string]string{"NAME": "it's"}, "echo one", "echo two")

	require.NoError(t, os.MkdirAll(job.WorkDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(job.WorkDir, "stale.txt"), []byte("old"), 0o644))
	job.Restore(domain.State{Status: domain.StatusError, FailedCommand: "echo two"})

	require.NoError(t, e.Prepare(context.Background(), "run-1", job))

	assert.NoFileExists(t, filepath.Join(job.WorkDir, "stale.txt"))

	state := job.Snapshot()
	assert.Equal(t, domain.StatusWaiting, state.Status)
	assert.Empty(t, state.FailedCommand)

	persisted, err := store.Load(job)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWaiting, persisted.Status)

	info, err := os.Stat(job.ScriptPath())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	script, err := os.ReadFile(job.ScriptPath())
	require.NoError(t, err)
	assert.Equal(t, "set -e -x\nexport NAME='it'\\''s'\necho one\necho two\n", string(script))
}

func TestExecutor_PrepareFailureIsPersisted(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("directory permissions are not enforced for root")
	}

	e, store, rec := newTestExecutor(t)
	workspace := t.TempDir()
	job := newJob(t, workspace, "locked", nil, "true")

	require.NoError(t, store.Save(job, domain.State{Status: domain.StatusDone}))
	// the working directory survives but cannot be replaced
	require.NoError(t, os.Chmod(workspace, 0o555))
	t.Cleanup(func() { _ = os.Chmod(workspace, 0o755) })

	err := e.Prepare(context.Background(), "run-1", job)
	require.Error(t, err)

	assert.Equal(t, domain.StatusError, job.Status())
	persisted, err := store.Load(job)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, persisted.Status)
	assert.Equal(t, []domain.Status{domain.StatusError}, rec.statuses())
}

func TestExecutor_CancelledBeforeStart(t *testing.T) {
	e, _, _ := newTestExecutor(t)
	job := newJob(t, t.TempDir(), "late", nil, "true")

	require.NoError(t, e.Prepare(context.Background(), "run-1", job))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e.Execute(ctx, "run-1", job)

	assert.Equal(t, domain.StatusWaiting, job.Status())
}

func TestMergeEnv(t *testing.T) {
	env := MergeEnv(
		[]string{"PATH=/bin", "HOME=/root", "broken"},
		map[string]string{"HOME": "/work", "EXTRA": "a=b"},
	)
	assert.Equal(t, []string{"EXTRA=a=b", "HOME=/work", "PATH=/bin"}, env)
}

func TestShellQuote(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{in: "", expected: "''"},
		{in: "plain", expected: "'plain'"},
		{in: "a b $HOME", expected: "'a b $HOME'"},
		{in: "it's", expected: `'it'\''s'`},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.expected, shellQuote(tt.in))
		})
	}
}
