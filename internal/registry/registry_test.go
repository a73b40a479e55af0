package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cuongbtq/shell-executor/internal/worker/domain"
	"github.com/cuongbtq/shell-executor/internal/worker/storage"
	"github.com/cuongbtq/shell-executor/shared/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pipeline = `
fetch:
  cmds:
    - echo fetching
train:
  dep: fetch
  envs:
    EPOCHS: 10
    MODE: fast
  cmds:
    - ls @DEP
    - cp @WD/model.cfg .
evaluate:
  dep: train
  cmds: [echo done]
`

func testOptions(t *testing.T) Options {
	t.Helper()
	log := logger.NewDiscard().Logger
	return Options{
		Workspace:  t.TempDir(),
		WorkingDir: "/srv/project",
		Storage:    storage.NewStorage(log),
		Logger:     log,
	}
}

func jobNames(jobs []*domain.Job) []string {
	out := make([]string, len(jobs))
	for i, job := range jobs {
		out[i] = job.Name
	}
	return out
}

func TestParse_Pipeline(t *testing.T) {
	opts := testOptions(t)

	reg, err := Parse([]byte(pipeline), opts)
	require.NoError(t, err)

	assert.Equal(t, []string{"fetch", "train", "evaluate"}, jobNames(reg.Jobs()))
	assert.Equal(t, 3, reg.Len())

	train, ok := reg.Lookup("train")
	require.True(t, ok)
	assert.Equal(t, "fetch", train.Dependency)
	assert.Equal(t, map[string]string{"EPOCHS": "10", "MODE": "fast"}, train.Environment)
	assert.Equal(t, []string{
		"ls " + filepath.Join(reg.Workspace(), "fetch"),
		"cp /srv/project/model.cfg .",
	}, train.Commands)
	assert.Equal(t, filepath.Join(reg.Workspace(), "train"), train.WorkDir)

	for _, job := range reg.Jobs() {
		assert.Equal(t, domain.StatusEmpty, job.Status(), job.Name)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		job      string
		expected error
	}{
		{
			name:     "missing cmds",
			input:    "a:\n  dep: b\nb:\n  cmds: [true]\n",
			job:      "a",
			expected: domain.ErrEmptyCommands,
		},
		{
			name:     "empty cmds",
			input:    "a:\n  cmds: []\n",
			job:      "a",
			expected: domain.ErrEmptyCommands,
		},
		{
			name:     "null job body",
			input:    "a:\n",
			job:      "a",
			expected: domain.ErrEmptyCommands,
		},
		{
			name:     "cmds is a string",
			input:    "a:\n  cmds: echo hi\n",
			job:      "a",
			expected: domain.ErrInvalidCommands,
		},
		{
			name:     "cmds holds a mapping",
			input:    "a:\n  cmds:\n    - {x: 1}\n",
			job:      "a",
			expected: domain.ErrInvalidCommands,
		},
		{
			name:     "envs is a list",
			input:    "a:\n  envs: [X]\n  cmds: [true]\n",
			job:      "a",
			expected: domain.ErrInvalidEnvironment,
		},
		{
			name:     "envs value is a list",
			input:    "a:\n  envs:\n    X: [1]\n  cmds: [true]\n",
			job:      "a",
			expected: domain.ErrInvalidEnvironment,
		},
		{
			name:     "dep is a list",
			input:    "a:\n  dep: [b]\n  cmds: [true]\n",
			job:      "a",
			expected: domain.ErrInvalidDependency,
		},
		{
			name:     "unknown dep",
			input:    "a:\n  dep: ghost\n  cmds: [true]\n",
			job:      "a",
			expected: domain.ErrUnknownDependency,
		},
		{
			name:     "self dep",
			input:    "a:\n  dep: a\n  cmds: [true]\n",
			job:      "a",
			expected: domain.ErrSelfDependency,
		},
		{
			name:     "job is a scalar",
			input:    "a: echo\n",
			job:      "a",
			expected: domain.ErrInvalidJob,
		},
		{
			name:     "@DEP without dep",
			input:    "a:\n  cmds: [ls @DEP]\n",
			job:      "a",
			expected: domain.ErrDependencyToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.input), testOptions(t))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.expected)

			var cfgErr *domain.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.job, cfgErr.Job)
		})
	}
}

func TestParse_NotAMapping(t *testing.T) {
	_, err := Parse([]byte("- a\n- b\n"), testOptions(t))
	assert.ErrorIs(t, err, domain.ErrInvalidRegistry)
}

func TestParse_Empty(t *testing.T) {
	reg, err := Parse(nil, testOptions(t))
	require.NoError(t, err)
	assert.Zero(t, reg.Len())
	assert.Empty(t, reg.Jobs())
}

func TestParse_RequiresWorkspace(t *testing.T) {
	_, err := Parse([]byte(pipeline), Options{})
	assert.Error(t, err)
}

func TestParse_RestoresState(t *testing.T) {
	opts := testOptions(t)

	first, err := Parse([]byte(pipeline), opts)
	require.NoError(t, err)

	fetch, _ := first.Lookup("fetch")
	require.NoError(t, opts.Storage.Save(fetch, domain.State{
		Status:      domain.StatusDone,
		UserResults: map[string]any{"rows": 12},
	}))
	train, _ := first.Lookup("train")
	require.NoError(t, opts.Storage.Save(train, domain.State{
		Status:        domain.StatusError,
		FailedCommand: "cp /srv/project/model.cfg .",
	}))

	// corrupt record for the third job
	evaluate, _ := first.Lookup("evaluate")
	require.NoError(t, os.MkdirAll(evaluate.WorkDir, 0o755))
	require.NoError(t, os.WriteFile(evaluate.RecordPath(), []byte("status: [\n"), 0o644))

	second, err := Parse([]byte(pipeline), opts)
	require.NoError(t, err)

	fetch, _ = second.Lookup("fetch")
	assert.Equal(t, domain.StatusDone, fetch.Status())
	assert.Equal(t, map[string]any{"rows": 12}, fetch.Snapshot().UserResults)

	train, _ = second.Lookup("train")
	assert.Equal(t, domain.StatusError, train.Status())
	assert.Equal(t, "cp /srv/project/model.cfg .", train.Snapshot().FailedCommand)

	evaluate, _ = second.Lookup("evaluate")
	assert.Equal(t, domain.StatusEmpty, evaluate.Status())
}

func TestRegistry_Select(t *testing.T) {
	reg, err := Parse([]byte(pipeline), testOptions(t))
	require.NoError(t, err)

	all, err := reg.Select()
	require.NoError(t, err)
	assert.Len(t, all, 3)

	jobs, err := reg.Select("evaluate", "fetch", "fetch")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "fetch", jobs[0].Name)
	assert.Equal(t, "evaluate", jobs[1].Name)

	_, err = reg.Select("missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestLoad(t *testing.T) {
	opts := testOptions(t)
	path := filepath.Join(t.TempDir(), "jobs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(pipeline), 0o644))

	reg, err := Load(path, opts)
	require.NoError(t, err)
	assert.Equal(t, 3, reg.Len())

	_, err = Load(filepath.Join(t.TempDir(), "nope.yaml"), opts)
	assert.Error(t, err)
}

func TestRegistry_SaveSnapshot(t *testing.T) {
	reg, err := Parse([]byte(pipeline), testOptions(t))
	require.NoError(t, err)

	require.NoError(t, reg.SaveSnapshot())

	data, err := os.ReadFile(filepath.Join(reg.Workspace(), domain.SnapshotFile))
	require.NoError(t, err)
	assert.Equal(t, pipeline, string(data))
}
