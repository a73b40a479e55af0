package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuongbtq/shell-executor/internal/worker/domain"
	"github.com/cuongbtq/shell-executor/internal/worker/storage"
	"gopkg.in/yaml.v3"
)

// Command substitution tokens
const (
	TokenDependency = "@DEP"
	TokenWorkingDir = "@WD"
)

// Options control how a registry file is turned into jobs
type Options struct {
	// Workspace is the root under which every job gets its own directory
	Workspace string
	// WorkingDir replaces @WD; defaults to the process working directory
	WorkingDir string
	// Storage, when set, is used to restore each job's persisted state
	Storage *storage.Storage
	Logger  *slog.Logger
}

// Registry is the ordered, immutable set of job definitions for a run
type Registry struct {
	workspace string
	order     []string
	jobs      map[string]*domain.Job
	source    []byte
	storage   *storage.Storage
	logger    *slog.Logger
}

// jobSpec is the raw shape of one registry entry
type jobSpec struct {
	dependency string
	env        map[string]string
	commands   []string
}

// Load reads and parses a registry file
func Load(path string, opts Options) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job registry: %w", err)
	}

	reg, err := Parse(data, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to load job registry %s: %w", path, err)
	}
	return reg, nil
}

// Parse builds a registry from YAML of the form
//
//	name:
//	  dep: other      # optional
//	  envs: {K: V}    # optional
//	  cmds: [...]     # required, non-empty
//
// Every definition is validated before any job is created; the first problem
// is returned as a *domain.ConfigError naming the job.
func Parse(data []byte, opts Options) (*Registry, error) {
	if opts.Workspace == "" {
		return nil, errors.New("workspace is required")
	}
	workspace, err := filepath.Abs(opts.Workspace)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace: %w", err)
	}

	workingDir := opts.WorkingDir
	if workingDir == "" {
		if workingDir, err = os.Getwd(); err != nil {
			return nil, fmt.Errorf("failed to resolve working directory: %w", err)
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	order, specs, err := decode(data)
	if err != nil {
		return nil, err
	}

	reg := &Registry{
		workspace: workspace,
		order:     order,
		jobs:      make(map[string]*domain.Job, len(order)),
		source:    data,
		storage:   opts.Storage,
		logger:    logger,
	}

	for _, name := range order {
		spec := specs[name]

		if spec.dependency == name {
			return nil, domain.NewConfigError(name, domain.ErrSelfDependency, "")
		}
		if spec.dependency != "" {
			if _, ok := specs[spec.dependency]; !ok {
				return nil, domain.NewConfigError(name, domain.ErrUnknownDependency, spec.dependency)
			}
		}

		commands, err := substitute(name, spec, workspace, workingDir)
		if err != nil {
			return nil, err
		}

		job, err := domain.NewJob(workspace, name, spec.dependency, spec.env, commands)
		if err != nil {
			return nil, err
		}
		reg.jobs[name] = job
	}

	if reg.storage != nil {
		reg.Reload()
	}

	return reg, nil
}

// decode walks the YAML document keeping the declared job order
func decode(data []byte) ([]string, map[string]jobSpec, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("failed to parse job registry: %w", err)
	}

	specs := map[string]jobSpec{}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, specs, nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, nil, domain.ErrInvalidRegistry
	}

	order := make([]string, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		name := root.Content[i].Value
		if _, dup := specs[name]; dup {
			return nil, nil, domain.NewConfigError(name, domain.ErrDuplicateJob, "")
		}

		spec, err := decodeJob(name, root.Content[i+1])
		if err != nil {
			return nil, nil, err
		}
		specs[name] = spec
		order = append(order, name)
	}
	return order, specs, nil
}

func decodeJob(name string, node *yaml.Node) (jobSpec, error) {
	spec := jobSpec{env: map[string]string{}}

	if isNull(node) {
		return spec, domain.NewConfigError(name, domain.ErrEmptyCommands, "")
	}
	if node.Kind != yaml.MappingNode {
		return spec, domain.NewConfigError(name, domain.ErrInvalidJob, "")
	}

	var haveCommands bool
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i].Value, node.Content[i+1]

		switch key {
		case "dep":
			if isNull(value) {
				continue
			}
			if value.Kind != yaml.ScalarNode {
				return spec, domain.NewConfigError(name, domain.ErrInvalidDependency, "")
			}
			spec.dependency = value.Value

		case "envs":
			if isNull(value) {
				continue
			}
			if value.Kind != yaml.MappingNode {
				return spec, domain.NewConfigError(name, domain.ErrInvalidEnvironment, describe(value))
			}
			for j := 0; j+1 < len(value.Content); j += 2 {
				k, v := value.Content[j], value.Content[j+1]
				if v.Kind != yaml.ScalarNode {
					return spec, domain.NewConfigError(name, domain.ErrInvalidEnvironment, "value of "+k.Value+" is "+describe(v))
				}
				spec.env[k.Value] = scalarText(v)
			}

		case "cmds":
			haveCommands = true
			if value.Kind != yaml.SequenceNode {
				return spec, domain.NewConfigError(name, domain.ErrInvalidCommands, describe(value))
			}
			for _, item := range value.Content {
				if item.Kind != yaml.ScalarNode || isNull(item) {
					return spec, domain.NewConfigError(name, domain.ErrInvalidCommands, describe(item))
				}
				spec.commands = append(spec.commands, item.Value)
			}
		}
	}

	if !haveCommands || len(spec.commands) == 0 {
		return spec, domain.NewConfigError(name, domain.ErrEmptyCommands, "")
	}
	return spec, nil
}

// substitute resolves @DEP and @WD in a job's commands
func substitute(name string, spec jobSpec, workspace, workingDir string) ([]string, error) {
	out := make([]string, len(spec.commands))
	for i, command := range spec.commands {
		if strings.Contains(command, TokenDependency) {
			if spec.dependency == "" {
				return nil, domain.NewConfigError(name, domain.ErrDependencyToken, command)
			}
			command = strings.ReplaceAll(command, TokenDependency, filepath.Join(workspace, spec.dependency))
		}
		out[i] = strings.ReplaceAll(command, TokenWorkingDir, workingDir)
	}
	return out, nil
}

func isNull(node *yaml.Node) bool {
	return node.Kind == yaml.ScalarNode && node.Tag == "!!null"
}

// scalarText keeps the scalar as written, except that null becomes empty
func scalarText(node *yaml.Node) string {
	if isNull(node) {
		return ""
	}
	return node.Value
}

func describe(node *yaml.Node) string {
	switch node.Kind {
	case yaml.MappingNode:
		return "got a mapping"
	case yaml.SequenceNode:
		return "got a sequence"
	case yaml.ScalarNode:
		if isNull(node) {
			return "got null"
		}
		return fmt.Sprintf("got %q", node.Value)
	default:
		return "got an alias"
	}
}

// Reload re-derives every job's state from disk. Jobs without a record, or
// with an unreadable one, start from EMPTY.
func (r *Registry) Reload() {
	if r.storage == nil {
		return
	}
	for _, name := range r.order {
		job := r.jobs[name]

		state, err := r.storage.Load(job)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrStateNotFound):
			state = domain.State{Status: domain.StatusEmpty}
		default:
			r.logger.Warn("Ignoring unreadable job record",
				slog.String("job", name),
				slog.String("error", err.Error()),
			)
			state = domain.State{Status: domain.StatusEmpty}
		}
		job.Restore(state)
	}
}

// Workspace returns the absolute workspace root
func (r *Registry) Workspace() string {
	return r.workspace
}

// Len returns the number of jobs
func (r *Registry) Len() int {
	return len(r.order)
}

// Jobs returns all jobs in declaration order
func (r *Registry) Jobs() []*domain.Job {
	out := make([]*domain.Job, len(r.order))
	for i, name := range r.order {
		out[i] = r.jobs[name]
	}
	return out
}

// Lookup finds a job by name
func (r *Registry) Lookup(name string) (*domain.Job, bool) {
	job, ok := r.jobs[name]
	return job, ok
}

// Select returns the named jobs in declaration order, or every job when no
// names are given
func (r *Registry) Select(names ...string) ([]*domain.Job, error) {
	if len(names) == 0 {
		return r.Jobs(), nil
	}

	wanted := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, ok := r.jobs[name]; !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, name)
		}
		wanted[name] = struct{}{}
	}

	out := make([]*domain.Job, 0, len(wanted))
	for _, name := range r.order {
		if _, ok := wanted[name]; ok {
			out = append(out, r.jobs[name])
		}
	}
	return out, nil
}

// SaveSnapshot writes the registry source to <workspace>/se_jobs.yaml
func (r *Registry) SaveSnapshot() error {
	if err := os.MkdirAll(r.workspace, 0o755); err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	path := filepath.Join(r.workspace, domain.SnapshotFile)
	if err := storage.WriteFileAtomic(path, r.source, 0o644); err != nil {
		return fmt.Errorf("failed to write registry snapshot: %w", err)
	}
	return nil
}
