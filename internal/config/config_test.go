package config

import (
	"testing"
	"time"

	"github.com/cuongbtq/shell-executor/internal/worker/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				assert.Equal(t, "shell-executor", cfg.App.Name)
				assert.Equal(t, "/var/lib/shell-executor", cfg.Workspace.Root)
				assert.Equal(t, "jobs.yaml", cfg.Workspace.JobsFile)
				assert.Equal(t, 4, cfg.Scheduler.MaxConcurrency)
				assert.Equal(t, []string{"ERROR", "RUNNING"}, cfg.Scheduler.RerunStatus)
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
				assert.True(t, cfg.Database.Enabled)
				assert.Equal(t, "shell_executor", cfg.Database.Database)
				assert.Equal(t, 5*time.Minute, cfg.Database.ConnMaxLifetime)
				assert.True(t, cfg.RabbitMQ.Enabled)
				assert.Equal(t, "job_events", cfg.RabbitMQ.Exchange.Name)
				assert.Equal(t, 100*time.Millisecond, cfg.RabbitMQ.Publish.RetryInterval)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("testdata/minimal_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "workspace", cfg.Workspace.Root)
	assert.Equal(t, "jobs.yaml", cfg.Workspace.JobsFile)
	assert.Equal(t, domain.DefaultConcurrency, cfg.Scheduler.MaxConcurrency)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.False(t, cfg.Database.Enabled)
	assert.False(t, cfg.RabbitMQ.Enabled)

	policy, err := cfg.Scheduler.RerunPolicy()
	require.NoError(t, err)
	assert.Equal(t, []string{"ERROR"}, policy.Statuses())
}

func validRunnerConfig() *Config {
	return &Config{
		Workspace: WorkspaceConfig{Root: "ws", JobsFile: "jobs.yaml"},
		Scheduler: SchedulerConfig{MaxConcurrency: 2},
	}
}

func TestConfig_ValidateRunnerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:      "missing workspace root",
			mutate:    func(c *Config) { c.Workspace.Root = "" },
			errString: "workspace root is required",
		},
		{
			name:      "missing jobs file",
			mutate:    func(c *Config) { c.Workspace.JobsFile = "" },
			errString: "workspace jobs_file is required",
		},
		{
			name:      "zero concurrency",
			mutate:    func(c *Config) { c.Scheduler.MaxConcurrency = 0 },
			errString: "max_concurrency must be greater than 0",
		},
		{
			name:      "unknown rerun status",
			mutate:    func(c *Config) { c.Scheduler.RerunStatus = []string{"ERROR", "LATER"} },
			errString: "invalid scheduler rerun_status",
		},
		{
			name: "database disabled skips its checks",
			mutate: func(c *Config) {
				c.Database = DatabaseConfig{Enabled: false}
			},
		},
		{
			name: "database enabled without host",
			mutate: func(c *Config) {
				c.Database = DatabaseConfig{Enabled: true, Port: 5432, Database: "runs"}
			},
			errString: "database host is required",
		},
		{
			name: "database enabled with bad port",
			mutate: func(c *Config) {
				c.Database = DatabaseConfig{Enabled: true, Host: "db", Port: 70000, Database: "runs"}
			},
			errString: "invalid database port",
		},
		{
			name: "database enabled without name",
			mutate: func(c *Config) {
				c.Database = DatabaseConfig{Enabled: true, Host: "db", Port: 5432}
			},
			errString: "database name is required",
		},
		{
			name: "rabbitmq enabled without exchange",
			mutate: func(c *Config) {
				c.RabbitMQ = RabbitMQConfig{Enabled: true, Host: "mq", Port: 5672}
			},
			errString: "rabbitmq exchange name is required",
		},
		{
			name: "rabbitmq enabled with bad port",
			mutate: func(c *Config) {
				c.RabbitMQ = RabbitMQConfig{Enabled: true, Host: "mq", Port: 0}
			},
			errString: "invalid rabbitmq port",
		},
		{
			name: "rabbitmq enabled without host",
			mutate: func(c *Config) {
				c.RabbitMQ = RabbitMQConfig{Enabled: true, Port: 5672}
			},
			errString: "rabbitmq host is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validRunnerConfig()
			tt.mutate(cfg)

			err := cfg.ValidateRunnerConfig()
			if tt.errString == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		port      int
		errString string
	}{
		{name: "valid port", port: 8080},
		{name: "port too low", port: 0, errString: "invalid server port"},
		{name: "port too high", port: 70000, errString: "invalid server port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validRunnerConfig()
			cfg.Server.Port = tt.port

			err := cfg.ValidateAPIConfig()
			if tt.errString == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}

	cfg := validRunnerConfig()
	cfg.Server.Port = 8080
	cfg.Workspace.Root = ""
	assert.ErrorContains(t, cfg.ValidateAPIConfig(), "workspace root is required")
}
