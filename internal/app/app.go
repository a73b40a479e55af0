package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/shell-executor/internal/config"
	"github.com/cuongbtq/shell-executor/internal/registry"
	"github.com/cuongbtq/shell-executor/internal/runner"
	"github.com/cuongbtq/shell-executor/internal/worker"
	"github.com/cuongbtq/shell-executor/internal/worker/events"
	"github.com/cuongbtq/shell-executor/internal/worker/history"
	"github.com/cuongbtq/shell-executor/internal/worker/notify"
	"github.com/cuongbtq/shell-executor/internal/worker/storage"
	"github.com/cuongbtq/shell-executor/shared/postgresql"
	"github.com/cuongbtq/shell-executor/shared/rabbitmq"
)

// App holds the components shared by the CLI and the API service
type App struct {
	Logger *slog.Logger
	Runner *runner.Runner

	// Nil when the matching backend is disabled
	DBClient     *postgresql.Client
	RabbitClient *rabbitmq.Client
	History      *history.Store
}

// New connects the optional backends, loads the job registry and builds the
// runner. Closing the returned App releases every connection.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Logger: logger}

	var notifiers []notify.Notifier

	if cfg.Database.Enabled {
		dbClient, err := initPostgreSQL(&cfg.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		a.DBClient = dbClient

		store := history.NewStore(dbClient, logger)
		if err := store.EnsureSchema(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to prepare run history: %w", err)
		}
		a.History = store
		notifiers = append(notifiers, store)

		logger.Info("Database connection established")
	}

	if cfg.RabbitMQ.Enabled {
		rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		a.RabbitClient = rabbitClient
		notifiers = append(notifiers, events.NewPublisher(rabbitClient, logger))

		logger.Info("RabbitMQ connection established")
	}

	policy, err := cfg.Scheduler.RerunPolicy()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("invalid rerun policy: %w", err)
	}

	store := storage.NewStorage(logger)

	reg, err := registry.Load(cfg.Workspace.JobsFile, registry.Options{
		Workspace:  cfg.Workspace.Root,
		WorkingDir: cfg.Workspace.WorkingDir,
		Storage:    store,
		Logger:     logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	logger.Info("Job registry loaded",
		slog.String("file", cfg.Workspace.JobsFile),
		slog.String("workspace", reg.Workspace()),
		slog.Int("jobs", reg.Len()),
	)

	scheduler := worker.NewScheduler(&worker.Config{
		Logger: logger,
		Unit: worker.NewExecutor(&worker.ExecutorConfig{
			Logger:   logger,
			Storage:  store,
			Notifier: notify.NewMulti(logger, notifiers...),
			Shell:    cfg.Workspace.Shell,
		}),
	})

	a.Runner = runner.New(&runner.Config{
		Logger:    logger,
		Registry:  reg,
		Scheduler: scheduler,
		Defaults: runner.Defaults{
			MaxConcurrency: cfg.Scheduler.MaxConcurrency,
			RerunPolicy:    policy,
		},
	})

	return a, nil
}

// Close releases the backend connections
func (a *App) Close() {
	if a.DBClient != nil {
		if err := a.DBClient.Close(); err != nil {
			a.Logger.Warn("Failed to close database", slog.String("error", err.Error()))
		}
	}
	if a.RabbitClient != nil {
		if err := a.RabbitClient.Close(); err != nil {
			a.Logger.Warn("Failed to close RabbitMQ", slog.String("error", err.Error()))
		}
	}
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}
