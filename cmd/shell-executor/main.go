package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cuongbtq/shell-executor/internal/app"
	"github.com/cuongbtq/shell-executor/internal/config"
	"github.com/cuongbtq/shell-executor/internal/report"
	"github.com/cuongbtq/shell-executor/internal/runner"
	"github.com/cuongbtq/shell-executor/shared/logger"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("SHELL_EXECUTOR_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/shell-executor/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	jobs := flag.String("jobs", "", "Comma-separated jobs to run (default: all)")
	maxConcurrency := flag.Int("max-concurrency", 0, "Maximum jobs running at once (default: from config)")
	rerun := flag.String("rerun", "", "Comma-separated statuses to run again, e.g. ERROR,RUNNING")
	csvPath := flag.String("csv", "", "Write the job report as CSV to this file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateRunnerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting shell executor",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Cancel the run on SIGINT/SIGTERM; running commands are killed
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, appLogger.Logger)
	if err != nil {
		return err
	}
	defer application.Close()

	start := time.Now()
	summary, runErr := application.Runner.Run(ctx, runner.Request{
		Jobs:           splitList(*jobs),
		MaxConcurrency: *maxConcurrency,
		RerunStatus:    splitList(*rerun),
	})
	if summary != nil {
		appLogger.Info("Run finished",
			slog.String("run_id", summary.RunID),
			slog.Int("rounds", summary.Rounds),
			slog.Any("executed", summary.Executed),
			slog.Any("failed", summary.Failed),
			slog.Any("skipped", summary.Skipped),
			slog.Any("blocked", summary.Blocked),
			slog.Duration("elapsed", time.Since(start)),
		)
	}

	// The report is written even for an interrupted run
	if *csvPath != "" {
		if err := writeCSV(*csvPath, application); err != nil {
			return err
		}
		appLogger.Info("CSV report written", slog.String("path", *csvPath))
	}

	if runErr != nil {
		return fmt.Errorf("run failed: %w", runErr)
	}

	return nil
}

func writeCSV(path string, application *app.App) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create CSV report: %w", err)
	}

	rows := report.TableAll(application.Runner.Registry().Jobs())
	if err := report.WriteCSV(f, rows); err != nil {
		f.Close()
		return fmt.Errorf("failed to write CSV report: %w", err)
	}

	return f.Close()
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableSource,
		TimeFormat:   time.RFC3339,
		NoColor:      cfg.NoColor,
	}

	return logger.New(loggerCfg)
}
