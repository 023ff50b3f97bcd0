package api

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/FACorreiaa/settlement-tracker/internal/domain/history"
	historyhandler "github.com/FACorreiaa/settlement-tracker/internal/domain/history/handler"
	"github.com/FACorreiaa/settlement-tracker/internal/domain/job"
	jobhandler "github.com/FACorreiaa/settlement-tracker/internal/domain/job/handler"
	"github.com/FACorreiaa/settlement-tracker/internal/domain/report"
	"github.com/FACorreiaa/settlement-tracker/internal/domain/settlement"
	"github.com/FACorreiaa/settlement-tracker/pkg/config"
	"github.com/FACorreiaa/settlement-tracker/pkg/db"
)

// Dependencies holds all application dependencies
type Dependencies struct {
	Config *config.Config
	DB     *db.DB
	Logger *slog.Logger

	// Repositories
	RunStore history.RunStore

	// Services
	Parser      *settlement.Parser
	Builder     *report.Builder
	Coordinator *job.Coordinator

	// Handlers
	JobHandler     *jobhandler.JobHandler
	HistoryHandler *historyhandler.HistoryHandler
}

// InitDependencies initializes all application dependencies
func InitDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	if err := deps.initRepositories(); err != nil {
		return nil, fmt.Errorf("failed to init repositories: %w", err)
	}

	if err := deps.initServices(); err != nil {
		return nil, fmt.Errorf("failed to init services: %w", err)
	}

	if err := deps.initHandlers(); err != nil {
		return nil, fmt.Errorf("failed to init handlers: %w", err)
	}

	logger.Info("all dependencies initialized successfully")

	return deps, nil
}

// initDatabase connects the optional run-history database and runs
// migrations. With the database disabled the service still processes files,
// it just keeps no history.
func (d *Dependencies) initDatabase() error {
	if !d.Config.Database.Enabled {
		d.Logger.Info("run history database disabled")
		return nil
	}

	database, err := db.New(db.Config{
		DSN:             d.Config.Database.DSN(),
		MaxConns:        25,
		MinConns:        5,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: 10 * time.Minute,
	}, d.Logger)
	if err != nil {
		return err
	}

	d.DB = database

	if err := d.DB.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.Logger.Info("database connected and migrations completed successfully")
	return nil
}

// initRepositories initializes all repository layer dependencies
func (d *Dependencies) initRepositories() error {
	if d.DB != nil {
		d.RunStore = history.NewPostgresRunStore(d.DB.Pool)
	}

	d.Logger.Info("repositories initialized")
	return nil
}

// initServices initializes all service layer dependencies
func (d *Dependencies) initServices() error {
	d.Parser = settlement.NewParser(d.Logger)
	d.Builder = report.NewBuilder(d.Logger)
	d.Coordinator = job.NewCoordinator(job.Config{
		Workers:      d.Config.Jobs.Workers,
		QueueSize:    d.Config.Jobs.QueueSize,
		ParseTimeout: d.Config.Jobs.ParseTimeout,
	}, d.Parser, d.Builder, d.RunStore, d.Logger)

	d.Logger.Info("services initialized")
	return nil
}

// initHandlers initializes all handler dependencies
func (d *Dependencies) initHandlers() error {
	if err := os.MkdirAll(d.Config.Upload.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create upload directory: %w", err)
	}

	d.JobHandler = jobhandler.NewJobHandler(
		d.Coordinator,
		d.Builder,
		d.Config.Upload.Dir,
		d.Config.Upload.MaxBytes,
		d.Logger,
	)

	if d.RunStore != nil {
		d.HistoryHandler = historyhandler.NewHistoryHandler(d.RunStore, d.Logger)
	}

	d.Logger.Info("handlers initialized")
	return nil
}

// Cleanup drains the worker pool and closes all resources
func (d *Dependencies) Cleanup() {
	if d.Coordinator != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := d.Coordinator.Shutdown(ctx); err != nil {
			d.Logger.Warn("job coordinator shutdown incomplete", slog.Any("error", err))
		}
		cancel()
	}
	if d.DB != nil {
		d.DB.Close()
	}
	d.Logger.Info("cleanup completed")
}
