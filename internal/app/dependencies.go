// Package app wires the ingestion service from configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/classifier"
	importhandler "github.com/FACorreiaa/ledger-ingest/internal/domain/import/handler"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/normalizer"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/parser"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/plugin"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/repository"
	importservice "github.com/FACorreiaa/ledger-ingest/internal/domain/import/service"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/sniffer"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/sweeper"
	"github.com/FACorreiaa/ledger-ingest/pkg/config"
	"github.com/FACorreiaa/ledger-ingest/pkg/cron"
	"github.com/FACorreiaa/ledger-ingest/pkg/db"
	"github.com/FACorreiaa/ledger-ingest/pkg/metrics"
	"github.com/FACorreiaa/ledger-ingest/pkg/notify"
	"github.com/FACorreiaa/ledger-ingest/pkg/storage"
)

// Options adjust wiring for one-off command runs.
type Options struct {
	// DryRun rolls back every commit.
	DryRun bool
}

// Dependencies holds all application dependencies
type Dependencies struct {
	Config  *config.Config
	DB      *db.DB
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// Repositories
	Ledger    repository.Ledger
	RuleStore repository.RuleStore
	Overrides *normalizer.OverrideStore

	// Services
	Registry    *plugin.Registry
	Rules       *classifier.Provider
	Categorizer *normalizer.Categorizer
	Pipeline    *importservice.Pipeline
	Inbox       storage.Storage
	Archive     storage.Storage
	Sweeper     *sweeper.Sweeper

	// Handlers
	ImportHandler *importhandler.ImportHandler
}

// InitDependencies initializes all application dependencies
func InitDependencies(ctx context.Context, cfg *config.Config, opts Options, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	// Initialize database
	if err := deps.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	// Initialize repositories
	deps.initRepositories(opts)

	// Initialize services
	if err := deps.initServices(ctx, opts); err != nil {
		deps.Cleanup()
		return nil, fmt.Errorf("failed to init services: %w", err)
	}

	// Initialize handlers
	deps.initHandlers()

	logger.Info("all dependencies initialized successfully", slog.Bool("dry_run", opts.DryRun))
	return deps, nil
}

// initDatabase initializes the database connection and runs migrations
func (d *Dependencies) initDatabase() error {
	database, err := db.New(db.Config{
		DSN:             d.Config.Database.DSN(),
		MaxConns:        25,
		MinConns:        2,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: 10 * time.Minute,
	}, d.Logger)
	if err != nil {
		return err
	}

	d.DB = database

	// Run migrations
	if err := d.DB.RunMigrations(); err != nil {
		d.DB.Close()
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.Logger.Info("database connected and migrations completed successfully")
	return nil
}

// initRepositories initializes all repository layer dependencies
func (d *Dependencies) initRepositories(opts Options) {
	var ledger repository.Ledger = repository.NewPostgresLedger(d.DB.Pool)
	if opts.DryRun {
		ledger = repository.NewDryRunLedger(ledger)
	}
	d.Ledger = ledger
	d.RuleStore = repository.NewPostgresRuleStore(d.DB.Pool)
	d.Overrides = normalizer.NewOverrideStore(d.DB.Pool)

	d.Logger.Info("repositories initialized")
}

// initServices initializes all service layer dependencies
func (d *Dependencies) initServices(ctx context.Context, opts Options) error {
	if d.Config.Observability.MetricsEnabled {
		d.Metrics = metrics.New()
	}

	registry, err := plugin.NewRegistry(plugin.Config{
		Dir:      d.Config.Ingest.PluginDir,
		Families: parser.Families(),
		Builtins: parser.Builtins(),
	}, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to init plugin registry: %w", err)
	}
	d.Registry = registry

	d.Rules, err = classifier.NewProvider(ctx, d.RuleStore, d.Logger)
	if err != nil {
		return err
	}

	d.Categorizer = normalizer.NewCategorizer(d.Overrides, d.Logger)

	d.Pipeline = importservice.New(importservice.Config{
		Workers:      d.Config.Ingest.Workers,
		Strict:       d.Config.Ingest.Strict,
		EpsilonCents: d.Config.Ingest.EpsilonCents,
		DryRun:       opts.DryRun,
	}, importservice.Deps{
		Loader:      sniffer.NewLoader(sniffer.FitzExtractor{}),
		Rules:       d.Rules,
		Registry:    d.Registry,
		Ledger:      d.Ledger,
		Categorizer: d.Categorizer,
		Metrics:     d.Metrics,
		Logger:      d.Logger,
	})

	// Inbox and archive for statement sweeps
	d.Inbox, err = storage.New(&storage.Config{Type: storage.StorageTypeLocal, LocalPath: d.Config.Sweep.InboxDir})
	if err != nil {
		return fmt.Errorf("failed to init inbox storage: %w", err)
	}
	d.Archive, err = storage.New(&storage.Config{Type: storage.StorageTypeLocal, LocalPath: d.Config.Sweep.ArchiveDir})
	if err != nil {
		return fmt.Errorf("failed to init archive storage: %w", err)
	}
	d.Sweeper = sweeper.New(d.Pipeline, d.Inbox, d.Archive, sweeper.Config{HardFail: d.Config.Sweep.HardFail}, d.Metrics, d.Logger)
	if d.Config.Sweep.NotifyURL != "" {
		d.Sweeper.WithNotifier(notify.NewWebhook(d.Config.Sweep.NotifyURL, d.Logger))
	}

	d.Logger.Info("services initialized",
		slog.Bool("strict", d.Pipeline.Strict()),
		slog.Int("plugins", len(d.Registry.List())),
		slog.Int("rules", len(d.Rules.Current().Rules())),
	)
	return nil
}

// initHandlers initializes all handler dependencies
func (d *Dependencies) initHandlers() {
	d.ImportHandler = importhandler.NewImportHandler(d.Pipeline, d.Rules, d.Registry, d.Logger).
		WithMaxUploadBytes(d.Config.Server.MaxUploadBytes)

	d.Logger.Info("handlers initialized")
}

// Router builds the HTTP handler.
func (d *Dependencies) Router() http.Handler {
	cfg := importhandler.RouterConfig{
		AllowedOrigins:     d.Config.Server.AllowedOrigins,
		RateLimitPerSecond: d.Config.Server.RateLimitPerSecond,
		RateLimitBurst:     d.Config.Server.RateLimitBurst,
	}
	if d.Metrics != nil {
		cfg.Metrics = d.Metrics.Handler()
	}
	return importhandler.NewRouter(d.ImportHandler, cfg, d.Logger)
}

// Scheduler builds the background job scheduler.
func (d *Dependencies) Scheduler() *cron.Scheduler {
	return cron.NewScheduler(cron.Jobs{
		Sweeper:         d.Sweeper,
		SweepSchedule:   d.Config.Sweep.Schedule,
		Rules:           d.Rules,
		Plugins:         d.Registry,
		RefreshSchedule: d.Config.Sweep.RefreshSchedule,
	}, d.Logger)
}

// Cleanup closes all resources
func (d *Dependencies) Cleanup() {
	if d.DB != nil {
		d.DB.Close()
	}
	d.Logger.Info("cleanup completed")
}
