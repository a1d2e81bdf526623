// Package cron provides scheduled background jobs using robfig/cron.
package cron

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/sweeper"
)

// InboxSweeper imports the statement inbox.
type InboxSweeper interface {
	Sweep(ctx context.Context) (*sweeper.Report, error)
}

// RuleRefresher reloads statement-type rules.
type RuleRefresher interface {
	Refresh(ctx context.Context) error
}

// PluginReloader rescans the plugin directory.
type PluginReloader interface {
	Reload() error
}

// Jobs are the collaborators the scheduler drives. A nil field or an
// empty schedule disables the job.
type Jobs struct {
	Sweeper         InboxSweeper
	SweepSchedule   string
	Rules           RuleRefresher
	Plugins         PluginReloader
	RefreshSchedule string
}

// Scheduler manages background scheduled jobs using robfig/cron.
type Scheduler struct {
	cron    *cron.Cron
	jobs    Jobs
	timeout time.Duration
	logger  *slog.Logger

	// sweeps never overlap
	sweepMu sync.Mutex
}

// NewScheduler creates a new job scheduler.
func NewScheduler(jobs Jobs, logger *slog.Logger) *Scheduler {
	// Create cron with seconds disabled (standard 5-field format)
	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))

	return &Scheduler{
		cron:    c,
		jobs:    jobs,
		timeout: 30 * time.Minute,
		logger:  logger.With(slog.String("component", "scheduler")),
	}
}

// Start begins scheduled jobs.
func (s *Scheduler) Start() error {
	if s.jobs.Sweeper != nil && s.jobs.SweepSchedule != "" {
		if _, err := s.cron.AddFunc(s.jobs.SweepSchedule, s.sweep); err != nil {
			return err
		}
	}
	if (s.jobs.Rules != nil || s.jobs.Plugins != nil) && s.jobs.RefreshSchedule != "" {
		if _, err := s.cron.AddFunc(s.jobs.RefreshSchedule, s.refresh); err != nil {
			return err
		}
	}

	s.cron.Start()
	s.logger.Info("cron scheduler started",
		slog.Int("jobs", len(s.cron.Entries())),
	)
	return nil
}

// Stop gracefully stops all scheduled jobs.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("cron scheduler stopping")
	return s.cron.Stop()
}

// RunNow manually triggers an inbox sweep.
func (s *Scheduler) RunNow() {
	go s.sweep()
}

func (s *Scheduler) sweep() {
	if s.jobs.Sweeper == nil {
		return
	}
	if !s.sweepMu.TryLock() {
		s.logger.Info("previous inbox sweep still running, skipping")
		return
	}
	defer s.sweepMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	report, err := s.jobs.Sweeper.Sweep(ctx)
	if err != nil {
		s.logger.Error("inbox sweep failed", slog.Any("error", err))
		return
	}
	s.logger.Info("inbox sweep completed",
		slog.Int("imported", report.Imported),
		slog.Int("duplicates", report.Duplicates),
		slog.Int("failed", report.Failed),
		slog.Duration("duration", time.Since(start)),
	)
}

func (s *Scheduler) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if s.jobs.Rules != nil {
		if err := s.jobs.Rules.Refresh(ctx); err != nil {
			s.logger.Warn("failed to refresh statement rules", slog.Any("error", err))
		}
	}
	if s.jobs.Plugins != nil {
		if err := s.jobs.Plugins.Reload(); err != nil {
			s.logger.Warn("failed to reload plugins", slog.Any("error", err))
		}
	}
}
