/**
 * @description
 * Cron scheduler for the wallet's periodic jobs.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultReconcileSchedule runs the reconciliation pass once a minute.
const DefaultReconcileSchedule = "@every 1m"

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron       *cron.Cron
	reconciler *Reconciler
	schedule   string
	timeout    time.Duration
	logger     *slog.Logger
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(reconciler *Reconciler, schedule string, logger *slog.Logger) *Scheduler {
	if schedule == "" {
		schedule = DefaultReconcileSchedule
	}
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:       c,
		reconciler: reconciler,
		schedule:   schedule,
		timeout:    5 * time.Minute,
		logger:     logger,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.ReconcilePending); err != nil {
		s.logger.Error("failed to schedule reconciliation job", "error", err)
		return err
	}
	s.logger.Info("scheduled reconciliation job", "schedule", s.schedule)

	s.cron.Start()
	return nil
}

// ReconcilePending runs one reconciliation pass.
func (s *Scheduler) ReconcilePending() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	summary, err := s.reconciler.Run(ctx)
	if err != nil {
		s.logger.Error("reconciliation job failed", "error", err)
		return
	}
	if summary.Checked > 0 {
		s.logger.Info("reconciliation job finished",
			"checked", summary.Checked,
			"settled", summary.Settled,
			"failed", summary.Failed,
			"still_pending", summary.StillPending,
			"errors", summary.Errors)
	}
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
