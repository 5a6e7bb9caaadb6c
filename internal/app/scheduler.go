/**
 * @description
 * Cron scheduler setup for the billing jobs.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/immotopia/rental-finance-service/internal/config"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger *slog.Logger
	config config.Config
}

// NewScheduler creates a new scheduler instance. Schedules fire in the business timezone.
func NewScheduler(jobs *Jobs, logger *slog.Logger, cfg config.Config) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	opts := []cron.Option{cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger))}
	if cfg.BusinessTimezone != "" {
		opts = append(opts, cron.WithLocation(loadLocation(cfg.BusinessTimezone)))
	}

	return &Scheduler{
		cron:   cron.New(opts...),
		jobs:   jobs,
		logger: logger,
		config: cfg,
	}
}

// Register adds every job to the cron table and returns the first schedule error.
func (s *Scheduler) Register() error {
	if _, err := s.cron.AddFunc(s.config.PenaltyJobSchedule, s.jobs.RunPenalties); err != nil {
		s.logger.Error("failed to schedule penalty job", "error", err)
		return err
	}
	s.logger.Info("scheduled penalty job", "schedule", s.config.PenaltyJobSchedule)

	if _, err := s.cron.AddFunc(s.config.InstallmentTopUpJobSchedule, s.jobs.ExtendOpenEndedLeases); err != nil {
		s.logger.Error("failed to schedule installment top-up job", "error", err)
		return err
	}
	s.logger.Info("scheduled installment top-up job", "schedule", s.config.InstallmentTopUpJobSchedule)
	return nil
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if err := s.Register(); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
