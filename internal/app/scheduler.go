/**
 * @description
 * Cron scheduler setup for maintenance jobs.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron                *cron.Cron
	jobs                *Jobs
	logger              *slog.Logger
	outboxPruneSchedule string
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, outboxPruneSchedule string, logger *slog.Logger) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:                c,
		jobs:                jobs,
		logger:              logger,
		outboxPruneSchedule: outboxPruneSchedule,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.outboxPruneSchedule, s.jobs.PruneOutbox); err != nil {
		return err
	}
	s.logger.Info("scheduled outbox prune job", "schedule", s.outboxPruneSchedule)

	s.cron.Start()
	return nil
}

// Stop stops the scheduler. The returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
