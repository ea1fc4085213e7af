// Package scheduler polls for pending ingestion jobs and runs them.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const defaultPollInterval = 2 * time.Minute

// JobRunner is the subset of the ingestion service the scheduler drives.
type JobRunner interface {
	PendingJobIDs(ctx context.Context) ([]string, error)
	RunJob(ctx context.Context, jobID string) error
}

// Scheduler dispatches pending jobs on a fixed poll interval. Jobs run
// sequentially; runner errors are already persisted on the job, so the loop
// only logs them.
type Scheduler struct {
	runner   JobRunner
	interval time.Duration
	logger   *zap.Logger
}

// New builds a Scheduler. A non-positive interval falls back to the default
// two minute poll.
func New(runner JobRunner, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		logger:   logger,
	}
}

// Run ticks immediately, then on every interval until the context finishes.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	jobIDs, err := s.runner.PendingJobIDs(ctx)
	if err != nil {
		s.logger.Warn("failed to list pending jobs", zap.Error(err))
		return
	}
	for _, jobID := range jobIDs {
		if ctx.Err() != nil {
			return
		}
		if err := s.runner.RunJob(ctx, jobID); err != nil {
			// The runner already stored the failure on the job.
			s.logger.Warn("job run failed", zap.String("job_id", jobID), zap.Error(err))
		}
	}
}
