package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/lease"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/logging"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/queue"
)

const defaultScheduleInterval = time.Minute

// SchedulerParams configure the batch scheduler.
type SchedulerParams struct {
	Logger    *logging.Logger
	Lease     lease.Lease
	Client    queue.Enqueuer
	Interval  time.Duration
	BatchSize int
}

// Scheduler enqueues a process-batch task on a fixed cadence. The lease keeps
// a fleet of workers from all enqueueing in the same tick: a successful cycle
// keeps it until its TTL runs out, so the TTL should sit just under Interval.
type Scheduler struct {
	logg      *logging.Logger
	lease     lease.Lease
	client    queue.Enqueuer
	interval  time.Duration
	batchSize int
}

func NewScheduler(params SchedulerParams) (*Scheduler, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lease == nil {
		return nil, fmt.Errorf("lease required")
	}
	if params.Client == nil {
		return nil, fmt.Errorf("task client required")
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultScheduleInterval
	}
	return &Scheduler{
		logg:      params.Logger,
		lease:     params.Lease,
		client:    params.Client,
		interval:  interval,
		batchSize: params.BatchSize,
	}, nil
}

// Run ticks until the context is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.runCycle(ctx); err != nil {
		s.logg.Error(ctx, "scheduled batch failed", err)
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "batch scheduler context canceled")
			return ctx.Err()
		case <-ticker.C:
			if err := s.runCycle(ctx); err != nil {
				s.logg.Error(ctx, "scheduled batch failed", err)
			}
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context) error {
	locked, err := s.lease.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lease acquire: %w", err)
	}
	if !locked {
		s.logg.Debug(ctx, "another scheduler holds the lease; skipping this cycle")
		return nil
	}
	if err := queue.EnqueueProcessBatch(ctx, s.client, s.batchSize); err != nil {
		// Let another instance take this tick.
		if relErr := s.lease.Release(context.WithoutCancel(ctx)); relErr != nil {
			s.logg.Error(ctx, "failed to release scheduler lease", relErr)
		}
		return err
	}
	return nil
}
