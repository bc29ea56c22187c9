// Package sweep runs the retention sweeper: on a cron schedule it finds
// jobs past their ExpiresAt and cascade-deletes them, then purges audit
// records past their own retention.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/flamehaven01/rexsyn"
	"github.com/flamehaven01/rexsyn/deletion"
	"github.com/flamehaven01/rexsyn/id"
	"github.com/flamehaven01/rexsyn/job"
)

// Deleter performs the cascade delete for one expired job.
// *deletion.Service satisfies this interface.
type Deleter interface {
	Delete(ctx context.Context, jobID id.JobID, orgID id.OrgID) (*deletion.Record, error)
}

// lister is the slice of the job store the sweeper reads from.
type lister interface {
	ListExpiredJobs(ctx context.Context, now time.Time, limit int) ([]*job.Job, error)
}

// purger removes deletion records past their audit retention.
type purger interface {
	PurgeDeletionRecords(ctx context.Context, now time.Time) (int, error)
}

// sweepParser supports standard 5-field cron and descriptors like "@every 1h".
var sweepParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithBatchSize caps how many expired jobs one sweep processes. The
// remainder is picked up by the next sweep.
func WithBatchSize(n int) SweeperOption {
	return func(s *Sweeper) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithTickInterval sets how often the sweeper checks whether the
// schedule is due.
func WithTickInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.tickInterval = d
		}
	}
}

// Summary reports what one sweep did.
type Summary struct {
	// Swept counts jobs whose cascade delete completed, including
	// partial deletes where at least the primary rows are gone.
	Swept int
	// Failed counts jobs whose delete could not even start. They stay
	// expired and are retried on the next sweep.
	Failed int
	// PurgedRecords counts deletion audit records removed for being
	// past their own retention.
	PurgedRecords int
}

// Sweeper deletes expired jobs on a cron schedule.
type Sweeper struct {
	jobs    lister
	deleter Deleter
	records purger
	logger  *slog.Logger

	schedule     cronlib.Schedule
	batchSize    int
	tickInterval time.Duration

	mu        sync.Mutex
	nextRunAt time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewSweeper creates a Sweeper firing on the given cron expression.
func NewSweeper(jobs lister, deleter Deleter, records purger, schedule string, opts ...SweeperOption) (*Sweeper, error) {
	sched, err := sweepParser.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("sweep: parse schedule %q: %w", schedule, err)
	}

	cfg := rexsyn.DefaultConfig()
	s := &Sweeper{
		jobs:         jobs,
		deleter:      deleter,
		records:      records,
		logger:       slog.Default(),
		schedule:     sched,
		batchSize:    cfg.SweepBatchSize,
		tickInterval: 1 * time.Second,
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.nextRunAt = sched.Next(time.Now().UTC())
	return s, nil
}

// Start launches the tick goroutine. It returns immediately.
func (s *Sweeper) Start(_ context.Context) error {
	s.wg.Add(1)
	go s.tickLoop()
	s.logger.Info("retention sweeper started",
		slog.Time("next_run_at", s.NextRunAt()),
		slog.Int("batch_size", s.batchSize),
	)
	return nil
}

// Stop signals the sweeper to stop and waits for an in-flight sweep to
// finish.
func (s *Sweeper) Stop(_ context.Context) error {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("retention sweeper stopped")
	return nil
}

// NextRunAt returns when the next sweep is due.
func (s *Sweeper) NextRunAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRunAt
}

func (s *Sweeper) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			now := time.Now().UTC()
			if now.Before(s.NextRunAt()) {
				continue
			}
			s.Sweep(context.Background())
			s.mu.Lock()
			s.nextRunAt = s.schedule.Next(now)
			s.mu.Unlock()
		}
	}
}

// Sweep runs one pass immediately, regardless of the schedule: delete
// up to batchSize expired jobs, then purge expired audit records. A
// failure on one job never stops the rest of the batch.
func (s *Sweeper) Sweep(ctx context.Context) Summary {
	now := time.Now().UTC()

	var sum Summary

	expired, err := s.jobs.ListExpiredJobs(ctx, now, s.batchSize)
	if err != nil {
		s.logger.Error("sweep: list expired jobs", slog.String("error", err.Error()))
		return sum
	}

	for _, j := range expired {
		_, err := s.deleter.Delete(ctx, j.ID, j.OrgID)
		var partial *deletion.PartialError
		switch {
		case err == nil:
			sum.Swept++
		case errors.As(err, &partial):
			// The primary rows are gone, so the job will not show up as
			// expired again. The stores that failed are named in the
			// audit record.
			sum.Swept++
			s.logger.Warn("sweep: artifacts partially deleted",
				slog.String("job_id", j.ID.String()),
				slog.Any("failed_stores", partial.Stores),
			)
		default:
			// Nothing was deleted; the next sweep retries this job.
			sum.Failed++
			s.logger.Error("sweep: delete expired job",
				slog.String("job_id", j.ID.String()),
				slog.Time("expired_at", *j.ExpiresAt),
				slog.String("error", err.Error()),
			)
		}
	}

	purged, err := s.records.PurgeDeletionRecords(ctx, now)
	if err != nil {
		s.logger.Error("sweep: purge deletion records", slog.String("error", err.Error()))
	} else {
		sum.PurgedRecords = purged
	}

	if sum.Swept > 0 || sum.Failed > 0 || sum.PurgedRecords > 0 {
		s.logger.Info("sweep complete",
			slog.Int("swept", sum.Swept),
			slog.Int("failed", sum.Failed),
			slog.Int("purged_records", sum.PurgedRecords),
		)
	}
	return sum
}
