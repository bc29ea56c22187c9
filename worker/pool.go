// Package worker provides the Pool that claims queued jobs and drives
// them through the pipeline, with heartbeats for liveness, automatic
// requeue of jobs orphaned by crashed workers, and backoff-spaced
// retries of failed jobs.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/flamehaven01/rexsyn"
	"github.com/flamehaven01/rexsyn/backoff"
	"github.com/flamehaven01/rexsyn/ext"
	"github.com/flamehaven01/rexsyn/id"
	"github.com/flamehaven01/rexsyn/job"
	"github.com/flamehaven01/rexsyn/lifecycle"
)

// Runner executes one job's pipeline. *pipeline.Executor satisfies it.
type Runner interface {
	Run(ctx context.Context, jobID id.JobID) error
}

// Pool manages a set of concurrent worker goroutines that claim queued
// jobs and execute their pipelines.
type Pool struct {
	store      job.Store
	runner     Runner
	machine    *lifecycle.Machine
	extensions *ext.Registry
	backoff    backoff.Strategy
	logger     *slog.Logger

	concurrency  int
	pollInterval time.Duration
	workerID     id.WorkerID

	// Heartbeat / reaper configuration.
	heartbeatInterval time.Duration
	staleJobThreshold time.Duration

	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	activeJobs map[string]context.CancelFunc
	activeMu   sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithConcurrency sets the number of concurrent worker goroutines.
func WithConcurrency(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithPollInterval sets how often idle workers poll for queued jobs.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// WithHeartbeatInterval sets how often the pool sends heartbeats for
// active jobs. A zero value disables heartbeats.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithStaleJobThreshold sets the threshold after which running jobs
// without a heartbeat are considered orphaned and requeued. A zero
// value disables the reaper.
func WithStaleJobThreshold(d time.Duration) PoolOption {
	return func(p *Pool) { p.staleJobThreshold = d }
}

// WithBackoff sets the retry delay strategy for failed jobs.
func WithBackoff(s backoff.Strategy) PoolOption {
	return func(p *Pool) { p.backoff = s }
}

// NewPool creates a worker pool.
func NewPool(
	store job.Store,
	runner Runner,
	machine *lifecycle.Machine,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	cfg := rexsyn.DefaultConfig()
	p := &Pool{
		store:             store,
		runner:            runner,
		machine:           machine,
		extensions:        extensions,
		backoff:           backoff.DefaultStrategy(),
		logger:            logger,
		concurrency:       cfg.Concurrency,
		pollInterval:      cfg.PollInterval,
		heartbeatInterval: cfg.HeartbeatInterval,
		staleJobThreshold: cfg.StaleJobThreshold,
		workerID:          id.NewWorkerID(),
		stopCh:            make(chan struct{}),
		activeJobs:        make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.claimLoop()
	}

	if p.heartbeatInterval > 0 {
		p.wg.Add(1)
		go p.heartbeatLoop()
	}

	if p.staleJobThreshold > 0 {
		p.wg.Add(1)
		go p.reaperLoop()
	}

	return nil
}

// Stop signals all workers to stop and waits for them to finish. If the
// context expires first, active pipeline runs are cancelled; their
// checkpoints are durable, so a later delivery resumes where they
// stopped.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active runs")
		p.cancelActiveJobs()
		p.wg.Wait()
	}

	return nil
}

// claimLoop is run by each worker goroutine.
func (p *Pool) claimLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		jobs, err := p.store.ClaimQueuedJobs(context.Background(), p.workerID, 1)
		if err != nil {
			p.logger.Error("claim error", slog.String("error", err.Error()))
			p.sleep()
			continue
		}
		if len(jobs) == 0 {
			p.sleep()
			continue
		}

		p.execute(jobs[0])
	}
}

// execute runs one claimed job's pipeline and decides what happens to a
// failure afterwards.
func (p *Pool) execute(j *job.Job) {
	ctx, cancel := context.WithCancel(context.Background())
	p.trackJob(j.ID.String(), cancel)
	defer func() {
		p.untrackJob(j.ID.String())
		cancel()
	}()

	// The claim already moved the job to running, so the executor never
	// sees the queued status; announce the start here. A redelivery of an
	// interrupted job emits again, which is the at-least-once contract.
	p.extensions.EmitJobStarted(ctx, j)

	if err := p.runner.Run(ctx, j.ID); err != nil {
		// The run itself could not proceed (store outage, checkpoint
		// write failure). The job is still claimed; requeue it so another
		// delivery retries from the ledger.
		p.logger.Error("pipeline run aborted",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		p.requeue(j.ID)
		return
	}

	p.maybeScheduleRetry(j.ID)
}

// maybeScheduleRetry requeues a failed job after a backoff delay, as
// long as attempts remain.
func (p *Pool) maybeScheduleRetry(jobID id.JobID) {
	j, err := p.store.GetJob(context.Background(), jobID)
	if err != nil {
		p.logger.Error("post-run load failed",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	if j.Status != job.StatusFailed || j.RetryCount >= j.MaxRetries {
		return
	}

	attempt := j.RetryCount + 1
	delay := p.backoff.Delay(attempt)

	p.logger.Info("scheduling retry",
		slog.String("job_id", jobID.String()),
		slog.Int("attempt", attempt),
		slog.Int("max_retries", j.MaxRetries),
		slog.Duration("delay", delay),
	)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		select {
		case <-time.After(delay):
		case <-p.stopCh:
			// A failed job left behind on shutdown can still be retried
			// manually; don't block the stop for a backoff timer.
			return
		}
		p.retry(jobID)
	}()
}

// retry moves a failed job back to queued through the state machine.
func (p *Pool) retry(jobID id.JobID) {
	ctx := context.Background()

	j, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		p.logger.Error("retry: load failed",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	// The job may have been cancelled or deleted while waiting out the
	// backoff.
	if j.Status != job.StatusFailed {
		return
	}

	if err := p.machine.Transition(j, job.StatusQueued, nil); err != nil {
		p.logger.Warn("retry: transition rejected",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := p.store.UpdateJob(ctx, j); err != nil {
		p.logger.Error("retry: persist failed",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	p.extensions.EmitJobRetried(ctx, j, j.RetryCount)
}

// requeue returns a claimed job to the queue without burning a retry
// attempt. Used when the run infrastructure failed, not the job.
func (p *Pool) requeue(jobID id.JobID) {
	ctx := context.Background()

	j, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		p.logger.Error("requeue: load failed",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	if j.Status != job.StatusRunning {
		return
	}

	// Not a lifecycle transition: reclaiming an interrupted delivery is
	// infrastructure recovery, the same path the reaper takes.
	j.Status = job.StatusQueued
	j.WorkerID = id.Nil
	j.HeartbeatAt = nil
	j.Touch()

	if err := p.store.UpdateJob(ctx, j); err != nil {
		p.logger.Error("requeue: persist failed",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// heartbeatLoop periodically sends heartbeats for all active jobs.
func (p *Pool) heartbeatLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sendHeartbeats()
		}
	}
}

func (p *Pool) sendHeartbeats() {
	p.activeMu.Lock()
	jobIDs := make([]string, 0, len(p.activeJobs))
	for jobID := range p.activeJobs {
		jobIDs = append(jobIDs, jobID)
	}
	p.activeMu.Unlock()

	for _, jobIDStr := range jobIDs {
		parsedID, parseErr := id.ParseJobID(jobIDStr)
		if parseErr != nil {
			p.logger.Warn("heartbeat: invalid job id", slog.String("job_id", jobIDStr))
			continue
		}
		if err := p.store.HeartbeatJob(context.Background(), parsedID, p.workerID); err != nil {
			p.logger.Warn("heartbeat failed",
				slog.String("job_id", jobIDStr),
				slog.String("error", err.Error()),
			)
		}
	}
}

// reaperLoop periodically requeues running jobs whose heartbeat has
// expired, recovering work orphaned by a crashed worker.
func (p *Pool) reaperLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.staleJobThreshold)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.reapStaleJobs()
		}
	}
}

func (p *Pool) reapStaleJobs() {
	stale, err := p.store.ReapStaleJobs(context.Background(), p.staleJobThreshold)
	if err != nil {
		p.logger.Error("reap stale jobs error", slog.String("error", err.Error()))
		return
	}

	for _, j := range stale {
		// Completed stage checkpoints survive, so the next delivery
		// resumes instead of redoing the dead worker's work.
		j.Status = job.StatusQueued
		j.WorkerID = id.Nil
		j.HeartbeatAt = nil
		j.Touch()

		if updateErr := p.store.UpdateJob(context.Background(), j); updateErr != nil {
			p.logger.Error("reap: failed to requeue stale job",
				slog.String("job_id", j.ID.String()),
				slog.String("error", updateErr.Error()),
			)
			continue
		}

		p.logger.Info("requeued stale job",
			slog.String("job_id", j.ID.String()),
			slog.String("pipeline", j.Pipeline),
		)
	}
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}

func (p *Pool) trackJob(jobID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeJobs[jobID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(jobID string) {
	p.activeMu.Lock()
	delete(p.activeJobs, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.activeJobs {
		p.logger.Warn("cancelling active run", slog.String("job_id", jobID))
		cancel()
	}
}
