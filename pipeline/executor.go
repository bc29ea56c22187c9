package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/flamehaven01/rexsyn"
	"github.com/flamehaven01/rexsyn/ext"
	"github.com/flamehaven01/rexsyn/id"
	"github.com/flamehaven01/rexsyn/job"
	"github.com/flamehaven01/rexsyn/ledger"
	"github.com/flamehaven01/rexsyn/lifecycle"
)

// Executor drives a job through its pipeline stages, consulting the
// checkpoint ledger before each stage so that re-delivered runs and
// restarted workers never redo completed work. It is safe to invoke
// Run for the same job more than once; the ledger, not a lock, is the
// exactly-once mechanism.
type Executor struct {
	jobs     job.Store
	ledger   ledger.Store
	machine  *lifecycle.Machine
	registry *Registry
	hooks    *ext.Registry
	logger   *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithHooks sets the extension registry notified of stage events.
func WithHooks(hooks *ext.Registry) ExecutorOption {
	return func(e *Executor) { e.hooks = hooks }
}

// WithLogger sets the executor's logger.
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = logger }
}

// NewExecutor creates an executor over the given stores and pipeline
// registry.
func NewExecutor(jobs job.Store, led ledger.Store, machine *lifecycle.Machine, registry *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		jobs:     jobs,
		ledger:   led,
		machine:  machine,
		registry: registry,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes the job's pipeline from wherever the checkpoint ledger
// says it left off.
//
// Returned errors mean the run could not proceed and should be retried
// or investigated at the queue level: missing job or pipeline, store
// failures, ledger write failures. A stage failure is NOT a returned
// error; it is absorbed into the job's failed status so the queue sees
// a delivered message, and the bounded retry path decides what happens
// next.
func (e *Executor) Run(ctx context.Context, jobID id.JobID) error {
	j, err := e.jobs.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("pipeline: load job %s: %w", jobID, err)
	}

	p, ok := e.registry.Get(j.Pipeline)
	if !ok {
		return fmt.Errorf("pipeline: job %s references unknown pipeline %q: %w", jobID, j.Pipeline, rexsyn.ErrNoStages)
	}

	// Gates are evaluated once per run; the resolved list drives both
	// execution and progress accounting.
	stages := p.Active(j.Input)
	if len(stages) == 0 {
		return fmt.Errorf("pipeline: job %s: pipeline %q resolved to zero stages: %w", jobID, j.Pipeline, rexsyn.ErrNoStages)
	}

	switch j.Status {
	case job.StatusQueued:
		if err := e.machine.Transition(j, job.StatusRunning, nil); err != nil {
			return fmt.Errorf("pipeline: job %s: %w", jobID, err)
		}
		if err := e.jobs.UpdateJob(ctx, j); err != nil {
			return fmt.Errorf("pipeline: job %s: persist running: %w", jobID, err)
		}
		if e.hooks != nil {
			e.hooks.EmitJobStarted(ctx, j)
		}
	case job.StatusRunning:
		// Re-entrant: a duplicate delivery or resumed run. Proceed; the
		// ledger makes replay safe.
	default:
		e.logger.Info("skipping run for job not in a runnable status",
			slog.String("job_id", jobID.String()),
			slog.String("status", string(j.Status)),
		)
		return nil
	}

	prior := make(map[string][]byte, len(stages))

	for i, stage := range stages {
		// Fresh read at every stage boundary: another worker may have
		// cancelled the job while a stage was running.
		j, err = e.jobs.GetJob(ctx, jobID)
		if err != nil {
			return fmt.Errorf("pipeline: reload job %s: %w", jobID, err)
		}
		if j.Status == job.StatusCancelled {
			e.logger.Info("job cancelled, aborting remaining stages",
				slog.String("job_id", jobID.String()),
				slog.String("next_stage", stage.Name),
			)
			return nil
		}

		cp, err := e.ledger.GetCompleted(ctx, jobID, stage.Name)
		switch {
		case err == nil:
			// Already done in a previous run. Reuse the payload and make
			// sure progress catches up; a crash can land between the
			// checkpoint write and the progress update.
			prior[stage.Name] = cp.Payload
			if e.hooks != nil {
				e.hooks.EmitStageSkipped(ctx, j, stage.Name)
			}
			if j.CurrentStage <= i {
				if i == len(stages)-1 {
					if err := e.saveResult(ctx, j, stages, prior); err != nil {
						return err
					}
				}
				if err := e.advance(ctx, j, len(stages)); err != nil {
					return err
				}
			}
			continue

		case errors.Is(err, rexsyn.ErrCheckpointNotFound):
			// Fall through to execute the stage.

		default:
			return fmt.Errorf("pipeline: job %s: read checkpoint for %s: %w", jobID, stage.Name, err)
		}

		if err := e.ledger.MarkStarted(ctx, jobID, stage.Name); err != nil {
			// Without durable checkpointing the resumability invariant is
			// gone; abort rather than run stages we cannot prove ran.
			return fmt.Errorf("pipeline: job %s: %w: mark %s started: %w", jobID, rexsyn.ErrCheckpointWrite, stage.Name, err)
		}

		if e.hooks != nil {
			e.hooks.EmitStageStarted(ctx, j, stage.Name)
		}

		started := time.Now()
		payload, stageErr := e.invoke(ctx, stage, Request{JobID: jobID, Input: j.Input, Prior: prior})
		if stageErr != nil {
			return e.failJob(ctx, j, stage.Name, stageErr)
		}

		if err := e.ledger.MarkCompleted(ctx, jobID, stage.Name, payload); err != nil {
			return fmt.Errorf("pipeline: job %s: %w: mark %s completed: %w", jobID, rexsyn.ErrCheckpointWrite, stage.Name, err)
		}

		prior[stage.Name] = payload
		if e.hooks != nil {
			e.hooks.EmitStageCompleted(ctx, j, stage.Name, time.Since(started))
		}

		// The result must be durable before the completed transition so a
		// crash between the two cannot leave a completed job without one.
		if i == len(stages)-1 {
			if err := e.saveResult(ctx, j, stages, prior); err != nil {
				return err
			}
		}
		if err := e.advance(ctx, j, len(stages)); err != nil {
			return err
		}

		e.logger.Debug("stage completed",
			slog.String("job_id", jobID.String()),
			slog.String("stage", stage.Name),
			slog.Duration("elapsed", time.Since(started)),
			slog.Float64("progress", j.Progress),
		)
	}

	if j.Status == job.StatusCompleted {
		if e.hooks != nil {
			e.hooks.EmitJobCompleted(ctx, j, j.Duration)
		}
		e.logger.Info("job completed",
			slog.String("job_id", jobID.String()),
			slog.Duration("duration", j.Duration),
		)
	}

	return nil
}

// invoke runs a stage implementation, converting panics into errors with
// the stack captured.
func (e *Executor) invoke(ctx context.Context, stage Stage, req Request) (payload []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage %s panicked: %v\n%s", stage.Name, r, debug.Stack())
		}
	}()

	if stage.Run == nil {
		return nil, fmt.Errorf("stage %s has no implementation", stage.Name)
	}
	return stage.Run(ctx, req)
}

// advance moves the job past its current stage and persists it. The
// final advance performs the completed transition.
//
// It reloads the row first: a cancel written by another worker while
// the stage ran must not be clobbered by our stale copy. The completed
// checkpoint is already durable, so abandoning the progress update
// loses no work.
func (e *Executor) advance(ctx context.Context, j *job.Job, total int) error {
	latest, err := e.jobs.GetJob(ctx, j.ID)
	if err != nil {
		return fmt.Errorf("pipeline: reload job %s: %w", j.ID, err)
	}
	if latest.Status == job.StatusCancelled {
		*j = *latest
		return nil
	}

	if err := e.machine.AdvanceStage(j, total); err != nil {
		return fmt.Errorf("pipeline: job %s: %w", j.ID, err)
	}
	if err := e.jobs.UpdateJob(ctx, j); err != nil {
		return fmt.Errorf("pipeline: job %s: persist progress: %w", j.ID, err)
	}
	return nil
}

// failJob absorbs a stage error into the job's failed status. The nil
// return is deliberate: the queue delivered its message, and the retry
// path owns what happens next.
func (e *Executor) failJob(ctx context.Context, j *job.Job, stage string, stageErr error) error {
	info := &lifecycle.ErrorInfo{Message: stageErr.Error(), Stage: stage}
	if err := e.machine.Transition(j, job.StatusFailed, info); err != nil {
		return fmt.Errorf("pipeline: job %s: record failure: %w", j.ID, err)
	}
	if err := e.jobs.UpdateJob(ctx, j); err != nil {
		return fmt.Errorf("pipeline: job %s: persist failure: %w", j.ID, err)
	}

	if e.hooks != nil {
		e.hooks.EmitJobFailed(ctx, j, stageErr)
	}
	e.logger.Warn("stage failed",
		slog.String("job_id", j.ID.String()),
		slog.String("stage", stage),
		slog.Int("retry_count", j.RetryCount),
		slog.String("error", stageErr.Error()),
	)
	return nil
}

// assessmentMetrics is the shape the quality assessment stage reports.
type assessmentMetrics struct {
	QualityScore float64 `json:"quality_score"`
	Confidence   float64 `json:"confidence"`
	PLDDT        float64 `json:"plddt"`
	OVEScore     float64 `json:"ove_score"`
}

// saveResult assembles the result aggregate from accumulated stage
// payloads and persists it. The final stage's payload becomes the
// output; quality metrics come from the assessment stage when present.
func (e *Executor) saveResult(ctx context.Context, j *job.Job, stages []Stage, prior map[string][]byte) error {
	r := &job.Result{
		Entity: rexsyn.NewEntity(),
		ID:     id.NewResultID(),
		JobID:  j.ID,
	}

	last := stages[len(stages)-1]
	r.Output = prior[last.Name]

	if raw, ok := prior[StageQualityAssessment]; ok {
		var m assessmentMetrics
		if err := json.Unmarshal(raw, &m); err == nil {
			r.QualityScore = m.QualityScore
			r.Confidence = m.Confidence
			r.PLDDT = m.PLDDT
			r.OVEScore = m.OVEScore
			r.Grade = job.GradeForScore(m.QualityScore)
		}
	}
	if _, ok := prior[StageRefinement]; ok {
		r.RefinementApplied = true
	}

	if err := e.jobs.SaveResult(ctx, r); err != nil {
		return fmt.Errorf("pipeline: job %s: persist result: %w", j.ID, err)
	}
	return nil
}
