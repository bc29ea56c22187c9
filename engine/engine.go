// Package engine wires all rexsyn subsystems together: the store, the
// status machine, the pipeline executor, the worker pool, the retention
// sweeper, and the cascade delete service. It is the only package an
// application needs to import besides a store backend.
//
// This package exists to break the import cycle: the root rexsyn package
// defines Entity (imported by job, deletion, etc.) and so cannot import
// those packages back. The engine package sits above all subsystem
// packages and below the application layer.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/flamehaven01/rexsyn"
	"github.com/flamehaven01/rexsyn/access"
	"github.com/flamehaven01/rexsyn/artifact/cache"
	"github.com/flamehaven01/rexsyn/backoff"
	"github.com/flamehaven01/rexsyn/deletion"
	"github.com/flamehaven01/rexsyn/ext"
	"github.com/flamehaven01/rexsyn/id"
	"github.com/flamehaven01/rexsyn/job"
	"github.com/flamehaven01/rexsyn/lifecycle"
	"github.com/flamehaven01/rexsyn/observability"
	"github.com/flamehaven01/rexsyn/pipeline"
	"github.com/flamehaven01/rexsyn/store"
	"github.com/flamehaven01/rexsyn/sweep"
	"github.com/flamehaven01/rexsyn/worker"
)

// Engine is the facade over the whole job lifecycle: submission, access
// control, status, cancellation, retry, deletion, and background
// processing.
type Engine struct {
	cfg        rexsyn.Config
	store      store.Store
	logger     *slog.Logger
	extensions *ext.Registry
	access     *access.Controller
	machine    *lifecycle.Machine
	registry   *pipeline.Registry
	executor   *pipeline.Executor
	deleter    *deletion.Service
	pool       *worker.Pool
	sweeper    *sweep.Sweeper

	pipelines []pipeline.Pipeline
	artifacts []deletion.ArtifactStore
	results   *cache.Cache
	bo        backoff.Strategy

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore sets the persistence backend. Required.
func WithStore(s store.Store) Option {
	return func(eng *Engine) { eng.store = s }
}

// WithConfig replaces the default configuration.
func WithConfig(cfg rexsyn.Config) Option {
	return func(eng *Engine) { eng.cfg = cfg }
}

// WithLogger sets the logger shared by every subsystem.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) {
		if l != nil {
			eng.logger = l
		}
	}
}

// WithPipeline registers a pipeline definition. May be given multiple
// times; most deployments register pipeline.Prediction only.
func WithPipeline(p pipeline.Pipeline) Option {
	return func(eng *Engine) { eng.pipelines = append(eng.pipelines, p) }
}

// WithArtifactStore adds an external artifact store to the deletion
// cascade (object storage, experiment tracker, cache).
func WithArtifactStore(stores ...deletion.ArtifactStore) Option {
	return func(eng *Engine) { eng.artifacts = append(eng.artifacts, stores...) }
}

// WithResultCache sets the read-through result cache. The cache is also
// enrolled in the deletion cascade so cached results never outlive their
// job.
func WithResultCache(c *cache.Cache) Option {
	return func(eng *Engine) { eng.results = c }
}

// WithExtension registers a lifecycle extension.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.extensions.Register(e) }
}

// WithBackoff sets the retry backoff strategy.
// If not set, backoff.DefaultStrategy() (exponential with jitter) is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) { eng.bo = b }
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// New creates an Engine and wires every subsystem.
func New(opts ...Option) (*Engine, error) {
	eng := &Engine{
		cfg:    rexsyn.DefaultConfig(),
		logger: slog.Default(),
		access: access.NewController(),
	}
	eng.extensions = ext.NewRegistry(eng.logger)

	for _, opt := range opts {
		opt(eng)
	}

	if eng.store == nil {
		return nil, rexsyn.ErrNoStore
	}
	if eng.bo == nil {
		eng.bo = backoff.DefaultStrategy()
	}

	// Built-in observability extensions (custom providers or global).
	var metricsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		metricsExt = observability.NewMetricsExtensionWithMeter(
			eng.meterProvider.Meter("github.com/flamehaven01/rexsyn"))
	} else {
		metricsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(metricsExt)

	var tracingExt *observability.TracingExtension
	if eng.tracerProvider != nil {
		tracingExt = observability.NewTracingExtensionWithTracer(
			eng.tracerProvider.Tracer("github.com/flamehaven01/rexsyn"))
	} else {
		tracingExt = observability.NewTracingExtension()
	}
	eng.extensions.Register(tracingExt)

	eng.machine = lifecycle.New(eng.cfg.RetryLimit)

	eng.registry = pipeline.NewRegistry()
	for _, p := range eng.pipelines {
		eng.registry.Register(p)
	}

	eng.executor = pipeline.NewExecutor(
		eng.store, eng.store, eng.machine, eng.registry,
		pipeline.WithHooks(eng.extensions),
		pipeline.WithLogger(eng.logger),
	)

	artifacts := eng.artifacts
	if eng.results != nil {
		artifacts = append(artifacts, eng.results)
	}
	eng.deleter = deletion.NewService(
		eng.store, eng.store, eng.store, artifacts,
		deletion.WithHooks(eng.extensions),
		deletion.WithLogger(eng.logger),
		deletion.WithFanout(eng.cfg.DeleteConcurrency),
		deletion.WithBulkFanout(eng.cfg.BulkDeleteConcurrency),
		deletion.WithAuditRetention(eng.cfg.AuditRetention),
	)

	eng.pool = worker.NewPool(
		eng.store, eng.executor, eng.machine, eng.extensions, eng.logger,
		worker.WithConcurrency(eng.cfg.Concurrency),
		worker.WithPollInterval(eng.cfg.PollInterval),
		worker.WithHeartbeatInterval(eng.cfg.HeartbeatInterval),
		worker.WithStaleJobThreshold(eng.cfg.StaleJobThreshold),
		worker.WithBackoff(eng.bo),
	)

	sweeper, err := sweep.NewSweeper(
		eng.store, eng.deleter, eng.store, eng.cfg.SweepSchedule,
		sweep.WithBatchSize(eng.cfg.SweepBatchSize),
		sweep.WithLogger(eng.logger),
	)
	if err != nil {
		return nil, err
	}
	eng.sweeper = sweeper

	return eng, nil
}

// Start launches the worker pool and the retention sweeper.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.pool.Start(ctx); err != nil {
		return fmt.Errorf("engine: start worker pool: %w", err)
	}
	if err := eng.sweeper.Start(ctx); err != nil {
		return fmt.Errorf("engine: start sweeper: %w", err)
	}
	return nil
}

// Stop gracefully shuts down background processing. The context bounds
// the drain; active runs left behind resume from their checkpoints on
// the next start.
func (eng *Engine) Stop(ctx context.Context) error {
	if err := eng.sweeper.Stop(ctx); err != nil {
		eng.logger.Error("sweeper stop error", slog.String("error", err.Error()))
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, eng.cfg.ShutdownTimeout)
		defer cancel()
	}
	err := eng.pool.Stop(ctx)
	eng.extensions.EmitShutdown(context.Background())
	return err
}

// ────────────────────────────────────────────────────────────────────
// Job operations
// ────────────────────────────────────────────────────────────────────

// CreateJob submits a new job owned by the principal. The retention
// policy comes from the principal's organization, falling back to the
// engine default, and the runtime estimate is summed over the stages the
// input activates.
func (eng *Engine) CreateJob(ctx context.Context, p access.Principal, pipelineName string, input []byte) (*job.Job, error) {
	pl, ok := eng.registry.Get(pipelineName)
	if !ok {
		return nil, fmt.Errorf("engine: pipeline %q: %w", pipelineName, rexsyn.ErrNoStages)
	}

	retention := eng.cfg.DefaultRetentionDays
	o, err := eng.store.GetOrg(ctx, p.OrgID)
	switch {
	case err == nil:
		if o.RetentionDays > 0 {
			retention = o.RetentionDays
		}
	case errors.Is(err, rexsyn.ErrOrgNotFound):
		// Unregistered organizations get the default policy.
	default:
		return nil, fmt.Errorf("engine: load org %s: %w", p.OrgID, err)
	}

	j := &job.Job{
		Entity:        rexsyn.NewEntity(),
		ID:            id.NewJobID(),
		OrgID:         p.OrgID,
		UserID:        p.SubjectID,
		Pipeline:      pipelineName,
		Input:         input,
		Status:        job.StatusQueued,
		Estimate:      pl.Estimate(input),
		MaxRetries:    eng.cfg.RetryLimit,
		RetentionDays: retention,
	}
	expires := j.CreatedAt.AddDate(0, 0, retention)
	j.ExpiresAt = &expires

	if err := eng.store.CreateJob(ctx, j); err != nil {
		return nil, fmt.Errorf("engine: create job: %w", err)
	}

	eng.extensions.EmitJobCreated(ctx, j)
	eng.logger.Info("job created",
		slog.String("job_id", j.ID.String()),
		slog.String("pipeline", pipelineName),
		slog.String("org_id", p.OrgID.String()),
		slog.Duration("estimate", j.Estimate),
	)
	return j, nil
}

// GetJob returns the job if the principal may view it.
func (eng *Engine) GetJob(ctx context.Context, p access.Principal, jobID id.JobID) (*job.Job, error) {
	j, err := eng.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := eng.access.RequireView(j, p); err != nil {
		return nil, err
	}
	return j, nil
}

// GetResult returns the final aggregate of a completed job, reading
// through the result cache when one is configured.
func (eng *Engine) GetResult(ctx context.Context, p access.Principal, jobID id.JobID) (*job.Result, error) {
	if _, err := eng.GetJob(ctx, p, jobID); err != nil {
		return nil, err
	}

	if eng.results != nil {
		if res, err := eng.results.GetResult(ctx, jobID); err == nil {
			return res, nil
		} else if !errors.Is(err, rexsyn.ErrResultNotFound) {
			eng.logger.Warn("result cache read failed",
				slog.String("job_id", jobID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	res, err := eng.store.GetResult(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if eng.results != nil {
		if err := eng.results.SetResult(ctx, res); err != nil {
			eng.logger.Warn("result cache write failed",
				slog.String("job_id", jobID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	return res, nil
}

// ListJobs returns the jobs visible to the principal: the whole
// organization for admins, their own jobs for everyone else.
func (eng *Engine) ListJobs(ctx context.Context, p access.Principal, opts job.ListOpts) ([]*job.Job, error) {
	return eng.store.ListJobs(ctx, eng.access.Filter(p, opts))
}

// Progress returns a point-in-time snapshot of a job's pipeline
// position, including the remaining-runtime estimate.
func (eng *Engine) Progress(ctx context.Context, p access.Principal, jobID id.JobID) (lifecycle.ProgressDetail, error) {
	j, err := eng.GetJob(ctx, p, jobID)
	if err != nil {
		return lifecycle.ProgressDetail{}, err
	}
	return lifecycle.Detail(j), nil
}

// Permissions reports what the principal may do with the job. Jobs the
// principal cannot view are denied the same way GetJob denies them, so
// the summary never discloses foreign job IDs.
func (eng *Engine) Permissions(ctx context.Context, p access.Principal, jobID id.JobID) (access.Summary, error) {
	j, err := eng.store.GetJob(ctx, jobID)
	if err != nil {
		return access.Summary{}, err
	}
	if err := eng.access.RequireView(j, p); err != nil {
		return access.Summary{}, err
	}
	return eng.access.Summarize(j, p), nil
}

// CancelJob moves a queued or running job to cancelled. A running job
// observes the cancellation at its next stage boundary; completed work
// stays checkpointed.
func (eng *Engine) CancelJob(ctx context.Context, p access.Principal, jobID id.JobID) (*job.Job, error) {
	j, err := eng.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := eng.access.RequireModify(j, p, access.ActionCancel); err != nil {
		return nil, err
	}
	if err := eng.machine.Transition(j, job.StatusCancelled, nil); err != nil {
		return nil, err
	}
	if err := eng.store.UpdateJob(ctx, j); err != nil {
		return nil, fmt.Errorf("engine: persist cancel for job %s: %w", jobID, err)
	}

	eng.extensions.EmitJobCancelled(ctx, j)
	return j, nil
}

// RetryJob requeues a failed job. The state machine enforces the retry
// ceiling and clears the error fields; completed stage checkpoints are
// kept, so the re-run resumes at the failed stage.
func (eng *Engine) RetryJob(ctx context.Context, p access.Principal, jobID id.JobID) (*job.Job, error) {
	j, err := eng.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := eng.access.RequireModify(j, p, access.ActionRetry); err != nil {
		return nil, err
	}
	if err := eng.machine.Transition(j, job.StatusQueued, nil); err != nil {
		return nil, err
	}
	if err := eng.store.UpdateJob(ctx, j); err != nil {
		return nil, fmt.Errorf("engine: persist retry for job %s: %w", jobID, err)
	}

	eng.extensions.EmitJobRetried(ctx, j, j.RetryCount)
	return j, nil
}

// DeleteJob cascade-deletes the job and every artifact derived from it,
// returning the audit record. Non-admin owners may delete only finished
// jobs; admins may force-delete in any state. A *deletion.PartialError
// is returned alongside the record when an external store was
// unreachable.
func (eng *Engine) DeleteJob(ctx context.Context, p access.Principal, jobID id.JobID) (*deletion.Record, error) {
	j, err := eng.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := eng.access.RequireDelete(j, p); err != nil {
		return nil, err
	}
	return eng.deleter.Delete(ctx, jobID, p.OrgID)
}

// DeleteAllForUser erases every job the user owns within the
// principal's organization. Only the user themselves or an org admin may
// invoke it.
func (eng *Engine) DeleteAllForUser(ctx context.Context, p access.Principal, userID id.UserID) (*deletion.BulkSummary, error) {
	if !p.IsAdmin() && p.SubjectID.String() != userID.String() {
		return nil, &access.DeniedError{
			Action: access.ActionDelete,
			Reason: "only the user or an organization admin may erase a user's jobs",
		}
	}
	return eng.deleter.DeleteAllForUser(ctx, userID, p.OrgID)
}

// ────────────────────────────────────────────────────────────────────
// Subsystem access
// ────────────────────────────────────────────────────────────────────

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the pipeline registry.
func (eng *Engine) Registry() *pipeline.Registry { return eng.registry }

// Store returns the persistence backend.
func (eng *Engine) Store() store.Store { return eng.store }

// Deleter returns the cascade delete service.
func (eng *Engine) Deleter() *deletion.Service { return eng.deleter }

// Sweeper returns the retention sweeper.
func (eng *Engine) Sweeper() *sweep.Sweeper { return eng.sweeper }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// Machine returns the status state machine.
func (eng *Engine) Machine() *lifecycle.Machine { return eng.machine }
