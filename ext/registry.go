package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/flamehaven01/rexsyn/id"
	"github.com/flamehaven01/rexsyn/job"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type jobCreatedEntry struct {
	name string
	hook JobCreated
}

type jobStartedEntry struct {
	name string
	hook JobStarted
}

type jobCompletedEntry struct {
	name string
	hook JobCompleted
}

type jobFailedEntry struct {
	name string
	hook JobFailed
}

type jobRetriedEntry struct {
	name string
	hook JobRetried
}

type jobCancelledEntry struct {
	name string
	hook JobCancelled
}

type stageStartedEntry struct {
	name string
	hook StageStarted
}

type stageCompletedEntry struct {
	name string
	hook StageCompleted
}

type stageSkippedEntry struct {
	name string
	hook StageSkipped
}

type jobDeletedEntry struct {
	name string
	hook JobDeleted
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	jobCreated     []jobCreatedEntry
	jobStarted     []jobStartedEntry
	jobCompleted   []jobCompletedEntry
	jobFailed      []jobFailedEntry
	jobRetried     []jobRetriedEntry
	jobCancelled   []jobCancelledEntry
	stageStarted   []stageStartedEntry
	stageCompleted []stageCompletedEntry
	stageSkipped   []stageSkippedEntry
	jobDeleted     []jobDeletedEntry
	shutdown       []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(JobCreated); ok {
		r.jobCreated = append(r.jobCreated, jobCreatedEntry{name, h})
	}
	if h, ok := e.(JobStarted); ok {
		r.jobStarted = append(r.jobStarted, jobStartedEntry{name, h})
	}
	if h, ok := e.(JobCompleted); ok {
		r.jobCompleted = append(r.jobCompleted, jobCompletedEntry{name, h})
	}
	if h, ok := e.(JobFailed); ok {
		r.jobFailed = append(r.jobFailed, jobFailedEntry{name, h})
	}
	if h, ok := e.(JobRetried); ok {
		r.jobRetried = append(r.jobRetried, jobRetriedEntry{name, h})
	}
	if h, ok := e.(JobCancelled); ok {
		r.jobCancelled = append(r.jobCancelled, jobCancelledEntry{name, h})
	}
	if h, ok := e.(StageStarted); ok {
		r.stageStarted = append(r.stageStarted, stageStartedEntry{name, h})
	}
	if h, ok := e.(StageCompleted); ok {
		r.stageCompleted = append(r.stageCompleted, stageCompletedEntry{name, h})
	}
	if h, ok := e.(StageSkipped); ok {
		r.stageSkipped = append(r.stageSkipped, stageSkippedEntry{name, h})
	}
	if h, ok := e.(JobDeleted); ok {
		r.jobDeleted = append(r.jobDeleted, jobDeletedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Job event emitters
// ──────────────────────────────────────────────────

// EmitJobCreated notifies all extensions that implement JobCreated.
func (r *Registry) EmitJobCreated(ctx context.Context, j *job.Job) {
	for _, e := range r.jobCreated {
		if err := e.hook.OnJobCreated(ctx, j); err != nil {
			r.logHookError("OnJobCreated", e.name, err)
		}
	}
}

// EmitJobStarted notifies all extensions that implement JobStarted.
func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobStarted {
		if err := e.hook.OnJobStarted(ctx, j); err != nil {
			r.logHookError("OnJobStarted", e.name, err)
		}
	}
}

// EmitJobCompleted notifies all extensions that implement JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.jobCompleted {
		if err := e.hook.OnJobCompleted(ctx, j, elapsed); err != nil {
			r.logHookError("OnJobCompleted", e.name, err)
		}
	}
}

// EmitJobFailed notifies all extensions that implement JobFailed.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	for _, e := range r.jobFailed {
		if err := e.hook.OnJobFailed(ctx, j, jobErr); err != nil {
			r.logHookError("OnJobFailed", e.name, err)
		}
	}
}

// EmitJobRetried notifies all extensions that implement JobRetried.
func (r *Registry) EmitJobRetried(ctx context.Context, j *job.Job, attempt int) {
	for _, e := range r.jobRetried {
		if err := e.hook.OnJobRetried(ctx, j, attempt); err != nil {
			r.logHookError("OnJobRetried", e.name, err)
		}
	}
}

// EmitJobCancelled notifies all extensions that implement JobCancelled.
func (r *Registry) EmitJobCancelled(ctx context.Context, j *job.Job) {
	for _, e := range r.jobCancelled {
		if err := e.hook.OnJobCancelled(ctx, j); err != nil {
			r.logHookError("OnJobCancelled", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Stage event emitters
// ──────────────────────────────────────────────────

// EmitStageStarted notifies all extensions that implement StageStarted.
func (r *Registry) EmitStageStarted(ctx context.Context, j *job.Job, stage string) {
	for _, e := range r.stageStarted {
		if err := e.hook.OnStageStarted(ctx, j, stage); err != nil {
			r.logHookError("OnStageStarted", e.name, err)
		}
	}
}

// EmitStageCompleted notifies all extensions that implement StageCompleted.
func (r *Registry) EmitStageCompleted(ctx context.Context, j *job.Job, stage string, elapsed time.Duration) {
	for _, e := range r.stageCompleted {
		if err := e.hook.OnStageCompleted(ctx, j, stage, elapsed); err != nil {
			r.logHookError("OnStageCompleted", e.name, err)
		}
	}
}

// EmitStageSkipped notifies all extensions that implement StageSkipped.
func (r *Registry) EmitStageSkipped(ctx context.Context, j *job.Job, stage string) {
	for _, e := range r.stageSkipped {
		if err := e.hook.OnStageSkipped(ctx, j, stage); err != nil {
			r.logHookError("OnStageSkipped", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitJobDeleted notifies all extensions that implement JobDeleted.
func (r *Registry) EmitJobDeleted(ctx context.Context, jobID id.JobID, auditHash string, items int) {
	for _, e := range r.jobDeleted {
		if err := e.hook.OnJobDeleted(ctx, jobID, auditHash, items); err != nil {
			r.logHookError("OnJobDeleted", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block the pipeline.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
