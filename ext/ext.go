package ext

import (
	"context"
	"time"

	"github.com/flamehaven01/rexsyn/id"
	"github.com/flamehaven01/rexsyn/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobCreated is called after a job is successfully created in queued status.
type JobCreated interface {
	OnJobCreated(ctx context.Context, j *job.Job) error
}

// JobStarted is called when a worker begins running a claimed job. A
// redelivered job emits it again.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after every stage of a job finishes.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when a stage error moves a job to failed.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobRetried is called when a failed job is requeued for another attempt.
type JobRetried interface {
	OnJobRetried(ctx context.Context, j *job.Job, attempt int) error
}

// JobCancelled is called when a job is cancelled.
type JobCancelled interface {
	OnJobCancelled(ctx context.Context, j *job.Job) error
}

// ──────────────────────────────────────────────────
// Stage hooks
// ──────────────────────────────────────────────────

// StageStarted is called before a stage implementation runs.
type StageStarted interface {
	OnStageStarted(ctx context.Context, j *job.Job, stage string) error
}

// StageCompleted is called after a stage implementation succeeds and its
// checkpoint is durable.
type StageCompleted interface {
	OnStageCompleted(ctx context.Context, j *job.Job, stage string, elapsed time.Duration) error
}

// StageSkipped is called when the executor finds an existing completed
// checkpoint and reuses its payload instead of re-running the stage.
type StageSkipped interface {
	OnStageSkipped(ctx context.Context, j *job.Job, stage string) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// JobDeleted is called after a cascade delete finishes. The audit hash
// covers the list of deleted items; items counts the tuples removed.
type JobDeleted interface {
	OnJobDeleted(ctx context.Context, jobID id.JobID, auditHash string, items int) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
