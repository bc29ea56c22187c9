package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/flamehaven01/rexsyn/ext"
	"github.com/flamehaven01/rexsyn/id"
	"github.com/flamehaven01/rexsyn/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension      = (*Extension)(nil)
	_ ext.JobCreated     = (*Extension)(nil)
	_ ext.JobStarted     = (*Extension)(nil)
	_ ext.JobCompleted   = (*Extension)(nil)
	_ ext.JobFailed      = (*Extension)(nil)
	_ ext.JobRetried     = (*Extension)(nil)
	_ ext.JobCancelled   = (*Extension)(nil)
	_ ext.JobDeleted     = (*Extension)(nil)
	_ ext.StageStarted   = (*Extension)(nil)
	_ ext.StageCompleted = (*Extension)(nil)
	_ ext.StageSkipped   = (*Extension)(nil)
)

// Recorder is the interface audit backends must implement. It is
// defined locally so this package does not depend on any particular
// trail storage; callers bridge to their backend with a RecorderFunc.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *Event) error
}

// Event is an audit trail entry.
type Event struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *Event) error

func (f RecorderFunc) Record(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges job lifecycle events to an audit trail backend.
// Each lifecycle hook emits a structured audit event through the
// [Recorder].
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided
// Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit" }

// ── Job lifecycle hooks ─────────────────────────────

// OnJobCreated implements ext.JobCreated.
func (e *Extension) OnJobCreated(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobCreated, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, nil,
		"pipeline", j.Pipeline,
		"org_id", j.OrgID.String(),
		"user_id", j.UserID.String(),
	)
}

// OnJobStarted implements ext.JobStarted.
func (e *Extension) OnJobStarted(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobStarted, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, nil,
		"pipeline", j.Pipeline,
		"worker_id", j.WorkerID.String(),
	)
}

// OnJobCompleted implements ext.JobCompleted.
func (e *Extension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	return e.record(ctx, ActionJobCompleted, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, nil,
		"pipeline", j.Pipeline,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnJobFailed implements ext.JobFailed.
func (e *Extension) OnJobFailed(ctx context.Context, j *job.Job, jobErr error) error {
	return e.record(ctx, ActionJobFailed, SeverityCritical, OutcomeFailure,
		ResourceJob, j.ID.String(), CategoryJob, jobErr,
		"pipeline", j.Pipeline,
		"failed_stage", j.FailedStage,
		"retry_count", j.RetryCount,
		"max_retries", j.MaxRetries,
	)
}

// OnJobRetried implements ext.JobRetried.
func (e *Extension) OnJobRetried(ctx context.Context, j *job.Job, attempt int) error {
	return e.record(ctx, ActionJobRetried, SeverityWarning, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, nil,
		"pipeline", j.Pipeline,
		"attempt", attempt,
	)
}

// OnJobCancelled implements ext.JobCancelled.
func (e *Extension) OnJobCancelled(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobCancelled, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, nil,
		"pipeline", j.Pipeline,
	)
}

// OnJobDeleted implements ext.JobDeleted. The audit hash lets the trail
// be checked against the deletion record later.
func (e *Extension) OnJobDeleted(ctx context.Context, jobID id.JobID, auditHash string, items int) error {
	return e.record(ctx, ActionJobDeleted, SeverityWarning, OutcomeSuccess,
		ResourceJob, jobID.String(), CategoryDeletion, nil,
		"audit_hash", auditHash,
		"deleted_items", items,
	)
}

// ── Stage hooks ─────────────────────────────────────

// OnStageStarted implements ext.StageStarted.
func (e *Extension) OnStageStarted(ctx context.Context, j *job.Job, stage string) error {
	return e.record(ctx, ActionStageStarted, SeverityInfo, OutcomeSuccess,
		ResourceStage, stage, CategoryStage, nil,
		"job_id", j.ID.String(),
	)
}

// OnStageCompleted implements ext.StageCompleted.
func (e *Extension) OnStageCompleted(ctx context.Context, j *job.Job, stage string, elapsed time.Duration) error {
	return e.record(ctx, ActionStageCompleted, SeverityInfo, OutcomeSuccess,
		ResourceStage, stage, CategoryStage, nil,
		"job_id", j.ID.String(),
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnStageSkipped implements ext.StageSkipped.
func (e *Extension) OnStageSkipped(ctx context.Context, j *job.Job, stage string) error {
	return e.record(ctx, ActionStageSkipped, SeverityInfo, OutcomeSuccess,
		ResourceStage, stage, CategoryStage, nil,
		"job_id", j.ID.String(),
	)
}

// ── Internal helpers ────────────────────────────────

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &Event{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
