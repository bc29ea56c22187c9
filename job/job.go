package job

import (
	"time"

	"github.com/flamehaven01/rexsyn"
	"github.com/flamehaven01/rexsyn/id"
)

// Status represents the lifecycle status of a job.
type Status string

const (
	// StatusQueued means the job is waiting to be picked up by a worker.
	StatusQueued Status = "queued"
	// StatusRunning means a worker is currently executing the job's pipeline.
	StatusRunning Status = "running"
	// StatusCompleted means every pipeline stage finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed means a stage failed; the job may be retried back to queued.
	StatusFailed Status = "failed"
	// StatusCancelled means the job was explicitly cancelled.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
// Failed is not terminal: a failed job can be requeued for retry.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Job represents a submitted pipeline run owned by a user within an
// organization. Its Status field is only mutated through the lifecycle
// package so that every transition is validated and stamped.
type Job struct {
	rexsyn.Entity

	ID       id.JobID  `json:"id"`
	OrgID    id.OrgID  `json:"org_id"`
	UserID   id.UserID `json:"user_id"`
	Pipeline string    `json:"pipeline"`
	Input    []byte    `json:"input"`
	Status   Status    `json:"status"`

	// CurrentStage is the index of the next stage to execute.
	// Progress is the fraction of stages completed, in [0, 1].
	CurrentStage int     `json:"current_stage"`
	Progress     float64 `json:"progress"`

	// Estimate is the expected total runtime, summed over the stage
	// catalogue at submission time. Used for ETA reporting.
	Estimate time.Duration `json:"estimate,omitempty"`

	MaxRetries  int    `json:"max_retries"`
	RetryCount  int    `json:"retry_count"`
	LastError   string `json:"last_error,omitempty"`
	FailedStage string `json:"failed_stage,omitempty"`

	WorkerID id.WorkerID `json:"worker_id,omitempty"`

	// RetentionDays controls when the sweeper may expire the job.
	// ExpiresAt is stamped at creation as CreatedAt plus the retention.
	RetentionDays int        `json:"retention_days"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`

	// Duration is the processing time, completion minus start, stamped
	// when the job leaves running.
	Duration time.Duration `json:"duration,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	HeartbeatAt *time.Time `json:"heartbeat_at,omitempty"`
}
