package job

import (
	"context"
	"time"

	"github.com/flamehaven01/rexsyn/id"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// OrgID filters by owning organization. Nil means all organizations.
	OrgID id.OrgID
	// UserID filters by owning user. Nil means all users.
	UserID id.UserID
	// Status filters by job status. Empty means all statuses.
	Status Status
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// OrgID filters by owning organization. Nil means all organizations.
	OrgID id.OrgID
	// Status filters by job status. Empty means all statuses.
	Status Status
}

// Store defines the persistence contract for jobs and their results.
type Store interface {
	// CreateJob persists a new job in queued status.
	CreateJob(ctx context.Context, j *Job) error

	// ClaimQueuedJobs atomically claims up to limit queued jobs, sets them
	// to running with the given worker ID, and returns them. Jobs are
	// ordered by creation time (ascending).
	ClaimQueuedJobs(ctx context.Context, workerID id.WorkerID, limit int) ([]*Job, error)

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// UpdateJob persists changes to an existing job.
	UpdateJob(ctx context.Context, j *Job) error

	// DeleteJob removes a job by ID.
	DeleteJob(ctx context.Context, jobID id.JobID) error

	// ListJobs returns jobs matching the given options, newest first.
	ListJobs(ctx context.Context, opts ListOpts) ([]*Job, error)

	// ListExpiredJobs returns jobs whose ExpiresAt is at or before the
	// given time, up to limit.
	ListExpiredJobs(ctx context.Context, now time.Time, limit int) ([]*Job, error)

	// HeartbeatJob updates the heartbeat timestamp for a running job,
	// indicating the worker is still alive.
	HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error

	// ReapStaleJobs returns running jobs whose last heartbeat is older than
	// the given threshold, indicating the worker may have crashed.
	ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*Job, error)

	// CountJobs returns the number of jobs matching the given options.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)

	// SaveResult persists the final aggregate for a completed job,
	// replacing any existing result for the same job. Replays of the
	// final stage must not fail here.
	SaveResult(ctx context.Context, r *Result) error

	// GetResult retrieves the result for a job.
	GetResult(ctx context.Context, jobID id.JobID) (*Result, error)

	// DeleteResult removes the result for a job, if any.
	DeleteResult(ctx context.Context, jobID id.JobID) error
}
