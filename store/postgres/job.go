package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/flamehaven01/rexsyn"
	"github.com/flamehaven01/rexsyn/id"
	"github.com/flamehaven01/rexsyn/job"
)

const jobColumns = `
	id, org_id, user_id, pipeline, input, status,
	current_stage, progress, estimate_ns, max_retries, retry_count,
	last_error, failed_stage, worker_id, retention_days, expires_at,
	duration_ns, started_at, completed_at, cancelled_at, heartbeat_at,
	created_at, updated_at`

// CreateJob persists a new job in queued status.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rexsyn_jobs (
			id, org_id, user_id, pipeline, input, status,
			current_stage, progress, estimate_ns, max_retries, retry_count,
			last_error, failed_stage, worker_id, retention_days, expires_at,
			duration_ns, started_at, completed_at, cancelled_at, heartbeat_at,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21,
			$22, $23
		)`,
		j.ID.String(), j.OrgID.String(), j.UserID.String(), j.Pipeline, j.Input, string(j.Status),
		j.CurrentStage, j.Progress, j.Estimate.Nanoseconds(), j.MaxRetries, j.RetryCount,
		j.LastError, j.FailedStage, j.WorkerID.String(), j.RetentionDays, j.ExpiresAt,
		j.Duration.Nanoseconds(), j.StartedAt, j.CompletedAt, j.CancelledAt, j.HeartbeatAt,
		j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return rexsyn.ErrJobAlreadyExists
		}
		return fmt.Errorf("rexsyn/postgres: create job: %w", err)
	}
	return nil
}

// ClaimQueuedJobs atomically claims up to limit queued jobs, sets them to
// running with the given worker ID, and returns them. Uses SELECT FOR
// UPDATE SKIP LOCKED so concurrent workers never claim the same job.
func (s *Store) ClaimQueuedJobs(ctx context.Context, workerID id.WorkerID, limit int) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		WITH claimed AS (
			UPDATE rexsyn_jobs
			SET status = 'running',
			    worker_id = $1,
			    started_at = COALESCE(started_at, NOW()),
			    heartbeat_at = NOW(),
			    updated_at = NOW()
			WHERE id IN (
				SELECT id FROM rexsyn_jobs
				WHERE status = 'queued'
				ORDER BY created_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT $2
			)
			RETURNING `+jobColumns+`
		)
		SELECT * FROM claimed ORDER BY created_at ASC`,
		workerID.String(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("rexsyn/postgres: claim queued jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM rexsyn_jobs WHERE id = $1`,
		jobID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, rexsyn.ErrJobNotFound
		}
		return nil, fmt.Errorf("rexsyn/postgres: get job: %w", err)
	}
	return j, nil
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE rexsyn_jobs SET
			pipeline = $2, input = $3, status = $4,
			current_stage = $5, progress = $6, estimate_ns = $7,
			max_retries = $8, retry_count = $9,
			last_error = $10, failed_stage = $11, worker_id = $12,
			retention_days = $13, expires_at = $14, duration_ns = $15,
			started_at = $16, completed_at = $17, cancelled_at = $18,
			heartbeat_at = $19, updated_at = NOW()
		WHERE id = $1`,
		j.ID.String(), j.Pipeline, j.Input, string(j.Status),
		j.CurrentStage, j.Progress, j.Estimate.Nanoseconds(),
		j.MaxRetries, j.RetryCount,
		j.LastError, j.FailedStage, j.WorkerID.String(),
		j.RetentionDays, j.ExpiresAt, j.Duration.Nanoseconds(),
		j.StartedAt, j.CompletedAt, j.CancelledAt,
		j.HeartbeatAt,
	)
	if err != nil {
		return fmt.Errorf("rexsyn/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return rexsyn.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM rexsyn_jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return fmt.Errorf("rexsyn/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return rexsyn.ErrJobNotFound
	}
	return nil
}

// ListJobs returns jobs matching the given options, newest first.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM rexsyn_jobs WHERE 1=1`
	args := []any{}
	argIdx := 1

	if !opts.OrgID.IsNil() {
		query += fmt.Sprintf(" AND org_id = $%d", argIdx)
		args = append(args, opts.OrgID.String())
		argIdx++
	}
	if !opts.UserID.IsNil() {
		query += fmt.Sprintf(" AND user_id = $%d", argIdx)
		args = append(args, opts.UserID.String())
		argIdx++
	}
	if opts.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(opts.Status))
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("rexsyn/postgres: list jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// ListExpiredJobs returns jobs whose ExpiresAt is at or before the given
// time, oldest expiry first, up to limit.
func (s *Store) ListExpiredJobs(ctx context.Context, now time.Time, limit int) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM rexsyn_jobs
		WHERE expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY expires_at ASC
		LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("rexsyn/postgres: list expired jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// HeartbeatJob updates the heartbeat timestamp for a running job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE rexsyn_jobs
		SET heartbeat_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'running' AND worker_id = $2`,
		jobID.String(), workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("rexsyn/postgres: heartbeat job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return rexsyn.ErrJobNotFound
	}
	return nil
}

// ReapStaleJobs returns running jobs whose last heartbeat is older than
// the given threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM rexsyn_jobs
		WHERE status = 'running'
		  AND heartbeat_at IS NOT NULL
		  AND heartbeat_at < NOW() - $1::interval`,
		threshold.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("rexsyn/postgres: reap stale jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM rexsyn_jobs WHERE 1=1`
	args := []any{}
	argIdx := 1

	if !opts.OrgID.IsNil() {
		query += fmt.Sprintf(" AND org_id = $%d", argIdx)
		args = append(args, opts.OrgID.String())
		argIdx++
	}
	if opts.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(opts.Status))
	}

	var count int64
	err := s.pool.QueryRow(ctx, query, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("rexsyn/postgres: count jobs: %w", err)
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// Results
// ──────────────────────────────────────────────────

// SaveResult persists the final aggregate for a completed job. Replays
// of the final stage upsert onto the existing row instead of failing.
func (s *Store) SaveResult(ctx context.Context, r *job.Result) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rexsyn_results (
			id, job_id, output, quality_score, grade, confidence,
			plddt, ove_score, refinement_applied, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (job_id) DO UPDATE SET
			output = EXCLUDED.output,
			quality_score = EXCLUDED.quality_score,
			grade = EXCLUDED.grade,
			confidence = EXCLUDED.confidence,
			plddt = EXCLUDED.plddt,
			ove_score = EXCLUDED.ove_score,
			refinement_applied = EXCLUDED.refinement_applied,
			updated_at = NOW()`,
		r.ID.String(), r.JobID.String(), r.Output, r.QualityScore, string(r.Grade), r.Confidence,
		r.PLDDT, r.OVEScore, r.RefinementApplied, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("rexsyn/postgres: save result: %w", err)
	}
	return nil
}

// GetResult retrieves the result for a job.
func (s *Store) GetResult(ctx context.Context, jobID id.JobID) (*job.Result, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, job_id, output, quality_score, grade, confidence,
		       plddt, ove_score, refinement_applied, created_at, updated_at
		FROM rexsyn_results WHERE job_id = $1`,
		jobID.String(),
	)

	var (
		r        job.Result
		idStr    string
		jobStr   string
		gradeStr string
	)
	err := row.Scan(
		&idStr, &jobStr, &r.Output, &r.QualityScore, &gradeStr, &r.Confidence,
		&r.PLDDT, &r.OVEScore, &r.RefinementApplied, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, rexsyn.ErrResultNotFound
		}
		return nil, fmt.Errorf("rexsyn/postgres: get result: %w", err)
	}

	r.Grade = job.QualityGrade(gradeStr)
	if r.ID, err = id.ParseResultID(idStr); err != nil {
		return nil, fmt.Errorf("rexsyn/postgres: parse result id %q: %w", idStr, err)
	}
	if r.JobID, err = id.ParseJobID(jobStr); err != nil {
		return nil, fmt.Errorf("rexsyn/postgres: parse job id %q: %w", jobStr, err)
	}
	return &r, nil
}

// DeleteResult removes the result for a job, if any.
func (s *Store) DeleteResult(ctx context.Context, jobID id.JobID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM rexsyn_results WHERE job_id = $1`, jobID.String())
	if err != nil {
		return fmt.Errorf("rexsyn/postgres: delete result: %w", err)
	}
	return nil
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j          job.Job
		idStr      string
		orgStr     string
		userStr    string
		statusStr  string
		workerStr  string
		estimateNs int64
		durationNs int64
	)
	err := row.Scan(
		&idStr, &orgStr, &userStr, &j.Pipeline, &j.Input, &statusStr,
		&j.CurrentStage, &j.Progress, &estimateNs, &j.MaxRetries, &j.RetryCount,
		&j.LastError, &j.FailedStage, &workerStr, &j.RetentionDays, &j.ExpiresAt,
		&durationNs, &j.StartedAt, &j.CompletedAt, &j.CancelledAt, &j.HeartbeatAt,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Status = job.Status(statusStr)
	j.Estimate = time.Duration(estimateNs)
	j.Duration = time.Duration(durationNs)

	if j.ID, err = id.ParseJobID(idStr); err != nil {
		return nil, fmt.Errorf("rexsyn/postgres: parse job id %q: %w", idStr, err)
	}
	if j.OrgID, err = id.ParseOrgID(orgStr); err != nil {
		return nil, fmt.Errorf("rexsyn/postgres: parse org id %q: %w", orgStr, err)
	}
	if j.UserID, err = id.ParseUserID(userStr); err != nil {
		return nil, fmt.Errorf("rexsyn/postgres: parse user id %q: %w", userStr, err)
	}
	if workerStr != "" {
		if parsed, workerErr := id.ParseWorkerID(workerStr); workerErr == nil {
			j.WorkerID = parsed
		}
	}

	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("rexsyn/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rexsyn/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
