package postgres

import (
	"context"
	"fmt"

	"github.com/flamehaven01/rexsyn"
	"github.com/flamehaven01/rexsyn/id"
	"github.com/flamehaven01/rexsyn/ledger"
)

// MarkStarted records that a stage began. The (job_id, stage) primary
// key makes repeated calls no-ops, and an existing completed record is
// never downgraded.
func (s *Store) MarkStarted(ctx context.Context, jobID id.JobID, stage string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rexsyn_checkpoints (id, job_id, stage, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (job_id, stage) DO NOTHING`,
		id.NewCheckpointID().String(), jobID.String(), stage, string(ledger.StatusStarted),
	)
	if err != nil {
		return fmt.Errorf("rexsyn/postgres: mark started: %w", err)
	}
	return nil
}

// MarkCompleted records a stage completion with its result payload as an
// atomic insert-or-replace on (job_id, stage). The guarded upsert keeps
// the first completed payload: a concurrent duplicate completion updates
// nothing once a completed row exists.
func (s *Store) MarkCompleted(ctx context.Context, jobID id.JobID, stage string, payload []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rexsyn_checkpoints (id, job_id, stage, status, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (job_id, stage) DO UPDATE SET
			status = EXCLUDED.status,
			payload = EXCLUDED.payload,
			updated_at = NOW()
		WHERE rexsyn_checkpoints.status <> 'completed'`,
		id.NewCheckpointID().String(), jobID.String(), stage, string(ledger.StatusCompleted), payload,
	)
	if err != nil {
		return fmt.Errorf("rexsyn/postgres: mark completed: %w", err)
	}
	return nil
}

// GetCompleted returns the completed checkpoint for (job, stage).
func (s *Store) GetCompleted(ctx context.Context, jobID id.JobID, stage string) (*ledger.Checkpoint, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, job_id, stage, status, payload, created_at, updated_at
		FROM rexsyn_checkpoints
		WHERE job_id = $1 AND stage = $2 AND status = 'completed'`,
		jobID.String(), stage,
	)

	cp, err := scanCheckpoint(row)
	if err != nil {
		if isNoRows(err) {
			return nil, rexsyn.ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("rexsyn/postgres: get completed checkpoint: %w", err)
	}
	return cp, nil
}

// ListCheckpoints returns all checkpoints for a job, oldest first.
func (s *Store) ListCheckpoints(ctx context.Context, jobID id.JobID) ([]*ledger.Checkpoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, stage, status, payload, created_at, updated_at
		FROM rexsyn_checkpoints
		WHERE job_id = $1
		ORDER BY created_at ASC`,
		jobID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("rexsyn/postgres: list checkpoints: %w", err)
	}
	defer rows.Close()

	var cps []*ledger.Checkpoint
	for rows.Next() {
		cp, scanErr := scanCheckpoint(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("rexsyn/postgres: scan checkpoint row: %w", scanErr)
		}
		cps = append(cps, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rexsyn/postgres: iterate checkpoint rows: %w", err)
	}
	return cps, nil
}

// DeleteCheckpoints removes every checkpoint for a job and returns how
// many were removed.
func (s *Store) DeleteCheckpoints(ctx context.Context, jobID id.JobID) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM rexsyn_checkpoints WHERE job_id = $1`,
		jobID.String(),
	)
	if err != nil {
		return 0, fmt.Errorf("rexsyn/postgres: delete checkpoints: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanCheckpoint(row interface{ Scan(...any) error }) (*ledger.Checkpoint, error) {
	var (
		cp        ledger.Checkpoint
		idStr     string
		jobStr    string
		statusStr string
	)
	err := row.Scan(&idStr, &jobStr, &cp.Stage, &statusStr, &cp.Payload, &cp.CreatedAt, &cp.UpdatedAt)
	if err != nil {
		return nil, err
	}

	cp.Status = ledger.Status(statusStr)
	if cp.ID, err = id.ParseCheckpointID(idStr); err != nil {
		return nil, fmt.Errorf("rexsyn/postgres: parse checkpoint id %q: %w", idStr, err)
	}
	if cp.JobID, err = id.ParseJobID(jobStr); err != nil {
		return nil, fmt.Errorf("rexsyn/postgres: parse job id %q: %w", jobStr, err)
	}
	return &cp, nil
}
