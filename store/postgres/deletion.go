package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/flamehaven01/rexsyn"
	"github.com/flamehaven01/rexsyn/deletion"
	"github.com/flamehaven01/rexsyn/id"
)

// SaveDeletionRecord persists a new deletion record. Item lists are
// stored as JSONB so the audit hash can be re-verified against the
// canonical encoding.
func (s *Store) SaveDeletionRecord(ctx context.Context, r *deletion.Record) error {
	items, err := json.Marshal(r.DeletedItems)
	if err != nil {
		return fmt.Errorf("rexsyn/postgres: encode deleted items: %w", err)
	}
	var failed []byte
	if len(r.FailedStores) > 0 {
		if failed, err = json.Marshal(r.FailedStores); err != nil {
			return fmt.Errorf("rexsyn/postgres: encode failed stores: %w", err)
		}
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO rexsyn_deletion_records (
			id, job_id, org_id, deleted_items, audit_hash, failed_stores,
			expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID.String(), r.JobID.String(), r.OrgID.String(), items, r.AuditHash, failed,
		r.ExpiresAt, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("rexsyn/postgres: save deletion record: %w", err)
	}
	return nil
}

// GetDeletionRecord retrieves the most recent deletion record for a job.
func (s *Store) GetDeletionRecord(ctx context.Context, jobID id.JobID) (*deletion.Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, job_id, org_id, deleted_items, audit_hash, failed_stores,
		       expires_at, created_at, updated_at
		FROM rexsyn_deletion_records
		WHERE job_id = $1
		ORDER BY created_at DESC
		LIMIT 1`,
		jobID.String(),
	)

	var (
		r      deletion.Record
		idStr  string
		jobStr string
		orgStr string
		items  []byte
		failed []byte
	)
	err := row.Scan(&idStr, &jobStr, &orgStr, &items, &r.AuditHash, &failed,
		&r.ExpiresAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, rexsyn.ErrRecordNotFound
		}
		return nil, fmt.Errorf("rexsyn/postgres: get deletion record: %w", err)
	}

	if err := json.Unmarshal(items, &r.DeletedItems); err != nil {
		return nil, fmt.Errorf("rexsyn/postgres: decode deleted items: %w", err)
	}
	if len(failed) > 0 {
		if err := json.Unmarshal(failed, &r.FailedStores); err != nil {
			return nil, fmt.Errorf("rexsyn/postgres: decode failed stores: %w", err)
		}
	}
	if r.ID, err = id.ParseDeletionID(idStr); err != nil {
		return nil, fmt.Errorf("rexsyn/postgres: parse deletion id %q: %w", idStr, err)
	}
	if r.JobID, err = id.ParseJobID(jobStr); err != nil {
		return nil, fmt.Errorf("rexsyn/postgres: parse job id %q: %w", jobStr, err)
	}
	if r.OrgID, err = id.ParseOrgID(orgStr); err != nil {
		return nil, fmt.Errorf("rexsyn/postgres: parse org id %q: %w", orgStr, err)
	}
	return &r, nil
}

// PurgeDeletionRecords removes records whose ExpiresAt is at or before
// the given time and returns how many were removed.
func (s *Store) PurgeDeletionRecords(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM rexsyn_deletion_records WHERE expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("rexsyn/postgres: purge deletion records: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
