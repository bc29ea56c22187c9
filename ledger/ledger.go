// Package ledger defines the append-only checkpoint log that makes stage
// execution resumable. A completed record per (job, stage) is the sole
// proof that a stage ran; the executor treats it as authoritative even
// when the in-memory job disagrees. Records are written with idempotent
// upserts, never read-then-write, so duplicate deliveries racing each
// other cannot conflict fatally.
package ledger

import (
	"context"
	"errors"

	"github.com/flamehaven01/rexsyn"
	"github.com/flamehaven01/rexsyn/id"
)

// Status tags a checkpoint as a stage start or a stage completion.
type Status string

const (
	// StatusStarted records that a stage began executing. Informational:
	// duplicates from redelivered runs are harmless.
	StatusStarted Status = "started"
	// StatusCompleted records that a stage finished, with its payload.
	// At most one completed record exists per (job, stage).
	StatusCompleted Status = "completed"
)

// Checkpoint is one durable record in the ledger. Write-once: records
// are never mutated after insertion, except that a started record is
// superseded by the completed upsert for the same (job, stage).
type Checkpoint struct {
	rexsyn.Entity

	ID      id.CheckpointID `json:"id"`
	JobID   id.JobID        `json:"job_id"`
	Stage   string          `json:"stage"`
	Status  Status          `json:"status"`
	Payload []byte          `json:"payload,omitempty"`
}

// Store defines the persistence contract for the checkpoint ledger.
// Implementations must make MarkCompleted an atomic insert-or-replace on
// the (job, stage) key; a unique constraint or equivalent, not a lookup
// followed by a write.
type Store interface {
	// MarkStarted records that a stage began. Safe to call more than once
	// for the same (job, stage); later calls are no-ops once a completed
	// record exists.
	MarkStarted(ctx context.Context, jobID id.JobID, stage string) error

	// MarkCompleted records a stage completion with its result payload.
	// Idempotent: a concurrent or repeated completion for the same
	// (job, stage) must not fail, and the first payload wins.
	MarkCompleted(ctx context.Context, jobID id.JobID, stage string, payload []byte) error

	// GetCompleted returns the completed checkpoint for (job, stage), or
	// rexsyn.ErrCheckpointNotFound if the stage has not completed.
	GetCompleted(ctx context.Context, jobID id.JobID, stage string) (*Checkpoint, error)

	// ListCheckpoints returns all checkpoints for a job, oldest first.
	ListCheckpoints(ctx context.Context, jobID id.JobID) ([]*Checkpoint, error)

	// DeleteCheckpoints removes every checkpoint for a job and returns
	// how many were removed. Used only by the cascade delete path.
	DeleteCheckpoints(ctx context.Context, jobID id.JobID) (int, error)
}

// Completed reports whether a completed checkpoint exists for the pair,
// swallowing only the not-found case.
func Completed(ctx context.Context, s Store, jobID id.JobID, stage string) (bool, error) {
	_, err := s.GetCompleted(ctx, jobID, stage)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, rexsyn.ErrCheckpointNotFound):
		return false, nil
	default:
		return false, err
	}
}
