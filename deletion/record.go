package deletion

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/flamehaven01/rexsyn"
	"github.com/flamehaven01/rexsyn/id"
)

// Item is one deleted artifact: which store held it, what kind of thing
// it was, and its identifier within that store.
type Item struct {
	Store      string `json:"store"`
	Kind       string `json:"kind"`
	Identifier string `json:"identifier"`
}

// Record is the non-repudiable audit artifact of one cascade delete.
// Created once, never mutated. AuditHash covers DeletedItems, so any
// later tampering with the list is detectable.
type Record struct {
	rexsyn.Entity

	ID    id.DeletionID `json:"id"`
	JobID id.JobID      `json:"job_id"`
	OrgID id.OrgID      `json:"org_id"`

	DeletedItems []Item `json:"deleted_items"`
	AuditHash    string `json:"audit_hash"`

	// FailedStores names external stores whose deletion failed; their
	// artifacts may need a second pass by the sweeper or an operator.
	FailedStores []string `json:"failed_stores,omitempty"`

	// ExpiresAt bounds the audit retention, independent of any job
	// retention policy.
	ExpiresAt time.Time `json:"expires_at"`
}

// Store defines the persistence contract for deletion records.
type Store interface {
	// SaveDeletionRecord persists a new deletion record.
	SaveDeletionRecord(ctx context.Context, r *Record) error

	// GetDeletionRecord retrieves the most recent deletion record for a
	// job, or rexsyn.ErrRecordNotFound.
	GetDeletionRecord(ctx context.Context, jobID id.JobID) (*Record, error)

	// PurgeDeletionRecords removes records whose ExpiresAt is at or
	// before the given time and returns how many were removed.
	PurgeDeletionRecords(ctx context.Context, now time.Time) (int, error)
}

// HashItems computes the audit hash: SHA-256 over the canonical JSON
// encoding of the item list. Items are sorted first so the hash does not
// depend on fan-out completion order.
func HashItems(items []Item) string {
	sorted := make([]Item, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Store != sorted[j].Store {
			return sorted[i].Store < sorted[j].Store
		}
		if sorted[i].Kind != sorted[j].Kind {
			return sorted[i].Kind < sorted[j].Kind
		}
		return sorted[i].Identifier < sorted[j].Identifier
	})

	// Marshal cannot fail for a slice of plain string structs.
	data, _ := json.Marshal(sorted)
	return fmt.Sprintf("sha256:%x", sha256.Sum256(data))
}
