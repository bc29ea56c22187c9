// Package deletion implements the cascading cross-store delete. A job's
// data lives in the primary store and in independent artifact stores
// (object storage, experiment tracker, cache); compliance deletion must
// remove all of it, tolerate a single store's outage, and leave a
// tamper-evident audit record of what was removed.
package deletion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flamehaven01/rexsyn"
	"github.com/flamehaven01/rexsyn/ext"
	"github.com/flamehaven01/rexsyn/id"
	"github.com/flamehaven01/rexsyn/job"
	"github.com/flamehaven01/rexsyn/ledger"
)

// primaryStore names the primary database in deletion records.
const primaryStore = "primary"

// ArtifactStore removes a job's artifacts from one external backend.
// Implementations live under artifact/.
type ArtifactStore interface {
	// Name identifies the backend in deletion records and logs.
	Name() string

	// DeleteJobArtifacts removes everything the backend holds for the
	// job and returns the identifiers of the removed items.
	DeleteJobArtifacts(ctx context.Context, jobID id.JobID) ([]Item, error)
}

// PartialError reports that one or more artifact stores failed during a
// cascade delete. The delete still produced a record: the primary store
// rows are gone and the job is gone from the user's perspective, but
// stray artifacts remain in the named stores.
type PartialError struct {
	JobID  id.JobID
	Stores []string
	Errs   []error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("deletion: job %s: %d store(s) failed (%s)", e.JobID, len(e.Stores), strings.Join(e.Stores, ", "))
}

func (e *PartialError) Unwrap() []error { return e.Errs }

// Service performs cascade deletes. Construct with NewService.
type Service struct {
	jobs      job.Store
	ledger    ledger.Store
	records   Store
	artifacts []ArtifactStore
	hooks     *ext.Registry
	logger    *slog.Logger

	fanout         int
	bulkFanout     int
	auditRetention time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithHooks sets the extension registry notified after each delete.
func WithHooks(hooks *ext.Registry) Option {
	return func(s *Service) { s.hooks = hooks }
}

// WithLogger sets the service's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithFanout bounds the per-job artifact store concurrency.
func WithFanout(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.fanout = n
		}
	}
}

// WithBulkFanout bounds how many per-job deletes a bulk erasure runs at
// once.
func WithBulkFanout(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.bulkFanout = n
		}
	}
}

// WithAuditRetention sets how long deletion records are kept.
func WithAuditRetention(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.auditRetention = d
		}
	}
}

// NewService creates a cascade delete service over the given stores.
func NewService(jobs job.Store, led ledger.Store, records Store, artifacts []ArtifactStore, opts ...Option) *Service {
	cfg := rexsyn.DefaultConfig()
	s := &Service{
		jobs:           jobs,
		ledger:         led,
		records:        records,
		artifacts:      artifacts,
		logger:         slog.Default(),
		fanout:         cfg.DeleteConcurrency,
		bulkFanout:     cfg.BulkDeleteConcurrency,
		auditRetention: cfg.AuditRetention,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Delete removes every trace of the job: primary store rows
// synchronously, then artifact stores concurrently with bounded fan-out.
// The orgID must match the job's organization; a mismatch (or a missing
// job) short-circuits before anything is deleted.
//
// A non-nil Record is returned whenever the primary deletion succeeded.
// If some artifact stores failed, the error is a *PartialError and the
// record lists the failures; callers treat that as a successful delete
// with follow-up needed, not a failure.
func (s *Service) Delete(ctx context.Context, jobID id.JobID, orgID id.OrgID) (*Record, error) {
	j, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("deletion: load job %s: %w", jobID, err)
	}
	if j.OrgID.String() != orgID.String() {
		return nil, fmt.Errorf("deletion: job %s: %w", jobID, rexsyn.ErrOrgMismatch)
	}

	// Primary store first, synchronously. This is the authorization
	// anchor: external stores are only touched once the job row is gone.
	items, err := s.deletePrimary(ctx, jobID)
	if err != nil {
		return nil, err
	}

	items, failedStores, storeErrs := s.deleteArtifacts(ctx, jobID, items)

	rec := &Record{
		Entity:       rexsyn.NewEntity(),
		ID:           id.NewDeletionID(),
		JobID:        jobID,
		OrgID:        orgID,
		DeletedItems: items,
		AuditHash:    HashItems(items),
		FailedStores: failedStores,
		ExpiresAt:    time.Now().UTC().Add(s.auditRetention),
	}
	if err := s.records.SaveDeletionRecord(ctx, rec); err != nil {
		return rec, fmt.Errorf("deletion: job %s: persist record: %w", jobID, err)
	}

	if s.hooks != nil {
		s.hooks.EmitJobDeleted(ctx, jobID, rec.AuditHash, len(items))
	}
	s.logger.Info("job deleted",
		slog.String("job_id", jobID.String()),
		slog.Int("items", len(items)),
		slog.Int("failed_stores", len(failedStores)),
		slog.String("audit_hash", rec.AuditHash),
	)

	if len(storeErrs) > 0 {
		return rec, &PartialError{JobID: jobID, Stores: failedStores, Errs: storeErrs}
	}
	return rec, nil
}

// deletePrimary removes the job's rows from the primary store: result,
// checkpoints, then the job itself. Any failure aborts the cascade.
func (s *Service) deletePrimary(ctx context.Context, jobID id.JobID) ([]Item, error) {
	var items []Item

	res, err := s.jobs.GetResult(ctx, jobID)
	switch {
	case err == nil:
		if err := s.jobs.DeleteResult(ctx, jobID); err != nil {
			return nil, fmt.Errorf("deletion: job %s: delete result: %w", jobID, err)
		}
		items = append(items, Item{Store: primaryStore, Kind: "result", Identifier: res.ID.String()})
	case errors.Is(err, rexsyn.ErrResultNotFound):
		// No result to delete.
	default:
		return nil, fmt.Errorf("deletion: job %s: load result: %w", jobID, err)
	}

	n, err := s.ledger.DeleteCheckpoints(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("deletion: job %s: delete checkpoints: %w", jobID, err)
	}
	if n > 0 {
		items = append(items, Item{
			Store:      primaryStore,
			Kind:       "checkpoints",
			Identifier: fmt.Sprintf("%s (%d records)", jobID, n),
		})
	}

	if err := s.jobs.DeleteJob(ctx, jobID); err != nil {
		return nil, fmt.Errorf("deletion: job %s: delete job row: %w", jobID, err)
	}
	items = append(items, Item{Store: primaryStore, Kind: "job", Identifier: jobID.String()})

	return items, nil
}

// deleteArtifacts fans out to the external stores with bounded
// concurrency. Failures are collected, never propagated between stores:
// one backend's outage must not block erasure from the others.
func (s *Service) deleteArtifacts(ctx context.Context, jobID id.JobID, items []Item) ([]Item, []string, []error) {
	var (
		mu           sync.Mutex
		failedStores []string
		storeErrs    []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fanout)

	for _, store := range s.artifacts {
		g.Go(func() error {
			deleted, err := store.DeleteJobArtifacts(gctx, jobID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failedStores = append(failedStores, store.Name())
				storeErrs = append(storeErrs, fmt.Errorf("%s: %w", store.Name(), err))
				s.logger.Warn("artifact store deletion failed",
					slog.String("job_id", jobID.String()),
					slog.String("store", store.Name()),
					slog.String("error", err.Error()),
				)
				return nil
			}
			items = append(items, deleted...)
			return nil
		})
	}

	// Goroutines never return errors; Wait is for the join only.
	_ = g.Wait()

	return items, failedStores, storeErrs
}

// BulkOutcome reports one job's fate within a bulk erasure.
type BulkOutcome struct {
	JobID  id.JobID `json:"job_id"`
	Record *Record  `json:"record,omitempty"`
	Err    string   `json:"error,omitempty"`
}

// BulkSummary aggregates a bulk erasure. Partial artifact failures
// count as deleted; only jobs whose primary deletion failed appear in
// Failed.
type BulkSummary struct {
	Deleted []BulkOutcome `json:"deleted"`
	Failed  []BulkOutcome `json:"failed"`
}

// DeleteAllForUser cascade-deletes every job the user owns within the
// organization, with bounded concurrency. One bad job record never
// aborts the rest: per-job outcomes are aggregated into the summary.
func (s *Service) DeleteAllForUser(ctx context.Context, userID id.UserID, orgID id.OrgID) (*BulkSummary, error) {
	jobs, err := s.jobs.ListJobs(ctx, job.ListOpts{UserID: userID, OrgID: orgID})
	if err != nil {
		return nil, fmt.Errorf("deletion: list jobs for user %s: %w", userID, err)
	}

	var (
		mu      sync.Mutex
		summary BulkSummary
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.bulkFanout)

	for _, j := range jobs {
		g.Go(func() error {
			rec, err := s.Delete(gctx, j.ID, orgID)

			mu.Lock()
			defer mu.Unlock()

			var partial *PartialError
			switch {
			case err == nil, errors.As(err, &partial):
				summary.Deleted = append(summary.Deleted, BulkOutcome{JobID: j.ID, Record: rec})
			default:
				summary.Failed = append(summary.Failed, BulkOutcome{JobID: j.ID, Err: err.Error()})
			}
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("bulk erasure finished",
		slog.String("user_id", userID.String()),
		slog.Int("deleted", len(summary.Deleted)),
		slog.Int("failed", len(summary.Failed)),
	)

	return &summary, nil
}
