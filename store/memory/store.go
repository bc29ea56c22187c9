package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/flamehaven01/rexsyn"
	"github.com/flamehaven01/rexsyn/deletion"
	"github.com/flamehaven01/rexsyn/id"
	"github.com/flamehaven01/rexsyn/job"
	"github.com/flamehaven01/rexsyn/ledger"
	"github.com/flamehaven01/rexsyn/org"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ job.Store      = (*Store)(nil)
	_ org.Store      = (*Store)(nil)
	_ ledger.Store   = (*Store)(nil)
	_ deletion.Store = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	mu sync.RWMutex

	jobs        map[string]*job.Job
	results     map[string]*job.Result          // key: job ID
	orgs        map[string]*org.Organization
	checkpoints map[string]*ledger.Checkpoint   // key: "jobID:stage"
	records     map[string]*deletion.Record     // key: record ID
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:        make(map[string]*job.Job),
		results:     make(map[string]*job.Result),
		orgs:        make(map[string]*org.Organization),
		checkpoints: make(map[string]*ledger.Checkpoint),
		records:     make(map[string]*deletion.Record),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// CreateJob persists a new job in queued status.
func (m *Store) CreateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return rexsyn.ErrJobAlreadyExists
	}
	cp := *j
	m.jobs[key] = &cp
	return nil
}

// ClaimQueuedJobs atomically claims up to limit queued jobs, sets them
// to running with the given worker ID, and returns them.
func (m *Store) ClaimQueuedJobs(_ context.Context, workerID id.WorkerID, limit int) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	candidates := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.Status == job.StatusQueued {
			candidates = append(candidates, j)
		}
	}

	sort.Slice(candidates, func(i, k int) bool {
		return candidates[i].CreatedAt.Before(candidates[k].CreatedAt)
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	now := time.Now().UTC()
	result := make([]*job.Job, len(candidates))
	for i, j := range candidates {
		j.Status = job.StatusRunning
		j.WorkerID = workerID
		if j.StartedAt == nil {
			n := now
			j.StartedAt = &n
		}
		hb := now
		j.HeartbeatAt = &hb
		// Return a copy so callers can mutate without racing with the store.
		cp := *j
		result[i] = &cp
	}

	return result, nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, rexsyn.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// UpdateJob persists changes to an existing job.
func (m *Store) UpdateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, ok := m.jobs[key]; !ok {
		return rexsyn.ErrJobNotFound
	}
	cp := *j
	cp.UpdatedAt = time.Now().UTC()
	m.jobs[key] = &cp
	return nil
}

// DeleteJob removes a job by ID.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	if _, ok := m.jobs[key]; !ok {
		return rexsyn.ErrJobNotFound
	}
	delete(m.jobs, key)
	return nil
}

// ListJobs returns jobs matching the given options, newest first.
func (m *Store) ListJobs(_ context.Context, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if !opts.OrgID.IsNil() && j.OrgID.String() != opts.OrgID.String() {
			continue
		}
		if !opts.UserID.IsNil() && j.UserID.String() != opts.UserID.String() {
			continue
		}
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		cp := *j
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})

	// Apply offset / limit.
	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// ListExpiredJobs returns jobs whose ExpiresAt is at or before now.
func (m *Store) ListExpiredJobs(_ context.Context, now time.Time, limit int) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var expired []*job.Job
	for _, j := range m.jobs {
		if j.ExpiresAt == nil || j.ExpiresAt.After(now) {
			continue
		}
		cp := *j
		expired = append(expired, &cp)
	}

	sort.Slice(expired, func(i, k int) bool {
		return expired[i].ExpiresAt.Before(*expired[k].ExpiresAt)
	})

	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	return expired, nil
}

// HeartbeatJob updates the heartbeat timestamp for a running job.
func (m *Store) HeartbeatJob(_ context.Context, jobID id.JobID, _ id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return rexsyn.ErrJobNotFound
	}
	now := time.Now().UTC()
	j.HeartbeatAt = &now
	return nil
}

// ReapStaleJobs returns running jobs whose last heartbeat is older than
// the given threshold.
func (m *Store) ReapStaleJobs(_ context.Context, threshold time.Duration) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-threshold)
	var stale []*job.Job
	for _, j := range m.jobs {
		if j.Status != job.StatusRunning {
			continue
		}
		if j.HeartbeatAt != nil && j.HeartbeatAt.Before(cutoff) {
			cp := *j
			stale = append(stale, &cp)
		}
	}
	return stale, nil
}

// CountJobs returns the number of jobs matching the given options.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, j := range m.jobs {
		if !opts.OrgID.IsNil() && j.OrgID.String() != opts.OrgID.String() {
			continue
		}
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		count++
	}
	return count, nil
}

// SaveResult persists the final aggregate for a completed job,
// replacing any existing result for the same job.
func (m *Store) SaveResult(_ context.Context, r *job.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *r
	m.results[r.JobID.String()] = &cp
	return nil
}

// GetResult retrieves the result for a job.
func (m *Store) GetResult(_ context.Context, jobID id.JobID) (*job.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.results[jobID.String()]
	if !ok {
		return nil, rexsyn.ErrResultNotFound
	}
	cp := *r
	return &cp, nil
}

// DeleteResult removes the result for a job, if any.
func (m *Store) DeleteResult(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.results, jobID.String())
	return nil
}

// ──────────────────────────────────────────────────
// Org Store
// ──────────────────────────────────────────────────

// CreateOrg persists a new organization.
func (m *Store) CreateOrg(_ context.Context, o *org.Organization) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *o
	m.orgs[o.ID.String()] = &cp
	return nil
}

// GetOrg retrieves an organization by ID.
func (m *Store) GetOrg(_ context.Context, orgID id.OrgID) (*org.Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orgs[orgID.String()]
	if !ok {
		return nil, rexsyn.ErrOrgNotFound
	}
	cp := *o
	return &cp, nil
}

// UpdateOrg persists changes to an existing organization.
func (m *Store) UpdateOrg(_ context.Context, o *org.Organization) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := o.ID.String()
	if _, ok := m.orgs[key]; !ok {
		return rexsyn.ErrOrgNotFound
	}
	cp := *o
	cp.UpdatedAt = time.Now().UTC()
	m.orgs[key] = &cp
	return nil
}

// ──────────────────────────────────────────────────
// Checkpoint Ledger
// ──────────────────────────────────────────────────

// checkpointKey builds a composite map key for a checkpoint.
func checkpointKey(jobID id.JobID, stage string) string {
	return jobID.String() + ":" + stage
}

// MarkStarted records that a stage began. A no-op once a completed
// record exists for the pair.
func (m *Store) MarkStarted(_ context.Context, jobID id.JobID, stage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := checkpointKey(jobID, stage)
	if cp, ok := m.checkpoints[key]; ok && cp.Status == ledger.StatusCompleted {
		return nil
	}
	m.checkpoints[key] = &ledger.Checkpoint{
		Entity: rexsyn.NewEntity(),
		ID:     id.NewCheckpointID(),
		JobID:  jobID,
		Stage:  stage,
		Status: ledger.StatusStarted,
	}
	return nil
}

// MarkCompleted records a stage completion. Idempotent on the
// (job, stage) key: the first completed payload wins.
func (m *Store) MarkCompleted(_ context.Context, jobID id.JobID, stage string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := checkpointKey(jobID, stage)
	if cp, ok := m.checkpoints[key]; ok && cp.Status == ledger.StatusCompleted {
		return nil
	}
	m.checkpoints[key] = &ledger.Checkpoint{
		Entity:  rexsyn.NewEntity(),
		ID:      id.NewCheckpointID(),
		JobID:   jobID,
		Stage:   stage,
		Status:  ledger.StatusCompleted,
		Payload: payload,
	}
	return nil
}

// GetCompleted returns the completed checkpoint for (job, stage).
func (m *Store) GetCompleted(_ context.Context, jobID id.JobID, stage string) (*ledger.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cp, ok := m.checkpoints[checkpointKey(jobID, stage)]
	if !ok || cp.Status != ledger.StatusCompleted {
		return nil, rexsyn.ErrCheckpointNotFound
	}
	out := *cp
	return &out, nil
}

// ListCheckpoints returns all checkpoints for a job, oldest first.
func (m *Store) ListCheckpoints(_ context.Context, jobID id.JobID) ([]*ledger.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix := jobID.String() + ":"
	var result []*ledger.Checkpoint
	for k, cp := range m.checkpoints {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			out := *cp
			result = append(result, &out)
		}
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	return result, nil
}

// DeleteCheckpoints removes every checkpoint for a job.
func (m *Store) DeleteCheckpoints(_ context.Context, jobID id.JobID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := jobID.String() + ":"
	var count int
	for k := range m.checkpoints {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			delete(m.checkpoints, k)
			count++
		}
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// Deletion Records
// ──────────────────────────────────────────────────

// SaveDeletionRecord persists a new deletion record.
func (m *Store) SaveDeletionRecord(_ context.Context, r *deletion.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *r
	m.records[r.ID.String()] = &cp
	return nil
}

// GetDeletionRecord retrieves the most recent deletion record for a job.
func (m *Store) GetDeletionRecord(_ context.Context, jobID id.JobID) (*deletion.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *deletion.Record
	for _, r := range m.records {
		if r.JobID.String() != jobID.String() {
			continue
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, rexsyn.ErrRecordNotFound
	}
	cp := *latest
	return &cp, nil
}

// PurgeDeletionRecords removes records whose ExpiresAt is at or before now.
func (m *Store) PurgeDeletionRecords(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int
	for k, r := range m.records {
		if !r.ExpiresAt.After(now) {
			delete(m.records, k)
			count++
		}
	}
	return count, nil
}
