package sweep_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/flamehaven01/rexsyn"
	"github.com/flamehaven01/rexsyn/deletion"
	"github.com/flamehaven01/rexsyn/id"
	"github.com/flamehaven01/rexsyn/job"
	"github.com/flamehaven01/rexsyn/store/memory"
	"github.com/flamehaven01/rexsyn/sweep"
)

// downStore is an artifact store whose deletes always fail.
type downStore struct{}

func (downStore) Name() string { return "down" }

func (downStore) DeleteJobArtifacts(context.Context, id.JobID) ([]deletion.Item, error) {
	return nil, errors.New("connection refused")
}

func newSweepFixture(t *testing.T, artifacts []deletion.ArtifactStore, opts ...sweep.SweeperOption) (*memory.Store, *sweep.Sweeper) {
	t.Helper()
	s := memory.New()
	del := deletion.NewService(s, s, s, artifacts)
	sw, err := sweep.NewSweeper(s, del, s, "0 * * * *", append([]sweep.SweeperOption{sweep.WithLogger(slog.Default())}, opts...)...)
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	return s, sw
}

func seedJob(t *testing.T, s *memory.Store, expiresAt *time.Time) *job.Job {
	t.Helper()
	j := &job.Job{
		Entity:    rexsyn.NewEntity(),
		ID:        id.NewJobID(),
		OrgID:     id.NewOrgID(),
		UserID:    id.NewUserID(),
		Pipeline:  "structure_prediction",
		Status:    job.StatusCompleted,
		ExpiresAt: expiresAt,
	}
	if err := s.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return j
}

func past(t *testing.T) *time.Time {
	t.Helper()
	ts := time.Now().UTC().Add(-time.Hour)
	return &ts
}

func future(t *testing.T) *time.Time {
	t.Helper()
	ts := time.Now().UTC().Add(time.Hour)
	return &ts
}

func TestSweepDeletesExpiredJobs(t *testing.T) {
	ctx := context.Background()
	s, sw := newSweepFixture(t, nil)

	expired1 := seedJob(t, s, past(t))
	expired2 := seedJob(t, s, past(t))
	live := seedJob(t, s, future(t))
	forever := seedJob(t, s, nil)

	sum := sw.Sweep(ctx)

	if sum.Swept != 2 || sum.Failed != 0 {
		t.Fatalf("summary = %+v, want 2 swept, 0 failed", sum)
	}
	for _, gone := range []*job.Job{expired1, expired2} {
		if _, err := s.GetJob(ctx, gone.ID); !errors.Is(err, rexsyn.ErrJobNotFound) {
			t.Errorf("job %s: err = %v, want deleted", gone.ID, err)
		}
		if _, err := s.GetDeletionRecord(ctx, gone.ID); err != nil {
			t.Errorf("job %s: no deletion record: %v", gone.ID, err)
		}
	}
	for _, kept := range []*job.Job{live, forever} {
		if _, err := s.GetJob(ctx, kept.ID); err != nil {
			t.Errorf("job %s: should have survived: %v", kept.ID, err)
		}
	}
}

func TestSweepCountsPartialDeleteAsSwept(t *testing.T) {
	ctx := context.Background()
	s, sw := newSweepFixture(t, []deletion.ArtifactStore{downStore{}})

	j := seedJob(t, s, past(t))

	sum := sw.Sweep(ctx)

	if sum.Swept != 1 || sum.Failed != 0 {
		t.Fatalf("summary = %+v, want the partial delete counted as swept", sum)
	}
	if _, err := s.GetJob(ctx, j.ID); !errors.Is(err, rexsyn.ErrJobNotFound) {
		t.Errorf("primary rows should be gone, got err = %v", err)
	}
}

func TestSweepHonorsBatchSize(t *testing.T) {
	ctx := context.Background()
	s, sw := newSweepFixture(t, nil, sweep.WithBatchSize(2))

	for range 5 {
		seedJob(t, s, past(t))
	}

	if sum := sw.Sweep(ctx); sum.Swept != 2 {
		t.Fatalf("first sweep swept %d, want 2", sum.Swept)
	}
	if sum := sw.Sweep(ctx); sum.Swept != 2 {
		t.Fatalf("second sweep swept %d, want 2", sum.Swept)
	}
	if sum := sw.Sweep(ctx); sum.Swept != 1 {
		t.Fatalf("third sweep swept %d, want 1", sum.Swept)
	}
}

func TestSweepPurgesExpiredAuditRecords(t *testing.T) {
	ctx := context.Background()
	s, sw := newSweepFixture(t, nil)

	old := &deletion.Record{
		Entity:    rexsyn.NewEntity(),
		ID:        id.NewDeletionID(),
		JobID:     id.NewJobID(),
		OrgID:     id.NewOrgID(),
		ExpiresAt: time.Now().UTC().Add(-time.Hour),
	}
	fresh := &deletion.Record{
		Entity:    rexsyn.NewEntity(),
		ID:        id.NewDeletionID(),
		JobID:     id.NewJobID(),
		OrgID:     id.NewOrgID(),
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	for _, r := range []*deletion.Record{old, fresh} {
		if err := s.SaveDeletionRecord(ctx, r); err != nil {
			t.Fatalf("save record: %v", err)
		}
	}

	sum := sw.Sweep(ctx)

	if sum.PurgedRecords != 1 {
		t.Fatalf("purged %d records, want 1", sum.PurgedRecords)
	}
	if _, err := s.GetDeletionRecord(ctx, fresh.JobID); err != nil {
		t.Errorf("fresh record should survive: %v", err)
	}
}

func TestNewSweeperRejectsBadSchedule(t *testing.T) {
	s := memory.New()
	del := deletion.NewService(s, s, s, nil)
	if _, err := sweep.NewSweeper(s, del, s, "not a schedule"); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestSweeperFiresOnSchedule(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	del := deletion.NewService(s, s, s, nil)

	j := seedJob(t, s, past(t))

	sw, err := sweep.NewSweeper(s, del, s, "@every 10ms", sweep.WithTickInterval(5*time.Millisecond))
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	if err := sw.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer sw.Stop(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := s.GetJob(ctx, j.ID); errors.Is(err, rexsyn.ErrJobNotFound) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("scheduled sweep never deleted the expired job")
}
