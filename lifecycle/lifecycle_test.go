package lifecycle_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/flamehaven01/rexsyn"
	"github.com/flamehaven01/rexsyn/id"
	"github.com/flamehaven01/rexsyn/job"
	"github.com/flamehaven01/rexsyn/lifecycle"
)

func newJob(status job.Status) *job.Job {
	return &job.Job{
		Entity:     rexsyn.NewEntity(),
		ID:         id.NewJobID(),
		OrgID:      id.NewOrgID(),
		UserID:     id.NewUserID(),
		Status:     status,
		MaxRetries: 3,
	}
}

// ──────────────────────────────────────────────────
// Transition table
// ──────────────────────────────────────────────────

func TestTransitionTable(t *testing.T) {
	all := []job.Status{
		job.StatusQueued, job.StatusRunning,
		job.StatusCompleted, job.StatusFailed, job.StatusCancelled,
	}
	allowed := map[job.Status][]job.Status{
		job.StatusQueued:    {job.StatusRunning, job.StatusCancelled},
		job.StatusRunning:   {job.StatusCompleted, job.StatusFailed, job.StatusCancelled},
		job.StatusCompleted: {},
		job.StatusFailed:    {job.StatusQueued},
		job.StatusCancelled: {},
	}

	m := lifecycle.New(3)
	for from, targets := range allowed {
		for _, to := range all {
			ok := false
			for _, a := range targets {
				if a == to {
					ok = true
				}
			}
			if got := m.CanTransition(from, to); got != ok {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, ok)
			}
		}
	}
}

func TestInvalidTransitionLeavesJobUnmodified(t *testing.T) {
	m := lifecycle.New(3)
	j := newJob(job.StatusCompleted)
	j.Progress = 1.0
	before := *j

	err := m.Transition(j, job.StatusRunning, nil)
	if !errors.Is(err, rexsyn.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	var terr *lifecycle.TransitionError
	if !errors.As(err, &terr) {
		t.Fatalf("expected *TransitionError, got %T", err)
	}
	if terr.From != job.StatusCompleted || terr.To != job.StatusRunning {
		t.Errorf("error should name both states, got %+v", terr)
	}
	if !strings.Contains(err.Error(), "completed") || !strings.Contains(err.Error(), "running") {
		t.Errorf("message should name both states, got %q", err.Error())
	}

	if j.Status != before.Status || j.Progress != before.Progress {
		t.Error("job must be unmodified after a rejected transition")
	}
}

// ──────────────────────────────────────────────────
// Stamping
// ──────────────────────────────────────────────────

func TestRunningStampsStartOnce(t *testing.T) {
	m := lifecycle.New(3)
	j := newJob(job.StatusQueued)

	if err := m.Transition(j, job.StatusRunning, nil); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if j.StartedAt == nil {
		t.Fatal("StartedAt should be stamped on entering running")
	}

	first := *j.StartedAt

	// Fail, retry, run again: the retry clears StartedAt, so the second
	// run stamps a fresh baseline.
	if err := m.Transition(j, job.StatusFailed, &lifecycle.ErrorInfo{Message: "boom"}); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if err := m.Transition(j, job.StatusQueued, nil); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if j.StartedAt != nil {
		t.Fatal("retry should clear StartedAt")
	}
	if err := m.Transition(j, job.StatusRunning, nil); err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if j.StartedAt == nil || j.StartedAt.Before(first) {
		t.Error("second run should stamp a fresh start time")
	}
}

func TestCompletedStamps(t *testing.T) {
	m := lifecycle.New(3)
	j := newJob(job.StatusQueued)
	if err := m.Transition(j, job.StatusRunning, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := m.Transition(j, job.StatusCompleted, nil); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if j.Progress != 1.0 {
		t.Errorf("progress = %v, want 1.0", j.Progress)
	}
	if j.CompletedAt == nil {
		t.Error("CompletedAt should be stamped")
	}
	if j.Duration < 0 {
		t.Errorf("duration should be non-negative, got %v", j.Duration)
	}
}

func TestFailedRecordsError(t *testing.T) {
	m := lifecycle.New(3)
	j := newJob(job.StatusRunning)
	now := time.Now().UTC()
	j.StartedAt = &now

	info := &lifecycle.ErrorInfo{Message: "stage blew up", Trace: "goroutine 1 ...", Stage: "structure_prediction"}
	if err := m.Transition(j, job.StatusFailed, info); err != nil {
		t.Fatalf("fail: %v", err)
	}

	if j.Progress != 0.0 {
		t.Errorf("progress = %v, want 0.0", j.Progress)
	}
	if !strings.Contains(j.LastError, "stage blew up") || !strings.Contains(j.LastError, "goroutine 1") {
		t.Errorf("LastError should carry message and trace, got %q", j.LastError)
	}
	if j.FailedStage != "structure_prediction" {
		t.Errorf("FailedStage = %q", j.FailedStage)
	}
	if j.CompletedAt == nil {
		t.Error("CompletedAt should be stamped on failed")
	}
}

func TestCancelledStamps(t *testing.T) {
	m := lifecycle.New(3)
	j := newJob(job.StatusQueued)
	if err := m.Transition(j, job.StatusCancelled, nil); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if j.Progress != 0.0 || j.CancelledAt == nil || j.CompletedAt == nil {
		t.Errorf("unexpected cancel stamps: progress=%v cancelled=%v completed=%v", j.Progress, j.CancelledAt, j.CompletedAt)
	}
}

func TestTerminalIffCompletedAt(t *testing.T) {
	m := lifecycle.New(3)

	paths := map[string][]job.Status{
		"completed": {job.StatusRunning, job.StatusCompleted},
		"failed":    {job.StatusRunning, job.StatusFailed},
		"cancelled": {job.StatusCancelled},
	}

	for name, path := range paths {
		t.Run(name, func(t *testing.T) {
			j := newJob(job.StatusQueued)
			for _, target := range path {
				var info *lifecycle.ErrorInfo
				if target == job.StatusFailed {
					info = &lifecycle.ErrorInfo{Message: "x"}
				}
				if err := m.Transition(j, target, info); err != nil {
					t.Fatalf("transition to %s: %v", target, err)
				}
			}
			if j.CompletedAt == nil {
				t.Errorf("CompletedAt should be set at %s", j.Status)
			}
		})
	}

	// Non-terminal statuses must not carry a completion timestamp.
	j := newJob(job.StatusQueued)
	if err := m.Transition(j, job.StatusRunning, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if j.CompletedAt != nil {
		t.Error("running job should not have CompletedAt")
	}
}

// ──────────────────────────────────────────────────
// Retry
// ──────────────────────────────────────────────────

func TestRetryClearsErrorFields(t *testing.T) {
	m := lifecycle.New(3)
	j := newJob(job.StatusRunning)
	now := time.Now().UTC()
	j.StartedAt = &now
	j.CurrentStage = 2
	j.Progress = 0.4

	if err := m.Transition(j, job.StatusFailed, &lifecycle.ErrorInfo{Message: "boom", Stage: "ethics_check"}); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if err := m.Transition(j, job.StatusQueued, nil); err != nil {
		t.Fatalf("retry: %v", err)
	}

	if j.Status != job.StatusQueued {
		t.Errorf("status = %s, want queued", j.Status)
	}
	if j.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", j.RetryCount)
	}
	if j.LastError != "" || j.FailedStage != "" {
		t.Error("retry should clear error fields")
	}
	if j.Progress != 0.0 || j.CurrentStage != 0 {
		t.Error("retry should reset progress and stage index")
	}
	if j.StartedAt != nil || j.CompletedAt != nil {
		t.Error("retry should clear run timestamps")
	}
}

func TestRetryLimitExceeded(t *testing.T) {
	m := lifecycle.New(3)
	j := newJob(job.StatusFailed)
	j.RetryCount = 3

	err := m.Transition(j, job.StatusQueued, nil)
	if !errors.Is(err, rexsyn.ErrRetryLimitExceeded) {
		t.Fatalf("expected ErrRetryLimitExceeded, got %v", err)
	}
	if j.Status != job.StatusFailed {
		t.Errorf("job should remain failed, got %s", j.Status)
	}
	if j.RetryCount != 3 {
		t.Errorf("retry count should be unchanged, got %d", j.RetryCount)
	}
}

// ──────────────────────────────────────────────────
// Stage advancement
// ──────────────────────────────────────────────────

func TestAdvanceStageProgressMonotonic(t *testing.T) {
	m := lifecycle.New(3)
	j := newJob(job.StatusQueued)
	if err := m.Transition(j, job.StatusRunning, nil); err != nil {
		t.Fatalf("run: %v", err)
	}

	const total = 5
	prev := j.Progress
	for i := 0; i < total; i++ {
		if err := m.AdvanceStage(j, total); err != nil {
			t.Fatalf("advance %d: %v", i, err)
		}
		if j.Progress < prev {
			t.Errorf("progress decreased: %v < %v", j.Progress, prev)
		}
		prev = j.Progress
	}

	if j.Status != job.StatusCompleted {
		t.Errorf("final advance should complete the job, got %s", j.Status)
	}
	if j.Progress != 1.0 {
		t.Errorf("progress = %v, want 1.0", j.Progress)
	}
}

func TestAdvanceStageIntermediate(t *testing.T) {
	m := lifecycle.New(3)
	j := newJob(job.StatusQueued)
	if err := m.Transition(j, job.StatusRunning, nil); err != nil {
		t.Fatalf("run: %v", err)
	}

	if err := m.AdvanceStage(j, 4); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if j.CurrentStage != 1 {
		t.Errorf("stage index = %d, want 1", j.CurrentStage)
	}
	if j.Progress != 0.25 {
		t.Errorf("progress = %v, want 0.25", j.Progress)
	}
	if j.Status != job.StatusRunning {
		t.Errorf("status = %s, want running", j.Status)
	}
}

// ──────────────────────────────────────────────────
// ETA
// ──────────────────────────────────────────────────

func TestETA(t *testing.T) {
	j := newJob(job.StatusQueued)
	j.Estimate = 100 * time.Second

	if eta := lifecycle.ETA(j); eta != nil {
		t.Errorf("ETA before start should be nil, got %v", *eta)
	}

	now := time.Now().UTC()
	j.StartedAt = &now
	j.Progress = 0.75
	eta := lifecycle.ETA(j)
	if eta == nil {
		t.Fatal("ETA after start should not be nil")
	}
	if *eta != 25*time.Second {
		t.Errorf("ETA = %v, want 25s", *eta)
	}
}

func TestDetail(t *testing.T) {
	j := newJob(job.StatusRunning)
	j.CurrentStage = 2
	j.Progress = 0.5
	j.RetryCount = 1

	d := lifecycle.Detail(j)
	if d.Status != job.StatusRunning || d.CurrentStage != 2 || d.Progress != 0.5 || d.RetryCount != 1 {
		t.Errorf("unexpected detail: %+v", d)
	}
}
