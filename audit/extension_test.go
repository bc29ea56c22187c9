package audit_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/flamehaven01/rexsyn/audit"
	"github.com/flamehaven01/rexsyn/ext"
	"github.com/flamehaven01/rexsyn/id"
	"github.com/flamehaven01/rexsyn/job"
)

// ── Mock recorder ────────────────────────────────────

// mockRecorder captures audit events for verification.
type mockRecorder struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (m *mockRecorder) Record(_ context.Context, evt *audit.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *mockRecorder) last() *audit.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *mockRecorder) findByAction(action string) *audit.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, evt := range m.events {
		if evt.Action == action {
			return evt
		}
	}
	return nil
}

// ── Test helpers ─────────────────────────────────────

func newTestJob() *job.Job {
	return &job.Job{
		ID:         id.NewJobID(),
		OrgID:      id.NewOrgID(),
		UserID:     id.NewUserID(),
		Pipeline:   "structure_prediction",
		MaxRetries: 3,
		RetryCount: 1,
	}
}

// ── Tests ────────────────────────────────────────────

func TestExtension_Name(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)
	if e.Name() != "audit" {
		t.Errorf("expected name %q, got %q", "audit", e.Name())
	}
}

// ── Job lifecycle tests ──────────────────────────────

func TestExtension_JobCreated(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)
	ctx := context.Background()
	j := newTestJob()

	if err := e.OnJobCreated(ctx, j); err != nil {
		t.Fatalf("OnJobCreated: %v", err)
	}

	evt := rec.last()
	if evt == nil {
		t.Fatal("no event recorded")
	}
	if evt.Action != audit.ActionJobCreated {
		t.Errorf("Action: want %q, got %q", audit.ActionJobCreated, evt.Action)
	}
	if evt.Resource != audit.ResourceJob {
		t.Errorf("Resource: want %q, got %q", audit.ResourceJob, evt.Resource)
	}
	if evt.Category != audit.CategoryJob {
		t.Errorf("Category: want %q, got %q", audit.CategoryJob, evt.Category)
	}
	if evt.ResourceID != j.ID.String() {
		t.Errorf("ResourceID: want %q, got %q", j.ID.String(), evt.ResourceID)
	}
	if evt.Severity != audit.SeverityInfo {
		t.Errorf("Severity: want %q, got %q", audit.SeverityInfo, evt.Severity)
	}
	if evt.Outcome != audit.OutcomeSuccess {
		t.Errorf("Outcome: want %q, got %q", audit.OutcomeSuccess, evt.Outcome)
	}
	if evt.Metadata["pipeline"] != "structure_prediction" {
		t.Errorf("Metadata[pipeline]: want %q, got %v", "structure_prediction", evt.Metadata["pipeline"])
	}
	if evt.Metadata["org_id"] != j.OrgID.String() {
		t.Errorf("Metadata[org_id]: want %q, got %v", j.OrgID.String(), evt.Metadata["org_id"])
	}
}

func TestExtension_JobStarted(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)

	j := newTestJob()
	j.WorkerID = id.NewWorkerID()

	if err := e.OnJobStarted(context.Background(), j); err != nil {
		t.Fatalf("OnJobStarted: %v", err)
	}

	evt := rec.last()
	if evt.Action != audit.ActionJobStarted {
		t.Errorf("Action: want %q, got %q", audit.ActionJobStarted, evt.Action)
	}
	if evt.Metadata["worker_id"] != j.WorkerID.String() {
		t.Errorf("Metadata[worker_id]: want %q, got %v", j.WorkerID.String(), evt.Metadata["worker_id"])
	}
}

func TestExtension_JobCompleted(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)

	j := newTestJob()
	elapsed := 150 * time.Millisecond

	if err := e.OnJobCompleted(context.Background(), j, elapsed); err != nil {
		t.Fatalf("OnJobCompleted: %v", err)
	}

	evt := rec.last()
	if evt.Action != audit.ActionJobCompleted {
		t.Errorf("Action: want %q, got %q", audit.ActionJobCompleted, evt.Action)
	}
	if evt.Metadata["elapsed_ms"] != elapsed.Milliseconds() {
		t.Errorf("Metadata[elapsed_ms]: want %d, got %v", elapsed.Milliseconds(), evt.Metadata["elapsed_ms"])
	}
}

func TestExtension_JobFailed(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)

	j := newTestJob()
	j.FailedStage = "structure_prediction"
	jobErr := errors.New("predictor unavailable")

	if err := e.OnJobFailed(context.Background(), j, jobErr); err != nil {
		t.Fatalf("OnJobFailed: %v", err)
	}

	evt := rec.last()
	if evt.Action != audit.ActionJobFailed {
		t.Errorf("Action: want %q, got %q", audit.ActionJobFailed, evt.Action)
	}
	if evt.Severity != audit.SeverityCritical {
		t.Errorf("Severity: want %q, got %q", audit.SeverityCritical, evt.Severity)
	}
	if evt.Outcome != audit.OutcomeFailure {
		t.Errorf("Outcome: want %q, got %q", audit.OutcomeFailure, evt.Outcome)
	}
	if evt.Reason != "predictor unavailable" {
		t.Errorf("Reason: want %q, got %q", "predictor unavailable", evt.Reason)
	}
	if evt.Metadata["failed_stage"] != "structure_prediction" {
		t.Errorf("Metadata[failed_stage]: want %q, got %v", "structure_prediction", evt.Metadata["failed_stage"])
	}
	if evt.Metadata["retry_count"] != 1 {
		t.Errorf("Metadata[retry_count]: want %d, got %v", 1, evt.Metadata["retry_count"])
	}
}

func TestExtension_JobRetried(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)

	j := newTestJob()

	if err := e.OnJobRetried(context.Background(), j, 2); err != nil {
		t.Fatalf("OnJobRetried: %v", err)
	}

	evt := rec.last()
	if evt.Action != audit.ActionJobRetried {
		t.Errorf("Action: want %q, got %q", audit.ActionJobRetried, evt.Action)
	}
	if evt.Severity != audit.SeverityWarning {
		t.Errorf("Severity: want %q, got %q", audit.SeverityWarning, evt.Severity)
	}
	if evt.Metadata["attempt"] != 2 {
		t.Errorf("Metadata[attempt]: want %d, got %v", 2, evt.Metadata["attempt"])
	}
}

func TestExtension_JobCancelled(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)

	if err := e.OnJobCancelled(context.Background(), newTestJob()); err != nil {
		t.Fatalf("OnJobCancelled: %v", err)
	}

	evt := rec.last()
	if evt.Action != audit.ActionJobCancelled {
		t.Errorf("Action: want %q, got %q", audit.ActionJobCancelled, evt.Action)
	}
}

func TestExtension_JobDeleted(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)
	jobID := id.NewJobID()

	if err := e.OnJobDeleted(context.Background(), jobID, "sha256:abc123", 5); err != nil {
		t.Fatalf("OnJobDeleted: %v", err)
	}

	evt := rec.last()
	if evt.Action != audit.ActionJobDeleted {
		t.Errorf("Action: want %q, got %q", audit.ActionJobDeleted, evt.Action)
	}
	if evt.Category != audit.CategoryDeletion {
		t.Errorf("Category: want %q, got %q", audit.CategoryDeletion, evt.Category)
	}
	if evt.Severity != audit.SeverityWarning {
		t.Errorf("Severity: want %q, got %q", audit.SeverityWarning, evt.Severity)
	}
	if evt.Metadata["audit_hash"] != "sha256:abc123" {
		t.Errorf("Metadata[audit_hash]: want %q, got %v", "sha256:abc123", evt.Metadata["audit_hash"])
	}
	if evt.Metadata["deleted_items"] != 5 {
		t.Errorf("Metadata[deleted_items]: want %d, got %v", 5, evt.Metadata["deleted_items"])
	}
}

// ── Stage tests ──────────────────────────────────────

func TestExtension_StageCompleted(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)

	j := newTestJob()

	if err := e.OnStageCompleted(context.Background(), j, "ethics_check", 200*time.Millisecond); err != nil {
		t.Fatalf("OnStageCompleted: %v", err)
	}

	evt := rec.last()
	if evt.Action != audit.ActionStageCompleted {
		t.Errorf("Action: want %q, got %q", audit.ActionStageCompleted, evt.Action)
	}
	if evt.Resource != audit.ResourceStage {
		t.Errorf("Resource: want %q, got %q", audit.ResourceStage, evt.Resource)
	}
	if evt.ResourceID != "ethics_check" {
		t.Errorf("ResourceID: want %q, got %q", "ethics_check", evt.ResourceID)
	}
	if evt.Metadata["job_id"] != j.ID.String() {
		t.Errorf("Metadata[job_id]: want %q, got %v", j.ID.String(), evt.Metadata["job_id"])
	}
	if evt.Metadata["elapsed_ms"] != int64(200) {
		t.Errorf("Metadata[elapsed_ms]: want %d, got %v", 200, evt.Metadata["elapsed_ms"])
	}
}

func TestExtension_StageSkipped(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)

	if err := e.OnStageSkipped(context.Background(), newTestJob(), "input_validation"); err != nil {
		t.Fatalf("OnStageSkipped: %v", err)
	}

	evt := rec.last()
	if evt.Action != audit.ActionStageSkipped {
		t.Errorf("Action: want %q, got %q", audit.ActionStageSkipped, evt.Action)
	}
}

// ── WithActions filter tests ─────────────────────────

func TestExtension_WithActions_FiltersDisabled(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec, audit.WithActions(audit.ActionJobCompleted, audit.ActionJobFailed))

	ctx := context.Background()
	j := newTestJob()

	// Created is NOT enabled — should be silently skipped.
	if err := e.OnJobCreated(ctx, j); err != nil {
		t.Fatalf("OnJobCreated: %v", err)
	}
	if rec.count() != 0 {
		t.Errorf("expected 0 events (created disabled), got %d", rec.count())
	}

	// Completed IS enabled — should be recorded.
	if err := e.OnJobCompleted(ctx, j, 50*time.Millisecond); err != nil {
		t.Fatalf("OnJobCompleted: %v", err)
	}
	if rec.count() != 1 {
		t.Errorf("expected 1 event (completed enabled), got %d", rec.count())
	}

	// Failed IS enabled — should be recorded.
	if err := e.OnJobFailed(ctx, j, errors.New("boom")); err != nil {
		t.Fatalf("OnJobFailed: %v", err)
	}
	if rec.count() != 2 {
		t.Errorf("expected 2 events, got %d", rec.count())
	}
}

// ── RecorderFunc adapter test ────────────────────────

func TestRecorderFunc(t *testing.T) {
	var captured *audit.Event
	fn := audit.RecorderFunc(func(_ context.Context, evt *audit.Event) error {
		captured = evt
		return nil
	})

	e := audit.New(fn)

	if err := e.OnJobCreated(context.Background(), newTestJob()); err != nil {
		t.Fatalf("OnJobCreated: %v", err)
	}
	if captured == nil {
		t.Fatal("RecorderFunc was not called")
	}
	if captured.Action != audit.ActionJobCreated {
		t.Errorf("Action: want %q, got %q", audit.ActionJobCreated, captured.Action)
	}
}

// ── Recorder error handling test ─────────────────────

func TestExtension_RecorderError_DoesNotPropagate(t *testing.T) {
	failingRecorder := audit.RecorderFunc(func(_ context.Context, _ *audit.Event) error {
		return errors.New("audit backend down")
	})

	e := audit.New(failingRecorder)

	// Hook should NOT return an error — audit failures must not block
	// the job pipeline.
	if err := e.OnJobCreated(context.Background(), newTestJob()); err != nil {
		t.Fatalf("expected no error (audit failure swallowed), got: %v", err)
	}
}

// ── Registry integration test ────────────────────────

func TestExtension_ViaRegistry(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)
	logger := slog.Default()

	reg := ext.NewRegistry(logger)
	reg.Register(e)

	ctx := context.Background()
	j := newTestJob()

	reg.EmitJobCreated(ctx, j)
	reg.EmitJobStarted(ctx, j)
	reg.EmitJobCompleted(ctx, j, 50*time.Millisecond)
	reg.EmitJobFailed(ctx, j, errors.New("fail"))
	reg.EmitJobRetried(ctx, j, 1)
	reg.EmitJobCancelled(ctx, j)
	reg.EmitJobDeleted(ctx, id.NewJobID(), "sha256:abc", 3)
	reg.EmitStageStarted(ctx, j, "stage-1")
	reg.EmitStageCompleted(ctx, j, "stage-1", time.Second)
	reg.EmitStageSkipped(ctx, j, "stage-2")

	// Verify all event types were recorded.
	allActions := audit.AllActions()
	if rec.count() != len(allActions) {
		t.Fatalf("expected %d events, got %d", len(allActions), rec.count())
	}

	for _, action := range allActions {
		evt := rec.findByAction(action)
		if evt == nil {
			t.Errorf("missing event for action %q", action)
		}
	}
}

// ── AllActions test ──────────────────────────────────

func TestAllActions(t *testing.T) {
	actions := audit.AllActions()
	if len(actions) != 10 {
		t.Errorf("expected 10 actions, got %d", len(actions))
	}
}
