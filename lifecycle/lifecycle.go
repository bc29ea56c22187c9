// Package lifecycle enforces the job status machine. Every status write
// goes through [Machine.Transition], which validates the edge against a
// fixed table and stamps timestamps, progress, and duration as a side
// effect. Illegal edges leave the job unmodified.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/flamehaven01/rexsyn"
	"github.com/flamehaven01/rexsyn/id"
	"github.com/flamehaven01/rexsyn/job"
)

// transitions is the complete edge table. Absence means rejection.
// Failed has exactly one outbound edge, back to queued, which is
// additionally gated by the retry ceiling.
var transitions = map[job.Status][]job.Status{
	job.StatusQueued:    {job.StatusRunning, job.StatusCancelled},
	job.StatusRunning:   {job.StatusCompleted, job.StatusFailed, job.StatusCancelled},
	job.StatusCompleted: {},
	job.StatusFailed:    {job.StatusQueued},
	job.StatusCancelled: {},
}

// TransitionError reports a rejected status change. It unwraps to either
// rexsyn.ErrInvalidTransition or rexsyn.ErrRetryLimitExceeded.
type TransitionError struct {
	JobID id.JobID
	From  job.Status
	To    job.Status

	err error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("lifecycle: job %s: cannot transition from %s to %s: %v", e.JobID, e.From, e.To, e.err)
}

func (e *TransitionError) Unwrap() error { return e.err }

// ErrorInfo carries the failure detail recorded when a job enters the
// failed status.
type ErrorInfo struct {
	Message string
	Trace   string
	Stage   string
}

// Machine validates and applies status transitions.
type Machine struct {
	retryLimit int
}

// New creates a status machine with the given retry ceiling. A zero or
// negative limit falls back to the engine default.
func New(retryLimit int) *Machine {
	if retryLimit <= 0 {
		retryLimit = rexsyn.DefaultConfig().RetryLimit
	}
	return &Machine{retryLimit: retryLimit}
}

// CanTransition reports whether the edge from → to exists in the table.
// It does not evaluate the retry ceiling.
func (m *Machine) CanTransition(from, to job.Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves the job to the target status, stamping timestamps,
// progress, and duration. errInfo is required when target is failed and
// ignored otherwise. The job is mutated in place only on success.
func (m *Machine) Transition(j *job.Job, target job.Status, errInfo *ErrorInfo) error {
	if !m.CanTransition(j.Status, target) {
		return &TransitionError{JobID: j.ID, From: j.Status, To: target, err: rexsyn.ErrInvalidTransition}
	}

	now := time.Now().UTC()

	switch target {
	case job.StatusRunning:
		if j.StartedAt == nil {
			j.StartedAt = &now
		}

	case job.StatusCompleted:
		j.Progress = 1.0
		j.CompletedAt = &now
		m.stampDuration(j, now)

	case job.StatusFailed:
		j.Progress = 0.0
		j.CompletedAt = &now
		m.stampDuration(j, now)
		if errInfo != nil {
			j.LastError = errInfo.Message
			if errInfo.Trace != "" {
				j.LastError = errInfo.Message + "\n" + errInfo.Trace
			}
			j.FailedStage = errInfo.Stage
		}

	case job.StatusCancelled:
		j.Progress = 0.0
		j.CompletedAt = &now
		j.CancelledAt = &now
		m.stampDuration(j, now)

	case job.StatusQueued:
		// Retry path: failed → queued, gated by the ceiling. Error fields
		// and run timestamps are cleared; stage checkpoints are not, so a
		// re-run skips work that already completed.
		if j.RetryCount >= m.retryLimit {
			return &TransitionError{JobID: j.ID, From: j.Status, To: target, err: rexsyn.ErrRetryLimitExceeded}
		}
		j.RetryCount++
		j.LastError = ""
		j.FailedStage = ""
		j.Progress = 0.0
		j.CurrentStage = 0
		j.Duration = 0
		j.StartedAt = nil
		j.CompletedAt = nil
		j.WorkerID = id.Nil
	}

	j.Status = target
	j.Touch()

	return nil
}

func (m *Machine) stampDuration(j *job.Job, now time.Time) {
	if j.StartedAt != nil {
		j.Duration = now.Sub(*j.StartedAt)
	}
}

// AdvanceStage records completion of the job's current stage, setting
// progress to (stageIndex+1)/totalStages. Completing the final stage
// performs the completed transition itself so that "last stage done" and
// "job done" are synonymous.
func (m *Machine) AdvanceStage(j *job.Job, totalStages int) error {
	if totalStages <= 0 {
		return fmt.Errorf("lifecycle: job %s: total stages must be positive", j.ID)
	}

	done := j.CurrentStage + 1
	if done >= totalStages {
		return m.Transition(j, job.StatusCompleted, nil)
	}

	j.Progress = float64(done) / float64(totalStages)
	j.CurrentStage = done
	j.Touch()

	return nil
}

// ETA returns the estimated remaining runtime, computed as the total
// estimate scaled by the unfinished fraction. Returns nil before the job
// has started: no extrapolation without a baseline.
func ETA(j *job.Job) *time.Duration {
	if j.StartedAt == nil || j.Estimate <= 0 {
		return nil
	}
	remaining := time.Duration(float64(j.Estimate) * (1.0 - j.Progress))
	if remaining < 0 {
		remaining = 0
	}
	return &remaining
}

// ProgressDetail is a read-only snapshot of a job's pipeline position.
type ProgressDetail struct {
	Status       job.Status     `json:"status"`
	CurrentStage int            `json:"current_stage"`
	Progress     float64        `json:"progress"`
	RetryCount   int            `json:"retry_count"`
	ETA          *time.Duration `json:"eta,omitempty"`
	LastError    string         `json:"last_error,omitempty"`
	FailedStage  string         `json:"failed_stage,omitempty"`
}

// Detail snapshots the job's progress for status reporting.
func Detail(j *job.Job) ProgressDetail {
	return ProgressDetail{
		Status:       j.Status,
		CurrentStage: j.CurrentStage,
		Progress:     j.Progress,
		RetryCount:   j.RetryCount,
		ETA:          ETA(j),
		LastError:    j.LastError,
		FailedStage:  j.FailedStage,
	}
}
