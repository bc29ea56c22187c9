// Package ext defines the extension system for Rexsyn.
//
// Extensions are notified of lifecycle events and can react to them —
// recording metrics, tracing stages, writing audit logs, etc.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
//	    log.Printf("job %s completed in %s", j.ID, elapsed)
//	    return nil
//	}
//
// # Job Lifecycle Hooks
//
//   - [JobCreated] — job was accepted in queued status
//   - [JobStarted] — a worker began running the job
//   - [JobCompleted] — every stage finished successfully
//   - [JobFailed] — a stage error moved the job to failed
//   - [JobRetried] — a failed job was requeued for another attempt
//   - [JobCancelled] — the job was cancelled
//
// # Stage Hooks
//
//   - [StageStarted] — a stage implementation is about to run
//   - [StageCompleted] — a stage finished and its checkpoint is durable
//   - [StageSkipped] — an existing checkpoint was reused instead of re-running
//
// # Other Hooks
//
//   - [JobDeleted] — a cascade delete finished, with its audit hash
//   - [Shutdown] — the engine is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
