// Package job defines the job entity, its status values, the result
// aggregate, and the store interface.
//
// # Job Entity
//
// A [Job] represents a submitted pipeline run. It embeds [rexsyn.Entity]
// for timestamps, carries a JSON input payload, and progresses through a
// status machine:
//
//	queued → running → completed
//	queued → running → failed → queued → ...
//	queued → cancelled
//	running → cancelled
//
// Completed and cancelled are terminal. Failed is not: a failed job can
// be requeued for retry up to MaxRetries times. Status transitions are
// validated and stamped by the lifecycle package; nothing else should
// write the Status field.
//
// Fields of note:
//   - CurrentStage / Progress: pipeline position, maintained per stage
//   - Estimate: expected total runtime, used for ETA reporting
//   - RetentionDays / ExpiresAt: controls sweeper expiration
//   - HeartbeatAt: liveness signal for stale-job reaping
//
// # Result
//
// A [Result] is the final aggregate saved when a job completes: the
// output payload plus quality score, grade bucket, confidence, and the
// predictor-specific metrics carried through the pipeline.
package job
