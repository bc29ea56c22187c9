// Package pipeline defines stage catalogues and the checkpointed
// executor that runs them.
//
// # Stages and Pipelines
//
// A [Pipeline] is a named, ordered list of [Stage] values fixed at
// construction time. Optional behavior is expressed through stage gates
// evaluated once per run, never by branching mid-pipeline. Stage
// implementations are injected collaborators: the executor hands each
// one a [Request] carrying the job's input and the payloads of earlier
// stages, and expects a payload or an error back.
//
// # Execution
//
// [Executor.Run] is invoked once per queue delivery, and delivery is
// at-least-once. Before running any stage the executor asks the
// checkpoint ledger whether a completed record exists for that
// (job, stage) pair; if so the stage is skipped and its stored payload
// reused. Checkpoint writes use idempotent upserts, so duplicate
// deliveries racing each other cannot conflict. The ledger, not a lock,
// is what makes stage execution exactly-once.
//
// Stage errors are absorbed: the job moves to failed with the message
// recorded, and Run returns nil so the queue considers the message
// handled. Ledger write failures are the exception; they abort the run
// and propagate, because proceeding without durable checkpoints would
// break resumability.
//
// Cancellation is cooperative. The executor re-reads the job at every
// stage boundary and abandons the run if another worker cancelled it;
// it never pre-empts a stage in flight.
package pipeline
