// Package rexsyn provides the job lifecycle engine for long-running,
// multi-stage computational jobs: a validated status state machine, a
// checkpointed pipeline executor that never re-runs a completed stage,
// role-based access control over every mutation, and a cross-store
// cascading delete with a tamper-evident audit record.
//
// Rexsyn is designed as a library, not a service. Import it, configure a
// store and the external artifact stores, register stage implementations,
// and drive jobs through the engine.
//
// # Quick Start
//
//	eng, err := engine.New(
//	    engine.WithStore(memory.New()),
//	    engine.WithPipeline(pipeline.Prediction(funcs)),
//	)
//
// # Architecture
//
// Rexsyn follows a composable store pattern where each subsystem (job,
// org, checkpoint ledger, deletion audit) defines its own store interface.
// A single backend implements all of them.
//
// All entity IDs are TypeIDs: type-prefixed, K-sortable, UUIDv7-based
// identifiers such as "job_01h2xcejqtf2nbrexx3vqjhp41".
//
// Exactly-once stage execution is achieved without distributed locks: the
// checkpoint ledger is the sole correctness mechanism. A completed
// checkpoint for (job, stage) is authoritative, so duplicate delivery and
// worker restarts replay the pipeline cheaply instead of redoing work.
package rexsyn
