package rexsyn

import "time"

// Config holds configuration for the engine and its subsystems.
type Config struct {
	// Concurrency is the maximum number of jobs executed concurrently
	// by the worker pool.
	Concurrency int

	// PollInterval is how often idle workers poll for queued jobs.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// HeartbeatInterval is how often running jobs send heartbeats.
	HeartbeatInterval time.Duration

	// StaleJobThreshold is how long a running job may go without a
	// heartbeat before being requeued for redelivery.
	StaleJobThreshold time.Duration

	// RetryLimit is the maximum number of Failed -> Queued retries
	// before a job is terminally failed.
	RetryLimit int

	// DeleteConcurrency bounds the parallel artifact-store deletions
	// performed by a single cascade delete.
	DeleteConcurrency int

	// BulkDeleteConcurrency bounds the per-job cascade deletes in
	// flight during a bulk (per-user) erasure.
	BulkDeleteConcurrency int

	// DefaultRetentionDays is used when a job's organization has no
	// retention policy of its own.
	DefaultRetentionDays int

	// SweepSchedule is the cron expression for the expiration sweep.
	SweepSchedule string

	// SweepBatchSize is the maximum number of expired jobs processed
	// per sweep.
	SweepBatchSize int

	// AuditRetention is how long deletion records are kept, independent
	// of the job retention policy.
	AuditRetention time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:           10,
		PollInterval:          1 * time.Second,
		ShutdownTimeout:       30 * time.Second,
		HeartbeatInterval:     10 * time.Second,
		StaleJobThreshold:     30 * time.Second,
		RetryLimit:            3,
		DeleteConcurrency:     3,
		BulkDeleteConcurrency: 5,
		DefaultRetentionDays:  30,
		SweepSchedule:         "0 * * * *",
		SweepBatchSize:        100,
		AuditRetention:        365 * 24 * time.Hour,
	}
}
