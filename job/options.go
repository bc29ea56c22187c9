package job

import "time"

// Options configures per-job behavior at submission time.
type Options struct {
	// MaxRetries is the maximum number of times a failed job may be
	// requeued before retry is refused.
	MaxRetries int

	// RetentionDays controls how long a terminal job survives before the
	// sweeper may expire it.
	RetentionDays int

	// Estimate is the expected total runtime. When zero it is derived
	// from the stage catalogue of the chosen pipeline.
	Estimate time.Duration
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxRetries:    3,
		RetentionDays: 30,
	}
}

// Option is a functional option for job submission.
type Option func(*Options)

// WithMaxRetries sets the maximum number of retry attempts.
func WithMaxRetries(n int) Option {
	return func(o *Options) {
		o.MaxRetries = n
	}
}

// WithRetentionDays sets how many days a terminal job is retained.
func WithRetentionDays(n int) Option {
	return func(o *Options) {
		o.RetentionDays = n
	}
}

// WithEstimate overrides the derived runtime estimate.
func WithEstimate(d time.Duration) Option {
	return func(o *Options) {
		o.Estimate = d
	}
}
