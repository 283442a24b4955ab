package job

import "time"

// Options configures per-job behavior at enqueue time.
type Options struct {
	// MaxRetries is the number of retries before the job is dead-lettered.
	MaxRetries int

	// Delay postpones the first claim.
	Delay time.Duration
}

// Option is a functional option for a single enqueue.
type Option func(*Options)

// WithMaxRetries overrides the configured retry budget.
func WithMaxRetries(n int) Option {
	return func(o *Options) {
		o.MaxRetries = n
	}
}

// WithDelay postpones the first claim by d.
func WithDelay(d time.Duration) Option {
	return func(o *Options) {
		o.Delay = d
	}
}
