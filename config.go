package courier

import (
	"fmt"
	"time"
)

// Backoff policy names accepted by Config.BackoffPolicy.
const (
	BackoffFixed       = "fixed"
	BackoffLinear      = "linear"
	BackoffExponential = "exponential"
	BackoffJitter      = "exponential_jitter"
)

// TopicEmail is the topic carrying welcome-email jobs.
const TopicEmail = "email"

// Config holds configuration for the Dispatcher.
type Config struct {
	// Concurrency is the number of worker goroutines claiming jobs from
	// each topic.
	Concurrency int

	// Topics is the list of topics the worker pool consumes.
	Topics []string

	// VisibilityTimeout is how long a claimed job stays invisible to other
	// workers. A job not acknowledged within this window is redelivered.
	VisibilityTimeout time.Duration

	// MaxRetries is the number of failed executions a job may retry. The
	// failure after the MaxRetries-th moves the job to the dead letter queue.
	MaxRetries int

	// BackoffPolicy selects the delay before a nacked job becomes visible.
	BackoffPolicy string

	// BackoffInitial is the first retry delay.
	BackoffInitial time.Duration

	// BackoffMax caps the retry delay. Zero means uncapped.
	BackoffMax time.Duration

	// ExecutionTimeout bounds a single handler invocation.
	ExecutionTimeout time.Duration

	// PollInterval is the longest a blocked Pop sleeps without a wake-up
	// signal. It only matters for backends whose notifications can be lost.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for in-flight jobs.
	ShutdownTimeout time.Duration

	// MaxPending caps the number of pending jobs per topic. Zero means
	// unbounded.
	MaxPending int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:       4,
		Topics:            []string{TopicEmail},
		VisibilityTimeout: 30 * time.Second,
		MaxRetries:        3,
		BackoffPolicy:     BackoffJitter,
		BackoffInitial:    time.Second,
		BackoffMax:        time.Minute,
		ExecutionTimeout:  10 * time.Second,
		PollInterval:      5 * time.Second,
		ShutdownTimeout:   30 * time.Second,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.Concurrency <= 0:
		return fmt.Errorf("%w: concurrency must be positive", ErrInvalidConfig)
	case len(c.Topics) == 0:
		return fmt.Errorf("%w: at least one topic is required", ErrInvalidConfig)
	case c.VisibilityTimeout <= 0:
		return fmt.Errorf("%w: visibility timeout must be positive", ErrInvalidConfig)
	case c.MaxRetries < 0:
		return fmt.Errorf("%w: max retries must not be negative", ErrInvalidConfig)
	case c.ExecutionTimeout <= 0:
		return fmt.Errorf("%w: execution timeout must be positive", ErrInvalidConfig)
	case c.ExecutionTimeout >= c.VisibilityTimeout:
		return fmt.Errorf("%w: execution timeout must be shorter than visibility timeout", ErrInvalidConfig)
	case c.PollInterval <= 0:
		return fmt.Errorf("%w: poll interval must be positive", ErrInvalidConfig)
	case c.MaxPending < 0:
		return fmt.Errorf("%w: max pending must not be negative", ErrInvalidConfig)
	}
	for _, t := range c.Topics {
		if t == "" {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, ErrEmptyTopic)
		}
	}
	switch c.BackoffPolicy {
	case BackoffFixed, BackoffLinear, BackoffExponential, BackoffJitter:
	default:
		return fmt.Errorf("%w: unknown backoff policy %q", ErrInvalidConfig, c.BackoffPolicy)
	}
	return nil
}
