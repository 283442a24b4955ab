package courier

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Dispatcher.
type Option func(*Dispatcher) error

// Storer is the minimal store interface held by the Dispatcher.
// It covers lifecycle operations only. The full composite interface
// (store.Store) is used by the engine, which sits above the subsystem
// packages and so avoids an import cycle.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// poolRunner is an internal interface for worker pool lifecycle.
type poolRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// extensionEmitter is an internal interface for extension lifecycle events.
type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Dispatcher holds configuration, the logger, and the store shared by the
// producer, queue, and worker pool.
//
// Create one with New() and functional options, then pass it to
// engine.Build to wire the subsystems together.
type Dispatcher struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	extensions extensionEmitter
	pool       poolRunner

	started bool
}

// New creates a new Dispatcher with the given options. The resulting
// configuration is validated.
func New(opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	if err := d.config.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Logger returns the dispatcher's logger.
func (d *Dispatcher) Logger() *slog.Logger { return d.logger }

// Store returns the dispatcher's store.
func (d *Dispatcher) Store() Storer { return d.store }

// Config returns a copy of the dispatcher's configuration.
func (d *Dispatcher) Config() Config { return d.config }

// SetPool sets the worker pool (called by engine.Build).
func (d *Dispatcher) SetPool(p poolRunner) { d.pool = p }

// SetExtensions sets the extension emitter (called by engine.Build).
func (d *Dispatcher) SetExtensions(e extensionEmitter) { d.extensions = e }

// Start begins job processing.
func (d *Dispatcher) Start(ctx context.Context) error {
	if d.pool == nil {
		return ErrNoStore
	}
	if err := d.pool.Start(ctx); err != nil {
		return err
	}
	d.started = true
	return nil
}

// Stop gracefully shuts down the worker pool, then closes the store.
func (d *Dispatcher) Stop(ctx context.Context) error {
	if d.pool != nil && d.started {
		if err := d.pool.Stop(ctx); err != nil {
			d.logger.Error("pool stop error", "error", err)
		}
		d.started = false
	}
	if d.extensions != nil {
		d.extensions.EmitShutdown(ctx)
	}
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// WithConfig replaces the whole configuration. Options applied after it
// still override individual fields.
func WithConfig(cfg Config) Option {
	return func(d *Dispatcher) error {
		d.config = cfg
		return nil
	}
}

// WithConcurrency sets the number of worker goroutines.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) error {
		d.config.Concurrency = n
		return nil
	}
}

// WithTopics sets the topics the worker pool consumes.
func WithTopics(topics []string) Option {
	return func(d *Dispatcher) error {
		d.config.Topics = topics
		return nil
	}
}

// WithVisibilityTimeout sets how long a claimed job stays invisible.
func WithVisibilityTimeout(t time.Duration) Option {
	return func(d *Dispatcher) error {
		d.config.VisibilityTimeout = t
		return nil
	}
}

// WithMaxRetries sets the retry budget for new jobs.
func WithMaxRetries(n int) Option {
	return func(d *Dispatcher) error {
		d.config.MaxRetries = n
		return nil
	}
}

// WithBackoff sets the retry backoff policy and its bounds.
func WithBackoff(policy string, initial, maxDelay time.Duration) Option {
	return func(d *Dispatcher) error {
		d.config.BackoffPolicy = policy
		d.config.BackoffInitial = initial
		d.config.BackoffMax = maxDelay
		return nil
	}
}

// WithExecutionTimeout bounds each handler invocation.
func WithExecutionTimeout(t time.Duration) Option {
	return func(d *Dispatcher) error {
		d.config.ExecutionTimeout = t
		return nil
	}
}

// WithPollInterval sets the longest sleep of a blocked Pop.
func WithPollInterval(t time.Duration) Option {
	return func(d *Dispatcher) error {
		d.config.PollInterval = t
		return nil
	}
}

// WithMaxPending caps the pending jobs per topic.
func WithMaxPending(n int) Option {
	return func(d *Dispatcher) error {
		d.config.MaxPending = n
		return nil
	}
}

// WithLogger sets the structured logger for the dispatcher.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) error {
		d.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the dispatcher.
// The store must implement Storer at minimum; engine.Build requires the
// full store.Store.
func WithStore(s Storer) Option {
	return func(d *Dispatcher) error {
		d.store = s
		return nil
	}
}
