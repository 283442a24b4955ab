// Package engine wires all courier subsystems together. It creates the
// extension registry, job registry, queue, producer, middleware chain,
// worker pool and account service, and provides Register.
//
// This package exists to break the import cycle: the root courier package
// defines the config and error taxonomy imported by every subsystem and so
// cannot import those packages back. The engine package sits above all
// subsystem packages and below the application layer.
package engine

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	gu "github.com/xraph/go-utils/metrics"

	"github.com/xraph/courier"
	"github.com/xraph/courier/account"
	"github.com/xraph/courier/backoff"
	"github.com/xraph/courier/cluster"
	"github.com/xraph/courier/cron"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/ext"
	"github.com/xraph/courier/job"
	"github.com/xraph/courier/mail"
	mw "github.com/xraph/courier/middleware"
	"github.com/xraph/courier/observability"
	"github.com/xraph/courier/producer"
	"github.com/xraph/courier/queue"
	"github.com/xraph/courier/store"
	"github.com/xraph/courier/worker"
)

// instrumentationName scopes the engine's tracer and meter.
const instrumentationName = "github.com/xraph/courier"

// Engine wraps a Dispatcher with typed subsystem access.
// Use Build() to create one from a Dispatcher.
type Engine struct {
	d          *courier.Dispatcher
	store      store.Store
	extensions *ext.Registry
	registry   *job.Registry
	queue      *queue.Queue
	producer   *producer.Producer
	dlqService *dlq.Service
	accounts   *account.Service
	pool       *worker.Pool
	mws        []mw.Middleware
	logger     *slog.Logger

	bo       backoff.Strategy
	notifier queue.Notifier
	sender   mail.Sender
	tokens   *account.TokenIssuer

	// Maintenance tasks, run by the cluster leader.
	elector       cluster.Elector
	cronTasks     []cron.Task
	retention     time.Duration
	retentionCron string
	scheduler     *cron.Scheduler

	// Per-topic limits.
	limits       []queue.LimitConfig
	queueManager *queue.Manager

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	metricFactory  gu.MetricFactory
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the engine's chain. It runs inside
// the default chain, closest to the handler.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithBackoff sets the retry backoff strategy. If not set, the strategy
// named by the dispatcher's Config.BackoffPolicy is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithNotifier sets the notifier that wakes blocked workers. Use the
// store's notifier when producers and workers run in different processes.
func WithNotifier(n queue.Notifier) Option {
	return func(eng *Engine) {
		eng.notifier = n
	}
}

// WithLimits registers per-topic rate limiting and concurrency limits.
// Topics not listed have no limits.
func WithLimits(configs ...queue.LimitConfig) Option {
	return func(eng *Engine) {
		eng.limits = append(eng.limits, configs...)
	}
}

// WithMailSender registers the welcome email handler on the email topic,
// delivering through s.
func WithMailSender(s mail.Sender) Option {
	return func(eng *Engine) {
		eng.sender = s
	}
}

// WithTokenIssuer sets the issuer of login tokens. If not set, tokens are
// signed with a random per-process secret.
func WithTokenIssuer(t *account.TokenIssuer) Option {
	return func(eng *Engine) {
		eng.tokens = t
	}
}

// WithElector sets the leader election used to run maintenance tasks on a
// single process. Without it every process considers itself the leader.
func WithElector(e cluster.Elector) Option {
	return func(eng *Engine) {
		eng.elector = e
	}
}

// WithCronTask registers a periodic maintenance task.
func WithCronTask(t cron.Task) Option {
	return func(eng *Engine) {
		eng.cronTasks = append(eng.cronTasks, t)
	}
}

// WithDLQRetention purges dead letter entries older than olderThan on the
// given cron schedule.
func WithDLQRetention(schedule string, olderThan time.Duration) Option {
	return func(eng *Engine) {
		eng.retentionCron = schedule
		eng.retention = olderThan
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// When set, the tracing middleware uses this provider instead of the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the metrics
// middleware. If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// WithMetricFactory sets the factory behind the observability extension's
// lifecycle counters.
func WithMetricFactory(f gu.MetricFactory) Option {
	return func(eng *Engine) {
		eng.metricFactory = f
	}
}

// Build creates an Engine from an existing Dispatcher.
// The Dispatcher's store must implement store.Store.
func Build(d *courier.Dispatcher, opts ...Option) (*Engine, error) {
	logger := d.Logger()
	config := d.Config()

	if d.Store() == nil {
		return nil, courier.ErrNoStore
	}
	s, ok := d.Store().(store.Store)
	if !ok {
		return nil, fmt.Errorf("courier: store does not implement store.Store")
	}

	eng := &Engine{
		d:          d,
		store:      s,
		extensions: ext.NewRegistry(logger),
		registry:   job.NewRegistry(),
		logger:     logger,
	}

	for _, opt := range opts {
		opt(eng)
	}

	if eng.bo == nil {
		bo, err := backoff.FromConfig(config.BackoffPolicy, config.BackoffInitial, config.BackoffMax)
		if err != nil {
			return nil, err
		}
		eng.bo = bo
	}
	if eng.notifier == nil {
		eng.notifier = queue.NewLocalNotifier()
	}

	// Register the observability metrics extension.
	if eng.metricFactory != nil {
		eng.extensions.Register(observability.NewMetricsExtensionWithFactory(eng.metricFactory))
	} else {
		eng.extensions.Register(observability.NewMetricsExtension())
	}

	eng.queue = queue.New(s, s,
		queue.WithConfig(config),
		queue.WithBackoff(eng.bo),
		queue.WithNotifier(eng.notifier),
		queue.WithExtensions(eng.extensions),
		queue.WithLogger(logger),
	)
	eng.producer = producer.New(eng.queue, config.MaxRetries, logger)
	eng.dlqService = dlq.NewService(s, eng.queue)

	if eng.tokens == nil {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("courier: generate token secret: %w", err)
		}
		logger.Warn("no token issuer configured, using a random secret")
		eng.tokens = account.NewTokenIssuer(secret, account.DefaultTokenTTL)
	}
	eng.accounts = account.NewService(s, eng.tokens, eng.producer, logger)

	if eng.sender != nil {
		job.RegisterDefinition(eng.registry, mail.WelcomeDefinition(eng.sender))
	}

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
	} else {
		metricsMw = mw.Metrics()
	}

	// Default middleware stack: recover → tracing → metrics → logging → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Timeout(config.ExecutionTimeout, logger),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	executor := worker.NewExecutor(eng.registry, allMws...)

	poolOpts := []worker.PoolOption{
		worker.WithPoolConcurrency(config.Concurrency),
		worker.WithPoolTopics(config.Topics),
		worker.WithHeartbeatInterval(config.VisibilityTimeout / 2),
		worker.WithErrorDelay(config.PollInterval),
	}

	if len(eng.limits) > 0 {
		eng.queueManager = queue.NewManager(eng.limits...)
		poolOpts = append(poolOpts, worker.WithQueueManager(eng.queueManager))
	}

	eng.pool = worker.NewPool(eng.queue, executor, eng.extensions, logger, poolOpts...)

	tasks := eng.cronTasks
	if eng.retention > 0 {
		tasks = append(tasks, cron.DLQRetention(eng.dlqService, eng.retentionCron, eng.retention, logger))
	}
	if len(tasks) > 0 {
		eng.scheduler = cron.NewScheduler(eng.elector, eng.pool.WorkerID(), logger,
			cron.WithLeaderTTL(config.VisibilityTimeout),
		)
		for _, t := range tasks {
			if err := eng.scheduler.Add(t); err != nil {
				return nil, err
			}
		}
	}

	// Wire back into the Dispatcher.
	d.SetPool(eng.pool)
	d.SetExtensions(eng.extensions)

	return eng, nil
}

// Register registers a typed job definition with the engine. It replaces
// any handler already registered for the topic.
func Register[T any](eng *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(eng.registry, def)
}

// Start begins job processing.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.d.Start(ctx); err != nil {
		return err
	}
	if eng.scheduler != nil {
		return eng.scheduler.Start(ctx)
	}
	return nil
}

// Stop gracefully shuts down the worker pool, then closes the store.
func (eng *Engine) Stop(ctx context.Context) error {
	if eng.scheduler != nil {
		if err := eng.scheduler.Stop(ctx); err != nil {
			eng.logger.Warn("cron scheduler stop error", slog.String("error", err.Error()))
		}
	}
	return eng.d.Stop(ctx)
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the job registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Dispatcher returns the underlying Dispatcher.
func (eng *Engine) Dispatcher() *courier.Dispatcher { return eng.d }

// Store returns the engine's store.
func (eng *Engine) Store() store.Store { return eng.store }

// Queue returns the queue shared by the producer and the worker pool.
func (eng *Engine) Queue() *queue.Queue { return eng.queue }

// Producer returns the producer that appends jobs to the queue.
func (eng *Engine) Producer() *producer.Producer { return eng.producer }

// DLQService returns the engine's DLQ service for replay and inspection.
func (eng *Engine) DLQService() *dlq.Service { return eng.dlqService }

// Accounts returns the user registration and login service.
func (eng *Engine) Accounts() *account.Service { return eng.accounts }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// Scheduler returns the maintenance scheduler, or nil if no task is
// registered.
func (eng *Engine) Scheduler() *cron.Scheduler { return eng.scheduler }

// QueueManager returns the queue manager, or nil if no limits were
// provided.
func (eng *Engine) QueueManager() *queue.Manager { return eng.queueManager }
