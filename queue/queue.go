package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/backoff"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/ext"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
)

// minWait bounds how often an idle Pop re-checks the store when the next
// job is due immediately but another worker won the claim.
const minWait = time.Millisecond

// Queue is the shared, persistent FIFO of jobs per topic. It owns every
// state change of a job after enqueue; the store makes each change atomic.
type Queue struct {
	store      job.Store
	dlq        dlq.Store
	notifier   Notifier
	backoff    backoff.Strategy
	extensions *ext.Registry
	config     courier.Config
	logger     *slog.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithNotifier sets the notifier used to wake blocked Pop calls. Use the
// store's notifier when workers run in more than one process.
func WithNotifier(n Notifier) Option {
	return func(q *Queue) { q.notifier = n }
}

// WithBackoff sets the retry delay strategy.
func WithBackoff(s backoff.Strategy) Option {
	return func(q *Queue) { q.backoff = s }
}

// WithExtensions sets the registry that receives lifecycle events.
func WithExtensions(r *ext.Registry) Option {
	return func(q *Queue) { q.extensions = r }
}

// WithConfig sets the queue policy.
func WithConfig(cfg courier.Config) Option {
	return func(q *Queue) { q.config = cfg }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// New creates a Queue over a job store and the dead letter store it
// moves failed jobs into. Both are normally the same backend.
func New(store job.Store, dlqStore dlq.Store, opts ...Option) *Queue {
	q := &Queue{
		store:    store,
		dlq:      dlqStore,
		notifier: NewLocalNotifier(),
		backoff:  backoff.DefaultStrategy(),
		config:   courier.DefaultConfig(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.extensions == nil {
		q.extensions = ext.NewRegistry(q.logger)
	}
	return q
}

// Config returns the queue policy.
func (q *Queue) Config() courier.Config { return q.config }

// Push appends a pending job to the tail of its topic. When Push returns
// nil the job is durable and waiting workers have been signalled.
func (q *Queue) Push(ctx context.Context, j *job.Job) error {
	if j.Topic == "" {
		return courier.ErrEmptyTopic
	}

	if q.config.MaxPending > 0 {
		n, err := q.store.CountJobs(ctx, job.CountOpts{Topic: j.Topic, State: job.StatePending})
		if err != nil {
			return err
		}
		if n >= int64(q.config.MaxPending) {
			return courier.ErrQueueFull
		}
	}

	if err := q.store.EnqueueJob(ctx, j); err != nil {
		return err
	}

	q.notify(ctx, j.Topic)
	q.extensions.EmitJobEnqueued(ctx, j)

	q.logger.Debug("job enqueued",
		slog.String("job_id", j.ID.String()),
		slog.String("topic", j.Topic),
	)
	return nil
}

// TryPop claims the oldest claimable job of topic, or returns nil, nil if
// there is none. The returned job is active and leased to workerID for
// the visibility timeout.
//
// A job whose last allowed attempt ended without an ack or nack (the
// worker died) is dead-lettered here instead of being returned.
func (q *Queue) TryPop(ctx context.Context, topic string, workerID id.WorkerID) (*job.Job, error) {
	if topic == "" {
		return nil, courier.ErrEmptyTopic
	}

	for {
		j, err := q.store.ClaimJob(ctx, topic, workerID, q.config.VisibilityTimeout)
		if err != nil || j == nil {
			return nil, err
		}

		if j.Attempts <= j.MaxRetries+1 {
			if j.Attempts > 1 {
				q.logger.Debug("job redelivered",
					slog.String("job_id", j.ID.String()),
					slog.Int("attempt", j.Attempts),
				)
			}
			return j, nil
		}

		// The previous holder's lease expired on its final attempt.
		cause := fmt.Errorf("lease expired on final attempt %d", j.Attempts-1)
		if j.LastError != "" {
			cause = fmt.Errorf("%w (last error: %s)", cause, j.LastError)
		}
		if err := q.deadLetter(ctx, j, cause, false); err != nil && !errors.Is(err, courier.ErrLeaseLost) {
			return nil, err
		}
	}
}

// Pop blocks until a job of topic can be claimed for workerID, or ctx is
// done. It never busy-waits: between attempts it sleeps on the notifier,
// on a timer for the topic's next visible job (capped at PollInterval),
// or on ctx.
func (q *Queue) Pop(ctx context.Context, topic string, workerID id.WorkerID) (*job.Job, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Subscribe before looking so a Push between the look and the
		// wait is not missed.
		signal, unsubscribe := q.notifier.Subscribe(topic)

		j, err := q.TryPop(ctx, topic, workerID)
		if err != nil || j != nil {
			unsubscribe()
			return j, err
		}

		wait := q.config.PollInterval
		if at, ok, nextErr := q.store.NextVisibleAt(ctx, topic); nextErr == nil && ok {
			if d := time.Until(at); d < wait {
				wait = max(d, minWait)
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			unsubscribe()
			return nil, ctx.Err()
		case <-signal:
		case <-timer.C:
		}
		timer.Stop()
		unsubscribe()
	}
}

// Ack acknowledges a job popped by this worker and removes it from the
// queue. It returns courier.ErrLeaseLost if the lease expired and the job
// was claimed again; the stored job is left untouched in that case.
func (q *Queue) Ack(ctx context.Context, j *job.Job) error {
	if err := q.store.CompleteJob(ctx, j); err != nil {
		return err
	}
	if err := j.Transition(job.StateCompleted); err != nil {
		return err
	}
	now := j.UpdatedAt
	j.CompletedAt = &now
	return nil
}

// Nack reports a failed attempt. A transient failure with retry budget
// left returns the job to pending after a backoff delay; a permanent
// failure, or one that spends the budget, moves the job to the dead
// letter queue. Nack returns courier.ErrLeaseLost if the caller no longer
// holds the lease.
func (q *Queue) Nack(ctx context.Context, j *job.Job, cause error) error {
	if cause == nil {
		cause = errors.New("nack without cause")
	}
	j.LastError = cause.Error()

	permanent := courier.IsPermanent(cause)
	if permanent || j.Exhausted() {
		return q.deadLetter(ctx, j, cause, permanent)
	}

	delay := q.backoff.Delay(j.Attempts)
	visibleAt := time.Now().UTC().Add(delay)
	if err := q.store.RetryJob(ctx, j, visibleAt); err != nil {
		return err
	}
	if err := j.Transition(job.StatePending); err != nil {
		return err
	}
	j.VisibleAt = visibleAt
	j.ClaimedBy = id.Nil

	// Wake sleepers so their timers account for the new visible time.
	q.notify(ctx, j.Topic)
	q.extensions.EmitJobRetrying(ctx, j, j.Attempts, visibleAt)

	q.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("topic", j.Topic),
		slog.Int("attempt", j.Attempts),
		slog.Int("max_retries", j.MaxRetries),
		slog.Duration("delay", delay),
		slog.String("error", j.LastError),
	)
	return nil
}

// Extend pushes the lease of a popped job forward by the visibility
// timeout. Workers call it periodically while a handler runs.
func (q *Queue) Extend(ctx context.Context, j *job.Job) error {
	return q.store.ExtendLease(ctx, j, q.config.VisibilityTimeout)
}

// deadLetter moves j to the DLQ in one store operation.
func (q *Queue) deadLetter(ctx context.Context, j *job.Job, cause error, permanent bool) error {
	entry := dlq.NewEntry(j, cause, permanent)
	if err := q.dlq.DeadLetterJob(ctx, j, entry); err != nil {
		return err
	}
	if err := j.Transition(job.StateFailed); err != nil {
		return err
	}

	q.extensions.EmitJobFailed(ctx, j, cause)
	q.extensions.EmitJobDLQ(ctx, j, cause)

	q.logger.Warn("job moved to DLQ",
		slog.String("job_id", j.ID.String()),
		slog.String("dlq_id", entry.ID.String()),
		slog.String("topic", j.Topic),
		slog.Int("attempts", j.Attempts),
		slog.Bool("permanent", permanent),
		slog.String("error", cause.Error()),
	)
	return nil
}

func (q *Queue) notify(ctx context.Context, topic string) {
	if err := q.notifier.Notify(ctx, topic); err != nil {
		// Sleepers fall back to PollInterval.
		q.logger.Warn("queue notify failed",
			slog.String("topic", topic),
			slog.String("error", err.Error()),
		)
	}
}

// Stats summarizes one topic, or all topics when topic is empty.
type Stats struct {
	Topic        string `json:"topic,omitempty"`
	Pending      int64  `json:"pending"`
	Active       int64  `json:"active"`
	DeadLettered int64  `json:"dead_lettered"`
}

// Stats counts jobs per state and dead letter entries.
func (q *Queue) Stats(ctx context.Context, topic string) (Stats, error) {
	s := Stats{Topic: topic}

	var err error
	if s.Pending, err = q.store.CountJobs(ctx, job.CountOpts{Topic: topic, State: job.StatePending}); err != nil {
		return s, err
	}
	if s.Active, err = q.store.CountJobs(ctx, job.CountOpts{Topic: topic, State: job.StateActive}); err != nil {
		return s, err
	}
	if s.DeadLettered, err = q.dlq.CountDLQ(ctx, topic); err != nil {
		return s, err
	}
	return s, nil
}
