package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/ext"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
)

// Queue is the part of queue.Queue the pool consumes.
type Queue interface {
	Pop(ctx context.Context, topic string, workerID id.WorkerID) (*job.Job, error)
	Ack(ctx context.Context, j *job.Job) error
	Nack(ctx context.Context, j *job.Job, cause error) error
	Extend(ctx context.Context, j *job.Job) error
}

// QueueManager controls per-topic rate limiting and concurrency. A worker
// acquires a slot before popping and releases it once the job is settled,
// so throttling never spends a job's attempts.
type QueueManager interface {
	// Acquire blocks until topic has capacity or ctx is done.
	Acquire(ctx context.Context, topic string) error
	// Release frees the slot taken by Acquire.
	Release(topic string)
}

// Pool manages the worker goroutines. Each topic gets its own set of
// concurrency workers.
type Pool struct {
	queue       Queue
	executor    *Executor
	extensions  *ext.Registry
	concurrency int
	topics      []string
	workerID    id.WorkerID
	logger      *slog.Logger

	// heartbeatInterval is how often a running job's lease is extended.
	// Zero disables heartbeats.
	heartbeatInterval time.Duration

	// errorDelay is the pause after a failed Pop.
	errorDelay time.Duration

	queueManager QueueManager

	cancel     context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	activeJobs map[string]context.CancelFunc
	activeMu   sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of worker goroutines per topic.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPoolTopics sets the topics the pool consumes.
func WithPoolTopics(topics []string) PoolOption {
	return func(p *Pool) { p.topics = topics }
}

// WithHeartbeatInterval sets how often the pool extends the lease of
// running jobs. Keep it well below the visibility timeout.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithErrorDelay sets how long a worker waits after the queue returns an
// error before popping again.
func WithErrorDelay(d time.Duration) PoolOption {
	return func(p *Pool) { p.errorDelay = d }
}

// WithQueueManager sets the queue manager for rate limiting and
// concurrency control.
func WithQueueManager(m QueueManager) PoolOption {
	return func(p *Pool) { p.queueManager = m }
}

// WithWorkerID sets the identity recorded on claimed jobs.
func WithWorkerID(wid id.WorkerID) PoolOption {
	return func(p *Pool) { p.workerID = wid }
}

// NewPool creates a worker pool.
func NewPool(
	q Queue,
	executor *Executor,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		queue:       q,
		executor:    executor,
		extensions:  extensions,
		concurrency: 4,
		topics:      []string{courier.TopicEmail},
		workerID:    id.NewWorkerID(),
		errorDelay:  time.Second,
		logger:      logger,
		activeJobs:  make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
		slog.Any("topics", p.topics),
	)

	// Pops stop when runCtx is cancelled; running jobs do not.
	runCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	for _, topic := range p.topics {
		for range p.concurrency {
			p.wg.Add(1)
			go p.workLoop(runCtx, topic)
		}
	}

	return nil
}

// Stop stops popping new jobs and waits for running ones to settle.
// If ctx is done first, running jobs are cancelled and nacked with the
// cancellation error, which spends one attempt.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		<-done
	}

	return nil
}

// workLoop is run by each worker goroutine.
func (p *Pool) workLoop(ctx context.Context, topic string) {
	defer p.wg.Done()

	for ctx.Err() == nil {
		if p.queueManager != nil {
			if err := p.queueManager.Acquire(ctx, topic); err != nil {
				return
			}
		}

		j, err := p.queue.Pop(ctx, topic, p.workerID)
		if err != nil {
			p.release(topic)
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("pop error",
				slog.String("topic", topic),
				slog.String("error", err.Error()),
			)
			p.sleep(ctx)
			continue
		}

		p.process(j)
		p.release(topic)
	}
}

// process executes one popped job and settles it.
func (p *Pool) process(j *job.Job) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	key := j.ID.String()
	p.trackJob(key, cancel)
	defer p.untrackJob(key)

	p.extensions.EmitJobStarted(ctx, j)

	stopHeartbeat := p.startHeartbeat(ctx, j)
	start := time.Now()
	execErr := p.executor.Execute(ctx, j)
	elapsed := time.Since(start)
	stopHeartbeat()

	// Settle even if the job context was cancelled during shutdown.
	settleCtx := context.WithoutCancel(ctx)

	if execErr == nil {
		if err := p.queue.Ack(settleCtx, j); err != nil {
			p.logSettleError("ack", j, err)
			return
		}
		p.extensions.EmitJobCompleted(settleCtx, j, elapsed)
		p.logger.Debug("job completed",
			slog.String("job_id", key),
			slog.String("topic", j.Topic),
			slog.Int("attempt", j.Attempts),
			slog.Duration("elapsed", elapsed),
		)
		return
	}

	if err := p.queue.Nack(settleCtx, j, execErr); err != nil {
		p.logSettleError("nack", j, err)
	}
}

// startHeartbeat extends j's lease every heartbeatInterval until the
// returned stop func is called. stop waits for the heartbeat goroutine.
func (p *Pool) startHeartbeat(ctx context.Context, j *job.Job) (stop func()) {
	if p.heartbeatInterval <= 0 {
		return func() {}
	}

	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(p.heartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				err := p.queue.Extend(hbCtx, j)
				if err == nil {
					continue
				}
				if errors.Is(err, courier.ErrLeaseLost) {
					p.logger.Warn("heartbeat: lease lost",
						slog.String("job_id", j.ID.String()),
						slog.Int("attempt", j.Attempts),
					)
					return
				}
				if hbCtx.Err() == nil {
					p.logger.Warn("heartbeat failed",
						slog.String("job_id", j.ID.String()),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func (p *Pool) logSettleError(op string, j *job.Job, err error) {
	if errors.Is(err, courier.ErrLeaseLost) {
		// Another worker owns the job now; it will be delivered again.
		p.logger.Warn(op+": lease lost",
			slog.String("job_id", j.ID.String()),
			slog.String("topic", j.Topic),
			slog.Int("attempt", j.Attempts),
		)
		return
	}
	p.logger.Error(op+" failed",
		slog.String("job_id", j.ID.String()),
		slog.String("topic", j.Topic),
		slog.String("error", err.Error()),
	)
}

func (p *Pool) release(topic string) {
	if p.queueManager != nil {
		p.queueManager.Release(topic)
	}
}

func (p *Pool) sleep(ctx context.Context) {
	t := time.NewTimer(p.errorDelay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func (p *Pool) trackJob(jobID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeJobs[jobID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(jobID string) {
	p.activeMu.Lock()
	delete(p.activeJobs, jobID)
	p.activeMu.Unlock()
}

// ActiveJobs returns the number of jobs currently executing.
func (p *Pool) ActiveJobs() int {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	return len(p.activeJobs)
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.activeJobs {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		cancel()
	}
}
