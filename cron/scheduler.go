package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/courier/cluster"
	"github.com/xraph/courier/id"
)

// ErrDuplicateTask is returned by Add for a name already registered.
var ErrDuplicateTask = errors.New("cron: duplicate task name")

// ErrUnknownTask is returned by RunNow for an unregistered name.
var ErrUnknownTask = errors.New("cron: unknown task")

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due tasks.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithLeaderTTL sets the leadership lease length. It is renewed every
// half TTL.
func WithLeaderTTL(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.leaderTTL = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

type entry struct {
	task    Task
	sched   cronlib.Schedule
	next    time.Time
	lastRun *time.Time
	lastErr string
}

// Scheduler fires registered tasks while it holds cluster leadership.
type Scheduler struct {
	elector  cluster.Elector
	workerID id.WorkerID
	logger   *slog.Logger

	tickInterval time.Duration
	leaderTTL    time.Duration
	now          func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	running sync.Mutex

	leader  atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
}

// NewScheduler creates a Scheduler. A nil elector means this process is
// always the leader.
func NewScheduler(elector cluster.Elector, workerID id.WorkerID, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if elector == nil {
		elector = cluster.Local{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		elector:      elector,
		workerID:     workerID,
		logger:       logger,
		tickInterval: time.Second,
		leaderTTL:    15 * time.Second,
		now:          time.Now,
		entries:      make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tickInterval <= 0 {
		s.tickInterval = time.Second
	}
	if s.leaderTTL <= 0 {
		s.leaderTTL = 15 * time.Second
	}
	return s
}

// Add registers a task. Its first firing is the next schedule time after now.
func (s *Scheduler) Add(t Task) error {
	if t.Name == "" || t.Run == nil {
		return fmt.Errorf("cron: task needs a name and a run function")
	}
	sched, err := ParseSchedule(t.Schedule)
	if err != nil {
		return fmt.Errorf("cron: task %q: %w", t.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[t.Name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateTask, t.Name)
	}
	s.entries[t.Name] = &entry{task: t, sched: sched, next: sched.Next(s.now().UTC())}
	return nil
}

// IsLeader reports whether this scheduler currently fires tasks.
func (s *Scheduler) IsLeader() bool { return s.leader.Load() }

// Status returns every task sorted by name.
func (s *Scheduler) Status() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Status, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, Status{
			Name:      e.task.Name,
			Schedule:  e.task.Schedule,
			NextRunAt: e.next,
			LastRunAt: e.lastRun,
			LastError: e.lastErr,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start launches the leader election and tick goroutines.
func (s *Scheduler) Start(_ context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(2)
	go s.leaderLoop()
	go s.tickLoop()
	s.logger.Info("cron scheduler started",
		slog.String("worker_id", s.workerID.String()),
		slog.Duration("tick_interval", s.tickInterval),
	)
	return nil
}

// Stop waits for the goroutines and any running task, then releases
// leadership.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	close(s.stopCh)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if s.leader.Swap(false) {
		if err := s.elector.ReleaseLeadership(ctx, s.workerID); err != nil {
			s.logger.Warn("release cron leadership", slog.String("error", err.Error()))
		}
	}
	s.logger.Info("cron scheduler stopped")
	return nil
}

// RunNow fires the named task immediately regardless of leadership.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTask, name)
	}
	return s.fire(ctx, e)
}

func (s *Scheduler) leaderLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.leaderTTL / 2)
	defer ticker.Stop()

	s.tryLeadership()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tryLeadership()
		}
	}
}

func (s *Scheduler) tryLeadership() {
	ctx, cancel := context.WithTimeout(context.Background(), s.leaderTTL/2)
	defer cancel()

	if s.leader.Load() {
		renewed, err := s.elector.RenewLeadership(ctx, s.workerID, s.leaderTTL)
		if err != nil {
			// Keep firing until the lease could have lapsed.
			s.logger.Warn("leadership renew error", slog.String("error", err.Error()))
			return
		}
		if renewed {
			return
		}
		s.leader.Store(false)
		s.logger.Info("lost cron leadership", slog.String("worker_id", s.workerID.String()))
	}

	acquired, err := s.elector.AcquireLeadership(ctx, s.workerID, s.leaderTTL)
	if err != nil {
		s.logger.Warn("leadership acquire error", slog.String("error", err.Error()))
		return
	}
	if acquired {
		s.leader.Store(true)
		s.logger.Info("acquired cron leadership", slog.String("worker_id", s.workerID.String()))
	}
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	if !s.leader.Load() {
		return
	}

	now := s.now().UTC()
	s.mu.Lock()
	due := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		if !e.next.After(now) {
			due = append(due, e)
			// Skip missed firings instead of replaying each one.
			e.next = e.sched.Next(now)
		}
	}
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	for _, e := range due {
		if err := s.fire(ctx, e); err != nil {
			s.logger.Error("cron task failed",
				slog.String("task", e.task.Name),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, e *entry) error {
	s.running.Lock()
	defer s.running.Unlock()

	err := e.task.Run(ctx)
	ran := s.now().UTC()

	s.mu.Lock()
	e.lastRun = &ran
	e.lastErr = ""
	if err != nil {
		e.lastErr = err.Error()
	}
	s.mu.Unlock()

	s.logger.Debug("cron task fired", slog.String("task", e.task.Name))
	return err
}
