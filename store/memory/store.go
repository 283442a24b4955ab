package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/account"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ job.Store     = (*Store)(nil)
	_ dlq.Store     = (*Store)(nil)
	_ account.Store = (*Store)(nil)
)

// record is a stored job plus its position in the topic's FIFO order.
type record struct {
	job *job.Job
	seq uint64
}

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Every operation runs under one mutex, which
// makes claims and dead-lettering trivially atomic. Intended for unit
// testing and development.
type Store struct {
	mu sync.RWMutex

	seq     uint64
	jobs    map[string]*record
	dlqs    map[string]*dlq.Entry
	users   map[string]*account.User
	byEmail map[string]string // email -> user ID string
	closed  bool
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:    make(map[string]*record),
		dlqs:    make(map[string]*dlq.Entry),
		users:   make(map[string]*account.User),
		byEmail: make(map[string]string),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle: Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping fails once the store is closed.
func (m *Store) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return courier.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Later writes fail with ErrStoreClosed,
// which lets tests simulate an unreachable backend.
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// EnqueueJob appends a pending job to the tail of its topic.
func (m *Store) EnqueueJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return courier.ErrStoreClosed
	}

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return courier.ErrJobAlreadyExists
	}
	m.seq++
	m.jobs[key] = &record{job: j.Clone(), seq: m.seq}
	return nil
}

// ClaimJob claims the oldest claimable job of topic.
func (m *Store) ClaimJob(_ context.Context, topic string, workerID id.WorkerID, lease time.Duration) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, courier.ErrStoreClosed
	}

	now := time.Now().UTC()

	var next *record
	for _, r := range m.jobs {
		if r.job.Topic != topic || !claimable(r.job, now) {
			continue
		}
		if next == nil || r.seq < next.seq {
			next = r
		}
	}
	if next == nil {
		return nil, nil
	}

	j := next.job
	j.State = job.StateActive
	j.Attempts++
	j.ClaimedBy = workerID
	j.VisibleAt = now.Add(lease)
	j.UpdatedAt = now
	return j.Clone(), nil
}

// claimable reports whether j can be claimed at now: pending and visible,
// or active with an expired lease.
func claimable(j *job.Job, now time.Time) bool {
	if j.State != job.StatePending && j.State != job.StateActive {
		return false
	}
	return !j.VisibleAt.After(now)
}

// leased returns the stored record for j if j still holds its lease.
// Caller must hold m.mu.
func (m *Store) leased(j *job.Job) (*record, error) {
	if m.closed {
		return nil, courier.ErrStoreClosed
	}
	r, ok := m.jobs[j.ID.String()]
	if !ok || r.job.State != job.StateActive || r.job.Attempts != j.Attempts {
		return nil, courier.ErrLeaseLost
	}
	return r, nil
}

// CompleteJob acknowledges a claimed job and removes it.
func (m *Store) CompleteJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.leased(j); err != nil {
		return err
	}
	delete(m.jobs, j.ID.String())
	return nil
}

// RetryJob returns a claimed job to pending until visibleAt.
func (m *Store) RetryJob(_ context.Context, j *job.Job, visibleAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.leased(j)
	if err != nil {
		return err
	}
	r.job.State = job.StatePending
	r.job.VisibleAt = visibleAt.UTC()
	r.job.LastError = j.LastError
	r.job.ClaimedBy = id.Nil
	r.job.UpdatedAt = time.Now().UTC()
	return nil
}

// ExtendLease pushes the lease of a claimed job to now+lease.
func (m *Store) ExtendLease(_ context.Context, j *job.Job, lease time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.leased(j)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	r.job.VisibleAt = now.Add(lease)
	r.job.UpdatedAt = now
	return nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, courier.ErrJobNotFound
	}
	return r.job.Clone(), nil
}

// ListJobs returns jobs in enqueue order.
func (m *Store) ListJobs(_ context.Context, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*record, 0, len(m.jobs))
	for _, r := range m.jobs {
		if opts.Topic != "" && r.job.Topic != opts.Topic {
			continue
		}
		if opts.State != "" && r.job.State != opts.State {
			continue
		}
		matched = append(matched, r)
	}

	sort.Slice(matched, func(i, k int) bool {
		return matched[i].seq < matched[k].seq
	})

	matched = paginate(matched, opts.Offset, opts.Limit)

	result := make([]*job.Job, len(matched))
	for i, r := range matched {
		result[i] = r.job.Clone()
	}
	return result, nil
}

// CountJobs returns the number of jobs matching opts.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, r := range m.jobs {
		if opts.Topic != "" && r.job.Topic != opts.Topic {
			continue
		}
		if opts.State != "" && r.job.State != opts.State {
			continue
		}
		count++
	}
	return count, nil
}

// NextVisibleAt returns the earliest VisibleAt among the topic's pending
// and active jobs.
func (m *Store) NextVisibleAt(_ context.Context, topic string) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		at    time.Time
		found bool
	)
	for _, r := range m.jobs {
		if r.job.Topic != topic {
			continue
		}
		if !found || r.job.VisibleAt.Before(at) {
			at = r.job.VisibleAt
			found = true
		}
	}
	return at, found, nil
}

// ──────────────────────────────────────────────────
// DLQ Store
// ──────────────────────────────────────────────────

// DeadLetterJob removes a claimed job and records entry in one step.
func (m *Store) DeadLetterJob(_ context.Context, j *job.Job, entry *dlq.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.leased(j); err != nil {
		return err
	}
	delete(m.jobs, j.ID.String())
	cp := *entry
	m.dlqs[entry.ID.String()] = &cp
	return nil
}

// ListDLQ returns DLQ entries, oldest failure first.
func (m *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*dlq.Entry, 0, len(m.dlqs))
	for _, e := range m.dlqs {
		if opts.Topic != "" && e.Topic != opts.Topic {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].FailedAt.Before(result[k].FailedAt)
	})

	return paginate(result, opts.Offset, opts.Limit), nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (m *Store) GetDLQ(_ context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return nil, courier.ErrDLQNotFound
	}
	cp := *e
	return &cp, nil
}

// ReplayDLQ marks a DLQ entry as replayed.
func (m *Store) ReplayDLQ(_ context.Context, entryID id.DLQID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return courier.ErrDLQNotFound
	}
	now := time.Now().UTC()
	e.ReplayedAt = &now
	return nil
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
func (m *Store) PurgeDLQ(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for key, e := range m.dlqs {
		if e.FailedAt.Before(before) {
			delete(m.dlqs, key)
			count++
		}
	}
	return count, nil
}

// CountDLQ returns the number of entries in the dead letter queue.
func (m *Store) CountDLQ(_ context.Context, topic string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if topic == "" {
		return int64(len(m.dlqs)), nil
	}
	var count int64
	for _, e := range m.dlqs {
		if e.Topic == topic {
			count++
		}
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// Account Store
// ──────────────────────────────────────────────────

// CreateUser persists a new user.
func (m *Store) CreateUser(_ context.Context, u *account.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return courier.ErrStoreClosed
	}
	if _, exists := m.byEmail[u.Email]; exists {
		return courier.ErrUserExists
	}
	cp := *u
	m.users[u.ID.String()] = &cp
	m.byEmail[u.Email] = u.ID.String()
	return nil
}

// GetUser retrieves a user by ID.
func (m *Store) GetUser(_ context.Context, userID id.UserID) (*account.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[userID.String()]
	if !ok {
		return nil, courier.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

// GetUserByEmail retrieves a user by email address.
func (m *Store) GetUserByEmail(_ context.Context, email string) (*account.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key, ok := m.byEmail[email]
	if !ok {
		return nil, courier.ErrUserNotFound
	}
	cp := *m.users[key]
	return &cp, nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
