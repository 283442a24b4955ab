package dlq

import (
	"context"
	"time"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
)

// Enqueuer appends a job to the live queue. The queue package provides it;
// the indirection keeps dlq free of an import cycle.
type Enqueuer interface {
	Push(ctx context.Context, j *job.Job) error
}

// Service provides high-level DLQ operations over a Store.
type Service struct {
	store    Store
	enqueuer Enqueuer
}

// NewService creates a DLQ service.
func NewService(store Store, enqueuer Enqueuer) *Service {
	return &Service{store: store, enqueuer: enqueuer}
}

// Replay re-enqueues a DLQ entry as a new pending job and marks the
// entry as replayed. The new job gets a fresh ID and zero attempts, and
// is visible immediately.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) (*job.Job, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}

	j := job.New(entry.Topic, entry.Payload, job.Options{MaxRetries: entry.MaxRetries})
	if err := s.enqueuer.Push(ctx, j); err != nil {
		return nil, err
	}

	if err := s.store.ReplayDLQ(ctx, entryID); err != nil {
		// The job is already enqueued; report the bookkeeping failure.
		return j, err
	}

	return j, nil
}

// Purge removes entries that failed more than olderThan ago.
func (s *Service) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	return s.store.PurgeDLQ(ctx, time.Now().UTC().Add(-olderThan))
}

// DLQStore returns the underlying DLQ store for direct access
// to List, Get, and Count operations.
func (s *Service) DLQStore() Store {
	return s.store
}
