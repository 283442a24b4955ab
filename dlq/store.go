package dlq

import (
	"context"
	"time"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
)

// ListOpts controls pagination and filtering for DLQ list queries.
type ListOpts struct {
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
	// Offset is the number of entries to skip.
	Offset int
	// Topic filters by topic. Empty means all topics.
	Topic string
}

// Store defines the persistence contract for the dead letter queue.
type Store interface {
	// DeadLetterJob atomically moves a claimed job out of the queue and
	// records entry. It returns courier.ErrLeaseLost if j is no longer
	// active under its attempt, in which case nothing is written.
	DeadLetterJob(ctx context.Context, j *job.Job, entry *Entry) error

	// ListDLQ returns DLQ entries, oldest failure first.
	ListDLQ(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// GetDLQ retrieves a DLQ entry by ID.
	GetDLQ(ctx context.Context, entryID id.DLQID) (*Entry, error)

	// ReplayDLQ marks a DLQ entry as replayed. The actual re-enqueue is
	// handled at the service layer.
	ReplayDLQ(ctx context.Context, entryID id.DLQID) error

	// PurgeDLQ removes DLQ entries with FailedAt before the given time.
	// Returns the number of entries removed.
	PurgeDLQ(ctx context.Context, before time.Time) (int64, error)

	// CountDLQ returns the number of entries, optionally for one topic.
	CountDLQ(ctx context.Context, topic string) (int64, error)
}
