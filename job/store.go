package job

import (
	"context"
	"time"

	"github.com/xraph/courier/id"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// Topic filters by topic. Empty means all topics.
	Topic string
	// State filters by state. Empty means all states.
	State State
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// Topic filters by topic. Empty means all topics.
	Topic string
	// State filters by job state. Empty means all states.
	State State
}

// Store defines the persistence contract for the job queue. Every method
// must be atomic with respect to concurrent callers; the store is the only
// shared mutable resource between producers and workers.
//
// Leases are identified by the (ID, Attempts) pair of the claimed job. A
// method that takes a claimed job returns courier.ErrLeaseLost when the
// stored job is no longer active under that attempt, meaning it was
// reclaimed after its visibility timeout.
type Store interface {
	// EnqueueJob appends a pending job to the tail of its topic.
	EnqueueJob(ctx context.Context, j *Job) error

	// ClaimJob atomically claims the oldest claimable job of topic: a
	// pending job whose VisibleAt has passed, or an active job whose lease
	// expired. The claimed job moves to active, Attempts is incremented,
	// ClaimedBy is set, and VisibleAt becomes now+lease. Returns nil, nil
	// when nothing is claimable.
	ClaimJob(ctx context.Context, topic string, workerID id.WorkerID, lease time.Duration) (*Job, error)

	// CompleteJob acknowledges a claimed job and removes it from the queue.
	CompleteJob(ctx context.Context, j *Job) error

	// RetryJob returns a claimed job to pending, invisible until visibleAt.
	// Attempts and LastError are taken from j.
	RetryJob(ctx context.Context, j *Job, visibleAt time.Time) error

	// ExtendLease pushes the lease of a claimed job to now+lease.
	ExtendLease(ctx context.Context, j *Job, lease time.Duration) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// ListJobs returns jobs in queue order.
	ListJobs(ctx context.Context, opts ListOpts) ([]*Job, error)

	// CountJobs returns the number of jobs matching the given options.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)

	// NextVisibleAt returns the earliest time a job of topic becomes
	// claimable. ok is false when the topic holds no pending or active jobs.
	NextVisibleAt(ctx context.Context, topic string) (at time.Time, ok bool, err error)
}
