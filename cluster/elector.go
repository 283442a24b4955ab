package cluster

import (
	"context"
	"time"

	"github.com/xraph/courier/id"
)

// Elector grants a time-bounded leadership lease to one worker at a time.
type Elector interface {
	// AcquireLeadership takes the lease if it is free, expired, or already
	// held by workerID. It reports whether workerID now holds it.
	AcquireLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error)

	// RenewLeadership extends the lease. It reports false if workerID is
	// not the current holder.
	RenewLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error)

	// ReleaseLeadership gives up the lease if workerID holds it.
	ReleaseLeadership(ctx context.Context, workerID id.WorkerID) error
}

// Local is an Elector for a single process: every caller is the leader.
type Local struct{}

var _ Elector = Local{}

// AcquireLeadership implements Elector.
func (Local) AcquireLeadership(context.Context, id.WorkerID, time.Duration) (bool, error) {
	return true, nil
}

// RenewLeadership implements Elector.
func (Local) RenewLeadership(context.Context, id.WorkerID, time.Duration) (bool, error) {
	return true, nil
}

// ReleaseLeadership implements Elector.
func (Local) ReleaseLeadership(context.Context, id.WorkerID) error { return nil }
