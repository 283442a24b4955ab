package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/courier/cluster"
	"github.com/xraph/courier/id"
)

var _ cluster.Elector = (*Elector)(nil)

// renewScript extends the leader key only for its holder.
var renewScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

// releaseScript deletes the leader key only for its holder.
var releaseScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// Elector implements cluster.Elector with a single expiring key.
type Elector struct {
	client goredis.Cmdable
}

// NewElector creates a Redis-backed leader elector.
func NewElector(client goredis.Cmdable) *Elector {
	return &Elector{client: client}
}

// AcquireLeadership sets the leader key when absent. A holder calling again
// renews instead.
func (e *Elector) AcquireLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	ok, err := e.client.SetNX(ctx, leaderKey, workerID.String(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("courier/redis: acquire leadership: %w", err)
	}
	if ok {
		return true, nil
	}
	return e.RenewLeadership(ctx, workerID, ttl)
}

// RenewLeadership extends the leader key if workerID holds it.
func (e *Elector) RenewLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	n, err := renewScript.Run(ctx, e.client, []string{leaderKey}, workerID.String(), ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("courier/redis: renew leadership: %w", err)
	}
	return n == 1, nil
}

// ReleaseLeadership deletes the leader key if workerID holds it.
func (e *Elector) ReleaseLeadership(ctx context.Context, workerID id.WorkerID) error {
	if err := releaseScript.Run(ctx, e.client, []string{leaderKey}, workerID.String()).Err(); err != nil {
		return fmt.Errorf("courier/redis: release leadership: %w", err)
	}
	return nil
}

// Leader returns the current holder, or "" when nobody holds the lease.
func (e *Elector) Leader(ctx context.Context) (string, error) {
	v, err := e.client.Get(ctx, leaderKey).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("courier/redis: get leader: %w", err)
	}
	return v, nil
}
