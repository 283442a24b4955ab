package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
)

// EnqueueJob stores the job as a Hash and appends it to its topic.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	now := time.Now().UTC()

	args := []interface{}{jID, now.UnixMilli(), j.VisibleAt.UnixMilli()}
	args = append(args, flatten(jobToMap(j))...)

	res, err := enqueueScript.Run(ctx, s.client,
		[]string{jobKey(jID), jobIDsKey, seqKey, readyKey(j.Topic), delayedKey(j.Topic)},
		args...,
	).Int64()
	if err != nil {
		return fmt.Errorf("courier/redis: enqueue job: %w", err)
	}
	if res == 0 {
		return courier.ErrJobAlreadyExists
	}
	return nil
}

// ClaimJob claims the oldest claimable job of topic.
func (s *Store) ClaimJob(ctx context.Context, topic string, workerID id.WorkerID, lease time.Duration) (*job.Job, error) {
	now := time.Now().UTC()
	visibleAt := now.Add(lease)

	vals, err := claimScript.Run(ctx, s.client,
		[]string{readyKey(topic), delayedKey(topic), activeKey(topic)},
		now.UnixMilli(),
		visibleAt.UnixMilli(),
		workerID.String(),
		visibleAt.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		jobKeyPrefix,
	).StringSlice()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("courier/redis: claim job: %w", err)
	}

	m := make(map[string]string, len(vals)/2)
	for i := 0; i+1 < len(vals); i += 2 {
		m[vals[i]] = vals[i+1]
	}
	j, _, err := mapToJob(m)
	return j, err
}

// CompleteJob acknowledges a claimed job and removes it.
func (s *Store) CompleteJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	res, err := completeScript.Run(ctx, s.client,
		[]string{jobKey(jID), jobIDsKey, readyKey(j.Topic), delayedKey(j.Topic), activeKey(j.Topic)},
		jID, j.Attempts,
	).Int64()
	return leaseResult("complete job", res, err)
}

// RetryJob returns a claimed job to pending until visibleAt.
func (s *Store) RetryJob(ctx context.Context, j *job.Job, visibleAt time.Time) error {
	jID := j.ID.String()
	now := time.Now().UTC()
	visibleAt = visibleAt.UTC()

	res, err := retryScript.Run(ctx, s.client,
		[]string{jobKey(jID), readyKey(j.Topic), delayedKey(j.Topic), activeKey(j.Topic)},
		jID, j.Attempts,
		now.UnixMilli(),
		visibleAt.UnixMilli(),
		visibleAt.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		j.LastError,
	).Int64()
	return leaseResult("retry job", res, err)
}

// ExtendLease pushes the lease of a claimed job to now+lease.
func (s *Store) ExtendLease(ctx context.Context, j *job.Job, lease time.Duration) error {
	jID := j.ID.String()
	now := time.Now().UTC()
	visibleAt := now.Add(lease)

	res, err := extendScript.Run(ctx, s.client,
		[]string{jobKey(jID), readyKey(j.Topic), activeKey(j.Topic)},
		jID, j.Attempts,
		visibleAt.UnixMilli(),
		visibleAt.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
	).Int64()
	return leaseResult("extend lease", res, err)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, jobKey(jobID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, courier.ErrJobNotFound
	}
	j, _, err := mapToJob(vals)
	return j, err
}

// ListJobs returns jobs in enqueue order.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	jobs, seqs, err := s.scanJobs(ctx, opts.Topic, opts.State)
	if err != nil {
		return nil, err
	}

	idx := make([]int, len(jobs))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return seqs[idx[a]] < seqs[idx[b]] })

	sorted := make([]*job.Job, len(idx))
	for i, k := range idx {
		sorted[i] = jobs[k]
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(sorted) {
			return nil, nil
		}
		sorted = sorted[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(sorted) {
		sorted = sorted[:opts.Limit]
	}
	return sorted, nil
}

// CountJobs returns the number of jobs matching opts. A topic-only count
// is answered from the topic's Sorted Sets.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	if opts.Topic != "" && opts.State == "" {
		pipe := s.client.Pipeline()
		cmds := []*goredis.IntCmd{
			pipe.ZCard(ctx, readyKey(opts.Topic)),
			pipe.ZCard(ctx, delayedKey(opts.Topic)),
			pipe.ZCard(ctx, activeKey(opts.Topic)),
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return 0, fmt.Errorf("courier/redis: count jobs: %w", err)
		}
		var total int64
		for _, c := range cmds {
			total += c.Val()
		}
		return total, nil
	}

	jobs, _, err := s.scanJobs(ctx, opts.Topic, opts.State)
	if err != nil {
		return 0, err
	}
	return int64(len(jobs)), nil
}

// NextVisibleAt returns the earliest time a job of topic becomes claimable.
func (s *Store) NextVisibleAt(ctx context.Context, topic string) (time.Time, bool, error) {
	pipe := s.client.Pipeline()
	ready := pipe.ZCard(ctx, readyKey(topic))
	delayed := pipe.ZRangeWithScores(ctx, delayedKey(topic), 0, 0)
	active := pipe.ZRangeWithScores(ctx, activeKey(topic), 0, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return time.Time{}, false, fmt.Errorf("courier/redis: next visible: %w", err)
	}

	if ready.Val() > 0 {
		return time.Now().UTC(), true, nil
	}

	var (
		at    time.Time
		found bool
	)
	for _, zs := range [][]goredis.Z{delayed.Val(), active.Val()} {
		if len(zs) == 0 {
			continue
		}
		t := time.UnixMilli(int64(zs[0].Score)).UTC()
		if !found || t.Before(at) {
			at = t
			found = true
		}
	}
	return at, found, nil
}

// scanJobs loads every job matching topic and state, with their sequence
// numbers.
func (s *Store) scanJobs(ctx context.Context, topic string, state job.State) ([]*job.Job, []int64, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("courier/redis: list job ids: %w", err)
	}

	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, jID := range ids {
		cmds[i] = pipe.HGetAll(ctx, jobKey(jID))
	}
	if len(cmds) > 0 {
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
			return nil, nil, fmt.Errorf("courier/redis: load jobs: %w", err)
		}
	}

	jobs := make([]*job.Job, 0, len(ids))
	seqs := make([]int64, 0, len(ids))
	for _, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) == 0 {
			continue
		}
		j, seq, convErr := mapToJob(vals)
		if convErr != nil {
			continue
		}
		if topic != "" && j.Topic != topic {
			continue
		}
		if state != "" && j.State != state {
			continue
		}
		jobs = append(jobs, j)
		seqs = append(seqs, seq)
	}
	return jobs, seqs, nil
}

// leaseResult maps a lease-checked script result to an error.
func leaseResult(op string, res int64, err error) error {
	if err != nil {
		return fmt.Errorf("courier/redis: %s: %w", op, err)
	}
	if res == scriptLeaseLost {
		return courier.ErrLeaseLost
	}
	return nil
}

// ── helpers ──

func jobToMap(j *job.Job) map[string]string {
	m := map[string]string{
		"id":          j.ID.String(),
		"topic":       j.Topic,
		"payload":     string(j.Payload),
		"state":       string(j.State),
		"attempts":    strconv.Itoa(j.Attempts),
		"max_retries": strconv.Itoa(j.MaxRetries),
		"last_error":  j.LastError,
		"claimed_by":  j.ClaimedBy.String(),
		"enqueued_at": j.EnqueuedAt.UTC().Format(time.RFC3339Nano),
		"visible_at":  j.VisibleAt.UTC().Format(time.RFC3339Nano),
		"updated_at":  j.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if j.CompletedAt != nil {
		m["completed_at"] = j.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	return m
}

func mapToJob(m map[string]string) (*job.Job, int64, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, 0, fmt.Errorf("courier/redis: parse job id: %w", err)
	}

	attempts, _ := strconv.Atoi(m["attempts"])                      //nolint:errcheck // best-effort parse from trusted Redis data
	maxRetries, _ := strconv.Atoi(m["max_retries"])                 //nolint:errcheck // best-effort parse from trusted Redis data
	seq, _ := strconv.ParseInt(m["seq"], 10, 64)                    //nolint:errcheck // best-effort parse from trusted Redis data
	enqueuedAt, _ := time.Parse(time.RFC3339Nano, m["enqueued_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	visibleAt, _ := time.Parse(time.RFC3339Nano, m["visible_at"])   //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"])   //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		ID:         jID,
		Topic:      m["topic"],
		Payload:    []byte(m["payload"]),
		State:      job.State(m["state"]),
		Attempts:   attempts,
		MaxRetries: maxRetries,
		LastError:  m["last_error"],
		EnqueuedAt: enqueuedAt,
		VisibleAt:  visibleAt,
		UpdatedAt:  updatedAt,
	}

	if wid := m["claimed_by"]; wid != "" {
		j.ClaimedBy, _ = id.ParseWorkerID(wid) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["completed_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.CompletedAt = &t
	}
	return j, seq, nil
}
