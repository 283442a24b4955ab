package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/courier"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
)

// DeadLetterJob removes a claimed job and records entry in one script.
func (s *Store) DeadLetterJob(ctx context.Context, j *job.Job, entry *dlq.Entry) error {
	jID := j.ID.String()
	eID := entry.ID.String()

	args := []interface{}{jID, j.Attempts, eID, entry.FailedAt.UnixMilli()}
	args = append(args, flatten(dlqToMap(entry))...)

	res, err := deadLetterScript.Run(ctx, s.client,
		[]string{
			jobKey(jID), jobIDsKey,
			readyKey(j.Topic), delayedKey(j.Topic), activeKey(j.Topic),
			dlqKey(eID), dlqIndexKey,
		},
		args...,
	).Int64()
	return leaseResult("dead-letter job", res, err)
}

// ListDLQ returns DLQ entries, oldest failure first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	entries, err := s.scanDLQ(ctx, opts.Topic)
	if err != nil {
		return nil, err
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(entries) {
			return nil, nil
		}
		entries = entries[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(entries) {
		entries = entries[:opts.Limit]
	}
	return entries, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	vals, err := s.client.HGetAll(ctx, dlqKey(entryID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: get dlq: %w", err)
	}
	if len(vals) == 0 {
		return nil, courier.ErrDLQNotFound
	}
	return mapToDLQ(vals)
}

// ReplayDLQ marks a DLQ entry as replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	key := dlqKey(entryID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("courier/redis: replay dlq exists: %w", err)
	}
	if exists == 0 {
		return courier.ErrDLQNotFound
	}

	_, err = s.client.HSet(ctx, key,
		"replayed_at", time.Now().UTC().Format(time.RFC3339Nano),
	).Result()
	if err != nil {
		return fmt.Errorf("courier/redis: replay dlq: %w", err)
	}
	return nil
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.client.ZRangeByScore(ctx, dlqIndexKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("courier/redis: purge dlq range: %w", err)
	}

	var purged int64
	for _, eID := range ids {
		pipe := s.client.TxPipeline()
		pipe.Del(ctx, dlqKey(eID))
		pipe.ZRem(ctx, dlqIndexKey, eID)
		if _, pErr := pipe.Exec(ctx); pErr != nil {
			return purged, fmt.Errorf("courier/redis: purge dlq del: %w", pErr)
		}
		purged++
	}
	return purged, nil
}

// CountDLQ returns the number of entries, optionally for one topic.
func (s *Store) CountDLQ(ctx context.Context, topic string) (int64, error) {
	if topic == "" {
		count, err := s.client.ZCard(ctx, dlqIndexKey).Result()
		if err != nil {
			return 0, fmt.Errorf("courier/redis: count dlq: %w", err)
		}
		return count, nil
	}

	entries, err := s.scanDLQ(ctx, topic)
	if err != nil {
		return 0, err
	}
	return int64(len(entries)), nil
}

// scanDLQ loads entries in failure order, filtered by topic.
func (s *Store) scanDLQ(ctx context.Context, topic string) ([]*dlq.Entry, error) {
	ids, err := s.client.ZRange(ctx, dlqIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: list dlq: %w", err)
	}

	entries := make([]*dlq.Entry, 0, len(ids))
	for _, eID := range ids {
		vals, getErr := s.client.HGetAll(ctx, dlqKey(eID)).Result()
		if getErr != nil {
			if errors.Is(getErr, goredis.Nil) {
				continue
			}
			return nil, fmt.Errorf("courier/redis: load dlq: %w", getErr)
		}
		if len(vals) == 0 {
			continue
		}
		e, convErr := mapToDLQ(vals)
		if convErr != nil {
			continue
		}
		if topic != "" && e.Topic != topic {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// ── helpers ──

func dlqToMap(e *dlq.Entry) map[string]string {
	m := map[string]string{
		"id":          e.ID.String(),
		"job_id":      e.JobID.String(),
		"topic":       e.Topic,
		"payload":     string(e.Payload),
		"error":       e.Error,
		"permanent":   strconv.FormatBool(e.Permanent),
		"attempts":    strconv.Itoa(e.Attempts),
		"max_retries": strconv.Itoa(e.MaxRetries),
		"enqueued_at": e.EnqueuedAt.UTC().Format(time.RFC3339Nano),
		"failed_at":   e.FailedAt.UTC().Format(time.RFC3339Nano),
	}
	if e.ReplayedAt != nil {
		m["replayed_at"] = e.ReplayedAt.UTC().Format(time.RFC3339Nano)
	}
	return m
}

func mapToDLQ(m map[string]string) (*dlq.Entry, error) {
	eID, err := id.ParseDLQID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("courier/redis: parse dlq id: %w", err)
	}
	jobID, _ := id.ParseJobID(m["job_id"])                          //nolint:errcheck // best-effort parse from trusted Redis data
	permanent, _ := strconv.ParseBool(m["permanent"])               //nolint:errcheck // best-effort parse from trusted Redis data
	attempts, _ := strconv.Atoi(m["attempts"])                      //nolint:errcheck // best-effort parse from trusted Redis data
	maxRetries, _ := strconv.Atoi(m["max_retries"])                 //nolint:errcheck // best-effort parse from trusted Redis data
	enqueuedAt, _ := time.Parse(time.RFC3339Nano, m["enqueued_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	failedAt, _ := time.Parse(time.RFC3339Nano, m["failed_at"])     //nolint:errcheck // best-effort parse from trusted Redis data

	e := &dlq.Entry{
		ID:         eID,
		JobID:      jobID,
		Topic:      m["topic"],
		Payload:    []byte(m["payload"]),
		Error:      m["error"],
		Permanent:  permanent,
		Attempts:   attempts,
		MaxRetries: maxRetries,
		EnqueuedAt: enqueuedAt,
		FailedAt:   failedAt,
	}

	if v := m["replayed_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		e.ReplayedAt = &t
	}
	return e, nil
}
