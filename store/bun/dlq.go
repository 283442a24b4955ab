package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/courier"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
)

// DeadLetterJob deletes a claimed job and inserts its DLQ entry in one
// transaction.
func (s *Store) DeadLetterJob(ctx context.Context, j *job.Job, entry *dlq.Entry) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewDelete().
			TableExpr("courier_jobs").
			Where("id = ?", j.ID.String()).
			Where("state = 'active'").
			Where("attempts = ?", j.Attempts).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("courier/bun: dead-letter delete: %w", err)
		}
		if err := leaseResult(res); err != nil {
			return err
		}

		if _, err := tx.NewInsert().Model(toDLQModel(entry)).Exec(ctx); err != nil {
			return fmt.Errorf("courier/bun: dead-letter insert: %w", err)
		}
		return nil
	})
}

// ListDLQ returns DLQ entries, oldest failure first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	var models []dlqEntryModel
	q := s.db.NewSelect().Model(&models)

	if opts.Topic != "" {
		q = q.Where("topic = ?", opts.Topic)
	}

	q = q.Order("failed_at ASC")

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("courier/bun: list dlq: %w", err)
	}

	entries := make([]*dlq.Entry, 0, len(models))
	for i := range models {
		e, convErr := fromDLQModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("courier/bun: list dlq convert: %w", convErr)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	m := new(dlqEntryModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", entryID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, courier.ErrDLQNotFound
		}
		return nil, fmt.Errorf("courier/bun: get dlq: %w", err)
	}
	return fromDLQModel(m)
}

// ReplayDLQ marks a DLQ entry as replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	res, err := s.db.NewUpdate().
		TableExpr("courier_dlq").
		Set("replayed_at = ?", time.Now().UTC()).
		Where("id = ?", entryID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("courier/bun: replay dlq: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return courier.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.NewDelete().
		TableExpr("courier_dlq").
		Where("failed_at < ?", before).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("courier/bun: purge dlq: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return rows, nil
}

// CountDLQ returns the number of entries, optionally for one topic.
func (s *Store) CountDLQ(ctx context.Context, topic string) (int64, error) {
	q := s.db.NewSelect().TableExpr("courier_dlq")
	if topic != "" {
		q = q.Where("topic = ?", topic)
	}
	count, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("courier/bun: count dlq: %w", err)
	}
	return int64(count), nil
}
