package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/courier"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
)

const dlqColumns = `
	id, job_id, topic, payload, error, permanent,
	attempts, max_retries, enqueued_at, failed_at, replayed_at`

// DeadLetterJob deletes a claimed job and inserts its DLQ entry in one
// transaction.
func (s *Store) DeadLetterJob(ctx context.Context, j *job.Job, entry *dlq.Entry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("courier/postgres: dead-letter begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	tag, err := tx.Exec(ctx, `
		DELETE FROM courier_jobs
		WHERE id = $1 AND state = 'active' AND attempts = $2`,
		j.ID.String(), j.Attempts,
	)
	if err != nil {
		return fmt.Errorf("courier/postgres: dead-letter delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return courier.ErrLeaseLost
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO courier_dlq (`+dlqColumns+`
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.ID.String(), entry.JobID.String(), entry.Topic,
		[]byte(entry.Payload), entry.Error, entry.Permanent,
		entry.Attempts, entry.MaxRetries,
		entry.EnqueuedAt, entry.FailedAt, entry.ReplayedAt,
	)
	if err != nil {
		return fmt.Errorf("courier/postgres: dead-letter insert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("courier/postgres: dead-letter commit: %w", err)
	}
	return nil
}

// ListDLQ returns DLQ entries, oldest failure first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	query := `SELECT` + dlqColumns + ` FROM courier_dlq WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if opts.Topic != "" {
		query += fmt.Sprintf(" AND topic = $%d", argIdx)
		args = append(args, opts.Topic)
		argIdx++
	}

	query += " ORDER BY failed_at ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: list dlq: %w", err)
	}
	defer rows.Close()

	var entries []*dlq.Entry
	for rows.Next() {
		e, scanErr := scanDLQ(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("courier/postgres: scan dlq row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("courier/postgres: iterate dlq rows: %w", err)
	}
	return entries, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+dlqColumns+` FROM courier_dlq WHERE id = $1`,
		entryID.String(),
	)

	e, err := scanDLQ(row)
	if err != nil {
		if isNoRows(err) {
			return nil, courier.ErrDLQNotFound
		}
		return nil, fmt.Errorf("courier/postgres: get dlq: %w", err)
	}
	return e, nil
}

// ReplayDLQ marks a DLQ entry as replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE courier_dlq SET replayed_at = $2 WHERE id = $1`,
		entryID.String(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("courier/postgres: replay dlq: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return courier.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM courier_dlq WHERE failed_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("courier/postgres: purge dlq: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountDLQ returns the number of entries, optionally for one topic.
func (s *Store) CountDLQ(ctx context.Context, topic string) (int64, error) {
	query := `SELECT COUNT(*) FROM courier_dlq`
	args := []interface{}{}
	if topic != "" {
		query += ` WHERE topic = $1`
		args = append(args, topic)
	}

	var count int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("courier/postgres: count dlq: %w", err)
	}
	return count, nil
}

// scanDLQ scans a single DLQ entry row.
func scanDLQ(row pgx.Row) (*dlq.Entry, error) {
	var (
		e       dlq.Entry
		idStr   string
		jobStr  string
		payload []byte
	)
	err := row.Scan(
		&idStr, &jobStr, &e.Topic, &payload, &e.Error, &e.Permanent,
		&e.Attempts, &e.MaxRetries, &e.EnqueuedAt, &e.FailedAt, &e.ReplayedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Payload = payload

	parsedID, parseErr := id.ParseDLQID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("courier/postgres: parse dlq id %q: %w", idStr, parseErr)
	}
	e.ID = parsedID

	if parsedJob, jobErr := id.ParseJobID(jobStr); jobErr == nil {
		e.JobID = parsedJob
	}
	return &e, nil
}
