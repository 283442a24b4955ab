package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
)

const jobColumns = `
	id, seq, topic, payload, state, attempts, max_retries,
	last_error, claimed_by, enqueued_at, visible_at, updated_at, completed_at`

// EnqueueJob persists a new job in pending state. The sequence column
// orders it behind every job enqueued before it.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO courier_jobs (
			id, topic, payload, state, attempts, max_retries,
			last_error, claimed_by, enqueued_at, visible_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		j.ID.String(), j.Topic, []byte(j.Payload), string(j.State),
		j.Attempts, j.MaxRetries,
		j.LastError, j.ClaimedBy.String(),
		j.EnqueuedAt, j.VisibleAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return courier.ErrJobAlreadyExists
		}
		return fmt.Errorf("courier/postgres: enqueue job: %w", err)
	}
	return nil
}

// ClaimJob claims the oldest claimable job of topic. Uses SELECT FOR
// UPDATE SKIP LOCKED so concurrent claimers never block on or share a row.
func (s *Store) ClaimJob(ctx context.Context, topic string, workerID id.WorkerID, lease time.Duration) (*job.Job, error) {
	now := time.Now().UTC()

	row := s.pool.QueryRow(ctx, `
		UPDATE courier_jobs
		SET state = 'active',
			attempts = attempts + 1,
			claimed_by = $2,
			visible_at = $3,
			updated_at = $4
		WHERE id = (
			SELECT id FROM courier_jobs
			WHERE topic = $1
			  AND state IN ('pending', 'active')
			  AND visible_at <= $4
			ORDER BY seq ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING`+jobColumns,
		topic, workerID.String(), now.Add(lease), now,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("courier/postgres: claim job: %w", err)
	}
	return j, nil
}

// CompleteJob acknowledges a claimed job and deletes it.
func (s *Store) CompleteJob(ctx context.Context, j *job.Job) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM courier_jobs
		WHERE id = $1 AND state = 'active' AND attempts = $2`,
		j.ID.String(), j.Attempts,
	)
	if err != nil {
		return fmt.Errorf("courier/postgres: complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return courier.ErrLeaseLost
	}
	return nil
}

// RetryJob returns a claimed job to pending until visibleAt.
func (s *Store) RetryJob(ctx context.Context, j *job.Job, visibleAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE courier_jobs
		SET state = 'pending',
			claimed_by = '',
			last_error = $3,
			visible_at = $4,
			updated_at = $5
		WHERE id = $1 AND state = 'active' AND attempts = $2`,
		j.ID.String(), j.Attempts, j.LastError, visibleAt.UTC(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("courier/postgres: retry job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return courier.ErrLeaseLost
	}
	return nil
}

// ExtendLease pushes the lease of a claimed job to now+lease.
func (s *Store) ExtendLease(ctx context.Context, j *job.Job, lease time.Duration) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE courier_jobs
		SET visible_at = $3, updated_at = $4
		WHERE id = $1 AND state = 'active' AND attempts = $2`,
		j.ID.String(), j.Attempts, now.Add(lease), now,
	)
	if err != nil {
		return fmt.Errorf("courier/postgres: extend lease: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return courier.ErrLeaseLost
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+jobColumns+` FROM courier_jobs WHERE id = $1`,
		jobID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, courier.ErrJobNotFound
		}
		return nil, fmt.Errorf("courier/postgres: get job: %w", err)
	}
	return j, nil
}

// ListJobs returns jobs in enqueue order.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT` + jobColumns + ` FROM courier_jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if opts.Topic != "" {
		query += fmt.Sprintf(" AND topic = $%d", argIdx)
		args = append(args, opts.Topic)
		argIdx++
	}
	if opts.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, string(opts.State))
		argIdx++
	}

	query += " ORDER BY seq ASC"

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
		return nil, fmt.Errorf("courier/postgres: list jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM courier_jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if opts.Topic != "" {
		query += fmt.Sprintf(" AND topic = $%d", argIdx)
		args = append(args, opts.Topic)
		argIdx++
	}
	if opts.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, string(opts.State))
	}

	var count int64
	err := s.pool.QueryRow(ctx, query, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("courier/postgres: count jobs: %w", err)
	}
	return count, nil
}

// NextVisibleAt returns the earliest VisibleAt among the topic's pending
// and active jobs.
func (s *Store) NextVisibleAt(ctx context.Context, topic string) (time.Time, bool, error) {
	var at *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT MIN(visible_at) FROM courier_jobs
		WHERE topic = $1 AND state IN ('pending', 'active')`,
		topic,
	).Scan(&at)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("courier/postgres: next visible: %w", err)
	}
	if at == nil {
		return time.Time{}, false, nil
	}
	return at.UTC(), true, nil
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j         job.Job
		seq       int64
		idStr     string
		stateStr  string
		workerStr string
		payload   []byte
	)
	err := row.Scan(
		&idStr, &seq, &j.Topic, &payload, &stateStr, &j.Attempts, &j.MaxRetries,
		&j.LastError, &workerStr, &j.EnqueuedAt, &j.VisibleAt, &j.UpdatedAt, &j.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	j.State = job.State(stateStr)
	j.Payload = payload

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("courier/postgres: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID

	if workerStr != "" {
		parsedWorker, workerErr := id.ParseWorkerID(workerStr)
		if workerErr == nil {
			j.ClaimedBy = parsedWorker
		}
	}

	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("courier/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("courier/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
