package bunstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
)

// EnqueueJob persists a new job in pending state.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	m := toJobModel(j)
	_, err := s.db.NewInsert().Model(m).ExcludeColumn("seq").Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return courier.ErrJobAlreadyExists
		}
		return fmt.Errorf("courier/bun: enqueue job: %w", err)
	}
	return nil
}

// ClaimJob claims the oldest claimable job of topic. Uses SELECT FOR
// UPDATE SKIP LOCKED via raw SQL.
func (s *Store) ClaimJob(ctx context.Context, topic string, workerID id.WorkerID, lease time.Duration) (*job.Job, error) {
	now := time.Now().UTC()

	var models []jobModel
	err := s.db.NewRaw(`
		UPDATE courier_jobs
		SET state = 'active',
			attempts = attempts + 1,
			claimed_by = ?1,
			visible_at = ?2,
			updated_at = ?3
		WHERE id = (
			SELECT id FROM courier_jobs
			WHERE topic = ?0
			  AND state IN ('pending', 'active')
			  AND visible_at <= ?3
			ORDER BY seq ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING *`,
		topic, workerID.String(), now.Add(lease), now,
	).Scan(ctx, &models)
	if err != nil && !isNoRows(err) {
		return nil, fmt.Errorf("courier/bun: claim job: %w", err)
	}
	if len(models) == 0 {
		return nil, nil
	}
	return fromJobModel(&models[0])
}

// CompleteJob acknowledges a claimed job and deletes it.
func (s *Store) CompleteJob(ctx context.Context, j *job.Job) error {
	res, err := s.db.NewDelete().
		TableExpr("courier_jobs").
		Where("id = ?", j.ID.String()).
		Where("state = 'active'").
		Where("attempts = ?", j.Attempts).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("courier/bun: complete job: %w", err)
	}
	return leaseResult(res)
}

// RetryJob returns a claimed job to pending until visibleAt.
func (s *Store) RetryJob(ctx context.Context, j *job.Job, visibleAt time.Time) error {
	res, err := s.db.NewUpdate().
		TableExpr("courier_jobs").
		Set("state = 'pending'").
		Set("claimed_by = ''").
		Set("last_error = ?", j.LastError).
		Set("visible_at = ?", visibleAt.UTC()).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", j.ID.String()).
		Where("state = 'active'").
		Where("attempts = ?", j.Attempts).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("courier/bun: retry job: %w", err)
	}
	return leaseResult(res)
}

// ExtendLease pushes the lease of a claimed job to now+lease.
func (s *Store) ExtendLease(ctx context.Context, j *job.Job, lease time.Duration) error {
	now := time.Now().UTC()
	res, err := s.db.NewUpdate().
		TableExpr("courier_jobs").
		Set("visible_at = ?", now.Add(lease)).
		Set("updated_at = ?", now).
		Where("id = ?", j.ID.String()).
		Where("state = 'active'").
		Where("attempts = ?", j.Attempts).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("courier/bun: extend lease: %w", err)
	}
	return leaseResult(res)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	m := new(jobModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", jobID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, courier.ErrJobNotFound
		}
		return nil, fmt.Errorf("courier/bun: get job: %w", err)
	}
	return fromJobModel(m)
}

// ListJobs returns jobs in enqueue order.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	var models []jobModel
	q := s.db.NewSelect().Model(&models)

	if opts.Topic != "" {
		q = q.Where("topic = ?", opts.Topic)
	}
	if opts.State != "" {
		q = q.Where("state = ?", string(opts.State))
	}

	q = q.Order("seq ASC")

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("courier/bun: list jobs: %w", err)
	}
	jobs, err := fromJobModels(models)
	if err != nil {
		return nil, fmt.Errorf("courier/bun: list jobs convert: %w", err)
	}
	return jobs, nil
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	q := s.db.NewSelect().TableExpr("courier_jobs")

	if opts.Topic != "" {
		q = q.Where("topic = ?", opts.Topic)
	}
	if opts.State != "" {
		q = q.Where("state = ?", string(opts.State))
	}

	count, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("courier/bun: count jobs: %w", err)
	}
	return int64(count), nil
}

// NextVisibleAt returns the earliest VisibleAt among the topic's pending
// and active jobs.
func (s *Store) NextVisibleAt(ctx context.Context, topic string) (time.Time, bool, error) {
	var at sql.NullTime
	err := s.db.NewRaw(`
		SELECT MIN(visible_at) FROM courier_jobs
		WHERE topic = ? AND state IN ('pending', 'active')`,
		topic,
	).Scan(ctx, &at)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("courier/bun: next visible: %w", err)
	}
	if !at.Valid {
		return time.Time{}, false, nil
	}
	return at.Time.UTC(), true, nil
}

// leaseResult maps a lease-checked write to ErrLeaseLost when no row
// matched.
func leaseResult(res sql.Result) error {
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return courier.ErrLeaseLost
	}
	return nil
}
