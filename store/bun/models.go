package bunstore

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/courier/account"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
)

// ── Job model ─────────────────────────────────────────────────────

type jobModel struct {
	bun.BaseModel `bun:"table:courier_jobs"`

	ID          string     `bun:"id,pk"`
	Seq         int64      `bun:"seq,autoincrement"`
	Topic       string     `bun:"topic,notnull"`
	Payload     []byte     `bun:"payload,notnull,type:bytea"`
	State       string     `bun:"state,notnull,default:'pending'"`
	Attempts    int        `bun:"attempts,notnull,default:0"`
	MaxRetries  int        `bun:"max_retries,notnull,default:3"`
	LastError   string     `bun:"last_error,notnull,default:''"`
	ClaimedBy   string     `bun:"claimed_by,notnull,default:''"`
	EnqueuedAt  time.Time  `bun:"enqueued_at,notnull"`
	VisibleAt   time.Time  `bun:"visible_at,notnull"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull"`
	CompletedAt *time.Time `bun:"completed_at"`
}

func toJobModel(j *job.Job) *jobModel {
	return &jobModel{
		ID:          j.ID.String(),
		Topic:       j.Topic,
		Payload:     j.Payload,
		State:       string(j.State),
		Attempts:    j.Attempts,
		MaxRetries:  j.MaxRetries,
		LastError:   j.LastError,
		ClaimedBy:   j.ClaimedBy.String(),
		EnqueuedAt:  j.EnqueuedAt,
		VisibleAt:   j.VisibleAt,
		UpdatedAt:   j.UpdatedAt,
		CompletedAt: j.CompletedAt,
	}
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	parsedID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("courier/bun: parse job id %q: %w", m.ID, err)
	}

	j := &job.Job{
		ID:          parsedID,
		Topic:       m.Topic,
		Payload:     m.Payload,
		State:       job.State(m.State),
		Attempts:    m.Attempts,
		MaxRetries:  m.MaxRetries,
		LastError:   m.LastError,
		EnqueuedAt:  m.EnqueuedAt,
		VisibleAt:   m.VisibleAt,
		UpdatedAt:   m.UpdatedAt,
		CompletedAt: m.CompletedAt,
	}

	if m.ClaimedBy != "" {
		if wid, wErr := id.ParseWorkerID(m.ClaimedBy); wErr == nil {
			j.ClaimedBy = wid
		}
	}
	return j, nil
}

func fromJobModels(models []jobModel) ([]*job.Job, error) {
	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, err := fromJobModel(&models[i])
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// ── DLQ model ─────────────────────────────────────────────────────

type dlqEntryModel struct {
	bun.BaseModel `bun:"table:courier_dlq"`

	ID         string     `bun:"id,pk"`
	JobID      string     `bun:"job_id,notnull"`
	Topic      string     `bun:"topic,notnull"`
	Payload    []byte     `bun:"payload,notnull,type:bytea"`
	Error      string     `bun:"error,notnull"`
	Permanent  bool       `bun:"permanent,notnull"`
	Attempts   int        `bun:"attempts,notnull"`
	MaxRetries int        `bun:"max_retries,notnull"`
	EnqueuedAt time.Time  `bun:"enqueued_at,notnull"`
	FailedAt   time.Time  `bun:"failed_at,notnull"`
	ReplayedAt *time.Time `bun:"replayed_at"`
}

func toDLQModel(e *dlq.Entry) *dlqEntryModel {
	return &dlqEntryModel{
		ID:         e.ID.String(),
		JobID:      e.JobID.String(),
		Topic:      e.Topic,
		Payload:    e.Payload,
		Error:      e.Error,
		Permanent:  e.Permanent,
		Attempts:   e.Attempts,
		MaxRetries: e.MaxRetries,
		EnqueuedAt: e.EnqueuedAt,
		FailedAt:   e.FailedAt,
		ReplayedAt: e.ReplayedAt,
	}
}

func fromDLQModel(m *dlqEntryModel) (*dlq.Entry, error) {
	entryID, err := id.ParseDLQID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("courier/bun: parse dlq id %q: %w", m.ID, err)
	}
	jobID, _ := id.ParseJobID(m.JobID) //nolint:errcheck // best-effort parse from trusted DB data

	return &dlq.Entry{
		ID:         entryID,
		JobID:      jobID,
		Topic:      m.Topic,
		Payload:    m.Payload,
		Error:      m.Error,
		Permanent:  m.Permanent,
		Attempts:   m.Attempts,
		MaxRetries: m.MaxRetries,
		EnqueuedAt: m.EnqueuedAt,
		FailedAt:   m.FailedAt,
		ReplayedAt: m.ReplayedAt,
	}, nil
}

// ── User model ────────────────────────────────────────────────────

type userModel struct {
	bun.BaseModel `bun:"table:courier_users"`

	ID           string    `bun:"id,pk"`
	Email        string    `bun:"email,notnull,unique"`
	PasswordHash string    `bun:"password_hash,notnull"`
	CreatedAt    time.Time `bun:"created_at,notnull"`
}

func toUserModel(u *account.User) *userModel {
	return &userModel{
		ID:           u.ID.String(),
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
	}
}

func fromUserModel(m *userModel) (*account.User, error) {
	userID, err := id.ParseUserID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("courier/bun: parse user id %q: %w", m.ID, err)
	}
	return &account.User{
		ID:           userID,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt,
	}, nil
}
