package dlq

import (
	"encoding/json"
	"time"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
)

// Entry is a job that was dead-lettered, either because its retry budget
// ran out or because it failed permanently. Entries are kept for manual
// inspection and replay; nothing is dropped silently.
type Entry struct {
	ID         id.DLQID        `json:"id"`
	JobID      id.JobID        `json:"job_id"`
	Topic      string          `json:"topic"`
	Payload    json.RawMessage `json:"payload"`
	Error      string          `json:"error"`
	Permanent  bool            `json:"permanent"`
	Attempts   int             `json:"attempts"`
	MaxRetries int             `json:"max_retries"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	FailedAt   time.Time       `json:"failed_at"`
	ReplayedAt *time.Time      `json:"replayed_at,omitempty"`
}

// NewEntry captures a failed job and the error that ended it.
func NewEntry(j *job.Job, jobErr error, permanent bool) *Entry {
	msg := j.LastError
	if jobErr != nil {
		msg = jobErr.Error()
	}
	return &Entry{
		ID:         id.NewDLQID(),
		JobID:      j.ID,
		Topic:      j.Topic,
		Payload:    j.Payload,
		Error:      msg,
		Permanent:  permanent,
		Attempts:   j.Attempts,
		MaxRetries: j.MaxRetries,
		EnqueuedAt: j.EnqueuedAt,
		FailedAt:   time.Now().UTC(),
	}
}
