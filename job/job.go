package job

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StatePending means the job is waiting to be claimed. A pending job
	// with VisibleAt in the future is waiting out a retry backoff.
	StatePending State = "pending"
	// StateActive means exactly one worker holds a lease on the job.
	StateActive State = "active"
	// StateCompleted means a worker acknowledged the job.
	StateCompleted State = "completed"
	// StateFailed means the job was dead-lettered.
	StateFailed State = "failed"
)

// transitions lists the legal successor states for each state.
var transitions = map[State][]State{
	StatePending: {StateActive},
	StateActive:  {StateCompleted, StatePending, StateFailed},
}

// CanTransition reports whether moving from s to next is legal.
func (s State) CanTransition(next State) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateActive, StateCompleted, StateFailed:
		return true
	}
	return false
}

// Job is a unit of asynchronous work addressed to a topic.
type Job struct {
	ID          id.JobID        `json:"id"`
	Topic       string          `json:"topic"`
	Payload     json.RawMessage `json:"payload"`
	State       State           `json:"state"`
	Attempts    int             `json:"attempts"`
	MaxRetries  int             `json:"max_retries"`
	LastError   string          `json:"last_error,omitempty"`
	ClaimedBy   id.WorkerID     `json:"claimed_by,omitempty"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	VisibleAt   time.Time       `json:"visible_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// New builds a pending job, visible immediately unless opts carry a delay.
func New(topic string, payload []byte, opts Options) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:         id.NewJobID(),
		Topic:      topic,
		Payload:    payload,
		State:      StatePending,
		MaxRetries: opts.MaxRetries,
		EnqueuedAt: now,
		VisibleAt:  now.Add(opts.Delay),
		UpdatedAt:  now,
	}
}

// Transition moves the job to next, enforcing the state machine.
func (j *Job) Transition(next State) error {
	if !j.State.CanTransition(next) {
		return fmt.Errorf("%w: job %s %s → %s", courier.ErrInvalidState, j.ID, j.State, next)
	}
	j.State = next
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// Decode unmarshals the payload into v.
func (j *Job) Decode(v any) error {
	if len(j.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(j.Payload, v)
}

// Exhausted reports whether a failure of the current attempt spends the
// retry budget. Attempt n is the n-th execution; failures 1..MaxRetries
// are retried and failure MaxRetries+1 is terminal.
func (j *Job) Exhausted() bool {
	return j.Attempts > j.MaxRetries
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	cp := *j
	if j.Payload != nil {
		cp.Payload = append(json.RawMessage(nil), j.Payload...)
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
