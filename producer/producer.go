package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
	"github.com/xraph/courier/mail"
)

// Pusher appends a job to the queue. *queue.Queue implements it.
type Pusher interface {
	Push(ctx context.Context, j *job.Job) error
}

// Handle identifies an enqueued job.
type Handle struct {
	JobID      id.JobID  `json:"job_id"`
	Topic      string    `json:"topic"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Producer serializes payloads into jobs and appends them to the queue.
type Producer struct {
	queue      Pusher
	maxRetries int
	logger     *slog.Logger
}

// New creates a Producer. Jobs get maxRetries unless an enqueue option
// overrides it.
func New(q Pusher, maxRetries int, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{queue: q, maxRetries: maxRetries, logger: logger}
}

// Enqueue serializes payload and appends a job to topic. It returns only
// once the store has acknowledged the write. Every failure is a
// *courier.DispatchError.
func (p *Producer) Enqueue(ctx context.Context, topic string, payload any, opts ...job.Option) (*Handle, error) {
	if topic == "" {
		return nil, &courier.DispatchError{Topic: topic, Err: courier.ErrEmptyTopic}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, &courier.DispatchError{Topic: topic, Err: fmt.Errorf("marshal payload: %w", err)}
	}

	o := job.Options{MaxRetries: p.maxRetries}
	for _, opt := range opts {
		opt(&o)
	}

	j := job.New(topic, raw, o)
	if err := p.queue.Push(ctx, j); err != nil {
		return nil, &courier.DispatchError{Topic: topic, Err: err}
	}

	return &Handle{JobID: j.ID, Topic: topic, EnqueuedAt: j.EnqueuedAt}, nil
}

// EnqueueWelcome enqueues a welcome email for recipient.
func (p *Producer) EnqueueWelcome(ctx context.Context, recipient string) (*Handle, error) {
	return p.Enqueue(ctx, courier.TopicEmail, mail.WelcomePayload{Email: recipient})
}

// Dispatch is the fire-and-forget form of Enqueue. A failure is logged
// and dropped; the caller's request is never failed by it.
func (p *Producer) Dispatch(ctx context.Context, topic string, payload any, opts ...job.Option) {
	h, err := p.Enqueue(ctx, topic, payload, opts...)
	if err != nil {
		p.logger.Warn("dispatch failed",
			slog.String("topic", topic),
			slog.String("error", err.Error()),
		)
		return
	}
	p.logger.Debug("job dispatched",
		slog.String("job_id", h.JobID.String()),
		slog.String("topic", topic),
	)
}

// DispatchWelcome is the fire-and-forget form of EnqueueWelcome.
func (p *Producer) DispatchWelcome(ctx context.Context, recipient string) {
	p.Dispatch(ctx, courier.TopicEmail, mail.WelcomePayload{Email: recipient})
}
