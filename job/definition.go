package job

import "context"

// Definition is a typed handler for one topic.
// T is the payload type (must be JSON-serializable).
type Definition[T any] struct {
	// Topic is the queue this definition consumes.
	Topic string

	// Handler processes one job payload. Returning an error wrapped with
	// courier.Permanent dead-letters the job without retry.
	Handler func(ctx context.Context, payload T) error
}

// NewDefinition creates a typed job definition.
func NewDefinition[T any](topic string, handler func(ctx context.Context, payload T) error) *Definition[T] {
	return &Definition[T]{
		Topic:   topic,
		Handler: handler,
	}
}
