package relayhook

import (
	"context"

	"github.com/xraph/relay"
	"github.com/xraph/relay/catalog"
)

// Courier lifecycle event types. Each constant maps to one ext lifecycle
// hook and is used as the event.Event.Type when sending via Relay.
const (
	EventJobEnqueued  = "courier.job.enqueued"
	EventJobStarted   = "courier.job.started"
	EventJobCompleted = "courier.job.completed"
	EventJobFailed    = "courier.job.failed"
	EventJobRetrying  = "courier.job.retrying"
	EventJobDLQ       = "courier.job.dlq"
)

const definitionVersion = "2026-01-01"

// AllDefinitions returns webhook definitions for every courier lifecycle
// event type.
func AllDefinitions() []catalog.WebhookDefinition {
	return []catalog.WebhookDefinition{
		{
			Name:        EventJobEnqueued,
			Description: "Fired when a job is appended to its topic queue.",
			Group:       "jobs",
			Version:     definitionVersion,
		},
		{
			Name:        EventJobStarted,
			Description: "Fired when a worker claims a job and starts executing it.",
			Group:       "jobs",
			Version:     definitionVersion,
		},
		{
			Name:        EventJobCompleted,
			Description: "Fired when a job is acknowledged.",
			Group:       "jobs",
			Version:     definitionVersion,
		},
		{
			Name:        EventJobFailed,
			Description: "Fired when a job fails with no retry budget left.",
			Group:       "jobs",
			Version:     definitionVersion,
		},
		{
			Name:        EventJobRetrying,
			Description: "Fired when a failed job is rescheduled with backoff.",
			Group:       "jobs",
			Version:     definitionVersion,
		},
		{
			Name:        EventJobDLQ,
			Description: "Fired when a job is moved to the dead letter store.",
			Group:       "jobs",
			Version:     definitionVersion,
		},
	}
}

// RegisterAll registers every courier webhook event type in the Relay
// catalog. Call it once at startup before sending events.
func RegisterAll(ctx context.Context, r *relay.Relay) error {
	for _, def := range AllDefinitions() {
		if _, err := r.RegisterEventType(ctx, def); err != nil {
			return err
		}
	}
	return nil
}
