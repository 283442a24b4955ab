package store

import (
	"context"

	"github.com/xraph/courier/account"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/job"
)

// Store is the aggregate persistence interface.
// A single backend implements every subsystem store so that moving a job
// into the dead letter queue can be done atomically.
type Store interface {
	job.Store
	dlq.Store
	account.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
