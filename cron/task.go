package cron

import (
	"context"
	"log/slog"
	"time"
)

// Task is a named periodic function.
type Task struct {
	// Name identifies the task in logs and Status.
	Name string

	// Schedule is a cron expression, e.g. "*/5 * * * *" or "@every 30s".
	Schedule string

	// Run performs one firing. Errors are logged; the task fires again on
	// its next scheduled time.
	Run func(ctx context.Context) error
}

// Status is a snapshot of a task's schedule.
type Status struct {
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	NextRunAt time.Time  `json:"next_run_at"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

// Purger deletes dead letter entries older than a cutoff age.
// dlq.Service satisfies it.
type Purger interface {
	Purge(ctx context.Context, olderThan time.Duration) (int64, error)
}

// DLQRetention returns a task that purges dead letter entries that failed
// more than olderThan ago.
func DLQRetention(p Purger, schedule string, olderThan time.Duration, logger *slog.Logger) Task {
	if logger == nil {
		logger = slog.Default()
	}
	return Task{
		Name:     "dlq-retention",
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			n, err := p.Purge(ctx, olderThan)
			if err != nil {
				return err
			}
			if n > 0 {
				logger.Info("dlq retention purged entries",
					slog.Int64("purged", n),
					slog.Duration("older_than", olderThan),
				)
			}
			return nil
		},
	}
}
