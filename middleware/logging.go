package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/job"
)

// Logging returns middleware that logs each execution attempt and its
// outcome. Failures are logged at warn: the queue decides whether they
// are retried or dead-lettered.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		logger.Info("job started",
			slog.String("job_id", j.ID.String()),
			slog.String("topic", j.Topic),
			slog.Int("attempt", j.Attempts),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Warn("job attempt failed",
				slog.String("job_id", j.ID.String()),
				slog.String("topic", j.Topic),
				slog.Int("attempt", j.Attempts),
				slog.Duration("elapsed", elapsed),
				slog.Bool("permanent", courier.IsPermanent(err)),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("job completed",
				slog.String("job_id", j.ID.String()),
				slog.String("topic", j.Topic),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
