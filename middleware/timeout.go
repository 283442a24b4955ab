package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/job"
)

// Timeout returns middleware that bounds each execution to d. The handler
// runs on the caller's goroutine with a context cancelled at the deadline,
// so handlers must honour ctx. A failure after the deadline is reported as
// transient. A non-positive d disables the bound.
func Timeout(d time.Duration, logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if d <= 0 {
			return next(ctx)
		}

		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()

		err := next(ctx)
		if err == nil || !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return err
		}

		logger.Warn("job exceeded execution timeout",
			slog.String("job_id", j.ID.String()),
			slog.String("topic", j.Topic),
			slog.Duration("timeout", d),
		)
		if courier.IsPermanent(err) {
			return err
		}
		return courier.Transient(fmt.Errorf("job %s exceeded %s: %w", j.ID, d, err))
	}
}
