// Package worker provides the job execution engine: an Executor that
// invokes registered handlers through middleware, and a Pool that runs
// worker goroutines popping jobs from the queue.
package worker

import (
	"context"
	"fmt"

	"github.com/xraph/courier"
	"github.com/xraph/courier/job"
	"github.com/xraph/courier/middleware"
)

// Executor runs a single job through middleware and the handler registered
// for its topic. It reports the outcome and leaves settling the job (ack
// or nack) to the caller.
type Executor struct {
	registry *job.Registry
	mw       middleware.Middleware
}

// NewExecutor creates an Executor. Middleware runs in the order given.
func NewExecutor(registry *job.Registry, mws ...middleware.Middleware) *Executor {
	return &Executor{
		registry: registry,
		mw:       middleware.Chain(mws...),
	}
}

// Execute runs j and returns the handler's error. A job whose topic has no
// registered handler fails permanently.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	handler, ok := e.registry.Get(j.Topic)
	if !ok {
		return courier.Permanent(fmt.Errorf("no handler registered for topic %q", j.Topic))
	}

	terminal := func(ctx context.Context) error {
		return handler(ctx, j.Payload)
	}

	return e.mw(ctx, j, terminal)
}
