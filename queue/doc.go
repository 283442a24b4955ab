// Package queue is the at-least-once topic queue between producers and
// workers.
//
// [Queue.Push] stores a pending job and wakes subscribers of its topic.
// [Queue.Pop] blocks until a job can be leased, waking on a [Notifier]
// signal or the poll interval, whichever comes first. A leased job is
// invisible to other workers until its visibility timeout passes.
//
// The (job ID, attempt) pair is the lease. [Queue.Ack], [Queue.Nack] and
// [Queue.Extend] return courier.ErrLeaseLost when the lease has moved on,
// so a worker that overran its timeout cannot settle a job twice.
//
// A nacked job is rescheduled with the configured backoff until it has
// failed MaxRetries+1 times, then it moves to the dead letter queue.
//
// # Topic limits
//
// [Manager] caps concurrency and dequeue rate per topic with a
// token-bucket limiter (golang.org/x/time/rate):
//
//	engine.Build(d,
//	    engine.WithLimits(
//	        queue.LimitConfig{Topic: "email", MaxConcurrency: 5, RateLimit: 10, RateBurst: 20},
//	    ),
//	)
//
// Topics without a [LimitConfig] have no limits beyond the pool-wide
// concurrency.
package queue
