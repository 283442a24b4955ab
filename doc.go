// Package courier provides a durable, at-least-once job queue for the
// asynchronous side effects of a user-authentication backend, chiefly the
// welcome email sent after registration.
//
// Courier is a library first. Configure a store, build an engine, register
// a handler per topic, and start the worker pool:
//
//	d, err := courier.New(
//	    courier.WithStore(redisStore),
//	    courier.WithTopics([]string{"email"}),
//	    courier.WithVisibilityTimeout(30*time.Second),
//	    courier.WithMaxRetries(5),
//	)
//	eng, err := engine.Build(d)
//	engine.Register(eng, mail.WelcomeDefinition(sender))
//	eng.Start(ctx)
//
// # Delivery
//
// Producers append jobs to a per-topic FIFO queue and return once the
// store has acknowledged the write. Workers claim jobs atomically
// (pending → active), execute them under a bounded timeout, and either
// acknowledge (active → completed, the job is removed) or nack
// (active → pending after backoff, or active → failed into the dead
// letter queue once the retry budget is spent).
//
// A worker that crashes between claim and ack leaves the job active
// until its visibility timeout expires; the queue then hands it to
// another worker. Delivery is therefore at-least-once and handlers must
// tolerate duplicates. For the welcome email a duplicate send is an
// accepted side effect.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based.
package courier
