// Package engine wires all courier subsystems together and provides the
// application-level API for registering handlers and reaching the producer,
// queue, DLQ and account services.
//
// # Building an Engine
//
//	d, err := courier.New(
//	    courier.WithStore(pgStore),
//	    courier.WithConcurrency(8),
//	)
//
//	eng, err := engine.Build(d,
//	    engine.WithMailSender(smtpSender),
//	    engine.WithNotifier(pgStore.Notifier()),
//	    engine.WithLimits(queue.LimitConfig{
//	        Topic:     courier.TopicEmail,
//	        RateLimit: 10,
//	    }),
//	)
//
// # Registering Work
//
// WithMailSender registers the welcome email handler. Other topics are
// registered with typed definitions:
//
//	engine.Register(eng, job.NewDefinition("audit", handleAudit))
//
// # Enqueuing Jobs
//
//	eng.Producer().EnqueueWelcome(ctx, "user@example.com")
//	eng.Producer().Enqueue(ctx, "audit", AuditEvent{Action: "login"})
//
// # Options
//
//   - [WithExtension]: register a lifecycle extension
//   - [WithMiddleware]: add a middleware to the execution chain
//   - [WithBackoff]: set the retry backoff strategy
//   - [WithNotifier]: set the cross-process wake-up channel
//   - [WithLimits]: configure per-topic rate limits and concurrency
//   - [WithMailSender]: deliver welcome emails through a sender
//   - [WithTokenIssuer]: sign login tokens
//   - [WithTracerProvider], [WithMeterProvider]: set OpenTelemetry providers
//   - [WithMetricFactory]: set the lifecycle counter factory
package engine
