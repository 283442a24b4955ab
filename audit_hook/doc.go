// Package audithook is a courier extension that turns job lifecycle hooks
// into structured audit events.
//
// Each hook emits an [AuditEvent] through a [Recorder]. Normal progress is
// recorded at info severity, retries at warning, and terminal failures
// (failed, dead-lettered) at critical. Recorder errors are logged and never
// propagate back into the worker.
//
// The simplest backend writes the trail to a slog logger:
//
//	eng, _ := engine.Build(d,
//	    engine.WithExtension(audithook.New(audithook.NewSlogRecorder(logger))),
//	)
//
// Any other sink can be adapted with [RecorderFunc].
package audithook
