// Package dlq holds jobs that will not run again on their own: those that
// spent their retry budget and those that failed permanently (for
// example a welcome-email job whose payload has no recipient).
//
// The queue moves a job here through [Store.DeadLetterJob], which removes
// the job from its topic and records an [Entry] in one atomic step, so a
// job is never both live and dead-lettered, and never neither.
//
// # Replay
//
// [Service.Replay] re-enqueues the entry's payload as a fresh job (new ID,
// zero attempts) and stamps ReplayedAt on the entry. The entry itself is
// kept until purged.
//
// # Admin API
//
//   - GET  /v1/dlq  list entries
//   - GET  /v1/dlq/:entryId  get a single entry
//   - POST /v1/dlq/:entryId/replay  replay one entry
//   - POST /v1/dlq/purge  purge old entries
package dlq
