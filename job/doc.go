// Package job defines the job entity, its state machine, typed handler
// definitions, and the store contract every queue backend implements.
//
// # State machine
//
//	pending → active → completed          (ack; the job leaves the queue)
//	pending → active → pending → active   (nack with budget left, or lease expiry)
//	pending → active → failed             (budget spent or permanent error; dead-lettered)
//
// Transitions are guarded by [Job.Transition]. Completed and failed are
// terminal; a dead-lettered job only runs again as a fresh job replayed
// from the DLQ.
//
// Attempts counts claims. It is incremented atomically by the store on
// every claim, so attempt n is the n-th execution. The (ID, Attempts) pair
// is the lease token a worker presents on ack, nack, and heartbeat.
//
// # Defining a handler
//
//	var Welcome = job.NewDefinition("email",
//	    func(ctx context.Context, p mail.WelcomePayload) error {
//	        return sender.SendWelcomeEmail(ctx, p.Email)
//	    },
//	)
//
//	job.RegisterDefinition(registry, Welcome)
package job
