// Package cluster coordinates which courier process runs singleton work.
//
// Every process claims jobs independently; the queue store already makes
// claims exclusive. Periodic maintenance such as the dead letter retention
// sweep must run on one process only, so those tasks are gated on
// leadership obtained through an [Elector].
//
// Leadership is a lease: AcquireLeadership takes it when free or expired,
// RenewLeadership extends it for the current holder, and it lapses on its
// own if the holder stops renewing.
//
// Implementations:
//   - [Local] for single-process deployments
//   - cluster/k8s on the coordination/v1 Lease API
//   - store/redis on a SET NX key
package cluster
