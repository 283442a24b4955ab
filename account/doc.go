// Package account registers and authenticates users. It is the producer's
// only caller: [Service.Register] writes the user and then hands a welcome
// email to the queue through a [Welcomer], without waiting for delivery.
//
// There is no transaction spanning the user write and the enqueue. If the
// enqueue fails the user exists without a welcome email, and the failure
// is logged by the producer.
package account
