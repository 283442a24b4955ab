// Package producer turns application events into queued jobs.
//
// [Producer.Enqueue] is synchronous up to the store write and reports
// failure as a *courier.DispatchError. [Producer.Dispatch] wraps it for
// callers that must not fail, such as user registration: the error is
// logged and the job is simply not sent.
package producer
