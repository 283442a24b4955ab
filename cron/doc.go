// Package cron runs periodic maintenance tasks on one courier process.
//
// A [Task] pairs a cron expression (standard five fields or a descriptor
// such as "@hourly" or "@every 10m") with a function. The [Scheduler]
// keeps the next fire time of every task in memory and runs due tasks on a
// tick loop, but only while it holds leadership from a cluster.Elector, so
// a fleet of processes runs each firing once.
//
// [DLQRetention] is the built-in task: it purges dead letter entries older
// than a retention window.
package cron
