// Package relayhook forwards courier job lifecycle events to Relay for
// webhook delivery.
//
//	r, _ := relay.New(relay.WithStore(store))
//	relayhook.RegisterAll(ctx, r)
//
//	eng, _ := engine.Build(d, engine.WithExtension(relayhook.New(r)))
//
// Only dead-lettered jobs, for example:
//
//	relayhook.New(r, relayhook.WithEvents(relayhook.EventJobDLQ))
package relayhook
