// Package redis implements store.Store on Redis.
//
// Each job is a Hash. Every topic keeps three Sorted Sets: ready (claimable
// jobs scored by enqueue sequence), delayed (pending jobs waiting out a
// backoff, scored by visibility time) and active (claimed jobs scored by
// lease expiry). Claims, acknowledgements, retries and dead-lettering run
// as Lua scripts, so each state change is atomic on the server.
//
// The scripts address job hashes derived from script arguments and are
// meant for a standalone Redis or a single-shard deployment.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
//
//	n := redisstore.NewNotifier(client, logger)
//	if err := n.Start(ctx); err != nil { ... }
//	defer n.Close()
package redis
