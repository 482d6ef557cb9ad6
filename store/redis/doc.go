// Package redis implements store.Store on Redis. Jobs are Hashes; each
// queue keeps one Sorted Set per status. Waiting jobs are scored by
// (priority, createdAt) so ZPOPMIN yields the next job to claim; delayed
// jobs are scored by their DelayUntil. Every status transition runs as a
// Lua script, so the hash and the status sets change together and a job
// can be claimed by exactly one caller.
//
// Scripts address job hashes by prefix, so the store targets a single Redis
// node (or a cluster where all spool keys share a hash slot).
//
// The caller owns the Redis client lifecycle:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
