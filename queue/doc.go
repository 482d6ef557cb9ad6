// Package queue defines named queues over a shared job store.
//
// A [Queue] is a logical channel that groups related jobs. It exposes
// enqueue, claim-next, pause/resume, stats and clean, and delegates every
// status change to the atomic primitives of [job.Store]. Queues are built at
// process start from a static list of [Config] values by a [Registry] and are
// never deleted at runtime, only paused and resumed.
//
//	reg, err := queue.NewRegistry(store, spool.DefaultConfig(),
//	    queue.Config{Name: "exports", Concurrency: 2},
//	    queue.Config{Name: "notifications", Concurrency: 5, RateLimit: 10, RateBurst: 20},
//	)
//	q, err := reg.Get("exports")
//	j, err := q.Enqueue(ctx, "export-project", payload, job.WithPriority(5))
//
// # Rate limiting
//
// A queue with a non-zero RateLimit carries a [Limiter], a token bucket
// (golang.org/x/time/rate) that worker pools consult before each claim.
// Queues without a rate limit are bounded only by their worker concurrency.
package queue
