// Package spool provides an asynchronous job queue and export pipeline for
// Go. It accepts units of deferred work, schedules them onto named queues,
// executes them with retry and backoff, tracks their lifecycle, and sweeps
// expired export artifacts.
//
// Spool is designed as a library first. Import it, configure a store, and
// register handlers as ordinary Go functions. The cmd/spool binary wires the
// same pieces into a standalone service.
//
// # Quick Start
//
//	eng, err := engine.New(memory.New(),
//	    engine.WithQueues(queue.Config{Name: "ai-processing", Concurrency: 2}),
//	)
//	engine.Register(eng, job.NewDefinition("summarize", summarize))
//	_ = eng.Start(ctx)
//	_, err = engine.Enqueue(ctx, eng, "ai-processing", "summarize", input)
//
// # Architecture
//
// Each subsystem (job, export) defines its own store interface. A single
// backend (memory, redis, postgres) implements all of them. Job status is
// only ever changed through the atomic primitives of [job.Store]; no
// component performs a read-modify-write of a job's status.
//
// All entity IDs are type-prefixed, K-sortable, UUIDv7-based identifiers
// from package id.
package spool
