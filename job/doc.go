// Package job defines the job entity, its status machine, typed
// definitions, the handler registry, and the store interface.
//
// # Job Entity
//
// A [Job] represents a unit of deferred work. It embeds [spool.Entity] for
// timestamps, carries an opaque JSON payload, and progresses through:
//
//	waiting → active → completed
//	waiting → active → delayed → active → ...
//	waiting → active → failed
//	delayed → active (once DelayUntil has passed)
//	failed  → waiting (manual retry only)
//
// Fields of note:
//   - Priority: lower values are claimed first, ties broken by CreatedAt
//   - AttemptsMade / MaxAttempts: AttemptsMade is incremented by each claim
//     and never exceeds MaxAttempts
//   - DelayUntil: earliest time a delayed job may be claimed
//   - Timeout: per-attempt execution deadline (zero = unlimited)
//
// # Defining a Job
//
// Use [Definition] with a typed handler. The payload is JSON-serialized
// at enqueue time and deserialized before the handler runs:
//
//	var SendEmail = job.NewDefinition("send-email",
//	    func(ctx context.Context, in EmailInput, progress job.Progress) error {
//	        return mailer.Send(ctx, in.To, in.Subject, in.Body)
//	    },
//	)
//
// Return [Permanent] to fail a job without further attempts.
//
// # Registry
//
// [Registry] maps job types to type-erased [HandlerFunc] values.
// Register definitions at startup via [RegisterDefinition]:
//
//	job.RegisterDefinition(registry, SendEmail)
//
// The engine package provides a higher-level engine.Register wrapper.
package job
