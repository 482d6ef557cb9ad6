// Package ext defines the extension system for Spool.
//
// Extensions are notified of lifecycle events and can react to them:
// recording metrics, finishing export records, writing audit logs.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	func (e *MyExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
//	    slog.Info("job completed", "job_id", j.ID, "elapsed", elapsed)
//	    return nil
//	}
//
// # Hooks
//
//   - [JobEnqueued]: job was stored
//   - [JobStarted]: worker claimed the job
//   - [JobCompleted]: job reached completed
//   - [JobRetrying]: failed attempt was requeued with a delay
//   - [JobFailed]: job reached failed
//   - [JobStalled]: a stalled active job was recovered by the reaper
//   - [ArtifactExpired]: the sweeper removed an expired artifact
//   - [Shutdown]: the engine is shutting down
//
// JobCompleted and JobFailed fire exactly once per job: the executor only
// emits them after winning the corresponding store transition.
package ext
