// Package audithook is a Spool extension that bridges lifecycle events to
// an audit trail backend.
//
// Every job lifecycle hook, and the sweeper's artifact expiry hook, emits a
// structured audit event through the [Recorder] interface. The extension
// assigns severity levels (info for normal operations, warning for retries
// and stalls, critical for terminal failures) and metadata (job type,
// queue, attempts, elapsed time, errors).
//
// # Usage with the process logger
//
//	engine.WithExtension(audithook.New(audithook.NewLogRecorder(logger)))
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionJobFailed,
//	        audithook.ActionJobStalled,
//	        audithook.ActionArtifactExpired,
//	    ),
//	)
package audithook
