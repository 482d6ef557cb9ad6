// Package engine wires the Spool subsystems together and provides the
// application-level API for registering handlers and enqueuing work.
//
// The engine package sits above every subsystem package and below the
// application layer. It owns the queue registry, the extension registry,
// the job handler registry, one worker pool per queue, and, when an export
// pipeline is configured, the export processor, notification handler and
// cleanup sweeper.
//
// # Building an Engine
//
//	eng, err := engine.New(store,
//	    engine.WithConfig(cfg),
//	    engine.WithQueues(queue.DefaultConfigs()...),
//	    engine.WithExportPipeline(engine.ExportPipeline{
//	        Source:    projects,
//	        Renderer:  renderer,
//	        Artifacts: artifacts,
//	        Mailer:    mailer,
//	    }),
//	)
//
// # Registering Work
//
//	engine.Register(eng, job.NewDefinition("summarize", summarize))
//
// # Enqueuing Jobs
//
//	engine.Enqueue(ctx, eng, "ai-processing", "summarize", input,
//	    job.WithPriority(5),
//	    job.WithDelay(time.Minute),
//	)
//
// # Options
//
//   - [WithConfig]: engine-wide defaults
//   - [WithQueues]: the static queue list
//   - [WithExtension]: register a lifecycle extension
//   - [WithMiddleware]: add a middleware to the execution chain
//   - [WithBackoff]: replace the per-queue exponential strategy
//   - [WithExportPipeline]: enable exports, notifications and cleanup
//   - [WithTracerProvider], [WithMeterProvider]: OpenTelemetry providers
package engine
