package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/spool"
	"github.com/xraph/spool/backoff"
	"github.com/xraph/spool/cleanup"
	"github.com/xraph/spool/export"
	"github.com/xraph/spool/ext"
	"github.com/xraph/spool/job"
	mw "github.com/xraph/spool/middleware"
	"github.com/xraph/spool/monitor"
	"github.com/xraph/spool/notify"
	"github.com/xraph/spool/observability"
	"github.com/xraph/spool/queue"
	"github.com/xraph/spool/store"
	"github.com/xraph/spool/worker"
)

// ExportPipeline configures the export subsystem. Source, Renderer and
// Artifacts are required.
type ExportPipeline struct {
	Source    export.DataSource
	Renderer  export.Renderer
	Artifacts export.ArtifactStorage

	// Mailer delivers notification emails. Defaults to a LogMailer.
	Mailer notify.Mailer

	// ExportsQueue and NotificationsQueue name the queues used. They
	// default to "exports" and "notifications".
	ExportsQueue       string
	NotificationsQueue string

	// CompletedPolicy and FailedPolicy override the email enqueue policies.
	CompletedPolicy *notify.Policy
	FailedPolicy    *notify.Policy
}

// Engine is a configured Spool instance.
type Engine struct {
	store      store.Store
	config     spool.Config
	extensions *ext.Registry
	userExts   []ext.Extension
	registry   *job.Registry
	queues     *queue.Registry
	pools      []*worker.Pool
	monitor    *monitor.Monitor
	bo         backoff.Strategy
	mws        []mw.Middleware
	logger     *slog.Logger
	now        func() time.Time

	queueConfigs []queue.Config
	pipeline     *ExportPipeline

	// Export subsystem, nil unless WithExportPipeline is set.
	exports   *export.Service
	processor *export.Processor
	sweeper   *cleanup.Sweeper

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	mu      sync.Mutex
	running bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the engine-wide configuration.
func WithConfig(cfg spool.Config) Option {
	return func(eng *Engine) { eng.config = cfg }
}

// WithQueues sets the static queue list. Defaults to queue.DefaultConfigs().
func WithQueues(configs ...queue.Config) Option {
	return func(eng *Engine) {
		eng.queueConfigs = append(eng.queueConfigs, configs...)
	}
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.userExts = append(eng.userExts, e)
	}
}

// WithMiddleware adds middleware to the engine's chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithBackoff sets the retry backoff strategy for every queue. If not set,
// each queue uses exponential backoff from its BackoffBase.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithExportPipeline enables the export processor, the send-email handler
// and the cleanup sweeper.
func WithExportPipeline(p ExportPipeline) Option {
	return func(eng *Engine) {
		eng.pipeline = &p
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = l }
}

// WithClock sets the time source for every component. It exists for tests.
func WithClock(now func() time.Time) Option {
	return func(eng *Engine) { eng.now = now }
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// Both the metrics middleware and the observability extension use it.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// New creates an Engine over s.
func New(s store.Store, opts ...Option) (*Engine, error) {
	if s == nil {
		return nil, spool.ErrNoStore
	}

	eng := &Engine{
		store:    s,
		config:   spool.DefaultConfig(),
		registry: job.NewRegistry(),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(eng)
	}
	eng.extensions = ext.NewRegistry(eng.logger)
	for _, e := range eng.userExts {
		eng.extensions.Register(e)
	}

	if len(eng.queueConfigs) == 0 {
		eng.queueConfigs = queue.DefaultConfigs()
	}

	queues, err := queue.NewRegistry(s, eng.config, eng.queueConfigs,
		queue.WithLogger(eng.logger),
		queue.WithClock(eng.now),
		queue.WithEnqueueHook(eng.extensions.EmitJobEnqueued),
	)
	if err != nil {
		return nil, err
	}
	eng.queues = queues
	eng.monitor = monitor.New(queues, monitor.WithPinger(s), monitor.WithLogger(eng.logger))

	eng.registerObservability()

	if eng.pipeline != nil {
		if err := eng.buildPipeline(*eng.pipeline); err != nil {
			return nil, err
		}
	}

	mws := eng.middleware()
	for _, q := range queues.All() {
		bo := eng.bo
		if bo == nil {
			bo = backoff.NewExponential(q.Config().BackoffBase, 0)
		}
		executor := worker.NewExecutor(eng.registry, eng.extensions, s,
			worker.WithBackoff(bo),
			worker.WithMiddleware(mws...),
			worker.WithExecutorLogger(eng.logger),
			worker.WithExecutorClock(eng.now),
		)
		eng.pools = append(eng.pools, worker.NewPool(q, s, executor, eng.extensions,
			worker.WithPollInterval(eng.config.PollInterval),
			worker.WithHeartbeatInterval(eng.config.HeartbeatInterval),
			worker.WithStaleJobThreshold(eng.config.StaleJobThreshold),
			worker.WithLogger(eng.logger),
			worker.WithClock(eng.now),
		))
	}

	return eng, nil
}

func (eng *Engine) registerObservability() {
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/xraph/spool/observability")
		obsExt = observability.NewMetricsExtensionWithMeter(meter)
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)
}

// middleware builds the default stack: recover → tracing → metrics →
// logging → timeout, followed by user middleware.
func (eng *Engine) middleware() []mw.Middleware {
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer("github.com/xraph/spool"))
	} else {
		tracingMw = mw.Tracing()
	}

	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter("github.com/xraph/spool"))
	} else {
		metricsMw = mw.Metrics()
	}

	defaults := []mw.Middleware{
		mw.Recover(eng.logger),
		tracingMw,
		metricsMw,
		mw.Logging(eng.logger),
		mw.Timeout(eng.logger),
	}
	all := make([]mw.Middleware, 0, len(defaults)+len(eng.mws))
	all = append(all, defaults...)
	return append(all, eng.mws...)
}

func (eng *Engine) buildPipeline(p ExportPipeline) error {
	if p.Source == nil || p.Renderer == nil || p.Artifacts == nil {
		return errors.New("engine: export pipeline needs a source, a renderer and artifact storage")
	}
	if p.ExportsQueue == "" {
		p.ExportsQueue = "exports"
	}
	if p.NotificationsQueue == "" {
		p.NotificationsQueue = "notifications"
	}
	if p.Mailer == nil {
		p.Mailer = notify.NewLogMailer(eng.logger)
	}

	exportsQ, err := eng.queues.Get(p.ExportsQueue)
	if err != nil {
		return fmt.Errorf("engine: exports queue: %w", err)
	}
	notifyQ, err := eng.queues.Get(p.NotificationsQueue)
	if err != nil {
		return fmt.Errorf("engine: notifications queue: %w", err)
	}

	completed, failed := notify.DefaultCompletedPolicy, notify.DefaultFailedPolicy
	if p.CompletedPolicy != nil {
		completed = *p.CompletedPolicy
	}
	if p.FailedPolicy != nil {
		failed = *p.FailedPolicy
	}

	eng.processor = export.NewProcessor(eng.store, p.Source, p.Renderer, p.Artifacts, notifyQ,
		export.WithRetention(eng.config.ArtifactRetention),
		export.WithNotificationPolicies(completed, failed),
		export.WithProcessorLogger(eng.logger),
		export.WithProcessorClock(eng.now),
	)
	eng.processor.Register(eng.registry)
	eng.extensions.Register(eng.processor)

	notify.NewHandler(p.Mailer, notify.WithLogger(eng.logger)).Register(eng.registry)

	eng.exports = export.NewService(eng.store, exportsQ,
		export.WithServiceLogger(eng.logger),
		export.WithServiceClock(eng.now),
	)

	eng.sweeper, err = cleanup.NewSweeper(eng.store, p.Artifacts,
		cleanup.WithSchedule(eng.config.SweepSchedule),
		cleanup.WithJobHygiene(eng.queues.All(), eng.config.CompletedGrace, eng.config.FailedGrace),
		cleanup.WithReconciler(exportsQ, eng.processor, eng.config.ReconcileGrace),
		cleanup.WithEmitter(eng.extensions),
		cleanup.WithLogger(eng.logger),
		cleanup.WithClock(eng.now),
	)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	return nil
}

// Register registers a typed job definition with the engine.
func Register[T any](eng *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(eng.registry, def)
}

// Enqueue marshals payload and enqueues a job of jobType on queueName.
func Enqueue[T any](ctx context.Context, eng *Engine, queueName, jobType string, payload T, opts ...job.Option) (*job.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for job %q: %w", jobType, err)
	}
	return eng.EnqueueRaw(ctx, queueName, jobType, data, opts...)
}

// EnqueueRaw enqueues a job with a pre-serialized payload.
func (eng *Engine) EnqueueRaw(ctx context.Context, queueName, jobType string, payload []byte, opts ...job.Option) (*job.Job, error) {
	q, err := eng.queues.Get(queueName)
	if err != nil {
		return nil, err
	}
	return q.Enqueue(ctx, jobType, payload, opts...)
}

// Start starts every worker pool and, with an export pipeline, the sweeper.
func (eng *Engine) Start(ctx context.Context) error {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if eng.running {
		return spool.ErrAlreadyStarted
	}

	for i, p := range eng.pools {
		if err := p.Start(ctx); err != nil {
			for _, started := range eng.pools[:i] {
				_ = started.Stop(ctx)
			}
			return fmt.Errorf("start pool %s: %w", p.Queue().Name(), err)
		}
	}
	if eng.sweeper != nil {
		if err := eng.sweeper.Start(ctx); err != nil {
			for _, p := range eng.pools {
				_ = p.Stop(ctx)
			}
			return fmt.Errorf("start sweeper: %w", err)
		}
	}

	eng.running = true
	eng.logger.Info("spool engine started", slog.Int("queues", len(eng.pools)))
	return nil
}

// Stop rejects new enqueues, drains every pool in parallel until ctx
// expires and stops the sweeper. Without a deadline on ctx, the configured
// ShutdownTimeout applies.
func (eng *Engine) Stop(ctx context.Context) error {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if !eng.running {
		return spool.ErrNotRunning
	}
	eng.running = false

	if _, ok := ctx.Deadline(); !ok && eng.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, eng.config.ShutdownTimeout)
		defer cancel()
	}

	eng.queues.Close()

	if eng.sweeper != nil {
		if err := eng.sweeper.Stop(ctx); err != nil {
			eng.logger.Error("sweeper stop error", slog.String("error", err.Error()))
		}
	}

	var wg sync.WaitGroup
	for _, p := range eng.pools {
		wg.Add(1)
		go func(p *worker.Pool) {
			defer wg.Done()
			if err := p.Stop(ctx); err != nil {
				eng.logger.Error("pool stop error",
					slog.String("queue", p.Queue().Name()),
					slog.String("error", err.Error()),
				)
			}
		}(p)
	}
	wg.Wait()

	eng.extensions.EmitShutdown(ctx)
	eng.logger.Info("spool engine stopped")
	return nil
}

// Queue returns the queue called name.
func (eng *Engine) Queue(name string) (*queue.Queue, error) { return eng.queues.Get(name) }

// Queues returns the queue registry.
func (eng *Engine) Queues() *queue.Registry { return eng.queues }

// Monitor returns the admin service.
func (eng *Engine) Monitor() *monitor.Monitor { return eng.monitor }

// Exports returns the export service, or nil without an export pipeline.
func (eng *Engine) Exports() *export.Service { return eng.exports }

// Sweeper returns the cleanup sweeper, or nil without an export pipeline.
func (eng *Engine) Sweeper() *cleanup.Sweeper { return eng.sweeper }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the job registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Store returns the backing store.
func (eng *Engine) Store() store.Store { return eng.store }

// Config returns the engine-wide configuration.
func (eng *Engine) Config() spool.Config { return eng.config }
