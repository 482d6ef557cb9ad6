package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/spool"
	"github.com/xraph/spool/ext"
	"github.com/xraph/spool/id"
	"github.com/xraph/spool/job"
	"github.com/xraph/spool/queue"
)

// Pool runs the worker slots of one queue. Each slot claims a job, executes
// it through the Executor and claims again; slots never wait on each other.
type Pool struct {
	queue        *queue.Queue
	store        job.Store
	executor     *Executor
	extensions   *ext.Registry
	concurrency  int
	pollInterval time.Duration
	workerID     id.WorkerID
	logger       *slog.Logger
	now          func() time.Time

	// Heartbeat / reaper configuration.
	heartbeatInterval time.Duration
	staleJobThreshold time.Duration

	stopCh  chan struct{}
	loopCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	activeMu   sync.Mutex
	activeJobs map[string]held
}

// held is a job a worker slot is executing.
type held struct {
	claim  job.Claim
	cancel context.CancelFunc
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithConcurrency overrides the number of worker slots. Defaults to the
// queue's configured concurrency.
func WithConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPollInterval sets how long an idle slot waits before polling again
// when no enqueue signal arrives.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithHeartbeatInterval sets how often the pool refreshes heartbeats of the
// jobs it holds. Zero disables heartbeats.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithStaleJobThreshold sets how old a heartbeat may get before the reaper
// recovers the job. Zero disables reaping.
func WithStaleJobThreshold(d time.Duration) PoolOption {
	return func(p *Pool) { p.staleJobThreshold = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// WithClock sets the time source for heartbeats and stale detection.
func WithClock(now func() time.Time) PoolOption {
	return func(p *Pool) { p.now = now }
}

// NewPool creates a worker pool for q.
func NewPool(q *queue.Queue, store job.Store, executor *Executor, extensions *ext.Registry, opts ...PoolOption) *Pool {
	p := &Pool{
		queue:        q,
		store:        store,
		executor:     executor,
		extensions:   extensions,
		concurrency:  q.Config().Concurrency,
		pollInterval: time.Second,
		workerID:     id.NewWorkerID(),
		logger:       slog.Default(),
		now:          time.Now,
		activeJobs:   make(map[string]held),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.concurrency <= 0 {
		p.concurrency = 1
	}
	p.logger = p.logger.With(slog.String("queue", q.Name()))
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Queue returns the queue the pool serves.
func (p *Pool) Queue() *queue.Queue { return p.queue }

// Active returns how many jobs the pool is executing.
func (p *Pool) Active() int {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	return len(p.activeJobs)
}

// Start launches the worker slots. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return spool.ErrAlreadyStarted
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.loopCtx, p.stop = context.WithCancel(context.Background())

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.claimLoop()
	}
	if p.heartbeatInterval > 0 {
		p.wg.Add(1)
		go p.every(p.heartbeatInterval, p.sendHeartbeats)
	}
	if p.staleJobThreshold > 0 {
		p.wg.Add(1)
		go p.every(p.staleJobThreshold/2, p.reapStaleJobs)
	}
	return nil
}

// Stop stops claiming and waits for in-flight jobs. When ctx expires first,
// in-flight jobs have their contexts cancelled and Stop waits for their
// outcome to be recorded.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))
	close(p.stopCh)
	p.stop()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		<-done
	}
	return nil
}

// claimLoop is run by each worker slot.
func (p *Pool) claimLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		if err := p.queue.Limiter().Wait(p.loopCtx); err != nil {
			return
		}

		j, err := p.queue.ClaimNext(p.loopCtx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				p.logger.Error("claim error", slog.String("error", err.Error()))
			}
			p.idle()
			continue
		}
		if j == nil {
			p.idle()
			continue
		}

		// More work may be ready; let another idle slot look.
		p.queue.Notify()
		p.run(j)
	}
}

func (p *Pool) run(j *job.Job) {
	p.logger.Debug("job claimed",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.Int("attempt", j.AttemptsMade),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p.trackJob(j.Claim(), cancel)
	defer p.untrackJob(j.ID.String())

	p.extensions.EmitJobStarted(ctx, j)
	_ = p.executor.Execute(ctx, j)
}

// idle waits for an enqueue signal, the poll interval or stop.
func (p *Pool) idle() {
	t := time.NewTimer(p.pollInterval)
	defer t.Stop()

	select {
	case <-t.C:
	case <-p.queue.Wake():
	case <-p.stopCh:
	}
}

// every runs fn on a ticker until stop.
func (p *Pool) every(d time.Duration, fn func()) {
	defer p.wg.Done()
	if d <= 0 {
		d = time.Second
	}

	ticker := time.NewTicker(d)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			fn()
		}
	}
}

func (p *Pool) sendHeartbeats() {
	p.activeMu.Lock()
	claims := make([]job.Claim, 0, len(p.activeJobs))
	for _, h := range p.activeJobs {
		claims = append(claims, h.claim)
	}
	p.activeMu.Unlock()

	now := p.now()
	for _, c := range claims {
		jobID := c.ID.String()
		err := p.store.HeartbeatJob(context.Background(), c, now)
		switch {
		case err == nil:
		case errors.Is(err, spool.ErrInvalidTransition), errors.Is(err, spool.ErrJobNotFound):
			// Recovered elsewhere; stop duplicating the work.
			p.logger.Warn("held job is no longer active, cancelling",
				slog.String("job_id", jobID),
				slog.Int("attempt", c.Attempt),
			)
			p.cancelJob(jobID)
		default:
			p.logger.Warn("heartbeat failed",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (p *Pool) reapStaleJobs() {
	ctx := context.Background()
	cutoff := p.now().Add(-p.staleJobThreshold)
	stale, err := p.store.ListStaleJobs(ctx, p.queue.Name(), cutoff)
	if err != nil {
		p.logger.Error("list stale jobs error", slog.String("error", err.Error()))
		return
	}

	for _, j := range stale {
		if p.holds(j.ID.String()) {
			continue
		}
		p.executor.RecoverStalled(ctx, j, cutoff)
	}
	if len(stale) > 0 {
		p.queue.Notify()
	}
}

func (p *Pool) trackJob(c job.Claim, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeJobs[c.ID.String()] = held{claim: c, cancel: cancel}
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(jobID string) {
	p.activeMu.Lock()
	delete(p.activeJobs, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) holds(jobID string) bool {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	_, ok := p.activeJobs[jobID]
	return ok
}

func (p *Pool) cancelJob(jobID string) {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	if h, ok := p.activeJobs[jobID]; ok {
		h.cancel()
	}
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, h := range p.activeJobs {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		h.cancel()
	}
}
