package worker_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/xraph/spool"
	"github.com/xraph/spool/backoff"
	"github.com/xraph/spool/ext"
	"github.com/xraph/spool/job"
	"github.com/xraph/spool/middleware"
	"github.com/xraph/spool/queue"
	"github.com/xraph/spool/store/memory"
	"github.com/xraph/spool/worker"
)

// clock is a manually advanced time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// recorder captures lifecycle events.
type recorder struct {
	mu        sync.Mutex
	completed []string
	failed    []string
	retrying  []time.Time
	stalled   []string
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) OnJobCompleted(_ context.Context, j *job.Job, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, j.ID.String())
	return nil
}

func (r *recorder) OnJobFailed(_ context.Context, j *job.Job, _ error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, j.ID.String())
	return nil
}

func (r *recorder) OnJobRetrying(_ context.Context, _ *job.Job, _ error, next time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retrying = append(r.retrying, next)
	return nil
}

func (r *recorder) OnJobStalled(_ context.Context, j *job.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stalled = append(r.stalled, j.ID.String())
	return nil
}

func (r *recorder) counts() (completed, failed, retrying, stalled int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.completed), len(r.failed), len(r.retrying), len(r.stalled)
}

// harness bundles the pieces a worker test needs.
type harness struct {
	store    *memory.Store
	queue    *queue.Queue
	jobs     *job.Registry
	rec      *recorder
	ext      *ext.Registry
	executor *worker.Executor
}

// newHarness builds a single-queue setup. A nil clock means real time.
func newHarness(t *testing.T, c *clock, base time.Duration, qc queue.Config) *harness {
	t.Helper()
	now := time.Now
	if c != nil {
		now = c.Now
	}

	s := memory.New()
	if qc.Name == "" {
		qc.Name = "work"
	}
	reg, err := queue.NewRegistry(s, spool.DefaultConfig(), []queue.Config{qc}, queue.WithClock(now))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	q, _ := reg.Get(qc.Name)

	rec := &recorder{}
	extensions := ext.NewRegistry(nil)
	extensions.Register(rec)

	jobs := job.NewRegistry()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	exec := worker.NewExecutor(jobs, extensions, s,
		worker.WithBackoff(backoff.NewExponential(base, 0)),
		worker.WithMiddleware(middleware.Recover(logger), middleware.Timeout(logger)),
		worker.WithExecutorLogger(logger),
		worker.WithExecutorClock(now),
	)

	return &harness{store: s, queue: q, jobs: jobs, rec: rec, ext: extensions, executor: exec}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (h *harness) status(t *testing.T, j *job.Job) *job.Job {
	t.Helper()
	got, err := h.store.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	return got
}
