package worker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/spool"
	"github.com/xraph/spool/job"
	"github.com/xraph/spool/queue"
	"github.com/xraph/spool/worker"
)

func newPool(h *harness, opts ...worker.PoolOption) *worker.Pool {
	opts = append([]worker.PoolOption{worker.WithPollInterval(10 * time.Millisecond)}, opts...)
	return worker.NewPool(h.queue, h.store, h.executor, h.ext, opts...)
}

func stopPool(t *testing.T, p *worker.Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestPool_StartStop(t *testing.T) {
	h := newHarness(t, nil, time.Millisecond, queue.Config{Concurrency: 2})
	p := newPool(h)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	if err := p.Start(context.Background()); !errors.Is(err, spool.ErrAlreadyStarted) {
		t.Fatalf("double start: expected ErrAlreadyStarted, got %v", err)
	}

	stopPool(t, p)
	// Double stop should be no-op.
	stopPool(t, p)
}

func TestPool_ProcessesJob(t *testing.T) {
	h := newHarness(t, nil, time.Millisecond, queue.Config{})

	type greet struct{ Name string }
	var processed atomic.Bool
	job.RegisterDefinition(h.jobs, job.NewDefinition("greet", func(_ context.Context, p greet, _ job.Progress) error {
		if p.Name != "Alice" {
			t.Errorf("payload.Name = %q, want %q", p.Name, "Alice")
		}
		processed.Store(true)
		return nil
	}))

	p := newPool(h)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	defer stopPool(t, p)

	enq, err := h.queue.Enqueue(context.Background(), "greet", []byte(`{"Name":"Alice"}`))
	if err != nil {
		t.Fatalf("enqueue error: %v", err)
	}

	waitFor(t, "job to complete", func() bool {
		return processed.Load() && h.status(t, enq).Status == job.StatusCompleted
	})
}

func TestPool_EachJobRunsOnce(t *testing.T) {
	h := newHarness(t, nil, time.Millisecond, queue.Config{Concurrency: 8})

	var (
		mu   sync.Mutex
		runs = make(map[string]int)
	)
	h.jobs.Register("count", func(_ context.Context, payload []byte, _ job.Progress) error {
		mu.Lock()
		runs[string(payload)]++
		mu.Unlock()
		time.Sleep(time.Millisecond)
		return nil
	})

	const n = 60
	ctx := context.Background()
	for i := range n {
		if _, err := h.queue.Enqueue(ctx, "count", []byte{byte(i)}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	p := newPool(h)
	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stopPool(t, p)

	waitFor(t, "all jobs to complete", func() bool {
		stats, _ := h.queue.Stats(ctx)
		return stats.Completed == n
	})

	mu.Lock()
	defer mu.Unlock()
	if len(runs) != n {
		t.Fatalf("expected %d distinct jobs, got %d", n, len(runs))
	}
	for k, c := range runs {
		if c != 1 {
			t.Fatalf("job %v ran %d times", []byte(k), c)
		}
	}
}

// Pausing mid-run lets the active job finish but blocks new claims.
func TestPool_PauseMidRun(t *testing.T) {
	h := newHarness(t, nil, time.Millisecond, queue.Config{Concurrency: 2})
	ctx := context.Background()

	release := make(chan struct{})
	var started atomic.Int32
	h.jobs.Register("slow", func(_ context.Context, _ []byte, _ job.Progress) error {
		started.Add(1)
		<-release
		return nil
	})
	h.jobs.Register("fast", func(_ context.Context, _ []byte, _ job.Progress) error {
		return nil
	})

	p := newPool(h)
	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stopPool(t, p)

	slow, _ := h.queue.Enqueue(ctx, "slow", nil)
	waitFor(t, "slow job to start", func() bool { return started.Load() == 1 })

	if err := h.queue.Pause(ctx); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	fast, _ := h.queue.Enqueue(ctx, "fast", nil)

	// Several poll intervals pass without the paused queue handing out work.
	time.Sleep(80 * time.Millisecond)
	if got := h.status(t, fast); got.Status != job.StatusWaiting {
		t.Fatalf("fast job status = %q while paused, want waiting", got.Status)
	}

	close(release)
	waitFor(t, "active job to finish while paused", func() bool {
		return h.status(t, slow).Status == job.StatusCompleted
	})
	if got := h.status(t, fast); got.Status != job.StatusWaiting {
		t.Fatalf("fast job status = %q while paused, want waiting", got.Status)
	}

	if err := h.queue.Resume(ctx); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	waitFor(t, "fast job to complete after resume", func() bool {
		return h.status(t, fast).Status == job.StatusCompleted
	})
}

func TestPool_RetriesUntilSuccess(t *testing.T) {
	h := newHarness(t, nil, 5*time.Millisecond, queue.Config{})

	var calls atomic.Int32
	h.jobs.Register("flaky", func(_ context.Context, _ []byte, _ job.Progress) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	})

	p := newPool(h)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stopPool(t, p)

	enq, _ := h.queue.Enqueue(context.Background(), "flaky", nil, job.WithMaxAttempts(3))
	waitFor(t, "flaky job to complete", func() bool {
		return h.status(t, enq).Status == job.StatusCompleted
	})
	if got := h.status(t, enq).AttemptsMade; got != 3 {
		t.Fatalf("attempts made = %d, want 3", got)
	}
}

func TestPool_StopCancelsAfterDeadline(t *testing.T) {
	h := newHarness(t, nil, time.Hour, queue.Config{})
	ctx := context.Background()

	running := make(chan struct{})
	var cancelled atomic.Bool
	h.jobs.Register("stuck", func(ctx context.Context, _ []byte, _ job.Progress) error {
		close(running)
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	})

	p := newPool(h)
	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	enq, _ := h.queue.Enqueue(ctx, "stuck", nil)
	<-running

	stopCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := p.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if !cancelled.Load() {
		t.Fatal("handler context was not cancelled on shutdown")
	}
	// The interrupted attempt follows the retry policy.
	if got := h.status(t, enq); got.Status != job.StatusDelayed {
		t.Fatalf("status = %q, want delayed", got.Status)
	}
}

func TestPool_ReapsStalledJob(t *testing.T) {
	h := newHarness(t, nil, time.Millisecond, queue.Config{})
	ctx := context.Background()

	var runs atomic.Int32
	h.jobs.Register("orphan", func(_ context.Context, _ []byte, _ job.Progress) error {
		runs.Add(1)
		return nil
	})

	// A crashed worker claimed the job and never heartbeated again.
	enq, _ := h.queue.Enqueue(ctx, "orphan", nil)
	if _, err := h.store.ClaimNext(ctx, h.queue.Name(), time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}

	p := newPool(h,
		worker.WithHeartbeatInterval(10*time.Millisecond),
		worker.WithStaleJobThreshold(40*time.Millisecond),
	)
	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stopPool(t, p)

	waitFor(t, "stalled job to be recovered and completed", func() bool {
		return h.status(t, enq).Status == job.StatusCompleted
	})
	got := h.status(t, enq)
	if got.AttemptsMade != 2 {
		t.Fatalf("attempts made = %d, want 2", got.AttemptsMade)
	}
	if runs.Load() != 1 {
		t.Fatalf("handler ran %d times, want 1", runs.Load())
	}
	if _, _, _, stalled := h.rec.counts(); stalled != 1 {
		t.Fatalf("stalled hooks = %d, want 1", stalled)
	}
}

func TestPool_HeartbeatKeepsLongJobAlive(t *testing.T) {
	h := newHarness(t, nil, time.Millisecond, queue.Config{})
	ctx := context.Background()

	h.jobs.Register("long", func(_ context.Context, _ []byte, _ job.Progress) error {
		time.Sleep(150 * time.Millisecond)
		return nil
	})

	p := newPool(h,
		worker.WithHeartbeatInterval(10*time.Millisecond),
		worker.WithStaleJobThreshold(50*time.Millisecond),
	)
	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stopPool(t, p)

	enq, _ := h.queue.Enqueue(ctx, "long", nil)
	waitFor(t, "long job to complete", func() bool {
		return h.status(t, enq).Status == job.StatusCompleted
	})
	if got := h.status(t, enq); got.AttemptsMade != 1 {
		t.Fatalf("attempts made = %d, want 1 (job was reaped while alive)", got.AttemptsMade)
	}
}
