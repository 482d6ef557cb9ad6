// Package storetest is a conformance suite shared by every store backend.
// Each test works on its own uniquely named queue so backends that persist
// across tests (redis, postgres) need no cleanup between runs.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/spool"
	"github.com/xraph/spool/export"
	"github.com/xraph/spool/id"
	"github.com/xraph/spool/job"
	"github.com/xraph/spool/store"
)

// base is the fixed wall-clock origin the suite measures time from. It is
// close to the present so backends comparing against server time behave.
var base = time.Now().UTC().Truncate(time.Millisecond)

// Run executes the full conformance suite against s.
func Run(t *testing.T, s store.Store) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(*testing.T, store.Store)
	}{
		{"EnqueueAndGet", testEnqueueAndGet},
		{"ClaimOrder", testClaimOrder},
		{"ClaimDelayed", testClaimDelayed},
		{"ClaimPaused", testClaimPaused},
		{"ClaimExclusive", testClaimExclusive},
		{"Transitions", testTransitions},
		{"Requeue", testRequeue},
		{"Retry", testRetry},
		{"Progress", testProgress},
		{"Stale", testStale},
		{"ClaimFence", testClaimFence},
		{"StaleFence", testStaleFence},
		{"ListAndCount", testListAndCount},
		{"Clean", testClean},
		{"Exports", testExports},
		{"ExpiredExports", testExpiredExports},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, s)
		})
	}
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func newQueue() string {
	return "q-" + id.NewWorkerID().Suffix(12)
}

// NewJob builds a waiting job with a fixed creation offset from base.
func NewJob(queue string, priority int, createdOffset time.Duration) *job.Job {
	return &job.Job{
		Entity:      spool.NewEntityAt(base.Add(createdOffset)),
		ID:          id.NewJobID(),
		Queue:       queue,
		Type:        "test-job",
		Payload:     []byte(`{"test":true}`),
		Status:      job.StatusWaiting,
		Priority:    priority,
		MaxAttempts: 3,
	}
}

func mustEnqueue(t *testing.T, s store.Store, j *job.Job) {
	t.Helper()
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
}

func mustClaim(t *testing.T, s store.Store, queue string, now time.Time) *job.Job {
	t.Helper()
	j, err := s.ClaimNext(context.Background(), queue, now)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if j == nil {
		t.Fatal("ClaimNext returned no job")
	}
	return j
}

func expectNoClaim(t *testing.T, s store.Store, queue string, now time.Time) {
	t.Helper()
	j, err := s.ClaimNext(context.Background(), queue, now)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if j != nil {
		t.Fatalf("ClaimNext returned %s, want none", j.ID)
	}
}

// ──────────────────────────────────────────────────
// Job Store tests
// ──────────────────────────────────────────────────

func testEnqueueAndGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	q := newQueue()
	j := NewJob(q, 0, 0)
	mustEnqueue(t, s, j)

	if err := s.EnqueueJob(ctx, j); !errors.Is(err, spool.ErrJobAlreadyExists) {
		t.Errorf("duplicate enqueue: got %v, want ErrJobAlreadyExists", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.ID != j.ID || got.Queue != q || got.Type != "test-job" || got.Status != job.StatusWaiting {
		t.Errorf("unexpected job: %+v", got)
	}
	if string(got.Payload) != `{"test":true}` {
		t.Errorf("payload = %s", got.Payload)
	}
	if got.MaxAttempts != 3 || got.AttemptsMade != 0 {
		t.Errorf("attempts = %d/%d", got.AttemptsMade, got.MaxAttempts)
	}

	if _, err := s.GetJob(ctx, id.NewJobID()); !errors.Is(err, spool.ErrJobNotFound) {
		t.Errorf("missing job: got %v, want ErrJobNotFound", err)
	}
}

func testClaimOrder(t *testing.T, s store.Store) {
	q := newQueue()
	lowLate := NewJob(q, 5, 2*time.Millisecond)
	lowEarly := NewJob(q, 5, time.Millisecond)
	high := NewJob(q, 1, 3*time.Millisecond)
	for _, j := range []*job.Job{lowLate, lowEarly, high} {
		mustEnqueue(t, s, j)
	}

	now := base.Add(time.Second)
	want := []id.JobID{high.ID, lowEarly.ID, lowLate.ID}
	for i, wantID := range want {
		got := mustClaim(t, s, q, now)
		if got.ID != wantID {
			t.Fatalf("claim %d: got %s, want %s", i, got.ID, wantID)
		}
		if got.Status != job.StatusActive {
			t.Errorf("claim %d: status %s, want active", i, got.Status)
		}
		if got.AttemptsMade != 1 {
			t.Errorf("claim %d: attempts %d, want 1", i, got.AttemptsMade)
		}
		if got.StartedAt == nil {
			t.Errorf("claim %d: StartedAt not set", i)
		}
	}
	expectNoClaim(t, s, q, now)
}

func testClaimDelayed(t *testing.T, s store.Store) {
	q := newQueue()
	j := NewJob(q, 0, 0)
	until := base.Add(time.Minute)
	j.Status = job.StatusDelayed
	j.DelayUntil = &until
	mustEnqueue(t, s, j)

	expectNoClaim(t, s, q, base.Add(30*time.Second))

	got := mustClaim(t, s, q, until.Add(time.Millisecond))
	if got.ID != j.ID {
		t.Fatalf("got %s, want %s", got.ID, j.ID)
	}
}

func testClaimPaused(t *testing.T, s store.Store) {
	ctx := context.Background()
	q := newQueue()
	mustEnqueue(t, s, NewJob(q, 0, 0))

	if err := s.SetPaused(ctx, q, true); err != nil {
		t.Fatalf("SetPaused: %v", err)
	}
	paused, err := s.IsPaused(ctx, q)
	if err != nil || !paused {
		t.Fatalf("IsPaused = %v, %v; want true", paused, err)
	}
	expectNoClaim(t, s, q, base.Add(time.Second))

	if err := s.SetPaused(ctx, q, false); err != nil {
		t.Fatalf("SetPaused: %v", err)
	}
	mustClaim(t, s, q, base.Add(time.Second))

	other, err := s.IsPaused(ctx, newQueue())
	if err != nil || other {
		t.Errorf("unknown queue IsPaused = %v, %v; want false", other, err)
	}
}

func testClaimExclusive(t *testing.T, s store.Store) {
	q := newQueue()
	const jobs = 20
	const claimers = 8
	for i := 0; i < jobs; i++ {
		mustEnqueue(t, s, NewJob(q, 0, time.Duration(i)*time.Millisecond))
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	now := base.Add(time.Second)
	for c := 0; c < claimers; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				j, err := s.ClaimNext(context.Background(), q, now)
				if err != nil {
					t.Errorf("ClaimNext: %v", err)
					return
				}
				if j == nil {
					return
				}
				mu.Lock()
				seen[j.ID.String()]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != jobs {
		t.Fatalf("claimed %d distinct jobs, want %d", len(seen), jobs)
	}
	for jobID, n := range seen {
		if n != 1 {
			t.Errorf("job %s claimed %d times", jobID, n)
		}
	}
}

func testTransitions(t *testing.T, s store.Store) {
	ctx := context.Background()
	q := newQueue()
	mustEnqueue(t, s, NewJob(q, 0, 0))
	mustEnqueue(t, s, NewJob(q, 0, time.Millisecond))
	now := base.Add(time.Second)

	a := mustClaim(t, s, q, now)
	done, err := s.CompleteJob(ctx, a.Claim(), now.Add(time.Second))
	if err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	if done.Status != job.StatusCompleted || done.Progress != 100 || done.FinishedAt == nil {
		t.Errorf("unexpected completed job: %+v", done)
	}
	if _, err := s.CompleteJob(ctx, a.Claim(), now); !errors.Is(err, spool.ErrInvalidTransition) {
		t.Errorf("double complete: got %v, want ErrInvalidTransition", err)
	}
	if _, err := s.FailJob(ctx, a.Claim(), "late", now); !errors.Is(err, spool.ErrInvalidTransition) {
		t.Errorf("fail after complete: got %v, want ErrInvalidTransition", err)
	}

	b := mustClaim(t, s, q, now)
	failed, err := s.FailJob(ctx, b.Claim(), "boom", now.Add(time.Second))
	if err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	if failed.Status != job.StatusFailed || failed.FailureReason != "boom" || failed.FinishedAt == nil {
		t.Errorf("unexpected failed job: %+v", failed)
	}
	if _, err := s.CompleteJob(ctx, b.Claim(), now); !errors.Is(err, spool.ErrInvalidTransition) {
		t.Errorf("complete after fail: got %v, want ErrInvalidTransition", err)
	}

	if _, err := s.CompleteJob(ctx, job.Claim{ID: id.NewJobID(), Attempt: 1}, now); !errors.Is(err, spool.ErrJobNotFound) {
		t.Errorf("complete missing: got %v, want ErrJobNotFound", err)
	}
}

func testRequeue(t *testing.T, s store.Store) {
	ctx := context.Background()
	q := newQueue()
	mustEnqueue(t, s, NewJob(q, 0, 0))
	now := base.Add(time.Second)

	j := mustClaim(t, s, q, now)
	until := now.Add(2 * time.Second)
	requeued, err := s.RequeueJob(ctx, j.Claim(), "transient", until)
	if err != nil {
		t.Fatalf("RequeueJob: %v", err)
	}
	if requeued.Status != job.StatusDelayed || requeued.FailureReason != "transient" {
		t.Errorf("unexpected requeued job: %+v", requeued)
	}
	if requeued.DelayUntil == nil || !requeued.DelayUntil.Equal(until) {
		t.Errorf("DelayUntil = %v, want %v", requeued.DelayUntil, until)
	}

	expectNoClaim(t, s, q, until.Add(-time.Millisecond))
	again := mustClaim(t, s, q, until)
	if again.AttemptsMade != 2 {
		t.Errorf("AttemptsMade = %d, want 2", again.AttemptsMade)
	}

	if _, err := s.RequeueJob(ctx, j.Claim(), "x", until); !errors.Is(err, spool.ErrInvalidTransition) {
		t.Errorf("requeue with the first claim: got %v, want ErrInvalidTransition", err)
	}
	if _, err := s.RequeueJob(ctx, again.Claim(), "x", until); err != nil {
		t.Fatalf("RequeueJob on re-claimed job: %v", err)
	}
	if _, err := s.RequeueJob(ctx, again.Claim(), "x", until); !errors.Is(err, spool.ErrInvalidTransition) {
		t.Errorf("requeue delayed: got %v, want ErrInvalidTransition", err)
	}
}

func testRetry(t *testing.T, s store.Store) {
	ctx := context.Background()
	q := newQueue()
	mustEnqueue(t, s, NewJob(q, 0, 0))
	now := base.Add(time.Second)

	j := mustClaim(t, s, q, now)
	if _, err := s.RetryJob(ctx, j.ID, now); !errors.Is(err, spool.ErrInvalidTransition) {
		t.Errorf("retry active: got %v, want ErrInvalidTransition", err)
	}
	if _, err := s.FailJob(ctx, j.Claim(), "boom", now); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	retried, err := s.RetryJob(ctx, j.ID, now.Add(time.Second))
	if err != nil {
		t.Fatalf("RetryJob: %v", err)
	}
	if retried.Status != job.StatusWaiting || retried.AttemptsMade != 0 || retried.FailureReason != "" || retried.FinishedAt != nil {
		t.Errorf("unexpected retried job: %+v", retried)
	}

	again := mustClaim(t, s, q, now.Add(2*time.Second))
	if again.ID != j.ID || again.AttemptsMade != 1 {
		t.Errorf("re-claim: id %s attempts %d", again.ID, again.AttemptsMade)
	}
}

func testProgress(t *testing.T, s store.Store) {
	ctx := context.Background()
	q := newQueue()
	w := NewJob(q, 0, 0)
	mustEnqueue(t, s, w)

	if err := s.UpdateProgress(ctx, job.Claim{ID: w.ID}, 50); !errors.Is(err, spool.ErrInvalidTransition) {
		t.Errorf("progress on waiting job: got %v, want ErrInvalidTransition", err)
	}

	j := mustClaim(t, s, q, base.Add(time.Second))
	if err := s.UpdateProgress(ctx, j.Claim(), 42); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	got, _ := s.GetJob(ctx, j.ID)
	if got.Progress != 42 || got.Status != job.StatusActive {
		t.Errorf("progress %d status %s, want 42 active", got.Progress, got.Status)
	}
}

func testStale(t *testing.T, s store.Store) {
	ctx := context.Background()
	q := newQueue()
	mustEnqueue(t, s, NewJob(q, 0, 0))
	mustEnqueue(t, s, NewJob(q, 0, time.Millisecond))

	t0 := base.Add(time.Second)
	a := mustClaim(t, s, q, t0)
	b := mustClaim(t, s, q, t0)

	if err := s.HeartbeatJob(ctx, b.Claim(), t0.Add(time.Minute)); err != nil {
		t.Fatalf("HeartbeatJob: %v", err)
	}

	stale, err := s.ListStaleJobs(ctx, q, t0.Add(30*time.Second))
	if err != nil {
		t.Fatalf("ListStaleJobs: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != a.ID {
		t.Fatalf("stale = %v, want only %s", stale, a.ID)
	}
}

// testClaimFence checks that a transition carrying an older attempt cannot
// move a job that has since been claimed again.
func testClaimFence(t *testing.T, s store.Store) {
	ctx := context.Background()
	q := newQueue()
	mustEnqueue(t, s, NewJob(q, 0, 0))
	now := base.Add(time.Second)

	first := mustClaim(t, s, q, now)
	if _, err := s.RequeueJob(ctx, first.Claim(), "transient", now); err != nil {
		t.Fatalf("RequeueJob: %v", err)
	}
	second := mustClaim(t, s, q, now)
	if second.AttemptsMade != first.AttemptsMade+1 {
		t.Fatalf("AttemptsMade = %d, want %d", second.AttemptsMade, first.AttemptsMade+1)
	}

	old := first.Claim()
	if _, err := s.CompleteJob(ctx, old, now); !errors.Is(err, spool.ErrInvalidTransition) {
		t.Errorf("complete with old claim: got %v, want ErrInvalidTransition", err)
	}
	if _, err := s.FailJob(ctx, old, "late", now); !errors.Is(err, spool.ErrInvalidTransition) {
		t.Errorf("fail with old claim: got %v, want ErrInvalidTransition", err)
	}
	if _, err := s.RequeueJob(ctx, old, "late", now); !errors.Is(err, spool.ErrInvalidTransition) {
		t.Errorf("requeue with old claim: got %v, want ErrInvalidTransition", err)
	}
	if err := s.HeartbeatJob(ctx, old, now); !errors.Is(err, spool.ErrInvalidTransition) {
		t.Errorf("heartbeat with old claim: got %v, want ErrInvalidTransition", err)
	}
	if err := s.UpdateProgress(ctx, old, 10); !errors.Is(err, spool.ErrInvalidTransition) {
		t.Errorf("progress with old claim: got %v, want ErrInvalidTransition", err)
	}

	got, _ := s.GetJob(ctx, second.ID)
	if got.Status != job.StatusActive || got.AttemptsMade != second.AttemptsMade || got.Progress != 0 {
		t.Fatalf("live claim disturbed: %+v", got)
	}
	if _, err := s.CompleteJob(ctx, second.Claim(), now); err != nil {
		t.Fatalf("CompleteJob with live claim: %v", err)
	}
}

// testStaleFence checks that a reaper claim carrying a stale cutoff only
// moves a job whose heartbeat is still older than the cutoff.
func testStaleFence(t *testing.T, s store.Store) {
	ctx := context.Background()
	q := newQueue()
	mustEnqueue(t, s, NewJob(q, 0, 0))
	t0 := base.Add(time.Second)

	j := mustClaim(t, s, q, t0)
	cutoff := t0.Add(30 * time.Second)
	if stale, err := s.ListStaleJobs(ctx, q, cutoff); err != nil || len(stale) != 1 {
		t.Fatalf("ListStaleJobs = %v, %v; want one job", stale, err)
	}

	// The worker heartbeats after the scan.
	if err := s.HeartbeatJob(ctx, j.Claim(), t0.Add(time.Minute)); err != nil {
		t.Fatalf("HeartbeatJob: %v", err)
	}

	reap := j.Claim()
	reap.StaleBefore = cutoff
	if _, err := s.RequeueJob(ctx, reap, "stalled", cutoff); !errors.Is(err, spool.ErrInvalidTransition) {
		t.Fatalf("reap fresh job: got %v, want ErrInvalidTransition", err)
	}

	reap.StaleBefore = t0.Add(2 * time.Minute)
	requeued, err := s.RequeueJob(ctx, reap, "stalled", cutoff)
	if err != nil {
		t.Fatalf("reap stale job: %v", err)
	}
	if requeued.Status != job.StatusDelayed || requeued.FailureReason != "stalled" {
		t.Errorf("unexpected reaped job: %+v", requeued)
	}
}

func testListAndCount(t *testing.T, s store.Store) {
	ctx := context.Background()
	q := newQueue()
	var waiting []*job.Job
	for i := 0; i < 5; i++ {
		j := NewJob(q, 0, time.Duration(i)*time.Millisecond)
		mustEnqueue(t, s, j)
		waiting = append(waiting, j)
	}
	now := base.Add(time.Second)

	first := mustClaim(t, s, q, now)
	if _, err := s.CompleteJob(ctx, first.Claim(), now); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	second := mustClaim(t, s, q, now)
	if _, err := s.FailJob(ctx, second.Claim(), "boom", now); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	mustClaim(t, s, q, now)

	counts, err := s.CountJobs(ctx, q)
	if err != nil {
		t.Fatalf("CountJobs: %v", err)
	}
	want := job.Counts{Waiting: 2, Active: 1, Completed: 1, Failed: 1}
	if counts != want {
		t.Errorf("counts = %+v, want %+v", counts, want)
	}

	page, err := s.ListJobs(ctx, q, job.StatusWaiting, 0, 0)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(page) != 1 || page[0].ID != waiting[3].ID {
		t.Errorf("first waiting = %v, want %s", page, waiting[3].ID)
	}

	all, err := s.ListJobs(ctx, q, job.StatusWaiting, 0, -1)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("len(all waiting) = %d, want 2", len(all))
	}

	empty, err := s.ListJobs(ctx, q, job.StatusDelayed, 0, -1)
	if err != nil || len(empty) != 0 {
		t.Errorf("delayed = %v, %v; want empty", empty, err)
	}
}

func testClean(t *testing.T, s store.Store) {
	ctx := context.Background()
	q := newQueue()
	for i := 0; i < 3; i++ {
		mustEnqueue(t, s, NewJob(q, 0, time.Duration(i)*time.Millisecond))
	}
	now := base.Add(time.Second)

	old := mustClaim(t, s, q, now)
	if _, err := s.CompleteJob(ctx, old.Claim(), now); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	recent := mustClaim(t, s, q, now)
	if _, err := s.CompleteJob(ctx, recent.Claim(), now.Add(time.Hour)); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}

	if _, err := s.CleanJobs(ctx, q, job.StatusWaiting, now.Add(48*time.Hour)); err == nil {
		t.Error("cleaning a non-terminal status must be rejected")
	}

	n, err := s.CleanJobs(ctx, q, job.StatusCompleted, now.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("CleanJobs: %v", err)
	}
	if n != 1 {
		t.Errorf("removed %d, want 1", n)
	}
	if _, err := s.GetJob(ctx, old.ID); !errors.Is(err, spool.ErrJobNotFound) {
		t.Errorf("old job: got %v, want ErrJobNotFound", err)
	}
	if _, err := s.GetJob(ctx, recent.ID); err != nil {
		t.Errorf("recent job must survive: %v", err)
	}

	counts, _ := s.CountJobs(ctx, q)
	if counts.Waiting != 1 || counts.Completed != 1 {
		t.Errorf("counts after clean = %+v", counts)
	}
}

// ──────────────────────────────────────────────────
// Export Store tests
// ──────────────────────────────────────────────────

// NewExport builds a pending export for userID.
func NewExport(userID string) *export.Export {
	return &export.Export{
		Entity:    spool.NewEntity(),
		ID:        id.NewExportID(),
		UserID:    userID,
		ProjectID: "proj-1",
		Format:    export.FormatPDF,
		Status:    export.StatusPending,
	}
}

func testExports(t *testing.T, s store.Store) {
	ctx := context.Background()
	user := "user-" + id.NewWorkerID().Suffix(8)

	e := NewExport(user)
	if err := s.CreateExport(ctx, e); err != nil {
		t.Fatalf("CreateExport: %v", err)
	}
	if err := s.CreateExport(ctx, e); !errors.Is(err, spool.ErrExportAlreadyExists) {
		t.Errorf("duplicate create: got %v, want ErrExportAlreadyExists", err)
	}

	got, err := s.GetExport(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetExport: %v", err)
	}
	if got.UserID != user || got.Status != export.StatusPending || got.Format != export.FormatPDF {
		t.Errorf("unexpected export: %+v", got)
	}

	expires := base.Add(7 * 24 * time.Hour)
	got.Status = export.StatusCompleted
	got.Filename = "report-" + e.ID.Suffix(8) + ".pdf"
	got.FileURL = "https://files.example.com/" + got.Filename
	got.FileSizeBytes = 1234
	got.ExpiresAt = &expires
	if err := s.UpdateExport(ctx, got); err != nil {
		t.Fatalf("UpdateExport: %v", err)
	}

	byName, err := s.GetExportByFilename(ctx, got.Filename)
	if err != nil {
		t.Fatalf("GetExportByFilename: %v", err)
	}
	if byName.ID != e.ID || byName.FileSizeBytes != 1234 {
		t.Errorf("unexpected export by filename: %+v", byName)
	}
	if _, err := s.GetExportByFilename(ctx, "missing.pdf"); !errors.Is(err, spool.ErrExportNotFound) {
		t.Errorf("missing filename: got %v, want ErrExportNotFound", err)
	}

	second := NewExport(user)
	second.CreatedAt = e.CreatedAt.Add(time.Second)
	if err := s.CreateExport(ctx, second); err != nil {
		t.Fatalf("CreateExport: %v", err)
	}
	list, err := s.ListExports(ctx, user, export.ListOpts{})
	if err != nil {
		t.Fatalf("ListExports: %v", err)
	}
	if len(list) != 2 || list[0].ID != second.ID {
		t.Errorf("ListExports = %v, want newest first", list)
	}

	missing := NewExport(user)
	if err := s.UpdateExport(ctx, missing); !errors.Is(err, spool.ErrExportNotFound) {
		t.Errorf("update missing: got %v, want ErrExportNotFound", err)
	}
	if _, err := s.GetExport(ctx, missing.ID); !errors.Is(err, spool.ErrExportNotFound) {
		t.Errorf("get missing: got %v, want ErrExportNotFound", err)
	}
}

func testExpiredExports(t *testing.T, s store.Store) {
	ctx := context.Background()
	user := "user-" + id.NewWorkerID().Suffix(8)
	now := base.Add(100 * 24 * time.Hour)

	mk := func(status export.Status, expiresIn time.Duration) *export.Export {
		e := NewExport(user)
		e.Status = status
		exp := now.Add(expiresIn)
		e.ExpiresAt = &exp
		e.Filename = e.ID.String() + ".pdf"
		e.FileURL = "https://files.example.com/" + e.Filename
		if err := s.CreateExport(ctx, e); err != nil {
			t.Fatalf("CreateExport: %v", err)
		}
		return e
	}

	expired := mk(export.StatusCompleted, -time.Hour)
	mk(export.StatusCompleted, time.Hour)
	mk(export.StatusExpired, -time.Hour)
	mk(export.StatusFailed, -time.Hour)

	list, err := s.ListExpiredExports(ctx, now, 0)
	if err != nil {
		t.Fatalf("ListExpiredExports: %v", err)
	}
	found := false
	for _, e := range list {
		if e.Status != export.StatusCompleted || !e.ExpiresAt.Before(now) {
			t.Errorf("unexpected expired export: %+v", e)
		}
		if e.ID == expired.ID {
			found = true
		}
	}
	if !found {
		t.Errorf("expired export %s not listed", expired.ID)
	}
}
