package export_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/xraph/spool"
	"github.com/xraph/spool/backoff"
	"github.com/xraph/spool/export"
	"github.com/xraph/spool/ext"
	"github.com/xraph/spool/job"
	"github.com/xraph/spool/queue"
	"github.com/xraph/spool/store/memory"
	"github.com/xraph/spool/worker"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type clock struct {
	mu sync.Mutex
	t  time.Time
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

type fakeSource struct {
	projects map[string]*export.ProjectData
}

func (f *fakeSource) LoadProjectWithWorkflow(_ context.Context, projectID, userID string) (*export.ProjectData, error) {
	p, ok := f.projects[projectID]
	if !ok || p.UserID != userID {
		return nil, spool.ErrProjectNotFound
	}
	cp := *p
	return &cp, nil
}

type fakeRenderer struct {
	mu    sync.Mutex
	fails int // remaining failures before a render succeeds; -1 fails forever
	calls int
}

func (f *fakeRenderer) attempt() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fails == 0 {
		return nil
	}
	if f.fails > 0 {
		f.fails--
	}
	return errors.New("renderer unavailable")
}

func (f *fakeRenderer) RenderPDF(_ context.Context, p *export.ProjectData) ([]byte, error) {
	if err := f.attempt(); err != nil {
		return nil, err
	}
	return []byte("%PDF-1.7 " + p.Name), nil
}

func (f *fakeRenderer) RenderMarkdown(_ context.Context, p *export.ProjectData) (string, error) {
	if err := f.attempt(); err != nil {
		return "", err
	}
	return "# " + p.Name + "\n", nil
}

type fakeStorage struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (f *fakeStorage) SaveArtifact(_ context.Context, filename, _ string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.files[filename]; exists {
		return "", errors.New("filename collision")
	}
	f.files[filename] = data
	return "https://files.example.com/" + filename, nil
}

func (f *fakeStorage) DeleteArtifact(_ context.Context, filename string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.files[filename]; !ok {
		return spool.ErrArtifactNotFound
	}
	delete(f.files, filename)
	return nil
}

// flakyEnqueuer fails the next fails enqueues, or every one while fails is
// negative, then delegates.
type flakyEnqueuer struct {
	mu    sync.Mutex
	next  export.Enqueuer
	fails int
}

func (f *flakyEnqueuer) Enqueue(ctx context.Context, jobType string, payload []byte, opts ...job.Option) (*job.Job, error) {
	f.mu.Lock()
	if f.fails != 0 {
		if f.fails > 0 {
			f.fails--
		}
		f.mu.Unlock()
		return nil, errors.New("queue unavailable")
	}
	f.mu.Unlock()
	return f.next.Enqueue(ctx, jobType, payload, opts...)
}

func (f *flakyEnqueuer) setFails(n int) {
	f.mu.Lock()
	f.fails = n
	f.mu.Unlock()
}

// flakyStore fails UpdateExport for records matched by failOn.
type flakyStore struct {
	*memory.Store
	failOn func(e *export.Export) bool
}

func (f *flakyStore) UpdateExport(ctx context.Context, e *export.Export) error {
	if f.failOn != nil && f.failOn(e) {
		return errors.New("store unavailable")
	}
	return f.Store.UpdateExport(ctx, e)
}

// pipeline wires an export processor onto in-memory queues and executes
// jobs by hand.
type pipeline struct {
	clock         *clock
	store         *memory.Store
	exports       *queue.Queue
	notifications *queue.Queue
	notifier      *flakyEnqueuer
	source        *fakeSource
	renderer      *fakeRenderer
	storage       *fakeStorage
	processor     *export.Processor
	service       *export.Service
	executor      *worker.Executor
}

const base = 2 * time.Second

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	c := &clock{t: time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)}
	s := memory.New()

	queues, err := queue.NewRegistry(s, spool.DefaultConfig(), queue.DefaultConfigs(),
		queue.WithClock(c.Now), queue.WithLogger(discard))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	exportsQ, _ := queues.Get("exports")
	notifyQ, _ := queues.Get("notifications")

	p := &pipeline{
		clock:         c,
		store:         s,
		exports:       exportsQ,
		notifications: notifyQ,
		notifier:      &flakyEnqueuer{next: notifyQ},
		source: &fakeSource{projects: map[string]*export.ProjectData{
			"prj_1": {
				ID:       "prj_1",
				UserID:   "usr_ada",
				Name:     "Launch Plan: Q3 / 2026",
				Workflow: map[string]any{"steps": []string{"research", "draft"}},
			},
			"prj_empty": {ID: "prj_empty", UserID: "usr_ada", Name: "Empty"},
		}},
		renderer: &fakeRenderer{},
		storage:  &fakeStorage{files: make(map[string][]byte)},
	}

	p.processor = export.NewProcessor(s, p.source, p.renderer, p.storage, p.notifier,
		export.WithProcessorClock(c.Now), export.WithProcessorLogger(discard))
	p.service = export.NewService(s, exportsQ,
		export.WithServiceClock(c.Now), export.WithServiceLogger(discard))

	jobs := job.NewRegistry()
	p.processor.Register(jobs)
	extensions := ext.NewRegistry(discard)
	extensions.Register(p.processor)

	p.executor = worker.NewExecutor(jobs, extensions, s,
		worker.WithBackoff(backoff.NewExponential(base, 0)),
		worker.WithExecutorClock(c.Now),
		worker.WithExecutorLogger(discard),
	)
	return p
}

// runNext claims and executes the next ready export job.
func (p *pipeline) runNext(t *testing.T) *job.Job {
	t.Helper()
	j, err := p.exports.ClaimNext(context.Background())
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if j == nil {
		t.Fatal("no export job ready")
	}
	_ = p.executor.Execute(context.Background(), j)
	return j
}

func (p *pipeline) request(t *testing.T, projectID string, format export.Format) *export.Export {
	t.Helper()
	e, err := p.service.Request(context.Background(), export.Request{
		UserID:      "usr_ada",
		ProjectID:   projectID,
		Format:      format,
		NotifyEmail: "ada@example.com",
	})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	return e
}

func (p *pipeline) export(t *testing.T, e *export.Export) *export.Export {
	t.Helper()
	got, err := p.store.GetExport(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("GetExport: %v", err)
	}
	return got
}

func (p *pipeline) emails(t *testing.T) []*job.Job {
	t.Helper()
	jobs, err := p.notifications.List(context.Background(), job.StatusWaiting, 0, -1)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	return jobs
}
