// Package cleanup removes expired export artifacts and old terminal jobs.
//
// The Sweeper runs on a cron schedule independent of any queue. Each sweep
// deletes the artifact of every completed export whose expiry has passed,
// then moves the record to expired with its file fields cleared. Records
// are never deleted. A failed deletion is logged and retried by the next
// sweep; it never stops the current one.
//
// With WithReconciler each sweep also hands the failed jobs of a queue to a
// Reconciler, which settles records whose failure hook was cut short.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/spool"
	"github.com/xraph/spool/export"
	"github.com/xraph/spool/id"
	"github.com/xraph/spool/job"
	"github.com/xraph/spool/queue"
)

// Emitter emits artifact lifecycle events. ext.Registry satisfies it.
type Emitter interface {
	EmitArtifactExpired(ctx context.Context, exportID id.ExportID, filename string)
}

// cronParser supports standard 5-field cron and descriptors like "@every 1h".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Reconciler settles the side effects of a terminally failed job.
// *export.Processor implements it.
type Reconciler interface {
	Reconcile(ctx context.Context, j *job.Job) (bool, error)
}

// Result summarizes one sweep.
type Result struct {
	Expired    int   `json:"expired"`
	Failed     int   `json:"failed"`
	Cleaned    int64 `json:"cleaned_jobs"`
	Reconciled int   `json:"reconciled"`
}

// Sweeper expires artifacts on a schedule.
type Sweeper struct {
	exports   export.Store
	artifacts export.ArtifactStorage
	emitter   Emitter
	queues    []*queue.Queue
	logger    *slog.Logger
	now       func() time.Time

	schedule       cronlib.Schedule
	batchSize      int
	completedGrace time.Duration
	failedGrace    time.Duration

	reconcileQueue *queue.Queue
	reconciler     Reconciler
	reconcileGrace time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a Sweeper.
type Option func(*Sweeper) error

// WithSchedule sets the cron expression driving Start. Defaults to "@every 1h".
func WithSchedule(expr string) Option {
	return func(s *Sweeper) error {
		sched, err := cronParser.Parse(expr)
		if err != nil {
			return fmt.Errorf("cleanup: parse schedule %q: %w", expr, err)
		}
		s.schedule = sched
		return nil
	}
}

// WithBatchSize sets how many expired exports are loaded at a time.
func WithBatchSize(n int) Option {
	return func(s *Sweeper) error {
		if n > 0 {
			s.batchSize = n
		}
		return nil
	}
}

// WithJobHygiene makes each sweep clean terminal jobs of queues older than
// the given grace periods. A zero grace skips that status.
func WithJobHygiene(queues []*queue.Queue, completedGrace, failedGrace time.Duration) Option {
	return func(s *Sweeper) error {
		s.queues = queues
		s.completedGrace = completedGrace
		s.failedGrace = failedGrace
		return nil
	}
}

// WithReconciler makes each sweep pass the failed jobs of q that finished
// more than grace ago to r. The grace keeps the sweep clear of failure
// hooks that are still running.
func WithReconciler(q *queue.Queue, r Reconciler, grace time.Duration) Option {
	return func(s *Sweeper) error {
		s.reconcileQueue = q
		s.reconciler = r
		s.reconcileGrace = grace
		return nil
	}
}

// WithEmitter sets the event emitter.
func WithEmitter(e Emitter) Option {
	return func(s *Sweeper) error {
		s.emitter = e
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sweeper) error {
		s.logger = l
		return nil
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) error {
		s.now = now
		return nil
	}
}

// NewSweeper creates a Sweeper.
func NewSweeper(exports export.Store, artifacts export.ArtifactStorage, opts ...Option) (*Sweeper, error) {
	s := &Sweeper{
		exports:   exports,
		artifacts: artifacts,
		logger:    slog.Default(),
		now:       time.Now,
		batchSize: 100,
	}
	if err := WithSchedule("@every 1h")(s); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Sweep runs one cleanup pass. It only returns an error when expired
// exports cannot be listed.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	var res Result
	now := s.now().UTC()

	// Records whose deletion failed stay listed, so each batch asks for
	// enough extra rows to step past them.
	skip := make(map[string]struct{})
	for {
		limit := s.batchSize + len(skip)
		batch, err := s.exports.ListExpiredExports(ctx, now, limit)
		if err != nil {
			return res, fmt.Errorf("cleanup: list expired exports: %w", err)
		}

		fresh := 0
		for _, e := range batch {
			if _, ok := skip[e.ID.String()]; ok {
				continue
			}
			fresh++
			if s.expire(ctx, e, now) {
				res.Expired++
				continue
			}
			res.Failed++
			skip[e.ID.String()] = struct{}{}
		}
		if len(batch) < limit || fresh == 0 {
			break
		}
	}

	// Reconcile before cleaning so failed jobs are settled before they
	// can be removed.
	res.Reconciled = s.reconcile(ctx, now)
	res.Cleaned = s.cleanJobs(ctx)

	if res.Expired > 0 || res.Failed > 0 || res.Cleaned > 0 || res.Reconciled > 0 {
		s.logger.Info("sweep finished",
			slog.Int("expired", res.Expired),
			slog.Int("failed", res.Failed),
			slog.Int64("cleaned_jobs", res.Cleaned),
			slog.Int("reconciled", res.Reconciled),
		)
	}
	return res, nil
}

// expire deletes the artifact of e and marks the record expired.
func (s *Sweeper) expire(ctx context.Context, e *export.Export, now time.Time) bool {
	if !e.Expired(now) {
		return false
	}
	filename := e.Filename

	if filename != "" {
		err := s.artifacts.DeleteArtifact(ctx, filename)
		if err != nil && !errors.Is(err, spool.ErrArtifactNotFound) {
			s.logger.Warn("artifact delete failed",
				slog.String("export_id", e.ID.String()),
				slog.String("filename", filename),
				slog.String("error", err.Error()),
			)
			return false
		}
	}

	e.Status = export.StatusExpired
	e.Filename = ""
	e.FileURL = ""
	e.UpdatedAt = now
	if err := s.exports.UpdateExport(ctx, e); err != nil {
		s.logger.Warn("mark export expired failed",
			slog.String("export_id", e.ID.String()),
			slog.String("error", err.Error()),
		)
		return false
	}

	if s.emitter != nil {
		s.emitter.EmitArtifactExpired(ctx, e.ID, filename)
	}
	s.logger.Debug("artifact expired",
		slog.String("export_id", e.ID.String()),
		slog.String("filename", filename),
	)
	return true
}

// reconcile pages through the failed jobs of the reconcile queue, newest
// first, and returns how many the Reconciler acted on.
func (s *Sweeper) reconcile(ctx context.Context, now time.Time) int {
	if s.reconciler == nil || s.reconcileQueue == nil {
		return 0
	}
	cutoff := now.Add(-s.reconcileGrace)

	n := 0
	for start := 0; ctx.Err() == nil; start += s.batchSize {
		batch, err := s.reconcileQueue.List(ctx, job.StatusFailed, start, start+s.batchSize-1)
		if err != nil {
			s.logger.Warn("list failed jobs for reconciliation failed",
				slog.String("queue", s.reconcileQueue.Name()),
				slog.String("error", err.Error()),
			)
			return n
		}
		for _, j := range batch {
			if j.FinishedAt == nil || !j.FinishedAt.Before(cutoff) {
				continue
			}
			acted, err := s.reconciler.Reconcile(ctx, j)
			if err != nil {
				s.logger.Warn("reconcile failed job failed",
					slog.String("job_id", j.ID.String()),
					slog.String("error", err.Error()),
				)
				continue
			}
			if acted {
				n++
			}
		}
		if len(batch) < s.batchSize {
			break
		}
	}
	return n
}

func (s *Sweeper) cleanJobs(ctx context.Context) int64 {
	var total int64
	for _, q := range s.queues {
		for _, rule := range []struct {
			status job.Status
			grace  time.Duration
		}{
			{job.StatusCompleted, s.completedGrace},
			{job.StatusFailed, s.failedGrace},
		} {
			if rule.grace <= 0 {
				continue
			}
			n, err := q.Clean(ctx, rule.grace, rule.status)
			if err != nil {
				s.logger.Warn("clean jobs failed",
					slog.String("queue", q.Name()),
					slog.String("status", string(rule.status)),
					slog.String("error", err.Error()),
				)
				continue
			}
			total += n
		}
	}
	return total
}

// Start runs Sweep on the schedule until Stop.
func (s *Sweeper) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return spool.ErrAlreadyStarted
	}
	s.running = true
	s.stopCh = make(chan struct{})

	var ctx context.Context
	ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("cleanup sweeper started")
	return nil
}

// Stop stops the schedule and waits for a running sweep. When ctx expires
// first the sweep's context is cancelled and Stop returns ctx's error once
// the sweep has returned.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	cancel := s.cancel
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("cleanup sweeper stop timed out, cancelling sweep")
		cancel()
		<-done
		err = ctx.Err()
	}
	cancel()
	s.logger.Info("cleanup sweeper stopped")
	return err
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()

	for {
		now := time.Now()
		timer := time.NewTimer(s.schedule.Next(now).Sub(now))

		select {
		case <-s.stopCh:
			timer.Stop()
			return
		case <-timer.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}
