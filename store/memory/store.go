package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/spool"
	"github.com/xraph/spool/export"
	"github.com/xraph/spool/id"
	"github.com/xraph/spool/job"
)

// Ensure Store implements every subsystem store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ job.Store    = (*Store)(nil)
	_ export.Store = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
// A single mutex serializes every status transition, which makes ClaimNext
// trivially exclusive.
type Store struct {
	mu sync.RWMutex

	jobs    map[string]*job.Job
	paused  map[string]bool
	exports map[string]*export.Export
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:    make(map[string]*job.Job),
		paused:  make(map[string]bool),
		exports: make(map[string]*export.Export),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle: Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// EnqueueJob persists a new job.
func (m *Store) EnqueueJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return spool.ErrJobAlreadyExists
	}
	cp := *j
	m.jobs[key] = &cp
	return nil
}

// ClaimNext atomically claims the first ready job of queue.
func (m *Store) ClaimNext(_ context.Context, queue string, now time.Time) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.paused[queue] {
		return nil, nil
	}

	var next *job.Job
	for _, j := range m.jobs {
		if j.Queue != queue || !j.Ready(now) {
			continue
		}
		if next == nil || j.Before(next) {
			next = j
		}
	}
	if next == nil {
		return nil, nil
	}

	now = now.UTC()
	next.Status = job.StatusActive
	next.AttemptsMade++
	next.StartedAt = &now
	next.HeartbeatAt = &now
	next.FinishedAt = nil
	next.UpdatedAt = now

	// Return a copy so callers can mutate without racing with the store.
	cp := *next
	return &cp, nil
}

// transition applies fn to the job if it is currently in status from.
// Caller must hold m.mu.
func (m *Store) transition(jobID id.JobID, from job.Status, fn func(j *job.Job)) (*job.Job, error) {
	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, spool.ErrJobNotFound
	}
	if j.Status != from {
		return nil, spool.ErrInvalidTransition
	}
	fn(j)
	cp := *j
	return &cp, nil
}

// claimed applies fn to the job if c still holds it.
// Caller must hold m.mu.
func (m *Store) claimed(c job.Claim, fn func(j *job.Job)) (*job.Job, error) {
	j, ok := m.jobs[c.ID.String()]
	if !ok {
		return nil, spool.ErrJobNotFound
	}
	if !c.Holds(j) {
		return nil, spool.ErrInvalidTransition
	}
	fn(j)
	cp := *j
	return &cp, nil
}

// CompleteJob moves the job held by c to completed.
func (m *Store) CompleteJob(_ context.Context, c job.Claim, now time.Time) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now = now.UTC()
	return m.claimed(c, func(j *job.Job) {
		j.Status = job.StatusCompleted
		j.Progress = 100
		j.FinishedAt = &now
		j.UpdatedAt = now
	})
}

// FailJob moves the job held by c to failed.
func (m *Store) FailJob(_ context.Context, c job.Claim, reason string, now time.Time) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now = now.UTC()
	return m.claimed(c, func(j *job.Job) {
		j.Status = job.StatusFailed
		j.FailureReason = reason
		j.FinishedAt = &now
		j.UpdatedAt = now
	})
}

// RequeueJob moves the job held by c to delayed.
func (m *Store) RequeueJob(_ context.Context, c job.Claim, reason string, delayUntil time.Time) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delayUntil = delayUntil.UTC()
	return m.claimed(c, func(j *job.Job) {
		j.Status = job.StatusDelayed
		j.FailureReason = reason
		j.DelayUntil = &delayUntil
		j.HeartbeatAt = nil
		j.UpdatedAt = time.Now().UTC()
	})
}

// RetryJob moves a failed job back to waiting.
func (m *Store) RetryJob(_ context.Context, jobID id.JobID, now time.Time) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now = now.UTC()
	return m.transition(jobID, job.StatusFailed, func(j *job.Job) {
		j.Status = job.StatusWaiting
		j.AttemptsMade = 0
		j.Progress = 0
		j.FailureReason = ""
		j.DelayUntil = nil
		j.StartedAt = nil
		j.FinishedAt = nil
		j.HeartbeatAt = nil
		j.UpdatedAt = now
	})
}

// UpdateProgress sets progress on the job held by c.
func (m *Store) UpdateProgress(_ context.Context, c job.Claim, pct int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.claimed(c, func(j *job.Job) {
		j.Progress = pct
	})
	return err
}

// HeartbeatJob refreshes the heartbeat of the job held by c.
func (m *Store) HeartbeatJob(_ context.Context, c job.Claim, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now = now.UTC()
	_, err := m.claimed(c, func(j *job.Job) {
		j.HeartbeatAt = &now
	})
	return err
}

// ListStaleJobs returns active jobs whose heartbeat is older than before.
func (m *Store) ListStaleJobs(_ context.Context, queue string, before time.Time) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stale []*job.Job
	for _, j := range m.jobs {
		if j.Queue != queue || j.Status != job.StatusActive {
			continue
		}
		if j.HeartbeatAt != nil && j.HeartbeatAt.Before(before) {
			cp := *j
			stale = append(stale, &cp)
		}
	}
	return stale, nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, spool.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// ListJobs returns jobs of queue in status within the inclusive range.
func (m *Store) ListJobs(_ context.Context, queue string, status job.Status, start, end int) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0)
	for _, j := range m.jobs {
		if j.Queue != queue || j.Status != status {
			continue
		}
		cp := *j
		result = append(result, &cp)
	}

	sortJobs(result, status)
	return window(result, start, end), nil
}

// CountJobs returns per-status counts for queue.
func (m *Store) CountJobs(_ context.Context, queue string) (job.Counts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var c job.Counts
	for _, j := range m.jobs {
		if j.Queue == queue {
			c.Add(j.Status, 1)
		}
	}
	return c, nil
}

// CleanJobs removes terminal jobs finished before the given time.
func (m *Store) CleanJobs(_ context.Context, queue string, status job.Status, before time.Time) (int64, error) {
	if !status.Terminal() {
		return 0, spool.ErrInvalidTransition
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for key, j := range m.jobs {
		if j.Queue != queue || j.Status != status || j.FinishedAt == nil {
			continue
		}
		if j.FinishedAt.Before(before) {
			delete(m.jobs, key)
			n++
		}
	}
	return n, nil
}

// SetPaused toggles the paused flag of queue.
func (m *Store) SetPaused(_ context.Context, queue string, paused bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.paused[queue] = paused
	return nil
}

// IsPaused reports the paused flag of queue.
func (m *Store) IsPaused(_ context.Context, queue string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.paused[queue], nil
}

// ──────────────────────────────────────────────────
// Export Store
// ──────────────────────────────────────────────────

// CreateExport persists a new export record.
func (m *Store) CreateExport(_ context.Context, e *export.Export) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := e.ID.String()
	if _, exists := m.exports[key]; exists {
		return spool.ErrExportAlreadyExists
	}
	cp := *e
	m.exports[key] = &cp
	return nil
}

// GetExport retrieves an export by ID.
func (m *Store) GetExport(_ context.Context, exportID id.ExportID) (*export.Export, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.exports[exportID.String()]
	if !ok {
		return nil, spool.ErrExportNotFound
	}
	cp := *e
	return &cp, nil
}

// GetExportByFilename retrieves the export that owns filename.
func (m *Store) GetExportByFilename(_ context.Context, filename string) (*export.Export, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if filename == "" {
		return nil, spool.ErrExportNotFound
	}
	for _, e := range m.exports {
		if e.Filename == filename {
			cp := *e
			return &cp, nil
		}
	}
	return nil, spool.ErrExportNotFound
}

// UpdateExport persists changes to an existing export.
func (m *Store) UpdateExport(_ context.Context, e *export.Export) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := e.ID.String()
	if _, ok := m.exports[key]; !ok {
		return spool.ErrExportNotFound
	}
	cp := *e
	cp.UpdatedAt = time.Now().UTC()
	m.exports[key] = &cp
	return nil
}

// ListExports returns the exports of a user, newest first.
func (m *Store) ListExports(_ context.Context, userID string, opts export.ListOpts) ([]*export.Export, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*export.Export, 0)
	for _, e := range m.exports {
		if e.UserID != userID {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// ListExpiredExports returns completed exports whose expiry is before now.
func (m *Store) ListExpiredExports(_ context.Context, now time.Time, limit int) ([]*export.Export, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*export.Export, 0)
	for _, e := range m.exports {
		if !e.Expired(now) {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].ExpiresAt.Before(*result[k].ExpiresAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
