// Package monitor is the admin surface over the queues: read-only stats and
// job inspection plus pause, resume, clean and manual retry.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/spool/id"
	"github.com/xraph/spool/job"
	"github.com/xraph/spool/queue"
)

// Pinger checks backend connectivity. store.Store implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// JobStatus is the caller-facing view of one job.
type JobStatus struct {
	ID            string     `json:"id"`
	Queue         string     `json:"queue"`
	Type          string     `json:"type"`
	Status        job.Status `json:"status"`
	Progress      int        `json:"progress"`
	AttemptsMade  int        `json:"attempts_made"`
	MaxAttempts   int        `json:"max_attempts"`
	FailureReason string     `json:"failure_reason,omitempty"`
}

// QueueHealth reports whether one queue's store answered.
type QueueHealth struct {
	Name    string        `json:"name"`
	OK      bool          `json:"ok"`
	Latency time.Duration `json:"latency_ns"`
	Error   string        `json:"error,omitempty"`
}

// Health is the result of HealthCheck.
type Health struct {
	OK     bool          `json:"ok"`
	Store  string        `json:"store,omitempty"`
	Queues []QueueHealth `json:"queues"`
}

// Monitor serves admin operations for a queue registry.
type Monitor struct {
	queues  *queue.Registry
	pinger  Pinger
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithPinger adds a store connectivity check to HealthCheck.
func WithPinger(p Pinger) Option {
	return func(m *Monitor) { m.pinger = p }
}

// WithHealthTimeout bounds each health probe. Defaults to 2s.
func WithHealthTimeout(d time.Duration) Option {
	return func(m *Monitor) { m.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// New creates a Monitor over queues.
func New(queues *queue.Registry, opts ...Option) *Monitor {
	m := &Monitor{
		queues:  queues,
		timeout: 2 * time.Second,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ListQueueStats returns stats for every queue, in registry order.
func (m *Monitor) ListQueueStats(ctx context.Context) ([]queue.Stats, error) {
	all := m.queues.All()
	stats := make([]queue.Stats, 0, len(all))
	for _, q := range all {
		s, err := q.Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("monitor: stats %s: %w", q.Name(), err)
		}
		stats = append(stats, s)
	}
	return stats, nil
}

// QueueStats returns stats for one queue.
func (m *Monitor) QueueStats(ctx context.Context, queueName string) (queue.Stats, error) {
	q, err := m.queues.Get(queueName)
	if err != nil {
		return queue.Stats{}, err
	}
	return q.Stats(ctx)
}

// ListJobs returns jobs of queueName in status over the inclusive index
// range [start, end]. A negative end means through the last job.
func (m *Monitor) ListJobs(ctx context.Context, queueName string, status job.Status, start, end int) ([]*job.Job, error) {
	q, err := m.queues.Get(queueName)
	if err != nil {
		return nil, err
	}
	return q.List(ctx, status, start, end)
}

// GetJobStatus returns the status view of a job of queueName.
func (m *Monitor) GetJobStatus(ctx context.Context, queueName string, jobID id.JobID) (*JobStatus, error) {
	q, err := m.queues.Get(queueName)
	if err != nil {
		return nil, err
	}
	j, err := q.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &JobStatus{
		ID:            j.ID.String(),
		Queue:         j.Queue,
		Type:          j.Type,
		Status:        j.Status,
		Progress:      j.Progress,
		AttemptsMade:  j.AttemptsMade,
		MaxAttempts:   j.MaxAttempts,
		FailureReason: j.FailureReason,
	}, nil
}

// PauseQueue stops claims on queueName.
func (m *Monitor) PauseQueue(ctx context.Context, queueName string) error {
	q, err := m.queues.Get(queueName)
	if err != nil {
		return err
	}
	return q.Pause(ctx)
}

// ResumeQueue restores claims on queueName.
func (m *Monitor) ResumeQueue(ctx context.Context, queueName string) error {
	q, err := m.queues.Get(queueName)
	if err != nil {
		return err
	}
	return q.Resume(ctx)
}

// CleanQueue removes terminal jobs of queueName that finished more than
// grace ago.
func (m *Monitor) CleanQueue(ctx context.Context, queueName string, grace time.Duration, status job.Status) (int64, error) {
	q, err := m.queues.Get(queueName)
	if err != nil {
		return 0, err
	}
	return q.Clean(ctx, grace, status)
}

// RetryFailedJob resets a failed job to waiting with its attempts cleared.
// This deliberately bypasses the retry policy.
func (m *Monitor) RetryFailedJob(ctx context.Context, queueName string, jobID id.JobID) (*job.Job, error) {
	q, err := m.queues.Get(queueName)
	if err != nil {
		return nil, err
	}
	return q.Retry(ctx, jobID)
}

// HealthCheck probes the store once per queue.
func (m *Monitor) HealthCheck(ctx context.Context) Health {
	h := Health{OK: true}

	if m.pinger != nil {
		pctx, cancel := context.WithTimeout(ctx, m.timeout)
		err := m.pinger.Ping(pctx)
		cancel()
		if err != nil {
			h.OK = false
			h.Store = err.Error()
		}
	}

	for _, q := range m.queues.All() {
		pctx, cancel := context.WithTimeout(ctx, m.timeout)
		began := time.Now()
		_, err := q.Paused(pctx)
		cancel()

		qh := QueueHealth{Name: q.Name(), OK: err == nil, Latency: time.Since(began)}
		if err != nil {
			qh.Error = err.Error()
			h.OK = false
			m.logger.Warn("queue health probe failed",
				slog.String("queue", q.Name()),
				slog.String("error", err.Error()),
			)
		}
		h.Queues = append(h.Queues, qh)
	}
	return h
}
