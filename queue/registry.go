package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/spool"
	"github.com/xraph/spool/job"
)

// Registry owns the process-wide set of queues. Queues are constructed from
// a static list and live until Close.
type Registry struct {
	mu     sync.RWMutex
	queues map[string]*Queue
	order  []string
	closed bool
}

// EnqueueHook observes stored jobs.
type EnqueueHook func(ctx context.Context, j *job.Job)

// RegistryOption configures a Registry.
type RegistryOption func(*registryOptions)

type registryOptions struct {
	logger    *slog.Logger
	now       func() time.Time
	onEnqueue EnqueueHook
}

// WithLogger sets the logger shared by every queue.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(o *registryOptions) { o.logger = l }
}

// WithClock sets the time source used for enqueue and claim timestamps.
func WithClock(now func() time.Time) RegistryOption {
	return func(o *registryOptions) { o.now = now }
}

// WithEnqueueHook sets a callback run after every successful enqueue.
func WithEnqueueHook(fn EnqueueHook) RegistryOption {
	return func(o *registryOptions) { o.onEnqueue = fn }
}

// NewRegistry builds one Queue per config. Names must be unique and
// non-empty; zero fields inherit from cfg.
func NewRegistry(store job.Store, cfg spool.Config, configs []Config, opts ...RegistryOption) (*Registry, error) {
	o := registryOptions{logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	r := &Registry{queues: make(map[string]*Queue, len(configs))}
	for _, qc := range configs {
		if qc.Name == "" {
			return nil, fmt.Errorf("queue: config with empty name")
		}
		if _, dup := r.queues[qc.Name]; dup {
			return nil, fmt.Errorf("queue: duplicate queue %q", qc.Name)
		}
		r.queues[qc.Name] = newQueue(qc.withDefaults(cfg), store, o.logger, o.now)
		r.queues[qc.Name].onEnqueue = o.onEnqueue
		r.order = append(r.order, qc.Name)
	}
	return r, nil
}

// Get returns the queue called name.
func (r *Registry) Get(name string) (*Queue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	q, ok := r.queues[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", spool.ErrQueueNotFound, name)
	}
	return q, nil
}

// All returns every queue in configuration order.
func (r *Registry) All() []*Queue {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Queue, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.queues[name])
	}
	return out
}

// Names returns the queue names in configuration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Close rejects further enqueues on every queue. Jobs already stored are
// untouched.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	for _, q := range r.queues {
		q.closed.Store(true)
	}
}
