// Package tasks runs best-effort work detached from the request that
// scheduled it: notification email, session heartbeats and non-critical
// audit writes.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"netcrew.io/internal/obs"
)

var (
	ErrQueueFull = errors.New("tasks: queue full")
	ErrClosed    = errors.New("tasks: queue closed")
)

// Config tunes the queue. Zero values pick the defaults.
type Config struct {
	Workers     int
	Buffer      int
	MaxAttempts int
	Backoff     time.Duration
	Timeout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Buffer <= 0 {
		c.Buffer = 256
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = 200 * time.Millisecond
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

type job struct {
	name string
	fn   func(ctx context.Context) error
}

// Queue is a bounded channel drained by a fixed set of workers.
type Queue struct {
	cfg    Config
	jobs   chan job
	group  *errgroup.Group
	mu     sync.RWMutex
	closed bool
	start  sync.Once
}

func New(cfg Config) *Queue {
	cfg = cfg.withDefaults()
	return &Queue{cfg: cfg, jobs: make(chan job, cfg.Buffer), group: &errgroup.Group{}}
}

// Start launches the workers. Task contexts derive from ctx without its
// cancellation, so in-flight work survives the caller.
func (q *Queue) Start(ctx context.Context) {
	q.start.Do(func() {
		base := context.WithoutCancel(ctx)
		for i := 0; i < q.cfg.Workers; i++ {
			q.group.Go(func() error {
				for j := range q.jobs {
					q.run(base, j)
				}
				return nil
			})
		}
	})
}

// Submit enqueues fn without blocking.
func (q *Queue) Submit(name string, fn func(ctx context.Context) error) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.jobs <- job{name: name, fn: fn}:
		return nil
	default:
		obs.TasksTotal.WithLabelValues(name, "dropped").Inc()
		obs.Logger().Warn("task dropped, queue full", zap.String("task", name))
		return ErrQueueFull
	}
}

// Shutdown stops accepting work and waits for queued tasks to finish or
// for ctx to expire.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- q.group.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("tasks: drain interrupted: %w", ctx.Err())
	}
}

func (q *Queue) run(base context.Context, j job) {
	log := obs.Logger().With(zap.String("task", j.name))
	var err error
	for attempt := 1; attempt <= q.cfg.MaxAttempts; attempt++ {
		err = q.attempt(base, j)
		if err == nil {
			obs.TasksTotal.WithLabelValues(j.name, "ok").Inc()
			return
		}
		log.Warn("task attempt failed", zap.Int("attempt", attempt), obs.Err(err))
		if attempt < q.cfg.MaxAttempts {
			time.Sleep(q.cfg.Backoff << (attempt - 1))
		}
	}
	obs.TasksTotal.WithLabelValues(j.name, "failed").Inc()
	log.Error("task gave up", zap.Int("attempts", q.cfg.MaxAttempts), obs.Err(err))
}

func (q *Queue) attempt(base context.Context, j job) (err error) {
	ctx, cancel := context.WithTimeout(base, q.cfg.Timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return j.fn(ctx)
}

// Inline runs submitted work synchronously on the caller's goroutine.
// Tests and one-shot commands use it in place of a Queue.
type Inline struct{}

func (Inline) Submit(name string, fn func(ctx context.Context) error) error {
	if err := fn(context.Background()); err != nil {
		obs.TasksTotal.WithLabelValues(name, "failed").Inc()
		return err
	}
	obs.TasksTotal.WithLabelValues(name, "ok").Inc()
	return nil
}
