// Package worker provides the bounded worker pool the action scheduler
// dispatches to. The pool's lifecycle is owned by the caller, which may
// shut it down and build a fresh one (for example after a memory
// threshold is crossed); the scheduler never restarts it.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrShutdown is returned by Submit after Shutdown has been called.
var ErrShutdown = errors.New("worker pool shut down")

// Task is a unit of work executed on the pool.
type Task func(ctx context.Context) error

// Future is the handle for a submitted task.
type Future struct {
	done chan struct{}
	err  error
}

// Wait blocks until the task finishes or ctx is cancelled, returning the
// task's error.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel closed when the task completes.
func (f *Future) Done() <-chan struct{} { return f.done }

// Pool runs tasks with bounded parallelism.
type Pool struct {
	sem    *semaphore.Weighted
	logger *slog.Logger

	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool

	cancel context.CancelFunc
	ctx    context.Context
}

// NewPool creates a pool running at most workers tasks concurrently.
func NewPool(workers int, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		sem:    semaphore.NewWeighted(int64(workers)),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Submit schedules a task and returns its future. The task starts as soon
// as a worker slot frees up.
func (p *Pool) Submit(task Task) (*Future, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrShutdown
	}
	p.wg.Add(1)
	p.mu.Unlock()

	f := &Future{done: make(chan struct{})}
	go func() {
		defer p.wg.Done()
		defer close(f.done)

		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			f.err = fmt.Errorf("acquire worker: %w", err)
			return
		}
		defer p.sem.Release(1)

		defer func() {
			if r := recover(); r != nil {
				f.err = fmt.Errorf("task panicked: %v", r)
				p.logger.Error("worker task panicked", "panic", r)
			}
		}()
		f.err = task(p.ctx)
	}()
	return f, nil
}

// Shutdown stops accepting tasks and waits for in-flight tasks to finish.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()
}

// Cancel aborts queued tasks and cancels the context passed to running
// ones, then waits for them to return.
func (p *Pool) Cancel() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}
