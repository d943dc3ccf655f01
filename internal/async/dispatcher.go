// Package async runs pipeline jobs in the background, detached from the
// request that submitted them.
package async

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// ErrShuttingDown is returned by Go once Shutdown has begun.
var ErrShuttingDown = errors.New("dispatcher is shutting down")

// Task is one unit of background work. It receives the dispatcher's base context.
type Task func(ctx context.Context)

type Dispatcher struct {
	logger *slog.Logger
	sem    *semaphore.Weighted
	base   context.Context

	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

type Option func(*Dispatcher)

// WithMaxConcurrent bounds how many tasks run at once. n <= 0 leaves it unbounded.
func WithMaxConcurrent(n int64) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.sem = semaphore.NewWeighted(n)
		}
	}
}

func NewDispatcher(logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	// Runs must outlive the request that started them, so they hang off Background.
	d := &Dispatcher{logger: logger, base: context.Background()}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Go starts task for jobID on its own goroutine. A panic in task is recovered
// and passed to onPanic so the caller can move the job to a terminal state.
func (d *Dispatcher) Go(jobID uuid.UUID, task Task, onPanic func(error)) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Warn("async.dispatch.rejected", "job_id", jobID, "reason", "shutting down")
		return ErrShuttingDown
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		if d.sem != nil {
			if err := d.sem.Acquire(d.base, 1); err != nil {
				d.logger.Error("async.acquire.failed", "job_id", jobID, "error", err)
				return
			}
			defer d.sem.Release(1)
		}
		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("panic: %v", r)
				d.logger.Error("async.task.panic", "job_id", jobID, "error", err, "stack", string(debug.Stack()))
				if onPanic != nil {
					onPanic(err)
				}
			}
		}()
		d.logger.Debug("async.task.start", "job_id", jobID)
		task(d.base)
	}()
	return nil
}

// Shutdown stops accepting tasks and waits for running ones or ctx, whichever is first.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); d.wg.Wait() }()

	select {
	case <-ctx.Done():
		d.logger.Warn("async.shutdown.interrupted")
		return ctx.Err()
	case <-done:
		d.logger.Info("async.shutdown.drained")
		return nil
	}
}

// Wait blocks until every started task has returned.
func (d *Dispatcher) Wait() { d.wg.Wait() }
