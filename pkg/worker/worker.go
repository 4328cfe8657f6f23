package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
)

var (
	ErrWorkerPoolClosed = errors.New("worker pool is closed")
	ErrQueueFull        = errors.New("worker pool queue is full")
)

// Job represents a task to be executed by a worker.
type Job func()

// PanicHandler receives the value recovered from a panicking job.
type PanicHandler func(recovered interface{})

// WorkerPool is a bounded pool of goroutines for running block deliveries.
// Jobs beyond the worker count wait in a queue of queueSize; when the queue
// is full Submit fails with ErrQueueFull instead of blocking the caller.
type WorkerPool struct {
	pool    *ants.Pool
	workers int
	queue   int
	onPanic PanicHandler

	mu      sync.RWMutex
	started bool
	stopped bool
	wg      sync.WaitGroup
}

// Option configures a WorkerPool.
type Option func(*WorkerPool)

// WithPanicHandler installs a handler for panicking jobs. Without one, the
// panic is swallowed and the worker keeps running.
func WithPanicHandler(h PanicHandler) Option {
	return func(p *WorkerPool) {
		p.onPanic = h
	}
}

// NewWorkerPool creates a new WorkerPool with a given number of workers and job queue size.
func NewWorkerPool(workers int, queueSize int, opts ...Option) *WorkerPool {
	if workers <= 0 {
		panic("number of workers must be positive")
	}
	if queueSize < 0 {
		panic("queue size cannot be negative")
	}
	p := &WorkerPool{workers: workers, queue: queueSize}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start initializes the workers in the pool.
func (p *WorkerPool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrWorkerPoolClosed
	}
	if p.started {
		return nil
	}

	panicHandler := func(r interface{}) {
		if p.onPanic != nil {
			p.onPanic(r)
		}
	}
	pool, err := ants.NewPool(p.workers,
		ants.WithMaxBlockingTasks(p.queue),
		ants.WithNonblocking(p.queue == 0),
		ants.WithPanicHandler(panicHandler),
	)
	if err != nil {
		return fmt.Errorf("create worker pool: %w", err)
	}
	p.pool = pool
	p.started = true
	return nil
}

// Stop stops accepting jobs and waits for queued and running jobs to finish,
// or until ctx is done.
func (p *WorkerPool) Stop(ctx context.Context) {
	p.mu.Lock()
	if p.stopped || !p.started {
		p.stopped = true
		p.mu.Unlock()
		return
	}
	p.stopped = true
	pool := p.pool
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		// all jobs have completed
	case <-ctx.Done():
		// timeout waiting for jobs to complete
	}

	timeout := time.Second
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left > 0 {
			timeout = left
		}
	}
	_ = pool.ReleaseTimeout(timeout)
}

// Submit sends a job to the worker pool for execution.
// It returns ErrWorkerPoolClosed if the pool is not running and
// ErrQueueFull when the backlog is exhausted.
func (p *WorkerPool) Submit(job Job) error {
	if job == nil {
		return errors.New("job cannot be nil")
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.started || p.stopped {
		return ErrWorkerPoolClosed
	}

	p.wg.Add(1)
	err := p.pool.Submit(func() {
		defer p.wg.Done()
		job()
	})
	if err != nil {
		p.wg.Done()
		switch {
		case errors.Is(err, ants.ErrPoolOverload):
			return ErrQueueFull
		case errors.Is(err, ants.ErrPoolClosed):
			return ErrWorkerPoolClosed
		}
		return err
	}
	return nil
}

// Running reports the number of jobs currently executing.
func (p *WorkerPool) Running() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.pool == nil {
		return 0
	}
	return p.pool.Running()
}

// Waiting reports the number of jobs queued for a free worker.
func (p *WorkerPool) Waiting() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.pool == nil {
		return 0
	}
	return p.pool.Waiting()
}
