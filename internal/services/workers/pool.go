// Package workers provides the bounded worker pool batch exports render on.
package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ternarybob/arbor"
)

// ErrPoolClosed is returned by Submit once the pool is draining or cancelled
var ErrPoolClosed = errors.New("worker pool is shutting down")

const defaultWorkers = 4

// Job is one unit of work. It receives the pool context.
type Job func(ctx context.Context) error

// Stats counts jobs over the pool's lifetime
type Stats struct {
	Submitted int64
	Succeeded int64
	Failed    int64
}

// Pool runs submitted jobs on a fixed number of workers. A job's error or
// panic is recorded and never stops the other workers.
type Pool struct {
	size   int
	queue  chan Job
	ctx    context.Context
	cancel context.CancelFunc
	logger arbor.ILogger

	startOnce sync.Once
	workers   sync.WaitGroup

	closeMu sync.RWMutex
	closed  bool

	errMu sync.Mutex
	errs  []error

	submitted, succeeded, failed atomic.Int64
}

// NewPool creates a pool whose jobs run under a child of ctx
func NewPool(ctx context.Context, size int, logger arbor.ILogger) *Pool {
	if size <= 0 {
		size = defaultWorkers
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Pool{
		size:   size,
		queue:  make(chan Job, size*2),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// Start launches the workers. Calling it again is a no-op.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		p.logger.Debug().Int("workers", p.size).Msg("Starting worker pool")
		for i := 0; i < p.size; i++ {
			p.workers.Add(1)
			go p.work(i)
		}
	})
}

// Submit queues job, blocking while the queue is full
func (p *Pool) Submit(job Job) error {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed || p.ctx.Err() != nil {
		return ErrPoolClosed
	}

	select {
	case p.queue <- job:
		p.submitted.Add(1)
		return nil
	case <-p.ctx.Done():
		return ErrPoolClosed
	}
}

// Wait stops accepting jobs, lets the queued ones finish and returns their
// joined errors.
func (p *Pool) Wait() error {
	p.closeMu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.closeMu.Unlock()

	p.workers.Wait()
	return errors.Join(p.Errors()...)
}

// Shutdown cancels running jobs, drops queued ones and waits for the workers
func (p *Pool) Shutdown() {
	p.cancel()
	_ = p.Wait()
	p.logger.Debug().
		Int("succeeded", int(p.succeeded.Load())).
		Int("failed", int(p.failed.Load())).
		Msg("Worker pool shutdown complete")
}

// Errors returns the errors recorded so far
func (p *Pool) Errors() []error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return append([]error(nil), p.errs...)
}

// Stats returns the current job counters
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Succeeded: p.succeeded.Load(),
		Failed:    p.failed.Load(),
	}
}

func (p *Pool) work(id int) {
	defer p.workers.Done()
	for {
		// cancellation wins over a non-empty queue
		if p.ctx.Err() != nil {
			return
		}
		select {
		case job, ok := <-p.queue:
			if !ok {
				return
			}
			p.record(id, p.run(job))
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Pool) record(worker int, err error) {
	if err == nil {
		p.succeeded.Add(1)
		return
	}
	p.failed.Add(1)

	p.errMu.Lock()
	p.errs = append(p.errs, err)
	p.errMu.Unlock()

	p.logger.Warn().Err(err).Int("worker_id", worker).Msg("Job failed")
}

// run executes one job, turning a panic into an error
func (p *Pool) run(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job(p.ctx)
}
