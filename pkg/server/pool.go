package server

import (
	"context"
	"errors"
	"runtime"
	"sync"
)

// ErrPoolClosed is returned for work submitted after Close.
var ErrPoolClosed = errors.New("worker pool closed")

// WorkerPool is a fixed set of workers draining an inbound queue. Each
// worker runs one job to completion before taking another, so a query
// never migrates between goroutines and never suspends mid-pipeline.
type WorkerPool struct {
	jobs chan *job
	quit chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

type job struct {
	run  func()
	done chan struct{}
}

// NewWorkerPool starts n workers. n <= 0 means NumCPU.
func NewWorkerPool(n int) *WorkerPool {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	p := &WorkerPool{jobs: make(chan *job), quit: make(chan struct{})}
	p.wg.Add(n)
	for i := 0; i < n; i++ {
		go p.worker()
	}
	return p
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for {
		select {
		case j := <-p.jobs:
			j.run()
			close(j.done)
		case <-p.quit:
			return
		}
	}
}

// Process enqueues fn and waits for it to finish. Cancellation is
// cooperative at queue granularity: a context expiring before a worker
// picks the job abandons it, but once running the job completes even if
// the caller has gone away.
func (p *WorkerPool) Process(ctx context.Context, fn func()) error {
	j := &job{run: fn, done: make(chan struct{})}

	select {
	case p.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return ErrPoolClosed
	}

	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		// The response is dropped; the in-flight work still completes.
		return ctx.Err()
	}
}

// Close stops the workers after their current jobs and waits for them.
func (p *WorkerPool) Close() {
	p.once.Do(func() { close(p.quit) })
	p.wg.Wait()
}
