// Package workerpool runs coordinator work off the host's threads. Detours
// never block on teardown or I/O; they hand it to the pool instead.
package workerpool

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/breeze-rmm/hudhook/internal/logging"
)

var log = logging.L("workerpool")

// Task is a unit of work submitted to the pool.
type Task func(ctx context.Context)

type job struct {
	name string
	run  Task
}

// Pool is a bounded goroutine pool with a fixed-size task queue.
type Pool struct {
	queue     chan job
	wg        sync.WaitGroup
	accepting atomic.Bool
	stopOnce  sync.Once
	closeOnce sync.Once
	stopChan  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	submitted atomic.Uint64
	rejected  atomic.Uint64
	panicked  atomic.Uint64
}

// New creates a pool with workers goroutines and a task queue of queueSize.
func New(workers, queueSize int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		queue:    make(chan job, queueSize),
		stopChan: make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	p.accepting.Store(true)

	for i := 0; i < workers; i++ {
		go p.worker()
	}

	log.Debug("worker pool started", "workers", workers, "queueSize", queueSize)
	return p
}

// Context is cancelled once the pool has drained.
func (p *Pool) Context() context.Context { return p.ctx }

// Submit enqueues a named task. It never blocks: false means the pool is
// stopped or the queue is full. Safe to call from a detour.
func (p *Pool) Submit(name string, task Task) bool {
	if !p.accepting.Load() {
		p.rejected.Add(1)
		return false
	}

	// Add before enqueue so Drain cannot miss the task.
	p.wg.Add(1)
	select {
	case p.queue <- job{name: name, run: task}:
		p.submitted.Add(1)
		return true
	default:
		p.wg.Done()
		p.rejected.Add(1)
		log.Warn("worker pool queue full, task rejected", "task", name)
		return false
	}
}

// StopAccepting prevents new tasks from being submitted.
func (p *Pool) StopAccepting() {
	p.accepting.Store(false)
}

// Drain waits for queued and running tasks, respecting ctx. It stops
// accepting first, and closes the queue afterwards so workers exit.
func (p *Pool) Drain(ctx context.Context) {
	p.StopAccepting()
	p.stopOnce.Do(func() {
		close(p.stopChan)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug("worker pool drained")
	case <-ctx.Done():
		log.Warn("worker pool drain timed out")
	}

	p.cancel()
	p.closeOnce.Do(func() {
		close(p.queue)
	})
}

// Shutdown is Drain under another name, for symmetry with the other
// long-lived components.
func (p *Pool) Shutdown(ctx context.Context) { p.Drain(ctx) }

// Stats reports lifetime counters.
type Stats struct {
	Submitted uint64 `json:"submitted"`
	Rejected  uint64 `json:"rejected"`
	Panicked  uint64 `json:"panicked"`
}

func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Rejected:  p.rejected.Load(),
		Panicked:  p.panicked.Load(),
	}
}

func (p *Pool) worker() {
	for {
		select {
		case j, ok := <-p.queue:
			if !ok {
				return
			}
			p.run(j)
		case <-p.stopChan:
			for {
				select {
				case j, ok := <-p.queue:
					if !ok {
						return
					}
					p.run(j)
				default:
					return
				}
			}
		}
	}
}

// run executes one task with panic recovery; a panic must not take the host
// process down with it.
func (p *Pool) run(j job) {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			p.panicked.Add(1)
			log.Error("task panicked", "task", j.name, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	j.run(p.ctx)
}
