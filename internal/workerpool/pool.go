// Package workerpool provides the bounded goroutine pool that runs
// post-capture work (saving, pruning, auto-compression) off the request
// path.
package workerpool

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/john-rock/beeroll/internal/logging"
)

var log = logging.L("workerpool")

// Task is a unit of work submitted to the pool.
type Task func()

// Pool is a bounded goroutine pool with a fixed-size task queue.
type Pool struct {
	queue     chan Task
	wg        sync.WaitGroup
	accepting atomic.Bool
	stopOnce  sync.Once
	closeOnce sync.Once
	stopChan  chan struct{}
}

// New creates a pool with maxWorkers goroutines and a task queue of queueSize.
func New(maxWorkers, queueSize int) *Pool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	p := &Pool{
		queue:    make(chan Task, queueSize),
		stopChan: make(chan struct{}),
	}
	p.accepting.Store(true)

	for i := 0; i < maxWorkers; i++ {
		go p.worker()
	}
	return p
}

// Submit enqueues a task. Returns false if the pool is stopped or the
// queue is full. wg.Add happens before enqueue to avoid racing Shutdown.
func (p *Pool) Submit(task Task) bool {
	if !p.accepting.Load() {
		return false
	}

	p.wg.Add(1)
	select {
	case p.queue <- task:
		return true
	default:
		p.wg.Done()
		log.Warn("worker pool queue full, task rejected")
		return false
	}
}

// Shutdown stops accepting work and waits for in-flight and queued tasks
// to finish, respecting the context deadline.
func (p *Pool) Shutdown(ctx context.Context) {
	p.accepting.Store(false)
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
	case <-ctx.Done():
		log.Warn("worker pool shutdown timed out")
	}

	p.closeOnce.Do(func() {
		close(p.queue)
	})
}

func (p *Pool) worker() {
	for {
		select {
		case task, ok := <-p.queue:
			if !ok {
				return
			}
			p.runTask(task)
		case <-p.stopChan:
			for {
				select {
				case task, ok := <-p.queue:
					if !ok {
						return
					}
					p.runTask(task)
				default:
					return
				}
			}
		}
	}
}

func (p *Pool) runTask(task Task) {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	task()
}
