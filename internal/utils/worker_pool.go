package utils

import (
	"sync"
)

type poolState int

const (
	poolIdle poolState = iota
	poolRunning
	poolStopped
)

// WorkerPool executes queued functions on a fixed set of goroutines.
//
// Submit never blocks. Work is refused while the pool is not running or when
// every queue slot is taken, so callers can report back-pressure instead of
// stalling a request. A stopped pool cannot be restarted.
type WorkerPool struct {
	size  int
	queue chan func()
	quit  chan struct{}
	wg    sync.WaitGroup

	mu    sync.RWMutex
	state poolState
}

// NewWorkerPool sizes a pool. workers below one becomes one; a queueSize
// below one becomes twice the worker count.
func NewWorkerPool(workers, queueSize int) *WorkerPool {
	workers = max(workers, 1)
	if queueSize < 1 {
		queueSize = 2 * workers
	}
	return &WorkerPool{
		size:  workers,
		queue: make(chan func(), queueSize),
		quit:  make(chan struct{}),
	}
}

// Start launches the workers. Only the first call on an idle pool has an
// effect.
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.state != poolIdle {
		return
	}
	wp.state = poolRunning

	wp.wg.Add(wp.size)
	for range wp.size {
		go wp.loop()
	}
}

// Stop refuses new work and blocks until every worker has returned. Items
// still queued are left for Drain.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if wp.state != poolRunning {
		wp.mu.Unlock()
		return
	}
	wp.state = poolStopped
	close(wp.quit)
	wp.mu.Unlock()

	wp.wg.Wait()
}

// Submit queues work and reports whether it was accepted.
func (wp *WorkerPool) Submit(work func()) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.state != poolRunning {
		return false
	}

	select {
	case wp.queue <- work:
		return true
	default:
		return false
	}
}

// Running reports whether the pool accepts work
func (wp *WorkerPool) Running() bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	return wp.state == poolRunning
}

// Pending is the number of accepted items no worker has picked up yet
func (wp *WorkerPool) Pending() int {
	return len(wp.queue)
}

// Capacity is the number of queue slots
func (wp *WorkerPool) Capacity() int {
	return cap(wp.queue)
}

// Drain empties the queue and returns what was in it. Call it after Stop.
func (wp *WorkerPool) Drain() []func() {
	var left []func()
	for {
		select {
		case work := <-wp.queue:
			left = append(left, work)
		default:
			return left
		}
	}
}

func (wp *WorkerPool) loop() {
	defer wp.wg.Done()
	for {
		// quit wins over queued work so Stop does not wait for the backlog
		select {
		case <-wp.quit:
			return
		default:
		}

		select {
		case <-wp.quit:
			return
		case work := <-wp.queue:
			if work != nil {
				work()
			}
		}
	}
}
