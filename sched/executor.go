// Package sched provides the two process-wide concurrency services shared by
// all subscriber notifiers: a bounded executor for delivery cycles and a
// timer scheduler for periodic triggers and backoff retries.
package sched

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

const (
	// Default number of goroutines running delivery cycles
	DefaultWorkers = 2
	// Default backlog of queued cycles; submissions beyond it are rejected
	DefaultBacklog = 10
)

// Executor runs submitted tasks on a fixed pool of goroutines with a bounded
// backlog. Submission never blocks: once the backlog is full, TrySubmit
// reports false and the caller is expected to skip the attempt.
type Executor struct {
	tasks       chan func()
	stopCh      chan struct{}
	wg          sync.WaitGroup
	running     atomic.Bool
	lifecycleMu sync.Mutex
}

// NewExecutor creates an executor with the given pool size and backlog.
// Non-positive values fall back to the defaults.
func NewExecutor(workers, backlog int) *Executor {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if backlog <= 0 {
		backlog = DefaultBacklog
	}

	e := &Executor{
		tasks:  make(chan func(), backlog),
		stopCh: make(chan struct{}),
	}

	e.running.Store(true)
	for n := 0; n < workers; n++ {
		e.wg.Add(1)
		go e.workerLoop()
	}

	return e
}

func (e *Executor) workerLoop() {
	defer e.wg.Done()

	for {
		select {
		case <-e.stopCh:
			return
		case task := <-e.tasks:
			task()
		}
	}
}

// TrySubmit queues a task for execution. Returns false if the executor is
// stopped or the backlog is full.
func (e *Executor) TrySubmit(task func()) bool {
	if !e.running.Load() {
		return false
	}

	select {
	case e.tasks <- task:
		return true
	default:
		return false
	}
}

// Backlog returns the number of queued, not yet started tasks.
func (e *Executor) Backlog() int {
	return len(e.tasks)
}

// Stop shuts the pool down. Queued tasks that have not started are dropped;
// in-flight tasks run to completion.
func (e *Executor) Stop() {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	if !e.running.Swap(false) {
		return
	}

	close(e.stopCh)
	e.wg.Wait()

	log.Debug().Int("dropped", len(e.tasks)).Msg("Delivery executor stopped")
}
