package sched

import (
	"sync"
	"sync/atomic"
	"time"
)

// Scheduler arms repeating and one-shot timers. Every task gets its own
// goroutine parked on a timer; cancellation can either let an in-flight wait
// lapse or interrupt it immediately.
type Scheduler struct {
	stopCh  chan struct{}
	wg      sync.WaitGroup
	stopped atomic.Bool
}

// Task is a handle to a scheduled unit of work.
type Task struct {
	cancelled   atomic.Bool
	interruptCh chan struct{}
	interrupted atomic.Bool
}

// Cancel prevents further executions of the task. With interrupt set, an
// in-flight wait for the next execution is abandoned immediately; otherwise
// the wait lapses and the task exits without running.
func (t *Task) Cancel(interrupt bool) {
	t.cancelled.Store(true)
	if interrupt && t.interrupted.CompareAndSwap(false, true) {
		close(t.interruptCh)
	}
}

// Cancelled reports whether Cancel has been called.
func (t *Task) Cancelled() bool {
	return t.cancelled.Load()
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{
		stopCh: make(chan struct{}),
	}
}

// Every arms a repeating timer invoking fn at the given period, first
// execution one period from now.
func (s *Scheduler) Every(period time.Duration, fn func()) *Task {
	task := &Task{interruptCh: make(chan struct{})}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(period)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopCh:
				return
			case <-task.interruptCh:
				return
			case <-ticker.C:
				if task.cancelled.Load() {
					return
				}
				fn()
			}
		}
	}()

	return task
}

// Once arms a one-shot timer invoking fn after the given delay.
func (s *Scheduler) Once(delay time.Duration, fn func()) *Task {
	task := &Task{interruptCh: make(chan struct{})}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-s.stopCh:
			return
		case <-task.interruptCh:
			return
		case <-timer.C:
			if task.cancelled.Load() {
				return
			}
			fn()
		}
	}()

	return task
}

// Stop cancels all pending timers and waits for task goroutines to exit.
// In-flight fn invocations run to completion.
func (s *Scheduler) Stop() {
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}
	close(s.stopCh)
	s.wg.Wait()
}
