// Package sched implements the single-threaded cooperative work queue the
// Synchronizer runs on: a single goroutine drains a FIFO of dispatched
// messages, running the pure update and its commands for each, and flushes
// the outbound batcher whenever the queue empties (quiescence). This is the
// Go analogue of the portable "current-thread executor" contract described
// for the synchronizer's scheduling model.
package sched

import (
	"context"
	"sync"

	"go.gazette.dev/sync/internal/logging"
)

// Task is one unit of work the Scheduler drains and executes in order.
type Task func()

// Scheduler is a single-goroutine FIFO work queue with a quiescence hook.
// Dispatch may be called concurrently from any number of adapter
// goroutines; every Task itself always runs on the scheduler's own
// goroutine, so Task bodies may freely touch the Synchronizer's Model
// without additional locking.
type Scheduler struct {
	onQuiescence func()

	mu      sync.Mutex
	queue   []Task
	running bool
	stopped bool
	wake    chan struct{}
	done    chan struct{}
}

// New returns a Scheduler whose goroutine has not yet started. onQuiescence
// is invoked on the scheduler's own goroutine once each time the queue
// drains to empty (a single flush per quiescence, not a loop); if it or a
// concurrent Dispatch enqueued new work, that work runs and the next drain
// invokes onQuiescence again.
func New(onQuiescence func()) *Scheduler {
	return &Scheduler{
		onQuiescence: onQuiescence,
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// Run drains the work queue on the calling goroutine until ctx is done or
// Stop is called. Callers typically run this in its own goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.done)
	for {
		s.drain()
		select {
		case <-ctx.Done():
			s.drain()
			return
		case <-s.wake:
			s.mu.Lock()
			var stopped = s.stopped
			s.mu.Unlock()
			if stopped {
				s.drain()
				return
			}
		}
	}
}

func (s *Scheduler) drain() {
	for {
		var task, ok = s.pop()
		if !ok {
			s.onQuiescence()
			// One flush per quiescence; only loop again if the flush (or a
			// concurrent adapter callback) enqueued more work.
			if !s.hasPending() {
				return
			}
			continue
		}
		task()
	}
}

func (s *Scheduler) pop() (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, false
	}
	var t = s.queue[0]
	s.queue = s.queue[1:]
	return t, true
}

func (s *Scheduler) hasPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue) > 0
}

// Dispatch enqueues task and wakes the scheduler goroutine if necessary.
// Safe to call from any goroutine, including from within a Task itself.
func (s *Scheduler) Dispatch(task Task) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		logging.Log.Warn("sched: dispatch after stop, dropped")
		return
	}
	s.queue = append(s.queue, task)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Stop marks the Scheduler stopped, so subsequent Dispatch calls are
// dropped with a warning, then wakes Run, which drains the tasks already
// queued and returns. Stop blocks until Run has returned.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	<-s.done
}
