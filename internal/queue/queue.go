// Package queue runs tasks one at a time, in the order they were added.
//
// A [Queue] is used when requests to the server must not overlap: at most one
// task is running at any moment, and the queue exposes a single completion
// signal once every task has run.
package queue

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// Task is a unit of work run by a [Queue].
type Task func(ctx context.Context) error

// Queue runs tasks serially on a single background goroutine.
//
// Tasks added after the queue's context is cancelled are skipped. Errors do
// not stop the queue; they are collected and available from [Queue.Err] once
// [Queue.Done] is closed.
type Queue struct {
	ctx context.Context

	mu      sync.Mutex
	pending []Task
	closed  bool
	wake    chan struct{}
	err     *multierror.Error

	done chan struct{}
}

// New creates a queue and starts its worker. The worker exits when
// [Queue.Close] has been called and every pending task has run, or when ctx
// is cancelled.
func New(ctx context.Context) *Queue {
	q := &Queue{
		ctx:  ctx,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go q.work()
	return q
}

// Run enqueues tasks on a new queue, closes it and waits for completion.
// It returns the aggregated task errors, or ctx.Err() if cancelled first.
func Run(ctx context.Context, tasks ...Task) error {
	q := New(ctx)
	for _, t := range tasks {
		q.Add(t)
	}
	q.Close()
	<-q.Done()
	if err := q.Err(); err != nil {
		return err
	}
	return ctx.Err()
}

// Add enqueues a task. Adding to a closed queue is a no-op.
func (q *Queue) Add(t Task) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.pending = append(q.pending, t)
	q.mu.Unlock()
	q.signal()
}

// Close marks the end of input. Done closes once the pending tasks have run.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// Done returns a channel closed when the queue has finished.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// Err returns the errors of every failed task, or nil.
func (q *Queue) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err.ErrorOrNil()
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) work() {
	defer close(q.done)

	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-q.wake:
				continue
			case <-q.ctx.Done():
				return
			}
		}
		task := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		if q.ctx.Err() != nil {
			return
		}

		if err := task(q.ctx); err != nil {
			q.mu.Lock()
			q.err = multierror.Append(q.err, err)
			q.mu.Unlock()
		}
	}
}
