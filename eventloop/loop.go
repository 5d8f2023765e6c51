// SPDX-License-Identifier: ice License 1.0

package eventloop

import (
	"context"
)

func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Execute enqueues task. It is safe to call from any goroutine, including from a task running on l.
// Tasks submitted after Close are dropped.
func (l *Loop) Execute(task func()) {
	l.mx.Lock()
	if l.closed {
		l.mx.Unlock()

		return
	}
	l.tasks = append(l.tasks, task)
	l.mx.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run processes tasks on the calling goroutine until ctx is done or Close is called.
func (l *Loop) Run(ctx context.Context) {
	for {
		l.RunPending()
		select {
		case <-ctx.Done():
			l.Close()
			l.RunPending()

			return
		case <-l.done:
			l.RunPending()

			return
		case <-l.wake:
		}
	}
}

// RunPending runs queued tasks on the calling goroutine until the queue is empty,
// including tasks enqueued by the tasks it runs. It returns the number of tasks executed.
func (l *Loop) RunPending() int {
	var executed int
	for {
		l.mx.Lock()
		if len(l.tasks) == 0 {
			l.mx.Unlock()

			return executed
		}
		batch := l.tasks
		l.tasks = nil
		l.mx.Unlock()
		for _, task := range batch {
			task()
			executed++
		}
	}
}

// Close stops accepting new tasks. Tasks already queued are still executed by Run.
func (l *Loop) Close() {
	l.mx.Lock()
	defer l.mx.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	close(l.done)
}

func (l *Loop) Closed() bool {
	l.mx.Lock()
	defer l.mx.Unlock()

	return l.closed
}
