// SPDX-License-Identifier: ice License 1.0

package eventloop

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

func (l *Loop) NewFuture() *Future {
	return &Future{loop: l, completed: make(chan struct{})}
}

func (l *Loop) Succeeded() *Future {
	f := l.NewFuture()
	f.Complete(nil)

	return f
}

func (l *Loop) Failed(err error) *Future {
	f := l.NewFuture()
	f.Complete(err)

	return f
}

// Complete resolves f. Only the first call has any effect; it reports whether it was that call.
func (f *Future) Complete(err error) bool {
	f.mx.Lock()
	if f.done {
		f.mx.Unlock()

		return false
	}
	f.done = true
	f.err = err
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.completed)
	f.mx.Unlock()
	for _, cb := range callbacks {
		f.schedule(cb, err)
	}

	return true
}

// OnComplete registers cb to be run on f's loop once f is resolved.
// cb is never invoked inline, even when f is already resolved.
func (f *Future) OnComplete(cb func(err error)) {
	f.mx.Lock()
	if !f.done {
		f.callbacks = append(f.callbacks, cb)
		f.mx.Unlock()

		return
	}
	err := f.err
	f.mx.Unlock()
	f.schedule(cb, err)
}

func (f *Future) schedule(cb func(error), err error) {
	f.loop.Execute(func() { cb(err) })
}

// Cascade resolves other with the outcome of f.
func (f *Future) Cascade(other *Future) {
	if other == nil {
		return
	}
	f.OnComplete(func(err error) { other.Complete(err) })
}

// Then runs next once f succeeds and resolves the returned future with next's outcome.
// If f fails, next is skipped and the failure is propagated.
func (f *Future) Then(next func() *Future) *Future {
	result := f.loop.NewFuture()
	f.OnComplete(func(err error) {
		if err != nil {
			result.Complete(err)

			return
		}
		if nextFuture := next(); nextFuture != nil {
			nextFuture.Cascade(result)
		} else {
			result.Complete(nil)
		}
	})

	return result
}

// Map runs the synchronous step fn once f succeeds.
func (f *Future) Map(fn func() error) *Future {
	result := f.loop.NewFuture()
	f.OnComplete(func(err error) {
		if err == nil {
			err = fn()
		}
		result.Complete(err)
	})

	return result
}

// Wait blocks the calling goroutine until f is resolved or ctx is done. Never call it from f's loop.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.completed:
		return f.Err()
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "wait for future aborted")
	}
}

func (f *Future) Done() bool {
	f.mx.Lock()
	defer f.mx.Unlock()

	return f.done
}

func (f *Future) Err() error {
	f.mx.Lock()
	defer f.mx.Unlock()

	return f.err
}

// All resolves once every future is resolved. The failures, if any, are aggregated.
func All(loop *Loop, futures ...*Future) *Future {
	result := loop.NewFuture()
	if len(futures) == 0 {
		result.Complete(nil)

		return result
	}
	var (
		pending = len(futures)
		errs    = make([]error, len(futures))
	)
	for ix, future := range futures {
		future.OnComplete(func(err error) {
			errs[ix] = err
			if pending--; pending > 0 {
				return
			}
			result.Complete(multierror.Append(nil, errs...).ErrorOrNil())
		})
	}

	return result
}
