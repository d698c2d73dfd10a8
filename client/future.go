package client

import (
	"context"
	"fmt"
	"sync"
)

// Future is the eventual outcome of a request.  It settles exactly once:
// with the router's response, with an error, or by cancellation.
type Future[T any] struct {
	done     chan struct{}
	mu       sync.Mutex
	settled  bool
	val      T
	err      error
	onCancel func()
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func resolvedFuture[T any](val T) *Future[T] {
	f := newFuture[T]()
	f.settle(val, nil)
	return f
}

func failedFuture[T any](err error) *Future[T] {
	f := newFuture[T]()
	var zero T
	f.settle(zero, err)
	return f
}

// settle completes the future and reports whether this call did so.
func (f *Future[T]) settle(val T, err error) bool {
	f.mu.Lock()
	if f.settled {
		f.mu.Unlock()
		return false
	}
	f.settled = true
	f.val, f.err = val, err
	f.onCancel = nil
	f.mu.Unlock()
	close(f.done)
	return true
}

func (f *Future[T]) resolve(val T) bool { return f.settle(val, nil) }

func (f *Future[T]) reject(err error) bool {
	var zero T
	return f.settle(zero, err)
}

// setCancel installs the function that withdraws the request when the
// future is canceled.  It returns false if the future is already settled.
func (f *Future[T]) setCancel(fn func()) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.settled {
		return false
	}
	f.onCancel = fn
	return true
}

func (f *Future[T]) isSettled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settled
}

// Done returns a channel that is closed when the future settles.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Result waits for the future to settle and returns its outcome.
func (f *Future[T]) Result() (T, error) {
	<-f.done
	return f.val, f.err
}

// Await waits for the future to settle or for ctx to be done.  When ctx is
// done first the future is canceled.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
	case <-ctx.Done():
		f.cancel(ctx.Err())
	}
	return f.Result()
}

// Cancel withdraws the request.  The future is rejected with an error
// matching ErrConnectionLost and context.Canceled, and any response that
// arrives later is discarded.  Canceling a settled future does nothing.
func (f *Future[T]) Cancel() { f.cancel(context.Canceled) }

func (f *Future[T]) cancel(cause error) {
	f.mu.Lock()
	if f.settled {
		f.mu.Unlock()
		return
	}
	fn := f.onCancel
	f.settled = true
	var zero T
	f.val = zero
	f.err = fmt.Errorf("%w: request canceled: %w", ErrConnectionLost, cause)
	f.onCancel = nil
	f.mu.Unlock()
	close(f.done)
	if fn != nil {
		fn()
	}
}
