package invoker

import (
	"context"
	"sync"
)

// Future is the eventual result of an asynchronous call. It completes
// exactly once; every Await observes the same value and error.
type Future[T any] struct {
	done   chan struct{}
	once   sync.Once
	value  T
	err    error
	cancel context.CancelFunc
}

// Go runs fn on a new goroutine with a context derived from ctx, which is
// cancelled when fn returns or the future is cancelled.
func Go[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) *Future[T] {
	ctx, cancel := context.WithCancel(ctx)
	f := &Future[T]{done: make(chan struct{}), cancel: cancel}
	go func() {
		defer cancel()
		v, err := fn(ctx)
		f.complete(v, err)
	}()
	return f
}

// Completed returns a future that has already completed.
func Completed[T any](v T, err error) *Future[T] {
	f := &Future[T]{done: make(chan struct{}), cancel: func() {}}
	f.complete(v, err)
	return f
}

func (f *Future[T]) complete(v T, err error) {
	f.once.Do(func() {
		f.value, f.err = v, err
		close(f.done)
	})
}

// Done is closed once the future completes.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the future completes or ctx is done. Giving up on ctx
// does not cancel the underlying call; use Cancel for that.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Get blocks until the future completes.
func (f *Future[T]) Get() (T, error) {
	<-f.done
	return f.value, f.err
}

// Cancel requests cancellation of the underlying call. The future still
// completes, normally with an error wrapping context.Canceled.
func (f *Future[T]) Cancel() {
	f.cancel()
}

// Then returns a future completing with fn applied to f's value. An error
// from f is passed through without calling fn. Cancelling the returned
// future cancels f.
func Then[T, U any](f *Future[T], fn func(T) (U, error)) *Future[U] {
	return Handle(f, func(v T, err error) (U, error) {
		if err != nil {
			var zero U
			return zero, err
		}
		return fn(v)
	})
}

// Handle returns a future completing with fn applied to f's outcome,
// whether it succeeded or failed. Cancelling the returned future cancels f.
func Handle[T, U any](f *Future[T], fn func(T, error) (U, error)) *Future[U] {
	next := &Future[U]{done: make(chan struct{}), cancel: f.cancel}
	go func() {
		next.complete(fn(f.Get()))
	}()
	return next
}
