package actor

import (
	"context"
	"sync"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// promise is the default Promise/Future implementation. A single result slot
// is completed at most once; Await, ThenApply, and OnComplete all observe the
// same completion via a close-once channel.
type promise[T any] struct {
	mu     sync.Mutex
	done   chan struct{}
	result fn.Result[T]
}

// NewPromise creates a new, uncompleted Promise. The returned value also
// satisfies Future through its Future() accessor.
func NewPromise[T any]() Promise[T] {
	return &promise[T]{
		done: make(chan struct{}),
	}
}

// Complete implements Promise.
func (p *promise[T]) Complete(result fn.Result[T]) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	select {
	case <-p.done:
		return false
	default:
	}

	p.result = result
	close(p.done)

	return true
}

// Future implements Promise.
func (p *promise[T]) Future() Future[T] {
	return (*future[T])(p)
}

// future adapts a *promise[T] to the Future interface. It's defined as a
// distinct named type (rather than a method set on promise itself) so that
// Promise.Future() can hand out a read-only view while Complete remains
// promise-only.
type future[T any] promise[T]

// Await implements Future.
func (f *future[T]) Await(ctx context.Context) fn.Result[T] {
	select {
	case <-f.done:
		return f.result

	case <-ctx.Done():
		return fn.Err[T](ctx.Err())
	}
}

// ThenApply implements Future.
func (f *future[T]) ThenApply(ctx context.Context, apply func(T) T) Future[T] {
	chained := NewPromise[T]()

	go func() {
		result := f.Await(ctx)

		val, err := result.Unpack()
		if err != nil {
			chained.Complete(fn.Err[T](err))
			return
		}

		chained.Complete(fn.Ok(apply(val)))
	}()

	return chained.Future()
}

// OnComplete implements Future.
func (f *future[T]) OnComplete(ctx context.Context, cb func(fn.Result[T])) {
	go func() {
		cb(f.Await(ctx))
	}()
}
