package actor

import (
	"context"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// functionBehavior adapts a plain Go function to the ActorBehavior interface,
// letting simple actors be defined without declaring a named type.
type functionBehavior[M Message, R any] struct {
	fn func(ctx context.Context, msg M) fn.Result[R]
}

// NewFunctionBehavior wraps a function as an ActorBehavior. This is the
// common case for actors whose entire logic fits in a single closure; actors
// that need OnStop cleanup should implement ActorBehavior (and Stoppable) on
// a named type instead.
func NewFunctionBehavior[M Message, R any](
	receive func(ctx context.Context, msg M) fn.Result[R],
) ActorBehavior[M, R] {

	return &functionBehavior[M, R]{fn: receive}
}

// Receive implements ActorBehavior.
func (f *functionBehavior[M, R]) Receive(ctx context.Context,
	msg M) fn.Result[R] {

	return f.fn(ctx, msg)
}
