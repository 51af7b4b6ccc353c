package actor

import (
	"context"
	"sync/atomic"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// RoutingStrategy selects one actor reference out of the set currently
// registered under a ServiceKey. Implementations decide load-balancing
// policy (round-robin, random, least-loaded, ...); the zero value of the
// second return is false when refs is empty.
type RoutingStrategy[M Message, R any] interface {
	Select(refs []ActorRef[M, R]) (ActorRef[M, R], bool)
}

// roundRobinStrategy cycles through the registered refs in order.
type roundRobinStrategy[M Message, R any] struct {
	counter atomic.Uint64
}

// NewRoundRobinStrategy returns a RoutingStrategy that distributes messages
// evenly across the registered actors in round-robin order. The default
// strategy used by ServiceKey.Ref.
func NewRoundRobinStrategy[M Message, R any]() RoutingStrategy[M, R] {
	return &roundRobinStrategy[M, R]{}
}

// Select implements RoutingStrategy.
func (s *roundRobinStrategy[M, R]) Select(
	refs []ActorRef[M, R]) (ActorRef[M, R], bool) {

	if len(refs) == 0 {
		var zero ActorRef[M, R]
		return zero, false
	}

	idx := s.counter.Add(1) - 1

	return refs[idx%uint64(len(refs))], true
}

// router is a virtual ActorRef that resolves its target lazily from the
// receptionist on every Tell/Ask, applying a RoutingStrategy over the
// currently registered actors for a service key. It gives callers location
// transparency: the set of backing actors can change (actors joining,
// leaving, or being rehomed) without callers needing a new reference.
type router[M Message, R any] struct {
	id           string
	receptionist *Receptionist
	key          ServiceKey[M, R]
	strategy     RoutingStrategy[M, R]
	deadLetters  ActorRef[Message, any]
}

// NewRouter constructs a router-backed ActorRef for the given service key.
// Messages sent through it are dispatched to the actor selected by strategy
// out of the receptionist's current registrations. If no actor is
// registered, Tell routes to deadLetters and Ask resolves to
// ErrActorUnavailable.
func NewRouter[M Message, R any](
	r *Receptionist, key ServiceKey[M, R],
	strategy RoutingStrategy[M, R], deadLetters ActorRef[Message, any],
) ActorRef[M, R] {

	return &router[M, R]{
		id:           "router:" + key.name,
		receptionist: r,
		key:          key,
		strategy:     strategy,
		deadLetters:  deadLetters,
	}
}

// ID implements BaseActorRef.
func (rt *router[M, R]) ID() string {
	return rt.id
}

func (rt *router[M, R]) pick() (ActorRef[M, R], bool) {
	refs := FindInReceptionist(rt.receptionist, rt.key)
	return rt.strategy.Select(refs)
}

// Tell implements TellOnlyRef.
func (rt *router[M, R]) Tell(ctx context.Context, msg M) {
	target, ok := rt.pick()
	if !ok {
		log.DebugS(ctx, "Router found no registered actors, "+
			"routing to dead letters", "service", rt.key.name)

		if rt.deadLetters != nil {
			rt.deadLetters.Tell(ctx, msg)
		}

		return
	}

	target.Tell(ctx, msg)
}

// Ask implements ActorRef.
func (rt *router[M, R]) Ask(ctx context.Context, msg M) Future[R] {
	target, ok := rt.pick()
	if !ok {
		p := NewPromise[R]()
		p.Complete(fn.Err[R](ErrActorUnavailable))

		return p.Future()
	}

	return target.Ask(ctx, msg)
}
