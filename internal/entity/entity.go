// Package entity adapts the generic internal/actor runtime to the two
// dispatch roles internal/remote.Session and internal/sharding.ShardHost
// need: delivering a wire-originated message to an already-addressable
// actor (remote.MessageDispatcher), and spawning one on demand from a
// recipe the first time a shard sees its id (sharding.LocalDispatcher).
// Every entity actor wired through this package shares one message/response
// pair, Envelope/EnvelopeResult, so a single ActorSystem ServiceKey covers
// all of them regardless of how many distinct Factory behaviors are
// registered.
package entity

import (
	"context"
	"fmt"
	"sync"

	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/coralsys/meshactor/internal/actor"
)

// Envelope is the message every dynamically addressed entity actor
// receives, whether the send originated from a local caller, a peer node's
// MessageRequest, or a shard's RemoteEntityRequest.
type Envelope struct {
	actor.BaseMessage

	Kind    string
	Payload []byte
}

// MessageType implements actor.Message.
func (e Envelope) MessageType() string { return e.Kind }

// EnvelopeResult is what every entity actor replies with.
type EnvelopeResult struct {
	Payload []byte
	Err     error
}

// entityKey is the single ServiceKey every entity actor registers under.
// Actors are addressed by their scheduler id, not by receptionist lookup,
// so collapsing every entity type onto one key is safe: RegisterWithSystem
// only uses the key to validate that every actor registered under it agrees
// on (Envelope, EnvelopeResult).
var entityKey = actor.NewServiceKey[Envelope, EnvelopeResult]("entity")

// Factory builds the behavior for a newly seen entity id from its spawn
// recipe. The recipe's contents are opaque to this package; a concrete
// application interprets them (e.g. as a type tag plus constructor
// arguments).
type Factory func(actorID string, recipe []byte) (actor.ActorBehavior[Envelope, EnvelopeResult], error)

// EchoFactory is the default Factory used when a node isn't configured with
// anything more specific: the spawned actor replies with whatever payload
// it was last sent, ignoring the recipe entirely. It exists so cmd/node has
// a runnable default rather than failing every EntityRequest outright.
func EchoFactory(string, []byte) (actor.ActorBehavior[Envelope, EnvelopeResult], error) {
	return actor.NewFunctionBehavior(func(_ context.Context, msg Envelope) fn.Result[EnvelopeResult] {
		return fn.Ok(EnvelopeResult{Payload: msg.Payload})
	}), nil
}

// Dispatcher spawns and addresses entity actors registered on an
// ActorSystem. It implements remote.MessageDispatcher directly;
// sharding.LocalDispatcher is implemented by LocalDispatcherAdapter.
type Dispatcher struct {
	system  *actor.ActorSystem
	factory Factory

	mu sync.Mutex
}

// NewDispatcher constructs a Dispatcher spawning missing entities via
// factory. Pass EchoFactory for a default, demo-suitable behavior.
func NewDispatcher(system *actor.ActorSystem, factory Factory) *Dispatcher {
	return &Dispatcher{system: system, factory: factory}
}

func (d *Dispatcher) lookup(ctx context.Context,
	actorID string) (actor.ActorRef[Envelope, EnvelopeResult], bool) {

	boxed, ok := d.system.Scheduler().Get(ctx, actorID)
	if !ok {
		return nil, false
	}

	return actor.Unbox[Envelope, EnvelopeResult](boxed)
}

// Dispatch implements remote.MessageDispatcher: it delivers to an actor
// that must already exist, spawning nothing. A MessageRequest frame has no
// recipe to spawn from, so an unknown actorID is an error.
func (d *Dispatcher) Dispatch(ctx context.Context, actorID, messageType string,
	payload []byte) ([]byte, error) {

	ref, ok := d.lookup(ctx, actorID)
	if !ok {
		return nil, fmt.Errorf("entity: no actor registered under id %q", actorID)
	}

	result, err := ref.Ask(ctx, Envelope{Kind: messageType, Payload: payload}).Await(ctx).Unpack()
	if err != nil {
		return nil, err
	}

	return result.Payload, result.Err
}

// DispatchEntity spawns actorID from recipe the first time it's seen, then
// delivers payload. Exposed to sharding.ShardHost via LocalDispatcherAdapter.
func (d *Dispatcher) DispatchEntity(ctx context.Context, actorID, messageType string,
	payload, recipe []byte) ([]byte, error) {

	ref, ok := d.lookup(ctx, actorID)
	if !ok {
		d.mu.Lock()
		ref, ok = d.lookup(ctx, actorID)
		if !ok {
			if len(recipe) == 0 {
				d.mu.Unlock()
				return nil, fmt.Errorf(
					"entity: actor %q doesn't exist and no recipe was supplied",
					actorID)
			}

			behavior, err := d.factory(actorID, recipe)
			if err != nil {
				d.mu.Unlock()
				return nil, fmt.Errorf("entity: factory for %q failed: %w",
					actorID, err)
			}

			ref = entityKey.Spawn(d.system, actorID, behavior)
		}
		d.mu.Unlock()
	}

	result, err := ref.Ask(ctx, Envelope{Kind: messageType, Payload: payload}).Await(ctx).Unpack()
	if err != nil {
		return nil, err
	}

	return result.Payload, result.Err
}

// LocalDispatcherAdapter adapts Dispatcher to sharding.LocalDispatcher's
// Dispatch(ctx, actorID, messageType, payload, recipe) signature, which
// collides in name (but not arity) with remote.MessageDispatcher's Dispatch.
// Since a single type can't expose both as methods named Dispatch, a
// ShardHost is given one of these instead of the Dispatcher directly.
type LocalDispatcherAdapter struct {
	*Dispatcher
}

// Dispatch implements sharding.LocalDispatcher by delegating to
// DispatchEntity, which spawns actorID from recipe if it doesn't exist yet.
func (a LocalDispatcherAdapter) Dispatch(ctx context.Context, actorID, messageType string,
	payload, recipe []byte) ([]byte, error) {

	return a.DispatchEntity(ctx, actorID, messageType, payload, recipe)
}
