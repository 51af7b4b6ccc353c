package actor

import "reflect"

// BoxedActorRef is a type-erased actor reference, used wherever heterogeneous
// actors must be stored together: supervision tables, the scheduler, and the
// remote registry. It can only be turned back into a typed ActorRef via
// Unbox, which fails if the requested message/response types don't match
// what was originally boxed.
type BoxedActorRef interface {
	BaseActorRef

	// typeTag identifies the concrete (message, response) type pair this
	// boxed ref was constructed from. It is unexported because it's an
	// implementation detail of Unbox's type assertion, not something
	// external callers should compare directly.
	typeTag() string
}

// boxedRef is the concrete BoxedActorRef implementation produced by Box.
type boxedRef[M Message, R any] struct {
	ref ActorRef[M, R]
	tag string
}

// Box erases the static type of an ActorRef so it can be stored alongside
// refs of other actor types.
func Box[M Message, R any](ref ActorRef[M, R]) BoxedActorRef {
	return &boxedRef[M, R]{
		ref: ref,
		tag: typeTagFor[M, R](),
	}
}

func typeTagFor[M Message, R any]() string {
	return reflect.TypeOf((*M)(nil)).Elem().String() + "->" +
		reflect.TypeOf((*R)(nil)).Elem().String()
}

// ID implements BaseActorRef.
func (b *boxedRef[M, R]) ID() string {
	return b.ref.ID()
}

func (b *boxedRef[M, R]) typeTag() string {
	return b.tag
}

// Unbox attempts to recover a typed ActorRef[M, R] from a BoxedActorRef. It
// fails (ok=false) if the boxed ref's original message/response types don't
// match the requested M and R.
func Unbox[M Message, R any](boxed BoxedActorRef) (ActorRef[M, R], bool) {
	if boxed == nil {
		var zero ActorRef[M, R]
		return zero, false
	}

	typed, ok := boxed.(*boxedRef[M, R])
	if !ok || typed.tag != typeTagFor[M, R]() {
		var zero ActorRef[M, R]
		return zero, false
	}

	return typed.ref, true
}
