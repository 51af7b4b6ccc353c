package actor

// Spawn starts a child actor under the given parent context: a new mailbox
// and ActorLoop are started with the parent's boxed self-ref recorded as
// the child's parent, and the child is inserted into the parent's
// supervised table. When the child's context later reaches StatusStopped,
// it is automatically removed from the table and the parent is notified via
// Context.OnChildTerminated.
//
// Per §4.3, cycles are forbidden by construction: the parent is fixed at
// spawn time on cfg.Parent and cannot be rewired afterward.
func Spawn[M Message, R any](
	parentCtx *Context, cfg ActorConfig[M, R],
) ActorRef[M, R] {

	cfg.Parent = parentCtx.Self()

	child := NewActor(cfg)
	child.Start()

	boxedChild := Box[M, R](child.Ref())
	parentCtx.addChild(cfg.ID, boxedChild, child.Stop)

	child.actorCtx.OnStopped(func() {
		parentCtx.removeChild(cfg.ID)
		parentCtx.notifyChildTerminated(cfg.ID)
	})

	return child.Ref()
}
