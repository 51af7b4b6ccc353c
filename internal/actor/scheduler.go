package actor

import (
	"context"
	"sync"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// SchedulerMessage is the sealed message union the scheduler actor
// understands. Concrete message types embed schedulerMessageBase.
type SchedulerMessage interface {
	Message

	schedulerMarker()
}

type schedulerMessageBase struct {
	BaseMessage
}

func (schedulerMessageBase) schedulerMarker() {}

// RegisterActorMsg asks the scheduler to track a boxed actor ref under id.
type RegisterActorMsg struct {
	schedulerMessageBase

	ID  string
	Ref BoxedActorRef
}

// MessageType implements Message.
func (RegisterActorMsg) MessageType() string { return "scheduler.register" }

// GetActorMsg asks the scheduler for the ref tracked under id, if any.
type GetActorMsg struct {
	schedulerMessageBase

	ID string
}

// MessageType implements Message.
func (GetActorMsg) MessageType() string { return "scheduler.get" }

// DeregisterActorMsg asks the scheduler to stop tracking id. Idempotent.
type DeregisterActorMsg struct {
	schedulerMessageBase

	ID string
}

// MessageType implements Message.
func (DeregisterActorMsg) MessageType() string { return "scheduler.deregister" }

// ListActorsMsg asks the scheduler for every id it currently tracks. Used by
// the remote directory to rebalance registrations on cluster membership
// changes (§4.5).
type ListActorsMsg struct {
	schedulerMessageBase
}

// MessageType implements Message.
func (ListActorsMsg) MessageType() string { return "scheduler.list" }

// SchedulerResult is the scheduler actor's response to any SchedulerMessage.
type SchedulerResult struct {
	Ref   BoxedActorRef
	Found bool
	IDs   []string
}

// schedulerBehavior holds the ActorId -> BoxedActorRef table described in
// §4.4. All mutations happen on the scheduler actor's own loop, linearising
// concurrent registrations.
type schedulerBehavior struct {
	table map[string]BoxedActorRef
}

// Receive implements ActorBehavior.
func (b *schedulerBehavior) Receive(_ context.Context,
	msg SchedulerMessage) fn.Result[SchedulerResult] {

	switch m := msg.(type) {
	case *RegisterActorMsg:
		b.table[m.ID] = m.Ref
		return fn.Ok(SchedulerResult{Ref: m.Ref, Found: true})

	case *GetActorMsg:
		ref, ok := b.table[m.ID]
		return fn.Ok(SchedulerResult{Ref: ref, Found: ok})

	case *DeregisterActorMsg:
		delete(b.table, m.ID)
		return fn.Ok(SchedulerResult{Found: true})

	case *ListActorsMsg:
		ids := make([]string, 0, len(b.table))
		for id := range b.table {
			ids = append(ids, id)
		}
		return fn.Ok(SchedulerResult{IDs: ids})

	default:
		return fn.Err[SchedulerResult](ErrNotSupported)
	}
}

// Scheduler is the registry of tracked actors by identifier described in
// §4.4. It is itself backed by an actor, so register/get/deregister calls
// against the same id are linearised regardless of caller concurrency.
type Scheduler struct {
	actorRef ActorRef[SchedulerMessage, SchedulerResult]
	stop     func()
}

// NewScheduler starts a new scheduler actor. dlo receives any scheduler
// messages that can't be delivered during shutdown.
func NewScheduler(wg *sync.WaitGroup, dlo ActorRef[Message, any],
	mailboxSize int) *Scheduler {

	behavior := &schedulerBehavior{table: make(map[string]BoxedActorRef)}

	a := NewActor(ActorConfig[SchedulerMessage, SchedulerResult]{
		ID:          "scheduler",
		Behavior:    behavior,
		DLO:         dlo,
		MailboxSize: mailboxSize,
		Wg:          wg,
	})
	a.Start()

	return &Scheduler{actorRef: a.Ref(), stop: a.Stop}
}

// Register places an actor under management. The ref is returned only after
// registration is acknowledged by the scheduler's own loop; failure to reach
// the scheduler (e.g. it has been stopped) surfaces ErrActorUnavailable.
func (s *Scheduler) Register(ctx context.Context, id string,
	ref BoxedActorRef) (BoxedActorRef, error) {

	result, err := s.actorRef.Ask(
		ctx, &RegisterActorMsg{ID: id, Ref: ref},
	).Await(ctx).Unpack()
	if err != nil {
		return nil, ErrActorUnavailable
	}
	if !result.Found {
		return nil, ErrActorUnavailable
	}

	return result.Ref, nil
}

// Get returns the ref tracked under id, if present.
func (s *Scheduler) Get(ctx context.Context, id string) (BoxedActorRef, bool) {
	result, err := s.actorRef.Ask(ctx, &GetActorMsg{ID: id}).Await(ctx).Unpack()
	if err != nil {
		return nil, false
	}

	return result.Ref, result.Found
}

// Deregister removes the entry for id. Idempotent.
func (s *Scheduler) Deregister(ctx context.Context, id string) {
	s.actorRef.Tell(ctx, &DeregisterActorMsg{ID: id})
}

// List returns every id currently tracked by the scheduler.
func (s *Scheduler) List(ctx context.Context) []string {
	result, err := s.actorRef.Ask(ctx, &ListActorsMsg{}).Await(ctx).Unpack()
	if err != nil {
		return nil
	}

	return result.IDs
}

// Stop terminates the scheduler actor.
func (s *Scheduler) Stop() {
	s.stop()
}
