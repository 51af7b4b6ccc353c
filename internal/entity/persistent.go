package entity

import (
	"context"
	"sync"

	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/coralsys/meshactor/internal/actor"
	"github.com/coralsys/meshactor/internal/persistence"
)

// NewPersistentEchoFactory returns a Factory whose spawned actors journal
// every message they receive through store before echoing it back. The
// starting sequence number is recovered from store's existing journal for
// actorID, so a respawn after a crash or a shard moving between nodes picks
// up where the last journal entry left off instead of renumbering from
// 1.
func NewPersistentEchoFactory(store persistence.Collaborator) Factory {
	return func(actorID string, _ []byte) (actor.ActorBehavior[Envelope, EnvelopeResult], error) {
		events, err := store.ReadJournal(context.Background(), actorID, 0)
		if err != nil {
			return nil, err
		}

		// Numbering starts at 1: ReadJournal returns events strictly after
		// fromSeq, so ReadJournal(actorID, 0) covers every journaled event.
		seq := uint64(1)
		for _, ev := range events {
			if ev.Seq >= seq {
				seq = ev.Seq + 1
			}
		}

		var mu sync.Mutex

		behavior := actor.NewFunctionBehavior(
			func(ctx context.Context, msg Envelope) fn.Result[EnvelopeResult] {
				mu.Lock()
				mySeq := seq
				seq++
				mu.Unlock()

				if err := store.PersistEvent(ctx, actorID, mySeq, msg.Payload); err != nil {
					return fn.Err[EnvelopeResult](err)
				}

				return fn.Ok(EnvelopeResult{Payload: msg.Payload})
			},
		)

		return behavior, nil
	}
}
