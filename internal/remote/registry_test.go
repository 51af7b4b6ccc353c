package remote

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btclog"
	"github.com/stretchr/testify/require"

	"github.com/coralsys/meshactor/internal/actor"
	"github.com/coralsys/meshactor/internal/wire"
)

// fakeSender records every frame sent to a peer and, when answer is set,
// passes each frame to it so a test can reply through the shared
// RequestTable as a remote directory node would, exercising GetActorNode's
// round trip without a real transport.
type fakeSender struct {
	mu       sync.Mutex
	sent     []wire.Frame
	requests *RequestTable
	answer   func(frame wire.Frame, requests *RequestTable)
}

func (f *fakeSender) SendTo(_ context.Context, _ uint64, frame wire.Frame) error {
	f.mu.Lock()
	f.sent = append(f.sent, frame)
	f.mu.Unlock()

	if f.answer != nil {
		f.answer(frame, f.requests)
	}
	return nil
}

func newScheduler(t *testing.T) *actor.Scheduler {
	t.Helper()

	var wg sync.WaitGroup
	s := actor.NewScheduler(&wg, nil, 16)
	t.Cleanup(s.Stop)
	return s
}

func TestRemoteRegistryRegisterAndGetLocalActor(t *testing.T) {
	t.Parallel()

	requests := NewRequestTable()
	reg := NewRemoteRegistry(1, requests, &fakeSender{requests: requests}, nil,
		newScheduler(t), btclog.Disabled)

	ctx := context.Background()
	require.NoError(t, reg.RegisterActor(ctx, "actor-a", 0))

	node, err := reg.GetActorNode(ctx, "actor-a")
	require.NoError(t, err)
	require.Equal(t, uint64(1), node)
}

func TestRemoteRegistryGetUnknownActorReturnsZero(t *testing.T) {
	t.Parallel()

	requests := NewRequestTable()
	reg := NewRemoteRegistry(1, requests, &fakeSender{requests: requests}, nil,
		newScheduler(t), btclog.Disabled)

	node, err := reg.GetActorNode(context.Background(), "nobody-home")
	require.NoError(t, err)
	require.Zero(t, node)
}

func TestRemoteRegistryForwardsRegisterToOwningNode(t *testing.T) {
	t.Parallel()

	requests := NewRequestTable()
	sender := &fakeSender{requests: requests}
	reg := NewRemoteRegistry(1, requests, sender, nil, newScheduler(t), btclog.Disabled)

	// A second node makes it possible for "actor-a" to hash to a node other
	// than self; whichever node owns it, RegisterActor must either record it
	// locally (owner == self) or forward it (owner != self) but never both.
	reg.nodes.Upsert(RemoteNode{NodeID: 1})
	reg.nodes.Upsert(RemoteNode{NodeID: 2})

	owner, ok := reg.nodes.OwnerOf("actor-a")
	require.True(t, ok)

	require.NoError(t, reg.RegisterActor(context.Background(), "actor-a", 0))

	if owner == 1 {
		require.Equal(t, uint64(1), reg.local["actor-a"])
		require.Empty(t, sender.sent)
	} else {
		require.Empty(t, reg.local)
		require.Len(t, sender.sent, 1)
		frame, ok := sender.sent[0].(wire.RegisterActorFrame)
		require.True(t, ok)
		require.Equal(t, "actor-a", frame.ActorID)
	}
}

func TestRemoteRegistryGetActorNodeRemoteRoundTrip(t *testing.T) {
	t.Parallel()

	requests := NewRequestTable()
	sender := &fakeSender{
		requests: requests,
		answer: func(frame wire.Frame, requests *RequestTable) {
			f, ok := frame.(wire.FindActorFrame)
			if !ok {
				return
			}
			sink, ok := requests.PopRequest(f.MessageID)
			if !ok {
				return
			}
			sink <- RemoteResponse{NodeID: 7}
			close(sink)
		},
	}

	reg := NewRemoteRegistry(1, requests, sender, nil, newScheduler(t), btclog.Disabled)
	reg.nodes.Upsert(RemoteNode{NodeID: 1})
	reg.nodes.Upsert(RemoteNode{NodeID: 2})

	// Pick a key that this registry's self node does not own, so
	// GetActorNode must take the remote round-trip path.
	var remoteKey string
	for i := 0; ; i++ {
		key := fmt.Sprintf("actor-%d", i)
		owner, _ := reg.nodes.OwnerOf(key)
		if owner != 1 {
			remoteKey = key
			break
		}
	}

	node, err := reg.GetActorNode(context.Background(), remoteKey)
	require.NoError(t, err)
	require.Equal(t, uint64(7), node)
}

func TestRemoteRegistryGetActorNodeTimesOut(t *testing.T) {
	t.Parallel()

	requests := NewRequestTable()
	sender := &fakeSender{requests: requests} // never answers

	reg := NewRemoteRegistry(1, requests, sender, nil, newScheduler(t), btclog.Disabled)
	reg.nodes.Upsert(RemoteNode{NodeID: 1})
	reg.nodes.Upsert(RemoteNode{NodeID: 2})

	var remoteKey string
	for i := 0; ; i++ {
		key := fmt.Sprintf("actor-%d", i)
		owner, _ := reg.nodes.OwnerOf(key)
		if owner != 1 {
			remoteKey = key
			break
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := reg.GetActorNode(ctx, remoteKey)
	require.ErrorIs(t, err, actor.ErrActorUnavailable)
}

func TestRemoteRegistryHandleFindActorAndHandleRegisterActor(t *testing.T) {
	t.Parallel()

	requests := NewRequestTable()
	reg := NewRemoteRegistry(1, requests, &fakeSender{requests: requests}, nil,
		newScheduler(t), btclog.Disabled)

	reply := reg.HandleFindActor(wire.FindActorFrame{MessageID: "m1", ActorID: "actor-a"})
	require.Equal(t, "m1", reply.MessageID)
	require.Zero(t, reply.NodeID, "not yet registered")

	reg.HandleRegisterActor(wire.RegisterActorFrame{NodeID: 9, ActorID: "actor-a"})

	reply = reg.HandleFindActor(wire.FindActorFrame{MessageID: "m2", ActorID: "actor-a"})
	require.Equal(t, uint64(9), reply.NodeID)
}

func TestRemoteRegistryRebalanceReRegistersScheduledActors(t *testing.T) {
	t.Parallel()

	requests := NewRequestTable()
	scheduler := newScheduler(t)
	reg := NewRemoteRegistry(1, requests, &fakeSender{requests: requests}, nil,
		scheduler, btclog.Disabled)

	ctx := context.Background()
	_, err := scheduler.Register(ctx, "actor-a", nil)
	require.NoError(t, err)

	reg.Rebalance(ctx)

	require.Equal(t, uint64(1), reg.local["actor-a"])
}
