package remote

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btclog"
	"github.com/stretchr/testify/require"

	"github.com/coralsys/meshactor/internal/pubsub"
	"github.com/coralsys/meshactor/internal/wire"
)

type fakeDispatcher struct {
	payload []byte
	err     error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, _, _ string, _ []byte) ([]byte, error) {
	return d.payload, d.err
}

type fakeEntityDispatcher struct {
	payload []byte
	err     error
}

func (d *fakeEntityDispatcher) DispatchEntity(_ context.Context,
	_ wire.RemoteEntityRequestFrame) ([]byte, error) {
	return d.payload, d.err
}

type fakeCoordinator struct {
	nodeID uint64
	err    error
}

func (c *fakeCoordinator) AllocateShard(_ context.Context, _ uint32) (uint64, error) {
	return c.nodeID, c.err
}

func newTestSession(cfg SessionConfig, stream *fakeStream) *Session {
	return NewSession(cfg, stream, btclog.Disabled)
}

func TestSessionHandlesPing(t *testing.T) {
	t.Parallel()

	stream := newFakeStream()
	s := newTestSession(SessionConfig{}, stream)

	require.NoError(t, s.handle(context.Background(), wire.PingFrame{MessageID: "m1"}))

	require.Len(t, stream.Sent(), 1)
	pong, ok := stream.Sent()[0].(wire.PongFrame)
	require.True(t, ok)
	require.Equal(t, "m1", pong.MessageID)
}

func TestSessionHandleConnectRegistersPeerAndAcks(t *testing.T) {
	t.Parallel()

	requests := NewRequestTable()
	reg := NewRemoteRegistry(1, requests, &fakeSender{requests: requests}, nil,
		newScheduler(t), btclog.Disabled)

	stream := newFakeStream()
	s := newTestSession(SessionConfig{
		SelfNode: 1, SelfAddr: "n1:9000", Registry: reg,
	}, stream)

	err := s.handle(context.Background(), wire.ConnectFrame{
		SenderNode: 2, ListenAddr: "n2:9000",
	})
	require.NoError(t, err)

	require.True(t, reg.nodes.Contains(2))

	require.Len(t, stream.Sent(), 1)
	ack, ok := stream.Sent()[0].(wire.ConnectAckFrame)
	require.True(t, ok)
	require.Equal(t, uint64(1), ack.Self.NodeID)
}

func TestSessionHandleConnectOverridesPeerAddr(t *testing.T) {
	t.Parallel()

	requests := NewRequestTable()
	reg := NewRemoteRegistry(1, requests, &fakeSender{requests: requests}, nil,
		newScheduler(t), btclog.Disabled)

	stream := newFakeStream()
	s := newTestSession(SessionConfig{
		SelfNode: 1, Registry: reg,
		OverrideAddr: true, PeerAddr: "observed:1234",
	}, stream)

	require.NoError(t, s.handle(context.Background(), wire.ConnectFrame{
		SenderNode: 2, ListenAddr: "claimed:5678",
	}))

	n, ok := reg.nodes.Get(2)
	require.True(t, ok)
	require.Equal(t, "observed:1234", n.Addr,
		"OverrideAddr must prefer the observed peer address over the claimed one")
}

func TestSessionHandleFindActorAndRegisterActor(t *testing.T) {
	t.Parallel()

	requests := NewRequestTable()
	reg := NewRemoteRegistry(1, requests, &fakeSender{requests: requests}, nil,
		newScheduler(t), btclog.Disabled)

	stream := newFakeStream()
	s := newTestSession(SessionConfig{SelfNode: 1, Registry: reg}, stream)

	require.NoError(t, s.handle(context.Background(),
		wire.RegisterActorFrame{NodeID: 5, ActorID: "actor-a"}))

	require.NoError(t, s.handle(context.Background(),
		wire.FindActorFrame{MessageID: "m1", ActorID: "actor-a"}))

	require.Len(t, stream.Sent(), 1)
	reply, ok := stream.Sent()[0].(wire.ActorAddressFrame)
	require.True(t, ok)
	require.Equal(t, uint64(5), reply.NodeID)
}

func TestSessionHandleMessageRequestNoDispatcher(t *testing.T) {
	t.Parallel()

	stream := newFakeStream()
	s := newTestSession(SessionConfig{}, stream)

	require.NoError(t, s.handle(context.Background(), wire.MessageRequestFrame{
		MessageID: "m1", ActorID: "a", Payload: []byte("x"),
	}))

	resp, ok := stream.Sent()[0].(wire.MessageResponseFrame)
	require.True(t, ok)
	require.NotEmpty(t, resp.Err)
}

func TestSessionHandleMessageRequestWithDispatcher(t *testing.T) {
	t.Parallel()

	stream := newFakeStream()
	s := newTestSession(SessionConfig{
		Dispatcher: &fakeDispatcher{payload: []byte("ok")},
	}, stream)

	require.NoError(t, s.handle(context.Background(), wire.MessageRequestFrame{
		MessageID: "m1",
	}))

	resp, ok := stream.Sent()[0].(wire.MessageResponseFrame)
	require.True(t, ok)
	require.Equal(t, "ok", string(resp.Payload))
	require.Empty(t, resp.Err)
}

func TestSessionHandleEntityRequestNoDispatcher(t *testing.T) {
	t.Parallel()

	stream := newFakeStream()
	s := newTestSession(SessionConfig{}, stream)

	require.NoError(t, s.handle(context.Background(),
		wire.RemoteEntityRequestFrame{RequestID: "r1", ActorID: "a"}))

	resp, ok := stream.Sent()[0].(wire.MessageResponseFrame)
	require.True(t, ok)
	require.Equal(t, "r1", resp.MessageID)
	require.NotEmpty(t, resp.Err)
}

func TestSessionHandleEntityRequestWithDispatcher(t *testing.T) {
	t.Parallel()

	stream := newFakeStream()
	s := newTestSession(SessionConfig{
		Entities: &fakeEntityDispatcher{payload: []byte("entity-ok")},
	}, stream)

	require.NoError(t, s.handle(context.Background(),
		wire.RemoteEntityRequestFrame{RequestID: "r1"}))

	resp, ok := stream.Sent()[0].(wire.MessageResponseFrame)
	require.True(t, ok)
	require.Equal(t, "entity-ok", string(resp.Payload))
}

func TestSessionHandleAllocateShardNoCoordinator(t *testing.T) {
	t.Parallel()

	stream := newFakeStream()
	s := newTestSession(SessionConfig{}, stream)

	require.NoError(t, s.handle(context.Background(),
		wire.AllocateShardFrame{RequestID: "r1", ShardID: 3}))

	resp, ok := stream.Sent()[0].(wire.ShardAllocatedFrame)
	require.True(t, ok)
	require.Zero(t, resp.NodeID)
	require.Equal(t, uint32(3), resp.ShardID)
}

func TestSessionHandleAllocateShardWithCoordinator(t *testing.T) {
	t.Parallel()

	stream := newFakeStream()
	s := newTestSession(SessionConfig{
		Coordinator: &fakeCoordinator{nodeID: 4},
	}, stream)

	require.NoError(t, s.handle(context.Background(),
		wire.AllocateShardFrame{RequestID: "r1", ShardID: 3}))

	resp, ok := stream.Sent()[0].(wire.ShardAllocatedFrame)
	require.True(t, ok)
	require.Equal(t, uint64(4), resp.NodeID)
}

func TestSessionHandleStreamPublish(t *testing.T) {
	t.Parallel()

	ps := pubsub.NewInMemory()
	sub, err := ps.Subscribe(context.Background(), pubsub.Topic("t1"))
	require.NoError(t, err)

	stream := newFakeStream()
	s := newTestSession(SessionConfig{PubSub: ps}, stream)

	require.NoError(t, s.handle(context.Background(), wire.StreamPublishFrame{
		Topic: "t1", Payload: []byte("hello"),
	}))

	select {
	case payload := <-sub.Events():
		require.Equal(t, "hello", string(payload))
	case <-time.After(time.Second):
		t.Fatal("published event never delivered to subscriber")
	}
}

func TestSessionRunStopsOnRecvError(t *testing.T) {
	t.Parallel()

	stream := newFakeStream()
	s := newTestSession(SessionConfig{}, stream)

	var wg sync.WaitGroup
	wg.Add(1)

	var runErr error
	go func() {
		defer wg.Done()
		runErr = s.Run(context.Background())
	}()

	stream.close()
	wg.Wait()

	require.Error(t, runErr)
}
