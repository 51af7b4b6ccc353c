package remote

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btclog"
	"github.com/stretchr/testify/require"

	"github.com/coralsys/meshactor/internal/wire"
)

// fakeStream is an in-memory grpctransport.Stream: Send appends to sent and
// Recv drains a queue the test feeds, standing in for a real gRPC stream.
type fakeStream struct {
	mu   sync.Mutex
	sent []wire.Frame

	inbound  chan wire.Frame
	sendErr  error
	recvErr  error
	closed   chan struct{}
	closedMu sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		inbound: make(chan wire.Frame, 16),
		closed:  make(chan struct{}),
	}
}

func (s *fakeStream) Send(frame wire.Frame) error {
	if s.sendErr != nil {
		return s.sendErr
	}

	s.mu.Lock()
	s.sent = append(s.sent, frame)
	s.mu.Unlock()
	return nil
}

func (s *fakeStream) Recv() (wire.Frame, error) {
	select {
	case f := <-s.inbound:
		return f, nil
	case <-s.closed:
		if s.recvErr != nil {
			return nil, s.recvErr
		}
		return nil, fmt.Errorf("fakeStream: closed")
	}
}

func (s *fakeStream) push(f wire.Frame) {
	s.inbound <- f
}

func (s *fakeStream) close() {
	s.closedMu.Do(func() { close(s.closed) })
}

func (s *fakeStream) Sent() []wire.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]wire.Frame, len(s.sent))
	copy(out, s.sent)
	return out
}

type recordingHeartbeatSink struct {
	mu      sync.Mutex
	results []PingResult
}

func (s *recordingHeartbeatSink) ReportPing(r PingResult) {
	s.mu.Lock()
	s.results = append(s.results, r)
	s.mu.Unlock()
}

func (s *recordingHeartbeatSink) last() (PingResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.results) == 0 {
		return PingResult{}, false
	}
	return s.results[len(s.results)-1], true
}

// newTestClient builds a Client already wired to a fake stream, bypassing
// Start's real dial, with its command loop and recv loop running exactly as
// Start would leave them.
func newTestClient(t *testing.T, nodeID uint64, requests *RequestTable,
	heartbeat HeartbeatSink, pingTimeout time.Duration) (*Client, *fakeStream) {

	t.Helper()

	stream := newFakeStream()
	c := NewClient(nodeID, "n/a", requests, heartbeat, time.Hour, pingTimeout,
		btclog.Disabled)
	c.stream = stream
	c.setState(ClientConnected)

	go c.recvLoop()
	go c.loop()

	t.Cleanup(func() {
		stream.close()
		close(c.quit)
		<-c.done
	})

	return c, stream
}

func TestClientStateString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "idle", ClientIdle.String())
	require.Equal(t, "connecting", ClientConnecting.String())
	require.Equal(t, "connected", ClientConnected.String())
	require.Equal(t, "quarantined", ClientQuarantined.String())
	require.Equal(t, "unknown", ClientState(99).String())
}

func TestClientWriteDropsWhenNotConnected(t *testing.T) {
	t.Parallel()

	requests := NewRequestTable()
	c, stream := newTestClient(t, 1, requests, &recordingHeartbeatSink{}, time.Second)
	c.setState(ClientQuarantined)

	c.ClientWrite(wire.PingFrame{MessageID: "x"})

	time.Sleep(10 * time.Millisecond)
	require.Empty(t, stream.Sent(), "a frame written while not connected must be dropped")
}

func TestClientWriteSendsWhenConnected(t *testing.T) {
	t.Parallel()

	requests := NewRequestTable()
	c, stream := newTestClient(t, 1, requests, &recordingHeartbeatSink{}, time.Second)

	c.ClientWrite(wire.PingFrame{MessageID: "x"})

	require.Eventually(t, func() bool {
		return len(stream.Sent()) == 1
	}, time.Second, time.Millisecond)
}

func TestClientRecvLoopResolvesPong(t *testing.T) {
	t.Parallel()

	requests := NewRequestTable()
	c, _ := newTestClient(t, 1, requests, &recordingHeartbeatSink{}, time.Second)

	sink := make(chan RemoteResponse, 1)
	requests.PushRequest("ping-1", sink)

	c.stream.(*fakeStream).push(wire.PongFrame{MessageID: "ping-1"})

	select {
	case <-sink:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pong resolution")
	}
}

func TestClientDoPingSuccess(t *testing.T) {
	t.Parallel()

	requests := NewRequestTable()
	heartbeat := &recordingHeartbeatSink{}
	c, stream := newTestClient(t, 1, requests, heartbeat, time.Second)

	go c.doPing()

	var sent wire.PingFrame
	require.Eventually(t, func() bool {
		for _, f := range stream.Sent() {
			if p, ok := f.(wire.PingFrame); ok {
				sent = p
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)

	stream.push(wire.PongFrame{MessageID: sent.MessageID})

	require.Eventually(t, func() bool {
		r, ok := heartbeat.last()
		return ok && r.Outcome == PingOk
	}, time.Second, time.Millisecond)
}

func TestClientDoPingTimeout(t *testing.T) {
	t.Parallel()

	requests := NewRequestTable()
	heartbeat := &recordingHeartbeatSink{}
	c, _ := newTestClient(t, 1, requests, heartbeat, 20*time.Millisecond)

	c.doPing()

	r, ok := heartbeat.last()
	require.True(t, ok)
	require.Equal(t, PingTimeout, r.Outcome)
}

func TestClientDoPingWhenDisconnected(t *testing.T) {
	t.Parallel()

	requests := NewRequestTable()
	heartbeat := &recordingHeartbeatSink{}
	c, _ := newTestClient(t, 1, requests, heartbeat, time.Second)
	c.setState(ClientQuarantined)

	c.doPing()

	r, ok := heartbeat.last()
	require.True(t, ok)
	require.Equal(t, PingDisconnected, r.Outcome)
}

func TestClientRegistryConnectReturnsExistingClient(t *testing.T) {
	t.Parallel()

	// Connect dials over a real transport, which a unit test can't do
	// without a listening peer; this only exercises the memoization path
	// by pre-seeding a client directly.
	requests := NewRequestTable()
	reg := NewClientRegistry(requests, &recordingHeartbeatSink{}, time.Hour, time.Second,
		btclog.Disabled)

	c := NewClient(1, "n/a", requests, &recordingHeartbeatSink{}, time.Hour,
		time.Second, btclog.Disabled)
	reg.mu.Lock()
	reg.clients[1] = c
	reg.mu.Unlock()

	got, err := reg.Connect(context.Background(), 1, "ignored")
	require.NoError(t, err)
	require.Same(t, c, got)
}

func TestClientRegistryGetAndSendTo(t *testing.T) {
	t.Parallel()

	requests := NewRequestTable()
	reg := NewClientRegistry(requests, &recordingHeartbeatSink{}, time.Hour, time.Second,
		btclog.Disabled)

	_, ok := reg.Get(1)
	require.False(t, ok)

	err := reg.SendTo(context.Background(), 1, wire.PingFrame{MessageID: "x"})
	require.Error(t, err, "sending to an unconnected node must fail")

	c, stream := newTestClient(t, 1, requests, &recordingHeartbeatSink{}, time.Second)
	reg.mu.Lock()
	reg.clients[1] = c
	reg.mu.Unlock()

	require.NoError(t, reg.SendTo(context.Background(), 1, wire.PingFrame{MessageID: "y"}))
	require.Eventually(t, func() bool { return len(stream.Sent()) == 1 },
		time.Second, time.Millisecond)
}

func TestClientRegistryHandshakeSuccess(t *testing.T) {
	t.Parallel()

	requests := NewRequestTable()
	reg := NewClientRegistry(requests, &recordingHeartbeatSink{}, time.Hour, time.Second,
		btclog.Disabled)

	c, stream := newTestClient(t, 2, requests, &recordingHeartbeatSink{}, time.Second)
	reg.mu.Lock()
	reg.clients[2] = c
	reg.mu.Unlock()

	known := NewNodeSet()

	done := make(chan error, 1)
	go func() {
		done <- reg.Handshake(context.Background(),
			RemoteNode{NodeID: 2, Addr: "n2:9000"}, 1, "n1:9000", known)
	}()

	require.Eventually(t, func() bool { return len(stream.Sent()) == 1 },
		time.Second, time.Millisecond)

	connectFrame, ok := stream.Sent()[0].(wire.ConnectFrame)
	require.True(t, ok)
	require.Equal(t, uint64(1), connectFrame.SenderNode)

	stream.push(wire.ConnectAckFrame{
		Self: wire.NodeDescriptor{NodeID: 2, Addr: "n2:9000", StartedUnix: 1000},
		KnownNodes: []wire.NodeDescriptor{
			{NodeID: 3, Addr: "n3:9000", StartedUnix: 1000},
		},
	})

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Handshake did not return after ConnectAck")
	}

	require.True(t, known.Contains(2))
	require.True(t, known.Contains(3))
}

func TestClientRegistryHandshakeCtxCancelled(t *testing.T) {
	t.Parallel()

	requests := NewRequestTable()
	reg := NewClientRegistry(requests, &recordingHeartbeatSink{}, time.Hour, time.Second,
		btclog.Disabled)

	c, _ := newTestClient(t, 2, requests, &recordingHeartbeatSink{}, time.Second)
	reg.mu.Lock()
	reg.clients[2] = c
	reg.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// The peer never sends ConnectAck, so Handshake must give up once ctx
	// expires rather than blocking for the full DefaultHandshakeTimeout.
	err := reg.Handshake(ctx, RemoteNode{NodeID: 2}, 1, "n1", NewNodeSet())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClientRegistryRemoveStopsClient(t *testing.T) {
	t.Parallel()

	requests := NewRequestTable()
	reg := NewClientRegistry(requests, &recordingHeartbeatSink{}, time.Hour, time.Second,
		btclog.Disabled)

	stream := newFakeStream()
	c := NewClient(1, "n/a", requests, &recordingHeartbeatSink{}, time.Hour,
		time.Second, btclog.Disabled)
	c.stream = stream
	c.setState(ClientConnected)
	go c.recvLoop()
	go c.loop()

	reg.mu.Lock()
	reg.clients[1] = c
	reg.mu.Unlock()

	done := make(chan struct{})
	go func() {
		reg.Remove(1)
		close(done)
	}()

	stream.close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Remove did not return")
	}

	_, ok := reg.Get(1)
	require.False(t, ok)
	require.Equal(t, ClientQuarantined, c.State())
}
