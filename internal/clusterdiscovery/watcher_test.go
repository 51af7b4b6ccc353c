package clusterdiscovery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btclog"
	"github.com/stretchr/testify/require"

	"github.com/coralsys/meshactor/internal/actor"
	"github.com/coralsys/meshactor/internal/remote"
	"github.com/coralsys/meshactor/internal/wire"
)

type fakePeerSource struct {
	mu    sync.Mutex
	peers []remote.RemoteNode
	err   error
	calls int
}

func (f *fakePeerSource) DiscoverPeers(selfNodeID uint64) ([]remote.RemoteNode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.err != nil {
		return nil, f.err
	}

	out := make([]remote.RemoteNode, 0, len(f.peers))
	for _, p := range f.peers {
		if p.NodeID != selfNodeID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePeerSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func noopConnect(context.Context, remote.RemoteNode) error { return nil }

type discardSender struct{}

func (discardSender) SendTo(context.Context, uint64, wire.Frame) error { return nil }

func newTestRegistry(t *testing.T, selfNode uint64) *remote.RemoteRegistry {
	t.Helper()

	var wg sync.WaitGroup
	sched := actor.NewScheduler(&wg, nil, 16)
	t.Cleanup(sched.Stop)

	requests := remote.NewRequestTable()
	return remote.NewRemoteRegistry(selfNode, requests, discardSender{}, nil, sched, btclog.Disabled)
}

func TestWatcherPollRegistersDiscoveredPeers(t *testing.T) {
	t.Parallel()

	source := &fakePeerSource{peers: []remote.RemoteNode{
		{NodeID: 2, Addr: "n2:9000"},
		{NodeID: 3, Addr: "n3:9000"},
	}}

	registry := newTestRegistry(t, 1)
	connected := make(chan uint64, 2)
	connect := func(_ context.Context, node remote.RemoteNode) error {
		connected <- node.NodeID
		return nil
	}

	w := NewWatcher(source, registry, 1, connect, time.Hour, btclog.Disabled)
	w.poll(context.Background())

	require.Equal(t, 1, source.callCount())
	require.True(t, registry.Nodes().Contains(2))
	require.True(t, registry.Nodes().Contains(3))

	close(connected)
	var seen []uint64
	for id := range connected {
		seen = append(seen, id)
	}
	require.ElementsMatch(t, []uint64{2, 3}, seen)
}

func TestWatcherPollSkipsSelf(t *testing.T) {
	t.Parallel()

	source := &fakePeerSource{peers: []remote.RemoteNode{
		{NodeID: 1, Addr: "self:9000"},
		{NodeID: 2, Addr: "n2:9000"},
	}}

	registry := newTestRegistry(t, 1)
	w := NewWatcher(source, registry, 1, noopConnect, time.Hour, btclog.Disabled)

	w.poll(context.Background())

	require.False(t, registry.Nodes().Contains(1))
	require.True(t, registry.Nodes().Contains(2))
}

func TestWatcherPollOnDiscoverErrorRegistersNothing(t *testing.T) {
	t.Parallel()

	source := &fakePeerSource{err: errDiscover}
	registry := newTestRegistry(t, 1)
	connectCalled := false
	connect := func(context.Context, remote.RemoteNode) error {
		connectCalled = true
		return nil
	}

	w := NewWatcher(source, registry, 1, connect, time.Hour, btclog.Disabled)
	w.poll(context.Background())

	require.False(t, connectCalled, "a failed discovery round must not attempt any connects")
}

func TestWatcherStartPollsImmediatelyThenOnTicker(t *testing.T) {
	t.Parallel()

	source := &fakePeerSource{}
	registry := newTestRegistry(t, 1)
	w := NewWatcher(source, registry, 1, noopConnect, 20*time.Millisecond, btclog.Disabled)

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	t.Cleanup(func() {
		cancel()
		w.Stop()
	})

	require.Eventually(t, func() bool {
		return source.callCount() >= 2
	}, time.Second, 5*time.Millisecond, "Start must poll immediately and again on the ticker")
}

func TestNewWatcherDefaultsNonPositiveInterval(t *testing.T) {
	t.Parallel()

	w := NewWatcher(&fakePeerSource{}, newTestRegistry(t, 1), 1, noopConnect, 0, btclog.Disabled)
	require.Equal(t, DefaultPollInterval, w.pollInterval)

	w2 := NewWatcher(&fakePeerSource{}, newTestRegistry(t, 1), 1, noopConnect, -5, btclog.Disabled)
	require.Equal(t, DefaultPollInterval, w2.pollInterval)
}

var errDiscover = discoverError{}

type discoverError struct{}

func (discoverError) Error() string { return "clusterdiscovery: simulated discover failure" }
