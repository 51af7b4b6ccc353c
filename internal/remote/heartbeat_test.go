package remote

import (
	"testing"
	"time"

	"github.com/btcsuite/btclog"
	"github.com/stretchr/testify/require"
)

func TestHeartbeatManagerReportPingOk(t *testing.T) {
	t.Parallel()

	h := NewHeartbeatManager(btclog.Disabled)
	h.ReportPing(PingResult{NodeID: 1, Outcome: PingOk, RTT: 5 * time.Millisecond,
		Timestamp: time.Now()})

	health, ok := h.Health(1)
	require.True(t, ok)
	require.False(t, health.Quarantined)
	require.Zero(t, health.ConsecutiveMisses)
}

func TestHeartbeatManagerQuarantinesAfterThreshold(t *testing.T) {
	t.Parallel()

	h := NewHeartbeatManager(btclog.Disabled)

	for i := 0; i < QuarantineThreshold-1; i++ {
		h.ReportPing(PingResult{NodeID: 1, Outcome: PingTimeout})
		health, ok := h.Health(1)
		require.True(t, ok)
		require.False(t, health.Quarantined, "must not quarantine before the threshold")
	}

	h.ReportPing(PingResult{NodeID: 1, Outcome: PingTimeout})

	health, ok := h.Health(1)
	require.True(t, ok)
	require.True(t, health.Quarantined)
}

func TestHeartbeatManagerOkResetsConsecutiveMisses(t *testing.T) {
	t.Parallel()

	h := NewHeartbeatManager(btclog.Disabled)
	h.ReportPing(PingResult{NodeID: 1, Outcome: PingErr})
	h.ReportPing(PingResult{NodeID: 1, Outcome: PingOk, Timestamp: time.Now()})

	health, ok := h.Health(1)
	require.True(t, ok)
	require.Zero(t, health.ConsecutiveMisses)
	require.False(t, health.Quarantined)
}

func TestHeartbeatManagerQuarantineRemovesFromRegistry(t *testing.T) {
	t.Parallel()

	requests := NewRequestTable()
	reg := NewClientRegistry(requests, nil, time.Hour, time.Second, btclog.Disabled)

	stream := newFakeStream()
	c := NewClient(1, "n/a", requests, nil, time.Hour, time.Second, btclog.Disabled)
	c.stream = stream
	c.setState(ClientConnected)
	go c.recvLoop()
	go c.loop()
	t.Cleanup(func() {
		stream.close()
		// Quarantine already stopped the client through registry.Remove.
		select {
		case <-c.quit:
		default:
			close(c.quit)
		}
		<-c.done
	})

	reg.mu.Lock()
	reg.clients[1] = c
	reg.mu.Unlock()

	h := NewHeartbeatManager(btclog.Disabled)
	h.SetRegistry(reg)

	for i := 0; i < QuarantineThreshold; i++ {
		h.ReportPing(PingResult{NodeID: 1, Outcome: PingTimeout})
	}

	require.Eventually(t, func() bool {
		_, ok := reg.Get(1)
		return !ok
	}, time.Second, time.Millisecond, "quarantine must remove the client from the registry")
}

func TestHeartbeatManagerHealthUnknownNode(t *testing.T) {
	t.Parallel()

	h := NewHeartbeatManager(btclog.Disabled)
	_, ok := h.Health(42)
	require.False(t, ok)
}
