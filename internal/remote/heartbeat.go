package remote

import (
	"sync"
	"time"

	"github.com/btcsuite/btclog"
)

// PeerHealth is a peer's last-known liveness as tracked by HeartbeatManager.
type PeerHealth struct {
	NodeID            uint64
	LastRTT           time.Duration
	LastSeen          time.Time
	ConsecutiveMisses int
	Quarantined       bool
}

// QuarantineThreshold is the number of consecutive Timeout/Err/Disconnected
// PingResults that moves a peer into the quarantined state.
const QuarantineThreshold = 3

// HeartbeatManager consumes PingResults reported by Client's PingTick cycle
// and tracks per-peer liveness, quarantining a peer whose ping has failed
// QuarantineThreshold times in a row. This is a new, in-memory ping/pong RTT
// model: it does not persist anything, and has no relation to a
// database-backed agent-status classifier.
type HeartbeatManager struct {
	mu       sync.RWMutex
	peers    map[uint64]*PeerHealth
	registry *ClientRegistry
	log      btclog.Logger
}

// NewHeartbeatManager creates a HeartbeatManager with no ClientRegistry;
// SetRegistry wires one in once it exists. The manager calls that
// registry's Remove to drop a quarantined peer's outbound connection.
func NewHeartbeatManager(log btclog.Logger) *HeartbeatManager {
	return &HeartbeatManager{
		peers: make(map[uint64]*PeerHealth),
		log:   log,
	}
}

// SetRegistry wires the ClientRegistry whose connections this manager
// quarantines.
func (h *HeartbeatManager) SetRegistry(registry *ClientRegistry) {
	h.mu.Lock()
	h.registry = registry
	h.mu.Unlock()
}

// ReportPing implements HeartbeatSink.
func (h *HeartbeatManager) ReportPing(result PingResult) {
	h.mu.Lock()
	peer, ok := h.peers[result.NodeID]
	if !ok {
		peer = &PeerHealth{NodeID: result.NodeID}
		h.peers[result.NodeID] = peer
	}

	switch result.Outcome {
	case PingOk:
		peer.LastRTT = result.RTT
		peer.LastSeen = result.Timestamp
		peer.ConsecutiveMisses = 0
		peer.Quarantined = false

	case PingTimeout, PingErr, PingDisconnected:
		peer.ConsecutiveMisses++
		if peer.ConsecutiveMisses >= QuarantineThreshold {
			peer.Quarantined = true
		}
	}

	quarantined := peer.Quarantined
	registry := h.registry
	h.mu.Unlock()

	if quarantined {
		h.log.Warnf("remote: quarantining node %d after %d consecutive "+
			"failed pings", result.NodeID, QuarantineThreshold)

		if registry != nil {
			registry.Remove(result.NodeID)
		}
	}
}

// Health returns the tracked liveness for nodeID, if any.
func (h *HeartbeatManager) Health(nodeID uint64) (PeerHealth, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	peer, ok := h.peers[nodeID]
	if !ok {
		return PeerHealth{}, false
	}
	return *peer, true
}
