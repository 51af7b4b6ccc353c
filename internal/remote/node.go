// Package remote implements the cluster-facing half of the actor runtime:
// the actor directory and consistent-hash routing (§4.5), per-peer outbound
// clients (§4.6), the inbound session server (§4.7), request correlation
// (§4.8), and peer liveness tracking.
package remote

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	rendezvous "github.com/dgryski/go-rendezvous"
)

// RemoteNode identifies a cluster member (§3). Identity is NodeID.
type RemoteNode struct {
	NodeID    uint64
	Addr      string
	Tag       string
	StartedAt time.Time
}

func hashNodeKey(s string) uint64 { return xxhash.Sum64String(s) }

// NodeSet holds the current cluster membership and answers consistent-hash
// lookups of "which node owns this key" used by the directory to pick an
// actor-id's owning node (§4.5).
//
// NodeSet is safe for concurrent use: every method takes its internal
// lock.
type NodeSet struct {
	mu    sync.RWMutex
	nodes map[uint64]RemoteNode
	ring  *rendezvous.Rendezvous
}

// NewNodeSet creates an empty membership set.
func NewNodeSet() *NodeSet {
	return &NodeSet{
		nodes: make(map[uint64]RemoteNode),
		ring:  rendezvous.New(nil, hashNodeKey),
	}
}

func nodeKey(id uint64) string {
	var buf [8]byte
	for i := range buf {
		buf[i] = byte(id >> (8 * (7 - i)))
	}
	return string(buf[:])
}

// Upsert adds or replaces a node's descriptor in the set.
func (ns *NodeSet) Upsert(node RemoteNode) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	if _, exists := ns.nodes[node.NodeID]; !exists {
		ns.ring.Add(nodeKey(node.NodeID))
	}
	ns.nodes[node.NodeID] = node
}

// Remove drops a node from the set.
func (ns *NodeSet) Remove(nodeID uint64) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	if _, exists := ns.nodes[nodeID]; exists {
		delete(ns.nodes, nodeID)
		ns.ring.Remove(nodeKey(nodeID))
	}
}

// Replace swaps the membership table wholesale, used by UpdateNodes (§4.5):
// membership is eventually-consistent and a fresher gossip always wins.
func (ns *NodeSet) Replace(nodes []RemoteNode) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	ns.nodes = make(map[uint64]RemoteNode, len(nodes))
	ns.ring = rendezvous.New(nil, hashNodeKey)

	for _, n := range nodes {
		ns.nodes[n.NodeID] = n
		ns.ring.Add(nodeKey(n.NodeID))
	}
}

// Get returns the descriptor for nodeID, if known.
func (ns *NodeSet) Get(nodeID uint64) (RemoteNode, bool) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	n, ok := ns.nodes[nodeID]
	return n, ok
}

// Contains reports whether nodeID is a known member.
func (ns *NodeSet) Contains(nodeID uint64) bool {
	_, ok := ns.Get(nodeID)
	return ok
}

// All returns every known node.
func (ns *NodeSet) All() []RemoteNode {
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	out := make([]RemoteNode, 0, len(ns.nodes))
	for _, n := range ns.nodes {
		out = append(out, n)
	}
	return out
}

// OwnerOf returns the NodeID the consistent-hash ring assigns to key (an
// actor id). The second return is false if the set is empty.
func (ns *NodeSet) OwnerOf(key string) (uint64, bool) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	if len(ns.nodes) == 0 {
		return 0, false
	}

	owner := ns.ring.Lookup(key)

	for id := range ns.nodes {
		if nodeKey(id) == owner {
			return id, true
		}
	}

	return 0, false
}
