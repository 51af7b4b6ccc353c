package sharding

import (
	"context"
	"fmt"
	"sync"

	"github.com/btcsuite/btclog"
	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/go-multierror"

	rendezvous "github.com/dgryski/go-rendezvous"

	"github.com/coralsys/meshactor/internal/remote"
)

func hashShardKey(s string) uint64 { return xxhash.Sum64String(s) }

// Coordinator grants shard allocations (§4.9). It is the cluster-global
// allocation authority; per the Non-goal that leader election is supplied
// externally, Coordinator itself does not elect or replicate — it runs as
// a single designated process (cmd/coordinator) and assumes that role is
// already assigned.
//
// Placement is a rendezvous (highest random weight) hash over the live
// node set, keyed by shard id: adding or removing a node moves only the
// shards rendezvous reassigns to/from it, not the whole table, mirroring
// the consistent-hash ring internal/remote's directory uses for actor ids.
// An assignment, once made, is memoized and returned for as long as its
// node stays in the node set. Once the node is removed, the next
// AllocateShard for that shard computes a new owner over the remaining
// nodes; Reallocate and RehostAll move shards explicitly.
type Coordinator struct {
	mu    sync.Mutex
	nodes *remote.NodeSet
	ring  *rendezvous.Rendezvous
	log   btclog.Logger

	assigned map[ShardID]uint64
}

// NewCoordinator constructs a Coordinator with no known nodes.
func NewCoordinator(log btclog.Logger) *Coordinator {
	return &Coordinator{
		nodes:    remote.NewNodeSet(),
		ring:     rendezvous.New(nil, hashShardKey),
		log:      log,
		assigned: make(map[ShardID]uint64),
	}
}

// AddNode registers a node as eligible to receive shard allocations.
func (c *Coordinator) AddNode(node remote.RemoteNode) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.nodes.Contains(node.NodeID) {
		c.ring.Add(shardRingKey(node.NodeID))
	}
	c.nodes.Upsert(node)
}

// RemoveNode drops a node from the eligible set. Shards it was assigned
// stay in assigned until the next AllocateShard for each of them, which
// picks a new owner, or until Reallocate moves them.
func (c *Coordinator) RemoveNode(nodeID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.nodes.Contains(nodeID) {
		c.ring.Remove(shardRingKey(nodeID))
	}
	c.nodes.Remove(nodeID)
}

// AllocateShard implements remote.ShardCoordinator: answers with the
// node already assigned to shardID, or computes and memoizes one via the
// rendezvous ring over live nodes.
func (c *Coordinator) AllocateShard(ctx context.Context, shardID uint32) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := ShardID(shardID)
	if nodeID, ok := c.assigned[id]; ok {
		if c.nodes.Contains(nodeID) {
			return nodeID, nil
		}
		delete(c.assigned, id)
	}

	if len(c.nodes.All()) == 0 {
		return 0, fmt.Errorf("sharding: no nodes available to allocate shard %d", shardID)
	}

	key := fmt.Sprintf("shard-%d", shardID)
	ownerKey := c.ring.Lookup(key)

	for _, n := range c.nodes.All() {
		if shardRingKey(n.NodeID) == ownerKey {
			c.assigned[id] = n.NodeID
			return n.NodeID, nil
		}
	}

	return 0, fmt.Errorf("sharding: rendezvous ring returned no owner for shard %d", shardID)
}

// Reallocate forces shardID off its current (presumed-dead) assignment and
// re-runs the ring lookup over the current node set.
func (c *Coordinator) Reallocate(ctx context.Context, shardID uint32) (uint64, error) {
	c.mu.Lock()
	delete(c.assigned, ShardID(shardID))
	c.mu.Unlock()

	return c.AllocateShard(ctx, shardID)
}

// RehostAll reallocates every shard currently assigned to a node no longer
// in the live set, aggregating any failures with go-multierror rather than
// aborting on the first one, so one stuck shard doesn't block rehoming the
// rest of a departed node's table.
func (c *Coordinator) RehostAll(ctx context.Context) (map[ShardID]uint64, error) {
	c.mu.Lock()
	stale := make([]ShardID, 0)
	for shardID, nodeID := range c.assigned {
		if !c.nodes.Contains(nodeID) {
			stale = append(stale, shardID)
		}
	}
	c.mu.Unlock()

	var result error
	moved := make(map[ShardID]uint64, len(stale))

	for _, shardID := range stale {
		nodeID, err := c.Reallocate(ctx, uint32(shardID))
		if err != nil {
			result = multierror.Append(result, fmt.Errorf(
				"shard %d: %w", shardID, err))
			continue
		}
		moved[shardID] = nodeID
	}

	return moved, result
}

func shardRingKey(nodeID uint64) string {
	var buf [8]byte
	for i := range buf {
		buf[i] = byte(nodeID >> (8 * (7 - i)))
	}
	return string(buf[:])
}
