// Package sharding implements the entity placement layer described in §4.9:
// a deterministic ActorId -> ShardId mapping, a per-node ShardHost that
// buffers requests for shards still starting or not yet allocated, and a
// Coordinator that grants shard allocations across the cluster.
package sharding

import (
	"github.com/cespare/xxhash/v2"
)

// ShardID identifies a partition of the entity id-space.
type ShardID uint32

// ShardFor computes the shard owning actorID under a fixed shard count, via
// a stable hash modulo numShards (§4.9). The mapping never changes for a
// given numShards, independent of cluster membership.
func ShardFor(actorID string, numShards uint32) ShardID {
	return ShardID(xxhash.Sum64String(actorID) % uint64(numShards))
}

// EntityRequest is a request for a sharded entity, carrying an optional
// recipe to spawn the entity if it doesn't exist yet, and the channel the
// caller awaits its response on.
type EntityRequest struct {
	ActorID     string
	MessageType string
	Payload     []byte
	Recipe      []byte
	Reply       chan EntityResponse
}

// EntityResponse answers an EntityRequest.
type EntityResponse struct {
	Payload []byte
	Err     error
}

func (r EntityRequest) reply(resp EntityResponse) {
	if r.Reply == nil {
		return
	}

	select {
	case r.Reply <- resp:
	default:
	}
}

// shardPhase is a locally hosted shard's lifecycle state (§3's
// Starting{request_buffer} | Ready(shard_actor_ref)).
type shardPhase int

const (
	shardStarting shardPhase = iota
	shardReady
)

// hostedShard tracks one locally hosted shard's phase and, while Starting,
// the FIFO buffer of requests that arrived before the shard actor was
// ready. The buffer is drained in enqueue order on the Starting -> Ready
// transition, preserving per-actor-id submission order across the
// allocation boundary (§8 ordering guarantee).
type hostedShard struct {
	id     ShardID
	phase  shardPhase
	buffer []EntityRequest
}

// enqueueOrDeliver appends req to the buffer if the shard is still
// Starting, or hands it to deliver immediately if Ready. Must be called
// with the owning ShardHost's lock held.
func (hs *hostedShard) enqueueOrDeliver(req EntityRequest, deliver func(EntityRequest)) {
	if hs.phase == shardStarting {
		hs.buffer = append(hs.buffer, req)
		return
	}

	deliver(req)
}

// markReady transitions the shard to Ready and returns the buffered
// requests in enqueue order for the caller to drain outside the lock.
func (hs *hostedShard) markReady() []EntityRequest {
	hs.phase = shardReady
	buffered := hs.buffer
	hs.buffer = nil
	return buffered
}
