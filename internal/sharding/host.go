package sharding

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btclog"

	"github.com/coralsys/meshactor/internal/remote"
	"github.com/coralsys/meshactor/internal/wire"
)

// DefaultAllocationTimeout bounds how long a request waits for the
// coordinator to answer AllocateShard before the caller gives up.
const DefaultAllocationTimeout = 10 * time.Second

// LocalDispatcher delivers an EntityRequest to the local entity actor
// addressed by ActorID, spawning it from Recipe first if it doesn't exist.
type LocalDispatcher interface {
	Dispatch(ctx context.Context, actorID, messageType string,
		payload, recipe []byte) ([]byte, error)
}

// ShardHost is the per-node table described in §4.9: which shards this
// node hosts, which it knows to be hosted elsewhere, and the requests
// buffered while a shard's allocation or leader is pending.
type ShardHost struct {
	selfNode  uint64
	numShards uint32

	dispatcher LocalDispatcher
	peers      remote.PeerSender
	requests   *remote.RequestTable
	log        btclog.Logger

	mu                 sync.Mutex
	hosted             map[ShardID]*hostedShard
	remoteShards       map[ShardID]uint64
	pendingShardAlloc  map[ShardID][]EntityRequest
	pendingLeaderAlloc []EntityRequest
	coordinatorNode    uint64
	haveCoordinator    bool
}

// NewShardHost constructs an empty host for selfNode, partitioning the
// entity id-space into numShards shards.
func NewShardHost(selfNode uint64, numShards uint32, dispatcher LocalDispatcher,
	peers remote.PeerSender, requests *remote.RequestTable,
	log btclog.Logger) *ShardHost {

	return &ShardHost{
		selfNode:          selfNode,
		numShards:         numShards,
		dispatcher:        dispatcher,
		peers:             peers,
		requests:          requests,
		log:               log,
		hosted:            make(map[ShardID]*hostedShard),
		remoteShards:      make(map[ShardID]uint64),
		pendingShardAlloc: make(map[ShardID][]EntityRequest),
	}
}

// SetCoordinator records the node id of the allocation authority and
// drains any requests buffered while no coordinator was known.
func (h *ShardHost) SetCoordinator(ctx context.Context, nodeID uint64) {
	h.mu.Lock()
	h.coordinatorNode = nodeID
	h.haveCoordinator = true
	pending := h.pendingLeaderAlloc
	h.pendingLeaderAlloc = nil
	h.mu.Unlock()

	for _, req := range pending {
		h.HandleEntityRequest(ctx, req)
	}
}

// HandleEntityRequest implements §4.9's five-case routing: hosted locally
// and ready, hosted locally and still starting (the request is buffered),
// hosted remotely, unallocated with a known coordinator, or unallocated
// with no coordinator known yet.
func (h *ShardHost) HandleEntityRequest(ctx context.Context, req EntityRequest) {
	shardID := ShardFor(req.ActorID, h.numShards)

	h.mu.Lock()

	if hs, ok := h.hosted[shardID]; ok {
		hs.enqueueOrDeliver(req, func(r EntityRequest) {
			go h.deliverLocal(ctx, r)
		})
		h.mu.Unlock()
		return
	}

	if nodeID, ok := h.remoteShards[shardID]; ok {
		h.mu.Unlock()
		go h.deliverRemote(ctx, nodeID, req)
		return
	}

	if h.haveCoordinator {
		queue := h.pendingShardAlloc[shardID]
		firstForShard := len(queue) == 0
		h.pendingShardAlloc[shardID] = append(queue, req)
		bufferedCount := len(h.pendingShardAlloc[shardID])
		coordinator := h.coordinatorNode
		h.mu.Unlock()

		h.log.Debugf("sharding: shard %d not allocated, buffering request "+
			"(buffered=%d)", shardID, bufferedCount)

		if firstForShard {
			go h.requestAllocation(ctx, coordinator, shardID)
		}
		return
	}

	h.pendingLeaderAlloc = append(h.pendingLeaderAlloc, req)
	h.log.Debugf("sharding: no coordinator known, buffering request "+
		"(pending_leader_alloc=%d)", len(h.pendingLeaderAlloc))
	h.mu.Unlock()
}

func (h *ShardHost) deliverLocal(ctx context.Context, req EntityRequest) {
	payload, err := h.dispatcher.Dispatch(ctx, req.ActorID, req.MessageType,
		req.Payload, req.Recipe)
	if err != nil {
		h.log.Errorf("sharding: dispatch of %q failed: %v", req.ActorID, err)
	}

	req.reply(EntityResponse{Payload: payload, Err: err})
}

func (h *ShardHost) deliverRemote(ctx context.Context, nodeID uint64, req EntityRequest) {
	id := remote.NewRequestID()
	sink := make(chan remote.RemoteResponse, 1)
	h.requests.PushRequest(id, sink)

	err := h.peers.SendTo(ctx, nodeID, wire.RemoteEntityRequestFrame{
		RequestID:   id,
		ActorID:     req.ActorID,
		MessageType: req.MessageType,
		Message:     req.Payload,
		Recipe:      req.Recipe,
		OriginNode:  h.selfNode,
	})
	if err != nil {
		h.requests.Evict(id)
		req.reply(EntityResponse{Err: fmt.Errorf(
			"sharding: send RemoteEntityRequest to node %d failed: %w",
			nodeID, err)})
		return
	}

	select {
	case resp := <-sink:
		req.reply(EntityResponse{Payload: resp.Payload, Err: resp.Err})

	case <-ctx.Done():
		h.requests.Evict(id)
		req.reply(EntityResponse{Err: ctx.Err()})
	}
}

func (h *ShardHost) requestAllocation(ctx context.Context, coordinator uint64, shardID ShardID) {
	id := remote.NewRequestID()
	sink := make(chan remote.RemoteResponse, 1)
	h.requests.PushRequest(id, sink)

	err := h.peers.SendTo(ctx, coordinator, wire.AllocateShardFrame{
		RequestID: id, ShardID: uint32(shardID),
	})
	if err != nil {
		h.requests.Evict(id)
		h.log.Warnf("sharding: AllocateShard for shard %d failed: %v", shardID, err)
		return
	}

	select {
	case resp := <-sink:
		h.ShardAllocated(ctx, shardID, resp.NodeID)

	case <-time.After(DefaultAllocationTimeout):
		h.requests.Evict(id)
		h.log.Warnf("sharding: AllocateShard for shard %d timed out", shardID)
	}
}

// ShardAllocated applies the coordinator's grant: the shard is hosted
// locally (entering Starting, per §3's Shard state machine) if nodeID is
// this node, otherwise recorded as remote. Either way every request
// buffered for shardID is replayed through HandleEntityRequest, now routed
// by cases 2 or 3 (§4.9's "self-notify ShardAllocated" step).
func (h *ShardHost) ShardAllocated(ctx context.Context, shardID ShardID, nodeID uint64) {
	h.mu.Lock()

	if nodeID == h.selfNode {
		if _, exists := h.hosted[shardID]; !exists {
			h.hosted[shardID] = &hostedShard{id: shardID, phase: shardStarting}
		}
	} else {
		h.remoteShards[shardID] = nodeID
	}

	buffered := h.pendingShardAlloc[shardID]
	delete(h.pendingShardAlloc, shardID)
	h.mu.Unlock()

	for _, req := range buffered {
		h.HandleEntityRequest(ctx, req)
	}
}

// MarkReady transitions a locally hosted shard from Starting to Ready,
// draining its buffered requests in enqueue order (§3's invariant that the
// host only reverts Ready -> absent on loss, never back to Starting).
// Called once the shard's backing actor has finished recovering its state,
// e.g. from persistence.
func (h *ShardHost) MarkReady(ctx context.Context, shardID ShardID) {
	h.mu.Lock()
	hs, ok := h.hosted[shardID]
	if !ok {
		h.mu.Unlock()
		return
	}

	buffered := hs.markReady()
	h.mu.Unlock()

	for _, req := range buffered {
		h.deliverLocal(ctx, req)
	}
}

// DispatchEntity implements remote.EntityDispatcher: an inbound
// RemoteEntityRequest is converted into a local EntityRequest and answered
// synchronously.
func (h *ShardHost) DispatchEntity(ctx context.Context,
	f wire.RemoteEntityRequestFrame) ([]byte, error) {

	reply := make(chan EntityResponse, 1)
	h.HandleEntityRequest(ctx, EntityRequest{
		ActorID:     f.ActorID,
		MessageType: f.MessageType,
		Payload:     f.Message,
		Recipe:      f.Recipe,
		Reply:       reply,
	})

	select {
	case resp := <-reply:
		return resp.Payload, resp.Err

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
