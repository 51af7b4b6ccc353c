package remote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btclog"
	"golang.org/x/sync/singleflight"

	"github.com/coralsys/meshactor/internal/actor"
	"github.com/coralsys/meshactor/internal/pubsub"
	"github.com/coralsys/meshactor/internal/wire"
)

// DefaultLookupTimeout bounds a GetActorNode round trip to a remote
// directory node before it surfaces ErrActorUnavailable.
const DefaultLookupTimeout = 5 * time.Second

// PeerSender abstracts "send this frame to this node", implemented by
// ClientRegistry; kept narrow so RemoteRegistry can be tested without a real
// transport.
type PeerSender interface {
	SendTo(ctx context.Context, nodeID uint64, frame wire.Frame) error
}

// RemoteRegistry is the actor directory described in §4.5: every actor id is
// assigned to a directory node by consistent hash over the current
// membership, and that node is the sole authority on where the actor lives.
type RemoteRegistry struct {
	selfNode uint64

	nodes *NodeSet

	localMu sync.RWMutex
	local   map[string]uint64 // actor id -> node id, for ids we directory-own

	requests  *RequestTable
	peers     PeerSender
	ps        pubsub.PubSub
	scheduler *actor.Scheduler
	log       btclog.Logger

	// lookups de-duplicates concurrent GetActorNode calls for the same
	// actor id into a single remote round trip.
	lookups singleflight.Group
}

// NewRemoteRegistry constructs a registry for selfNode.
func NewRemoteRegistry(selfNode uint64, requests *RequestTable,
	peers PeerSender, ps pubsub.PubSub, scheduler *actor.Scheduler,
	log btclog.Logger) *RemoteRegistry {

	return &RemoteRegistry{
		selfNode:  selfNode,
		nodes:     NewNodeSet(),
		local:     make(map[string]uint64),
		requests:  requests,
		peers:     peers,
		ps:        ps,
		scheduler: scheduler,
		log:       log,
	}
}

// RegisterActor implements §4.5's RegisterActor operation. If nodeID is
// non-zero the call is assumed to be remote-originated (the directory node
// inserting a registration reported by its owner); otherwise the directory
// node for actorID is computed and either inserted locally or forwarded.
func (r *RemoteRegistry) RegisterActor(ctx context.Context, actorID string,
	nodeID uint64) error {

	if nodeID != 0 {
		r.setLocal(actorID, nodeID)
		return nil
	}

	owner, ok := r.nodes.OwnerOf(actorID)
	if !ok || owner == r.selfNode {
		r.setLocal(actorID, r.selfNode)
		return nil
	}

	return r.peers.SendTo(ctx, owner, wire.RegisterActorFrame{
		NodeID: r.selfNode, ActorID: actorID,
	})
}

// GetActorNode implements §4.5's GetActorNode operation. Concurrent lookups
// for the same actorID are de-duplicated via singleflight: only the first
// caller actually sends a FindActor frame, and every caller that joins while
// it's in flight shares its result (and, since singleflight.Do has no
// per-caller context, its deadline too).
func (r *RemoteRegistry) GetActorNode(ctx context.Context,
	actorID string) (uint64, error) {

	owner, ok := r.nodes.OwnerOf(actorID)
	if !ok || owner == r.selfNode {
		node, found := r.getLocal(actorID)
		if !found {
			return 0, nil
		}
		return node, nil
	}

	v, err, _ := r.lookups.Do(actorID, func() (interface{}, error) {
		return r.lookupRemote(ctx, owner, actorID)
	})
	if err != nil {
		return 0, err
	}

	return v.(uint64), nil
}

// lookupRemote performs the actual FindActor round trip against owner,
// called at most once per in-flight actorID regardless of how many
// GetActorNode callers are waiting on it.
func (r *RemoteRegistry) lookupRemote(ctx context.Context, owner uint64,
	actorID string) (uint64, error) {

	id := NewRequestID()
	sink := make(chan RemoteResponse, 1)
	r.requests.PushRequest(id, sink)

	if err := r.peers.SendTo(ctx, owner, wire.FindActorFrame{
		MessageID: id, ActorID: actorID,
	}); err != nil {
		r.requests.Evict(id)
		return 0, fmt.Errorf("remote: %w: %v", actor.ErrActorUnavailable, err)
	}

	select {
	case resp := <-sink:
		return resp.NodeID, nil

	case <-ctx.Done():
		r.requests.Evict(id)
		return 0, actor.ErrActorUnavailable

	case <-time.After(DefaultLookupTimeout):
		r.requests.Evict(id)
		return 0, actor.ErrActorUnavailable
	}
}

// HandleFindActor answers an inbound FindActor frame from a peer, as the
// directory node for the requested actor id. A zero NodeID in the reply
// means "not found" (§9).
func (r *RemoteRegistry) HandleFindActor(frame wire.FindActorFrame) wire.ActorAddressFrame {
	node, _ := r.getLocal(frame.ActorID)
	return wire.ActorAddressFrame{
		MessageID: frame.MessageID,
		NodeID:    node,
		ActorID:   frame.ActorID,
	}
}

// HandleRegisterActor applies an inbound RegisterActor frame from a peer.
func (r *RemoteRegistry) HandleRegisterActor(frame wire.RegisterActorFrame) {
	r.setLocal(frame.ActorID, frame.NodeID)
}

// getLocal reads the directory-owned node id for actorID, if any.
func (r *RemoteRegistry) getLocal(actorID string) (uint64, bool) {
	r.localMu.RLock()
	defer r.localMu.RUnlock()

	node, ok := r.local[actorID]
	return node, ok
}

// setLocal records the directory-owned node id for actorID.
func (r *RemoteRegistry) setLocal(actorID string, nodeID uint64) {
	r.localMu.Lock()
	defer r.localMu.Unlock()

	r.local[actorID] = nodeID
}

// RegisterNodes implements §4.5's RegisterNodes operation: connect to each
// newly-seen node, perform the handshake, and, for each node whose
// handshake succeeds, add it to the node set and publish a NodeJoined
// cluster event on the system topic.
func (r *RemoteRegistry) RegisterNodes(ctx context.Context,
	nodes []RemoteNode, connect func(ctx context.Context, node RemoteNode) error) {

	for _, n := range nodes {
		if n.NodeID == r.selfNode || r.nodes.Contains(n.NodeID) {
			continue
		}

		if err := connect(ctx, n); err != nil {
			r.log.Warnf("remote: handshake with node %d (%s) failed: %v",
				n.NodeID, n.Addr, err)
			continue
		}

		r.nodes.Upsert(n)

		if r.ps != nil {
			r.publishClusterEvent(ctx, pubsub.ClusterEventNodeJoined, n.NodeID)
		}
	}
}

// UpdateNodes implements §4.5's UpdateNodes operation.
func (r *RemoteRegistry) UpdateNodes(nodes []RemoteNode) {
	r.nodes.Replace(nodes)
}

// Nodes returns the registry's membership set, for callers (cluster
// discovery, admin tooling) that need to inspect current membership
// without going through RegisterNodes/UpdateNodes.
func (r *RemoteRegistry) Nodes() *NodeSet {
	return r.nodes
}

func (r *RemoteRegistry) publishClusterEvent(ctx context.Context,
	kind pubsub.ClusterEventKind, nodeID uint64) {

	payload, err := encodeClusterEvent(pubsub.ClusterEvent{
		Kind: kind, NodeID: nodeID,
	})
	if err != nil {
		r.log.Errorf("remote: encode cluster event failed: %v", err)
		return
	}

	if err := r.ps.PublishLocally(ctx, pubsub.SystemTopic, payload, false); err != nil {
		r.log.Errorf("remote: publish cluster event failed: %v", err)
	}
}

// Rebalance implements §4.5's SystemTopic handler: on any cluster event,
// re-register every locally scheduled actor so the directory reflects
// current membership.
func (r *RemoteRegistry) Rebalance(ctx context.Context) {
	for _, id := range r.scheduler.List(ctx) {
		if err := r.RegisterActor(ctx, id, 0); err != nil {
			r.log.Warnf("remote: rebalance re-register of %q failed: %v",
				id, err)
		}
	}
}

// WatchSystemTopic subscribes to the PubSub SystemTopic and triggers
// Rebalance for every cluster event received, until ctx is cancelled.
func (r *RemoteRegistry) WatchSystemTopic(ctx context.Context) error {
	sub, err := r.ps.Subscribe(ctx, pubsub.SystemTopic)
	if err != nil {
		return fmt.Errorf("remote: subscribe to system topic failed: %w", err)
	}

	go func() {
		defer sub.Close()

		for {
			select {
			case <-ctx.Done():
				return

			case payload, ok := <-sub.Events():
				if !ok {
					return
				}

				if ev, err := decodeClusterEvent(payload); err == nil {
					r.log.Debugf("remote: cluster event kind=%d node=%d, "+
						"rebalancing directory", ev.Kind, ev.NodeID)
				}

				r.Rebalance(ctx)
			}
		}
	}()

	return nil
}
