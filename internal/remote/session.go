package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btclog"
	"github.com/coralsys/meshactor/internal/pubsub"
	"github.com/coralsys/meshactor/internal/wire"
	"github.com/coralsys/meshactor/internal/wire/grpctransport"
)

// MessageDispatcher delivers a MessageRequest frame's payload to the local
// actor addressed by actorID, returning the response payload to answer with
// (§6).
type MessageDispatcher interface {
	Dispatch(ctx context.Context, actorID, messageType string,
		payload []byte) ([]byte, error)
}

// EntityDispatcher delivers a RemoteEntityRequest frame to the local shard
// host (§4.9). A session with a nil EntityDispatcher answers every
// RemoteEntityRequest with NotSupported.
type EntityDispatcher interface {
	DispatchEntity(ctx context.Context, req wire.RemoteEntityRequestFrame) ([]byte, error)
}

// ShardCoordinator grants shard allocations (§4.9). A session with a nil
// ShardCoordinator answers every AllocateShard with node 0 (unallocated).
type ShardCoordinator interface {
	AllocateShard(ctx context.Context, shardID uint32) (nodeID uint64, err error)
}

// SessionConfig bundles the collaborators a Session dispatches frames to.
type SessionConfig struct {
	SelfNode     uint64
	SelfAddr     string
	Registry     *RemoteRegistry
	PubSub       pubsub.PubSub
	Dispatcher   MessageDispatcher
	Entities     EntityDispatcher
	Coordinator  ShardCoordinator
	OverrideAddr bool
	PeerAddr     string
}

// Session decodes framed messages from one inbound connection and routes
// them to the node's collaborators: the directory, the dispatcher, pubsub
// (§4.7).
type Session struct {
	cfg    SessionConfig
	stream grpctransport.Stream
	log    btclog.Logger
}

// NewSession wraps an accepted stream.
func NewSession(cfg SessionConfig, stream grpctransport.Stream, log btclog.Logger) *Session {
	return &Session{cfg: cfg, stream: stream, log: log}
}

// Run decodes and dispatches frames until the stream closes or ctx is
// cancelled.
func (s *Session) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		frame, err := s.stream.Recv()
		if err != nil {
			return err
		}

		if err := s.handle(ctx, frame); err != nil {
			s.log.Warnf("remote: session frame handling error: %v", err)
		}
	}
}

func (s *Session) handle(ctx context.Context, frame wire.Frame) error {
	switch f := frame.(type) {
	case wire.ConnectFrame:
		return s.handleConnect(f)

	case wire.PingFrame:
		return s.stream.Send(wire.PongFrame{MessageID: f.MessageID})

	case wire.FindActorFrame:
		reply := s.cfg.Registry.HandleFindActor(f)
		return s.stream.Send(reply)

	case wire.RegisterActorFrame:
		s.cfg.Registry.HandleRegisterActor(f)
		return nil

	case wire.MessageRequestFrame:
		return s.handleMessageRequest(ctx, f)

	case wire.RemoteEntityRequestFrame:
		return s.handleEntityRequest(ctx, f)

	case wire.AllocateShardFrame:
		return s.handleAllocateShard(ctx, f)

	case wire.StreamPublishFrame:
		if s.cfg.PubSub == nil {
			return nil
		}
		return s.cfg.PubSub.PublishLocally(ctx, pubsub.Topic(f.Topic), f.Payload, false)

	default:
		return fmt.Errorf("remote: unexpected frame kind on session: %T", frame)
	}
}

func (s *Session) handleConnect(f wire.ConnectFrame) error {
	peerAddr := f.ListenAddr
	if s.cfg.OverrideAddr && s.cfg.PeerAddr != "" {
		peerAddr = s.cfg.PeerAddr
	}

	s.cfg.Registry.nodes.Upsert(RemoteNode{
		NodeID: f.SenderNode, Addr: peerAddr, StartedAt: time.Now(),
	})

	return s.stream.Send(wire.ConnectAckFrame{
		Self: wire.NodeDescriptor{
			NodeID:      s.cfg.SelfNode,
			Addr:        s.cfg.SelfAddr,
			StartedUnix: time.Now().Unix(),
		},
		KnownNodes: descriptorsOf(s.cfg.Registry.nodes.All()),
	})
}

func descriptorsOf(nodes []RemoteNode) []wire.NodeDescriptor {
	out := make([]wire.NodeDescriptor, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, wire.NodeDescriptor{
			NodeID: n.NodeID, Addr: n.Addr, Tag: n.Tag,
			StartedUnix: n.StartedAt.Unix(),
		})
	}
	return out
}

func (s *Session) handleMessageRequest(ctx context.Context, f wire.MessageRequestFrame) error {
	if s.cfg.Dispatcher == nil {
		return s.stream.Send(wire.MessageResponseFrame{
			MessageID: f.MessageID, Err: "not supported: no dispatcher",
		})
	}

	payload, err := s.cfg.Dispatcher.Dispatch(ctx, f.ActorID, f.MessageType, f.Payload)
	if err != nil {
		return s.stream.Send(wire.MessageResponseFrame{
			MessageID: f.MessageID, Err: err.Error(),
		})
	}

	return s.stream.Send(wire.MessageResponseFrame{
		MessageID: f.MessageID, Payload: payload,
	})
}

func (s *Session) handleEntityRequest(ctx context.Context, f wire.RemoteEntityRequestFrame) error {
	if s.cfg.Entities == nil {
		return s.stream.Send(wire.MessageResponseFrame{
			MessageID: f.RequestID, Err: "not supported: no entity dispatcher",
		})
	}

	payload, err := s.cfg.Entities.DispatchEntity(ctx, f)
	if err != nil {
		return s.stream.Send(wire.MessageResponseFrame{
			MessageID: f.RequestID, Err: err.Error(),
		})
	}

	return s.stream.Send(wire.MessageResponseFrame{
		MessageID: f.RequestID, Payload: payload,
	})
}

func (s *Session) handleAllocateShard(ctx context.Context, f wire.AllocateShardFrame) error {
	if s.cfg.Coordinator == nil {
		return s.stream.Send(wire.ShardAllocatedFrame{
			RequestID: f.RequestID, ShardID: f.ShardID,
		})
	}

	nodeID, err := s.cfg.Coordinator.AllocateShard(ctx, f.ShardID)
	if err != nil {
		s.log.Warnf("remote: shard %d allocation failed: %v", f.ShardID, err)
		return s.stream.Send(wire.ShardAllocatedFrame{
			RequestID: f.RequestID, ShardID: f.ShardID,
		})
	}

	return s.stream.Send(wire.ShardAllocatedFrame{
		RequestID: f.RequestID, ShardID: f.ShardID, NodeID: nodeID,
	})
}
