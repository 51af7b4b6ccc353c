// Package wire implements the session wire protocol: the frame types nodes
// exchange over a session connection, and the binary codec that encodes and
// decodes them.
package wire

// FrameKind tags which concrete frame a decoded byte stream carries.
type FrameKind uint8

const (
	KindConnect FrameKind = iota
	KindConnectAck
	KindPing
	KindPong
	KindFindActor
	KindActorAddress
	KindRegisterActor
	KindMessageRequest
	KindMessageResponse
	KindRemoteEntityRequest
	KindStreamPublish
	KindAllocateShard
	KindShardAllocated
)

// Frame is implemented by every concrete frame type.
type Frame interface {
	Kind() FrameKind
}

// NodeDescriptor is the wire form of a cluster member, exchanged during the
// handshake and carried in ConnectFrame/ConnectAckFrame.
type NodeDescriptor struct {
	NodeID      uint64
	Addr        string
	Tag         string
	StartedUnix int64
}

// ConnectFrame is the handshake a client opens a session with.
type ConnectFrame struct {
	SenderNode uint64
	ListenAddr string
	KnownNodes []NodeDescriptor
}

func (ConnectFrame) Kind() FrameKind { return KindConnect }

// ConnectAckFrame is the server's handshake reply: its own descriptor plus
// its view of cluster membership.
type ConnectAckFrame struct {
	Self       NodeDescriptor
	KnownNodes []NodeDescriptor
}

func (ConnectAckFrame) Kind() FrameKind { return KindConnectAck }

// PingFrame is a heartbeat probe, answered with a PongFrame carrying the
// same MessageID.
type PingFrame struct {
	MessageID string
}

func (PingFrame) Kind() FrameKind { return KindPing }

// PongFrame answers a PingFrame.
type PongFrame struct {
	MessageID string
}

func (PongFrame) Kind() FrameKind { return KindPong }

// FindActorFrame asks the receiving node's directory for the node hosting
// ActorID.
type FindActorFrame struct {
	MessageID string
	ActorID   string
	TraceID   string
}

func (FindActorFrame) Kind() FrameKind { return KindFindActor }

// ActorAddressFrame answers a FindActorFrame. NodeID zero means "not
// found".
type ActorAddressFrame struct {
	MessageID string
	NodeID    uint64
	ActorID   string
}

func (ActorAddressFrame) Kind() FrameKind { return KindActorAddress }

// RegisterActorFrame asks the receiving node's directory to record that
// ActorID is hosted on NodeID.
type RegisterActorFrame struct {
	NodeID  uint64
	ActorID string
}

func (RegisterActorFrame) Kind() FrameKind { return KindRegisterActor }

// MessageRequestFrame carries a user Ask-style message envelope destined
// for a remote actor.
type MessageRequestFrame struct {
	MessageID   string
	ActorID     string
	MessageType string
	Payload     []byte
}

func (MessageRequestFrame) Kind() FrameKind { return KindMessageRequest }

// MessageResponseFrame answers a MessageRequestFrame. Err is empty on
// success.
type MessageResponseFrame struct {
	MessageID string
	Payload   []byte
	Err       string
}

func (MessageResponseFrame) Kind() FrameKind { return KindMessageResponse }

// RemoteEntityRequestFrame carries a sharded-entity request to the node
// hosting the target shard. Recipe is empty when the entity must already
// exist.
type RemoteEntityRequestFrame struct {
	RequestID   string
	ActorID     string
	MessageType string
	Message     []byte
	Recipe      []byte
	OriginNode  uint64
}

func (RemoteEntityRequestFrame) Kind() FrameKind { return KindRemoteEntityRequest }

// StreamPublishFrame carries a PubSub event published with remote=true to
// peer nodes.
type StreamPublishFrame struct {
	Topic   string
	Payload []byte
}

func (StreamPublishFrame) Kind() FrameKind { return KindStreamPublish }

// AllocateShardFrame asks the coordinator to grant an allocation for
// ShardID, sent by a ShardHost the first time it sees a request for a
// shard neither hosted locally nor known to be hosted remotely.
type AllocateShardFrame struct {
	RequestID string
	ShardID   uint32
}

func (AllocateShardFrame) Kind() FrameKind { return KindAllocateShard }

// ShardAllocatedFrame answers an AllocateShardFrame, naming the node the
// coordinator has granted the shard to.
type ShardAllocatedFrame struct {
	RequestID string
	ShardID   uint32
	NodeID    uint64
}

func (ShardAllocatedFrame) Kind() FrameKind { return KindShardAllocated }
