package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, frame Frame) {
	t.Helper()

	encoded, err := Encode(frame)
	require.NoError(t, err)

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, frame, decoded)

	reencoded, err := Encode(decoded)
	require.NoError(t, err)
	require.Equal(t, encoded, reencoded)
}

func TestRoundTripPing(t *testing.T) {
	t.Parallel()

	roundTrip(t, PingFrame{MessageID: "req-1"})
}

func TestRoundTripPong(t *testing.T) {
	t.Parallel()

	roundTrip(t, PongFrame{MessageID: "req-1"})
}

func TestRoundTripActorAddress(t *testing.T) {
	t.Parallel()

	roundTrip(t, ActorAddressFrame{
		MessageID: "req-2",
		NodeID:    7,
		ActorID:   "user-42",
	})
}

func TestRoundTripActorAddressNotFound(t *testing.T) {
	t.Parallel()

	roundTrip(t, ActorAddressFrame{
		MessageID: "req-3",
		NodeID:    0,
		ActorID:   "user-42",
	})
}

func TestRoundTripRemoteEntityRequest(t *testing.T) {
	t.Parallel()

	roundTrip(t, RemoteEntityRequestFrame{
		RequestID:   "req-4",
		ActorID:     "entity-7",
		MessageType: "Deposit",
		Message:     []byte{1, 2, 3},
		Recipe:      []byte{4, 5},
		OriginNode:  3,
	})
}

func TestRoundTripRemoteEntityRequestNoRecipe(t *testing.T) {
	t.Parallel()

	roundTrip(t, RemoteEntityRequestFrame{
		RequestID:   "req-5",
		ActorID:     "entity-8",
		MessageType: "Deposit",
		Message:     []byte{9},
	})
}

func TestRoundTripConnect(t *testing.T) {
	t.Parallel()

	roundTrip(t, ConnectFrame{
		SenderNode: 1,
		ListenAddr: "10.0.0.1:9090",
		KnownNodes: []NodeDescriptor{
			{NodeID: 2, Addr: "10.0.0.2:9090", Tag: "east", StartedUnix: 100},
		},
	})
}

func TestRoundTripConnectEmptyKnownNodes(t *testing.T) {
	t.Parallel()

	roundTrip(t, ConnectFrame{SenderNode: 1, ListenAddr: "10.0.0.1:9090"})
}

func TestRoundTripMessageRequest(t *testing.T) {
	t.Parallel()

	roundTrip(t, MessageRequestFrame{
		MessageID:   "req-6",
		ActorID:     "user-42",
		MessageType: "Greet",
		Payload:     []byte("hello"),
	})
}

func TestRoundTripMessageResponseError(t *testing.T) {
	t.Parallel()

	roundTrip(t, MessageResponseFrame{
		MessageID: "req-6",
		Err:       "actor unavailable",
	})
}

func TestRoundTripAllocateShard(t *testing.T) {
	t.Parallel()

	roundTrip(t, AllocateShardFrame{RequestID: "req-7", ShardID: 42})
}

func TestRoundTripShardAllocated(t *testing.T) {
	t.Parallel()

	roundTrip(t, ShardAllocatedFrame{
		RequestID: "req-7", ShardID: 42, NodeID: 9,
	})
}

func TestDecodeUnknownKind(t *testing.T) {
	t.Parallel()

	_, err := Decode([]byte{0xFF})
	require.ErrorIs(t, err, ErrUnknownFrameKind)
}

func TestDecodeTruncated(t *testing.T) {
	t.Parallel()

	encoded, err := Encode(PingFrame{MessageID: "req-1"})
	require.NoError(t, err)

	_, err = Decode(encoded[:len(encoded)-2])
	require.Error(t, err)
}
