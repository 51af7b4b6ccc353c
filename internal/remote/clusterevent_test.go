package remote

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coralsys/meshactor/internal/pubsub"
)

func TestClusterEventRoundTrip(t *testing.T) {
	t.Parallel()

	ev := pubsub.ClusterEvent{Kind: pubsub.ClusterEventNodeJoined, NodeID: 42}

	encoded, err := encodeClusterEvent(ev)
	require.NoError(t, err)

	decoded, err := decodeClusterEvent(encoded)
	require.NoError(t, err)
	require.Equal(t, ev, decoded)
}

func TestDecodeClusterEventRejectsBadLength(t *testing.T) {
	t.Parallel()

	_, err := decodeClusterEvent([]byte{1, 2, 3})
	require.Error(t, err)
}
