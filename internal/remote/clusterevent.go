package remote

import (
	"encoding/binary"
	"fmt"

	"github.com/coralsys/meshactor/internal/pubsub"
)

// encodeClusterEvent/decodeClusterEvent give pubsub.ClusterEvent a minimal
// fixed-width wire form (1 byte kind + 8 byte node id) for SystemTopic,
// independent of the session wire protocol's frame codec since cluster
// events never cross the wire transport directly.
func encodeClusterEvent(ev pubsub.ClusterEvent) ([]byte, error) {
	buf := make([]byte, 9)
	buf[0] = byte(ev.Kind)
	binary.BigEndian.PutUint64(buf[1:], ev.NodeID)
	return buf, nil
}

func decodeClusterEvent(raw []byte) (pubsub.ClusterEvent, error) {
	if len(raw) != 9 {
		return pubsub.ClusterEvent{}, fmt.Errorf(
			"remote: malformed cluster event (%d bytes)", len(raw))
	}

	return pubsub.ClusterEvent{
		Kind:   pubsub.ClusterEventKind(raw[0]),
		NodeID: binary.BigEndian.Uint64(raw[1:]),
	}, nil
}
