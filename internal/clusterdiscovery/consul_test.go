package clusterdiscovery

import (
	"testing"

	"github.com/hashicorp/consul/api"
	"github.com/stretchr/testify/require"
)

func TestPeersFromEntriesSkipsSelfAndUntagged(t *testing.T) {
	t.Parallel()

	entries := []*api.ServiceEntry{
		{
			Service: &api.AgentService{
				Address: "10.0.0.1", Port: 9090, Tags: []string{"east"},
				Meta: map[string]string{metaNodeID: "1"},
			},
		},
		{
			Service: &api.AgentService{
				Address: "10.0.0.2", Port: 9090, Tags: []string{"west"},
				Meta: map[string]string{metaNodeID: "2"},
			},
		},
		{
			// No meshactor node id metadata: not one of ours, must be skipped.
			Service: &api.AgentService{Address: "10.0.0.3", Port: 9090},
		},
	}

	peers := peersFromEntries(entries, 1)

	require.Len(t, peers, 1)
	require.Equal(t, uint64(2), peers[0].NodeID)
	require.Equal(t, "10.0.0.2:9090", peers[0].Addr)
	require.Equal(t, "west", peers[0].Tag)
}

func TestPeersFromEntriesFallsBackToNodeAddress(t *testing.T) {
	t.Parallel()

	entries := []*api.ServiceEntry{
		{
			Node: &api.Node{Address: "10.1.1.1"},
			Service: &api.AgentService{
				Port: 9090, Meta: map[string]string{metaNodeID: "5"},
			},
		},
	}

	peers := peersFromEntries(entries, 1)

	require.Len(t, peers, 1)
	require.Equal(t, "10.1.1.1:9090", peers[0].Addr,
		"an empty service address must fall back to the node's address")
}

func TestPeersFromEntriesSkipsMalformedNodeID(t *testing.T) {
	t.Parallel()

	entries := []*api.ServiceEntry{
		{
			Service: &api.AgentService{
				Address: "10.0.0.9", Port: 9090,
				Meta: map[string]string{metaNodeID: "not-a-number"},
			},
		},
	}

	require.Empty(t, peersFromEntries(entries, 1))
}

func TestPeersFromEntriesHandlesNilEntries(t *testing.T) {
	t.Parallel()

	entries := []*api.ServiceEntry{nil, {Service: nil}}
	require.Empty(t, peersFromEntries(entries, 1))
}
