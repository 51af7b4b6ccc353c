package remote

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequestTablePushAndPopOnce(t *testing.T) {
	t.Parallel()

	table := NewRequestTable()
	id := NewRequestID()
	require.NotEmpty(t, id)

	sink := make(chan RemoteResponse, 1)
	table.PushRequest(id, sink)

	got, ok := table.PopRequest(id)
	require.True(t, ok)
	require.NotNil(t, got)

	_, ok = table.PopRequest(id)
	require.False(t, ok, "a second pop of the same id must fail")
}

func TestRequestTablePopUnknownID(t *testing.T) {
	t.Parallel()

	table := NewRequestTable()
	_, ok := table.PopRequest("no-such-id")
	require.False(t, ok)
}

func TestRequestTableEvict(t *testing.T) {
	t.Parallel()

	table := NewRequestTable()
	id := NewRequestID()
	sink := make(chan RemoteResponse, 1)
	table.PushRequest(id, sink)

	table.Evict(id)

	_, ok := table.PopRequest(id)
	require.False(t, ok, "an evicted id must not still be poppable")

	// Evicting an id nobody registered is a no-op, not a panic.
	table.Evict("never-registered")
}

func TestNewRequestIDIsUnique(t *testing.T) {
	t.Parallel()

	a := NewRequestID()
	b := NewRequestID()
	require.NotEqual(t, a, b)
}
