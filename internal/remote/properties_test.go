package remote

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestRequestTablePopOnceInvariant checks §8.6: whichever goroutine races to
// pop a given RequestId first gets the sink exactly once; every other
// concurrent popper for the same id sees ok=false.
func TestRequestTablePopOnceInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		poppers := rapid.IntRange(2, 16).Draw(t, "poppers")

		table := NewRequestTable()
		id := NewRequestID()
		sink := make(chan RemoteResponse, 1)
		table.PushRequest(id, sink)

		var wg sync.WaitGroup
		var successes int32
		var mu sync.Mutex
		wonBy := make([]chan<- RemoteResponse, 0, poppers)

		for i := 0; i < poppers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if got, ok := table.PopRequest(id); ok {
					mu.Lock()
					successes++
					wonBy = append(wonBy, got)
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		require.EqualValues(t, 1, successes,
			"exactly one of %d concurrent poppers must win", poppers)
		require.Len(t, wonBy, 1)
		require.Equal(t, (chan<- RemoteResponse)(sink), wonBy[0])

		_, ok := table.PopRequest(id)
		require.False(t, ok, "a popped id must never be popped again")
	})
}

// TestRequestTableUniqueIDsInvariant checks §8.6's companion property: ids
// minted by NewRequestID never collide across however many are drawn, so two
// distinct outstanding requests can never be confused with each other.
func TestRequestTableUniqueIDsInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 500).Draw(t, "n")

		seen := make(map[string]struct{}, n)
		for i := 0; i < n; i++ {
			id := NewRequestID()
			_, dup := seen[id]
			require.False(t, dup, "NewRequestID must never repeat")
			seen[id] = struct{}{}
		}
	})
}
