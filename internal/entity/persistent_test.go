package entity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coralsys/meshactor/internal/actor"
	"github.com/coralsys/meshactor/internal/persistence/memstore"
)

func TestPersistentEchoFactoryJournalsEveryMessage(t *testing.T) {
	system := actor.NewActorSystem()
	t.Cleanup(func() {
		_ = system.Shutdown(context.Background())
	})

	store := memstore.New()
	d := NewDispatcher(system, NewPersistentEchoFactory(store))

	_, err := d.DispatchEntity(context.Background(), "acct-1", "deposit",
		[]byte("10"), []byte("recipe"))
	require.NoError(t, err)

	_, err = d.Dispatch(context.Background(), "acct-1", "deposit", []byte("20"))
	require.NoError(t, err)

	events, err := store.ReadJournal(context.Background(), "acct-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, uint64(1), events[0].Seq)
	require.Equal(t, "10", string(events[0].Payload))
	require.Equal(t, uint64(2), events[1].Seq)
	require.Equal(t, "20", string(events[1].Payload))
}

func TestPersistentEchoFactoryResumesSeqAfterRespawn(t *testing.T) {
	store := memstore.New()
	require.NoError(t, store.PersistEvent(context.Background(), "acct-2", 1, []byte("a")))
	require.NoError(t, store.PersistEvent(context.Background(), "acct-2", 2, []byte("b")))

	system := actor.NewActorSystem()
	t.Cleanup(func() {
		_ = system.Shutdown(context.Background())
	})

	d := NewDispatcher(system, NewPersistentEchoFactory(store))

	_, err := d.DispatchEntity(context.Background(), "acct-2", "deposit",
		[]byte("c"), []byte("recipe"))
	require.NoError(t, err)

	events, err := store.ReadJournal(context.Background(), "acct-2", 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, uint64(3), events[2].Seq)
}
