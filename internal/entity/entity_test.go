package entity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coralsys/meshactor/internal/actor"
)

func TestDispatchEntitySpawnsOnFirstSeenThenReuses(t *testing.T) {
	system := actor.NewActorSystem()
	t.Cleanup(func() {
		_ = system.Shutdown(context.Background())
	})

	d := NewDispatcher(system, EchoFactory)

	reply, err := d.DispatchEntity(context.Background(), "player-1", "echo",
		[]byte("hello"), []byte("recipe"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(reply))

	reply, err = d.DispatchEntity(context.Background(), "player-1", "echo",
		[]byte("again"), nil)
	require.NoError(t, err, "a second message to an existing entity needs no recipe")
	require.Equal(t, "again", string(reply))
}

func TestDispatchEntityWithoutRecipeFailsForUnknownActor(t *testing.T) {
	system := actor.NewActorSystem()
	t.Cleanup(func() {
		_ = system.Shutdown(context.Background())
	})

	d := NewDispatcher(system, EchoFactory)

	_, err := d.DispatchEntity(context.Background(), "ghost", "echo", []byte("x"), nil)
	require.Error(t, err)
}

func TestDispatchRequiresPreexistingActor(t *testing.T) {
	system := actor.NewActorSystem()
	t.Cleanup(func() {
		_ = system.Shutdown(context.Background())
	})

	d := NewDispatcher(system, EchoFactory)

	_, err := d.Dispatch(context.Background(), "not-spawned", "echo", []byte("x"))
	require.Error(t, err)

	_, err = d.DispatchEntity(context.Background(), "spawned", "echo",
		[]byte("hi"), []byte("recipe"))
	require.NoError(t, err)

	reply, err := d.Dispatch(context.Background(), "spawned", "echo", []byte("ping"))
	require.NoError(t, err)
	require.Equal(t, "ping", string(reply))
}
