// Package persistence defines the journal/snapshot collaborator interface
// that the actor runtime and shard host depend on, independent of any
// concrete storage backend.
package persistence

import (
	"context"
	"errors"
	"time"
)

// DefaultStoreTimeout bounds any single interaction with a Collaborator
// implementation.
var DefaultStoreTimeout = 10 * time.Second

// ErrNoSnapshot is returned by ReadLatestSnapshot when an actor has never
// been snapshotted.
var ErrNoSnapshot = errors.New("persistence: no snapshot found")

// EventRecord is a single journaled event for an actor, identified by its
// monotonically increasing sequence number within that actor's journal.
type EventRecord struct {
	ActorID string
	Seq     uint64
	Payload []byte
}

// SnapshotRecord is a point-in-time state capture for an actor, taken at a
// given journal sequence number.
type SnapshotRecord struct {
	ActorID string
	Seq     uint64
	Payload []byte
}

// Collaborator is the storage-agnostic persistence contract every actor
// with durable state depends on. The actor runtime and the shard host only
// ever hold a Collaborator, never a concrete driver.
type Collaborator interface {
	// PersistEvent appends a single event to actorID's journal at seq.
	// Implementations reject a duplicate seq for the same actorID; seq
	// values need not be contiguous or arrive in order.
	PersistEvent(ctx context.Context, actorID string, seq uint64,
		payload []byte) error

	// PersistSnapshot records a snapshot for actorID at seq, superseding
	// any prior snapshot taken at a lower sequence number.
	PersistSnapshot(ctx context.Context, actorID string, seq uint64,
		payload []byte) error

	// ReadJournal returns every event recorded for actorID with
	// seq > fromSeq, ordered by ascending seq.
	ReadJournal(ctx context.Context, actorID string,
		fromSeq uint64) ([]EventRecord, error)

	// ReadLatestSnapshot returns the most recent snapshot recorded for
	// actorID, or ErrNoSnapshot if none exists.
	ReadLatestSnapshot(ctx context.Context,
		actorID string) (SnapshotRecord, error)
}
