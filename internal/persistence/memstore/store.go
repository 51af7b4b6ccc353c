// Package memstore is an in-memory persistence.Collaborator, used for local
// development and as the "memory" persistence.driver option. Nothing it
// holds survives a process restart.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/coralsys/meshactor/internal/persistence"
)

type actorLog struct {
	events   []persistence.EventRecord
	snapshot persistence.SnapshotRecord
	hasSnap  bool
}

// Store is a map-backed persistence.Collaborator.
type Store struct {
	mu   sync.Mutex
	logs map[string]*actorLog
}

// New creates an empty Store.
func New() *Store {
	return &Store{logs: make(map[string]*actorLog)}
}

// PersistEvent implements persistence.Collaborator.
func (s *Store) PersistEvent(_ context.Context, actorID string, seq uint64,
	payload []byte) error {

	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.logOf(actorID)
	for _, ev := range l.events {
		if ev.Seq == seq {
			return fmt.Errorf("memstore: duplicate seq %d for actor %q",
				seq, actorID)
		}
	}

	l.events = append(l.events, persistence.EventRecord{
		ActorID: actorID, Seq: seq, Payload: payload,
	})
	sort.Slice(l.events, func(i, j int) bool {
		return l.events[i].Seq < l.events[j].Seq
	})

	return nil
}

// PersistSnapshot implements persistence.Collaborator.
func (s *Store) PersistSnapshot(_ context.Context, actorID string, seq uint64,
	payload []byte) error {

	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.logOf(actorID)
	if l.hasSnap && seq <= l.snapshot.Seq {
		return nil
	}

	l.snapshot = persistence.SnapshotRecord{ActorID: actorID, Seq: seq, Payload: payload}
	l.hasSnap = true

	return nil
}

// ReadJournal implements persistence.Collaborator.
func (s *Store) ReadJournal(_ context.Context, actorID string,
	fromSeq uint64) ([]persistence.EventRecord, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.logs[actorID]
	if !ok {
		return nil, nil
	}

	out := make([]persistence.EventRecord, 0, len(l.events))
	for _, ev := range l.events {
		if ev.Seq > fromSeq {
			out = append(out, ev)
		}
	}

	return out, nil
}

// ReadLatestSnapshot implements persistence.Collaborator.
func (s *Store) ReadLatestSnapshot(_ context.Context,
	actorID string) (persistence.SnapshotRecord, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.logs[actorID]
	if !ok || !l.hasSnap {
		return persistence.SnapshotRecord{}, persistence.ErrNoSnapshot
	}

	return l.snapshot, nil
}

func (s *Store) logOf(actorID string) *actorLog {
	l, ok := s.logs[actorID]
	if !ok {
		l = &actorLog{}
		s.logs[actorID] = l
	}
	return l
}
