// Package rediscache fronts a persistence.Collaborator with a Redis
// read-through cache for snapshot lookups, the hottest read path in the
// actor recovery flow.
package rediscache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/coralsys/meshactor/internal/persistence"
)

// Store wraps a persistence.Collaborator, caching ReadLatestSnapshot results
// in Redis. Writes (PersistEvent/PersistSnapshot) and journal reads pass
// straight through to the backing store; snapshot writes invalidate the
// cache entry so stale snapshots are never served.
type Store struct {
	backing persistence.Collaborator
	client  *redis.Client
	ttl     time.Duration
}

// New wraps backing with a Redis snapshot cache at addr. Cached entries
// expire after ttl if never invalidated by a new snapshot write.
func New(backing persistence.Collaborator, addr string,
	ttl time.Duration) *Store {

	return &Store{
		backing: backing,
		client:  redis.NewClient(&redis.Options{Addr: addr}),
		ttl:     ttl,
	}
}

func cacheKey(actorID string) string {
	return fmt.Sprintf("meshactor:snapshot:%s", actorID)
}

// PersistEvent implements persistence.Collaborator.
func (s *Store) PersistEvent(ctx context.Context, actorID string, seq uint64,
	payload []byte) error {

	return s.backing.PersistEvent(ctx, actorID, seq, payload)
}

// PersistSnapshot implements persistence.Collaborator. The cache entry for
// actorID is dropped rather than updated in place, so the next read
// repopulates it from the backing store under the same code path as a cold
// cache.
func (s *Store) PersistSnapshot(ctx context.Context, actorID string,
	seq uint64, payload []byte) error {

	if err := s.backing.PersistSnapshot(ctx, actorID, seq, payload); err != nil {
		return err
	}

	if err := s.client.Del(ctx, cacheKey(actorID)).Err(); err != nil {
		return fmt.Errorf("rediscache: invalidate failed: %w", err)
	}

	return nil
}

// ReadJournal implements persistence.Collaborator.
func (s *Store) ReadJournal(ctx context.Context, actorID string,
	fromSeq uint64) ([]persistence.EventRecord, error) {

	return s.backing.ReadJournal(ctx, actorID, fromSeq)
}

// ReadLatestSnapshot implements persistence.Collaborator, serving from the
// Redis cache when present and falling back to the backing store on a miss.
func (s *Store) ReadLatestSnapshot(ctx context.Context,
	actorID string) (persistence.SnapshotRecord, error) {

	cached, err := s.client.HGetAll(ctx, cacheKey(actorID)).Result()
	if err != nil {
		return persistence.SnapshotRecord{}, fmt.Errorf(
			"rediscache: read failed: %w", err)
	}
	if raw, ok := cached["payload"]; ok {
		seq, _ := strconv.ParseUint(cached["seq"], 10, 64)
		return persistence.SnapshotRecord{
			ActorID: actorID,
			Seq:     seq,
			Payload: []byte(raw),
		}, nil
	}

	rec, err := s.backing.ReadLatestSnapshot(ctx, actorID)
	if err != nil {
		return rec, err
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, cacheKey(actorID), map[string]interface{}{
		"seq":     strconv.FormatUint(rec.Seq, 10),
		"payload": rec.Payload,
	})
	pipe.Expire(ctx, cacheKey(actorID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return rec, fmt.Errorf("rediscache: populate failed: %w", err)
	}

	return rec, nil
}

var _ persistence.Collaborator = (*Store)(nil)
