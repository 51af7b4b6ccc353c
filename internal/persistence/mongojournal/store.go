// Package mongojournal is an alternate persistence.Collaborator backed by
// MongoDB, for deployments that already run a Mongo cluster for other
// services and would rather not operate a second storage engine.
package mongojournal

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/coralsys/meshactor/internal/persistence"
)

const (
	eventsCollection    = "events"
	snapshotsCollection = "snapshots"
)

type eventDoc struct {
	ActorID string `bson:"actor_id"`
	Seq     uint64 `bson:"seq"`
	Payload []byte `bson:"payload"`
}

type snapshotDoc struct {
	ActorID string `bson:"actor_id"`
	Seq     uint64 `bson:"seq"`
	Payload []byte `bson:"payload"`
}

// Store is a MongoDB-backed persistence.Collaborator.
type Store struct {
	events    *mongo.Collection
	snapshots *mongo.Collection
}

// Connect dials uri and returns a Store using database dbName. The events
// collection is indexed uniquely on (actor_id, seq) so PersistEvent rejects
// duplicate writes the same way the sqlite driver's primary key does.
func Connect(ctx context.Context, uri, dbName string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongojournal: connect failed: %w", err)
	}

	db := client.Database(dbName)
	events := db.Collection(eventsCollection)
	snapshots := db.Collection(snapshotsCollection)

	_, err = events.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "actor_id", Value: 1}, {Key: "seq", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, fmt.Errorf("mongojournal: index creation failed: %w", err)
	}

	_, err = snapshots.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "actor_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, fmt.Errorf("mongojournal: index creation failed: %w", err)
	}

	return &Store{events: events, snapshots: snapshots}, nil
}

// PersistEvent implements persistence.Collaborator.
func (s *Store) PersistEvent(ctx context.Context, actorID string, seq uint64,
	payload []byte) error {

	_, err := s.events.InsertOne(ctx, eventDoc{
		ActorID: actorID, Seq: seq, Payload: payload,
	})
	if mongo.IsDuplicateKeyError(err) {
		return &persistence.ErrUniqueConstraintViolation{DBError: err}
	}

	return err
}

// PersistSnapshot implements persistence.Collaborator.
func (s *Store) PersistSnapshot(ctx context.Context, actorID string,
	seq uint64, payload []byte) error {

	filter := bson.D{
		{Key: "actor_id", Value: actorID},
		{Key: "seq", Value: bson.D{{Key: "$lt", Value: seq}}},
	}
	update := bson.D{{Key: "$set", Value: snapshotDoc{
		ActorID: actorID, Seq: seq, Payload: payload,
	}}}

	_, err := s.snapshots.UpdateOne(ctx, filter, update,
		options.Update().SetUpsert(true))

	return err
}

// ReadJournal implements persistence.Collaborator.
func (s *Store) ReadJournal(ctx context.Context, actorID string,
	fromSeq uint64) ([]persistence.EventRecord, error) {

	filter := bson.D{
		{Key: "actor_id", Value: actorID},
		{Key: "seq", Value: bson.D{{Key: "$gt", Value: fromSeq}}},
	}
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}})

	cur, err := s.events.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var records []persistence.EventRecord
	for cur.Next(ctx) {
		var doc eventDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		records = append(records, persistence.EventRecord{
			ActorID: doc.ActorID, Seq: doc.Seq, Payload: doc.Payload,
		})
	}

	return records, cur.Err()
}

// ReadLatestSnapshot implements persistence.Collaborator.
func (s *Store) ReadLatestSnapshot(ctx context.Context,
	actorID string) (persistence.SnapshotRecord, error) {

	var doc snapshotDoc

	err := s.snapshots.FindOne(ctx, bson.D{{Key: "actor_id", Value: actorID}}).
		Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return persistence.SnapshotRecord{}, persistence.ErrNoSnapshot
	}
	if err != nil {
		return persistence.SnapshotRecord{}, err
	}

	return persistence.SnapshotRecord{
		ActorID: doc.ActorID, Seq: doc.Seq, Payload: doc.Payload,
	}, nil
}

var _ persistence.Collaborator = (*Store)(nil)
