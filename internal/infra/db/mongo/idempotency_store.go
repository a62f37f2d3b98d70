package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"hotelsaga/internal/app/middleware"
)

// IdempotencyStore keeps command results in command_idempotency. The first
// result saved under a key wins; records expire through a TTL index.
type IdempotencyStore struct {
	col *mongo.Collection
	ttl time.Duration
	now func() time.Time
}

func NewIdempotencyStore(db *mongo.Database, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyStore{col: db.Collection(idempotencyCollection), ttl: ttl, now: time.Now}
}

const idempotencyCollection = "command_idempotency"

func idempotencyIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0).SetName("expires_at_ttl"),
	}}
}

// Get ignores records past their expiry that the TTL monitor has not removed yet.
func (s *IdempotencyStore) Get(ctx context.Context, key string) (middleware.IdempotencyRecord, bool, error) {
	filter := bson.M{"_id": key, "expires_at": bson.M{"$gt": s.now().UTC()}}
	var doc idempotencyDocument
	if err := s.col.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return middleware.IdempotencyRecord{}, false, nil
		}
		return middleware.IdempotencyRecord{}, false, err
	}
	return middleware.IdempotencyRecord{Key: doc.Key, Payload: doc.Payload, OccurredAt: doc.OccurredAt}, true, nil
}

// Save replaces only an expired record; a live one makes the upsert collide
// on _id and the earlier result is kept.
func (s *IdempotencyStore) Save(ctx context.Context, rec middleware.IdempotencyRecord) error {
	now := s.now().UTC()
	doc := newIdempotencyDocument(rec, now.Add(s.ttl))
	filter := bson.M{"_id": rec.Key, "expires_at": bson.M{"$lte": now}}
	_, err := s.col.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

// Reserve writes a claim document that expires after ttl. A live claim makes
// the upsert collide on _id.
func (s *IdempotencyStore) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	now := s.now().UTC()
	doc := idempotencyDocument{Key: claimID(key), OccurredAt: now, ExpiresAt: now.Add(ttl)}
	filter := bson.M{"_id": doc.Key, "expires_at": bson.M{"$lte": now}}
	_, err := s.col.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	_, err := s.col.DeleteOne(ctx, bson.M{"_id": claimID(key)})
	return err
}

func claimID(key string) string {
	return "claim:" + key
}

type idempotencyDocument struct {
	Key        string    `bson:"_id"`
	Payload    []byte    `bson:"payload,omitempty"`
	OccurredAt time.Time `bson:"occurred_at"`
	ExpiresAt  time.Time `bson:"expires_at"`
}

func newIdempotencyDocument(rec middleware.IdempotencyRecord, expires time.Time) idempotencyDocument {
	return idempotencyDocument{
		Key:        rec.Key,
		Payload:    rec.Payload,
		OccurredAt: rec.OccurredAt.UTC(),
		ExpiresAt:  expires,
	}
}

var _ middleware.IdempotencyStore = (*IdempotencyStore)(nil)
