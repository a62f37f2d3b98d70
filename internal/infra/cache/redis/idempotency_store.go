package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"hotelsaga/internal/app/middleware"
)

type Client struct {
	*redis.Client
}

func NewClient(addr, password string) *Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
	return &Client{Client: rdb}
}

// commands is the part of redis.Cmdable the store uses.
type commands interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// IdempotencyStore keeps command results under "<prefix><key>" for ttl and
// claims under "<prefix>claim:<key>".
type IdempotencyStore struct {
	rdb    commands
	prefix string
	ttl    time.Duration
}

func NewIdempotencyStore(rdb commands, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyStore{rdb: rdb, prefix: "idempotency:", ttl: ttl}
}

func (s *IdempotencyStore) Get(ctx context.Context, key string) (middleware.IdempotencyRecord, bool, error) {
	raw, err := s.rdb.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return middleware.IdempotencyRecord{}, false, nil
	}
	if err != nil {
		return middleware.IdempotencyRecord{}, false, err
	}
	rec, err := decodeRecord(raw)
	if err != nil {
		return middleware.IdempotencyRecord{}, false, err
	}
	return rec, true, nil
}

func (s *IdempotencyStore) Save(ctx context.Context, rec middleware.IdempotencyRecord) error {
	raw, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.prefix+rec.Key, raw, s.ttl).Err()
}

// Reserve uses SET NX so exactly one request holds a claim until it expires
// or is released.
func (s *IdempotencyStore) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, s.claimKey(key), "1", ttl).Result()
}

func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.claimKey(key)).Err()
}

func (s *IdempotencyStore) claimKey(key string) string {
	return s.prefix + "claim:" + key
}

type recordDocument struct {
	Key        string    `json:"key"`
	Payload    []byte    `json:"payload,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func encodeRecord(rec middleware.IdempotencyRecord) ([]byte, error) {
	return json.Marshal(recordDocument(rec))
}

func decodeRecord(raw []byte) (middleware.IdempotencyRecord, error) {
	var doc recordDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return middleware.IdempotencyRecord{}, fmt.Errorf("redis: decode idempotency record: %w", err)
	}
	return middleware.IdempotencyRecord(doc), nil
}

var _ middleware.IdempotencyStore = (*IdempotencyStore)(nil)
