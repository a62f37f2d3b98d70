package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotelsaga/internal/app/middleware"
)

func TestRecordEncoding(t *testing.T) {
	rec := middleware.IdempotencyRecord{
		Key:        "booking.start:abc",
		Payload:    []byte(`{"saga_id":"s"}`),
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	raw, err := encodeRecord(rec)
	require.NoError(t, err)
	got, err := decodeRecord(raw)
	require.NoError(t, err)
	assert.Equal(t, rec.Key, got.Key)
	assert.JSONEq(t, string(rec.Payload), string(got.Payload))
	assert.True(t, rec.OccurredAt.Equal(got.OccurredAt))

	_, err = decodeRecord([]byte("not json"))
	require.Error(t, err)
}

func TestNewIdempotencyStoreDefaultsTTL(t *testing.T) {
	s := NewIdempotencyStore(nil, 0)
	assert.Equal(t, 24*time.Hour, s.ttl)
}

// fakeRedis answers from a map; expirations are ignored.
type fakeRedis struct {
	values map[string]string
}

func (f *fakeRedis) Get(ctx context.Context, key string) *goredis.StringCmd {
	v, ok := f.values[key]
	if !ok {
		return goredis.NewStringResult("", goredis.Nil)
	}
	return goredis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, _ time.Duration) *goredis.StatusCmd {
	f.values[key] = asString(value)
	return goredis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, _ time.Duration) *goredis.BoolCmd {
	if _, ok := f.values[key]; ok {
		return goredis.NewBoolResult(false, nil)
	}
	f.values[key] = asString(value)
	return goredis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *goredis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := f.values[k]; ok {
			delete(f.values, k)
			n++
		}
	}
	return goredis.NewIntResult(n, nil)
}

func asString(v interface{}) string {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return fmt.Sprint(v)
}

func TestIdempotencyStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	rdb := &fakeRedis{values: map[string]string{}}
	s := NewIdempotencyStore(rdb, time.Hour)

	_, found, err := s.Get(ctx, "booking.start:k")
	require.NoError(t, err)
	assert.False(t, found)

	ok, err := s.Reserve(ctx, "booking.start:k", middleware.ClaimTTL)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, rdb.values, "idempotency:claim:booking.start:k")
	ok, err = s.Reserve(ctx, "booking.start:k", middleware.ClaimTTL)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Save(ctx, middleware.IdempotencyRecord{Key: "booking.start:k", Payload: []byte(`{"saga_id":"s"}`)}))
	require.NoError(t, s.Release(ctx, "booking.start:k"))
	assert.NotContains(t, rdb.values, "idempotency:claim:booking.start:k")

	rec, found, err := s.Get(ctx, "booking.start:k")
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `{"saga_id":"s"}`, string(rec.Payload))
}
