package middleware

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotelsaga/internal/app/commands"
)

type startCmd struct {
	key string
}

func (startCmd) Key() string              { return "booking.start" }
func (c startCmd) IdempotencyKey() string { return c.key }
func (startCmd) ResultPrototype() any     { return new(startResult) }

type startResult struct {
	SagaID string `json:"saga_id"`
}

// mapStore is a minimal IdempotencyStore without expiry.
type mapStore struct {
	mu       sync.Mutex
	items    map[string]IdempotencyRecord
	claims   map[string]bool
	staleGet bool
}

func newMapStore() *mapStore {
	return &mapStore{items: map[string]IdempotencyRecord{}, claims: map[string]bool{}}
}

func (s *mapStore) Get(_ context.Context, key string) (IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.staleGet {
		s.staleGet = false
		return IdempotencyRecord{}, false, nil
	}
	rec, ok := s.items[key]
	return rec, ok, nil
}

func (s *mapStore) Save(_ context.Context, rec IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[rec.Key] = rec
	return nil
}

func (s *mapStore) Reserve(_ context.Context, key string, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claims[key] {
		return false, nil
	}
	s.claims[key] = true
	return true, nil
}

func (s *mapStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claims, key)
	return nil
}

func TestIdempotencyRejectsConcurrentDuplicate(t *testing.T) {
	store := newMapStore()
	entered := make(chan struct{})
	proceed := make(chan struct{})
	var runs atomic.Int32
	bus := Idempotency(store, nil)(commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
		if runs.Add(1) == 1 {
			close(entered)
			<-proceed
		}
		return startResult{SagaID: "saga-1"}, nil
	}))

	first := make(chan error, 1)
	go func() {
		_, err := bus.Dispatch(context.Background(), startCmd{key: "k-1"})
		first <- err
	}()
	<-entered

	_, err := bus.Dispatch(context.Background(), startCmd{key: "k-1"})
	require.ErrorIs(t, err, ErrCommandInFlight)

	close(proceed)
	require.NoError(t, <-first)

	got, err := bus.Dispatch(context.Background(), startCmd{key: "k-1"})
	require.NoError(t, err)
	assert.Equal(t, startResult{SagaID: "saga-1"}, got)
	assert.Equal(t, int32(1), runs.Load())
	assert.Empty(t, store.claims)
}

func TestIdempotencyReleasesClaimOnFailure(t *testing.T) {
	store := newMapStore()
	var runs atomic.Int32
	bus := Idempotency(store, nil)(commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
		if runs.Add(1) == 1 {
			return nil, errors.New("store offline")
		}
		return startResult{SagaID: "saga-2"}, nil
	}))

	_, err := bus.Dispatch(context.Background(), startCmd{key: "k-2"})
	require.ErrorContains(t, err, "store offline")
	assert.Empty(t, store.items)

	got, err := bus.Dispatch(context.Background(), startCmd{key: "k-2"})
	require.NoError(t, err)
	assert.Equal(t, startResult{SagaID: "saga-2"}, got)
}

func TestIdempotencyReplaysResultSavedBeforeClaim(t *testing.T) {
	store := newMapStore()
	require.NoError(t, store.Save(context.Background(), IdempotencyRecord{Key: "booking.start:k-3", Payload: []byte(`{"saga_id":"saga-3"}`)}))
	// The first lookup misses, as if the other request saved and released
	// right after it.
	store.staleGet = true

	bus := Idempotency(store, nil)(commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
		t.Error("command ran twice")
		return nil, nil
	}))
	got, err := bus.Dispatch(context.Background(), startCmd{key: "k-3"})
	require.NoError(t, err)
	assert.Equal(t, startResult{SagaID: "saga-3"}, got)
	assert.Empty(t, store.claims)
}

func TestIdempotencyPassesThroughWithoutKey(t *testing.T) {
	store := newMapStore()
	var runs atomic.Int32
	bus := Idempotency(store, nil)(commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
		runs.Add(1)
		return nil, nil
	}))
	for range 2 {
		_, err := bus.Dispatch(context.Background(), startCmd{})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), runs.Load())
	assert.Empty(t, store.items)
}
