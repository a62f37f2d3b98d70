package queries_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotelsaga/internal/app/queries"
)

type roomStatus struct{ Room string }

func (roomStatus) Key() string { return "room.status" }

func TestAskReturnsTypedResult(t *testing.T) {
	bus := queries.NewInMemoryBus()
	queries.Register[roomStatus, string](bus, queries.HandlerFunc[roomStatus, string](func(_ context.Context, q roomStatus) (string, error) {
		return q.Room + ":free", nil
	}))

	out, err := queries.Ask[roomStatus, string](context.Background(), bus, roomStatus{Room: "12"})
	require.NoError(t, err)
	assert.Equal(t, "12:free", out)

	_, err = queries.Ask[roomStatus, bool](context.Background(), bus, roomStatus{})
	require.ErrorIs(t, err, queries.ErrResultType)
	assert.Panics(t, func() {
		queries.Register[roomStatus, string](bus, queries.HandlerFunc[roomStatus, string](nil))
	})
}
