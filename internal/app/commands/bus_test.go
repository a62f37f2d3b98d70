package commands_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotelsaga/internal/app/commands"
)

type holdRoom struct{ Room string }

func (holdRoom) Key() string { return "room.hold" }

type releaseRoom struct{}

func (releaseRoom) Key() string { return "room.release" }

func TestRegisterRoutesByCommandKey(t *testing.T) {
	bus := commands.NewInMemoryBus()
	commands.Register[holdRoom, string](bus, commands.HandlerFunc[holdRoom, string](func(_ context.Context, c holdRoom) (string, error) {
		return "held " + c.Room, nil
	}))

	out, err := commands.Dispatch[holdRoom, string](context.Background(), bus, holdRoom{Room: "101"})
	require.NoError(t, err)
	assert.Equal(t, "held 101", out)
	assert.Equal(t, []string{"room.hold"}, bus.Keys())

	_, err = commands.Dispatch[holdRoom, int](context.Background(), bus, holdRoom{})
	require.ErrorIs(t, err, commands.ErrResultType)

	_, err = bus.Dispatch(context.Background(), releaseRoom{})
	require.ErrorIs(t, err, commands.ErrHandlerNotFound)
	assert.ErrorContains(t, err, "room.release")

	_, err = commands.Dispatch[holdRoom, string](context.Background(), nil, holdRoom{})
	require.ErrorIs(t, err, commands.ErrNilBus)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	bus := commands.NewInMemoryBus()
	h := commands.HandlerFunc[holdRoom, string](func(context.Context, holdRoom) (string, error) { return "", nil })
	commands.Register[holdRoom, string](bus, h)
	assert.Panics(t, func() { commands.Register[holdRoom, string](bus, h) })
}
