package bookings_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/go-faker/faker/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotelsaga/internal/app/commands"
	"hotelsaga/internal/app/dto"
	"hotelsaga/internal/app/handlers/bookings"
	"hotelsaga/internal/app/inbound"
	"hotelsaga/internal/app/middleware"
	"hotelsaga/internal/app/queries"
	"hotelsaga/internal/app/saga"
	domainbooking "hotelsaga/internal/domain/booking"
	domainsaga "hotelsaga/internal/domain/saga"
	"hotelsaga/internal/infra/storage/memory"
)

type app struct {
	store   *memory.Store
	cmds    commands.Bus
	queries queries.Bus
	adapter *inbound.Adapter
}

func newApp(t *testing.T) *app {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewStore()
	helper, err := saga.NewHelper(store, saga.WithLogger(logger))
	require.NoError(t, err)
	adapter, err := inbound.NewAdapter(saga.Steps(helper), inbound.WithLogger(logger))
	require.NoError(t, err)

	cmdBus := commands.NewInMemoryBus()
	queryBus := queries.NewInMemoryBus()
	bookings.Register(cmdBus, queryBus, bookings.Deps{
		UoWFactory: store,
		Saga:       helper,
		Dispatcher: adapter,
		Dispatch:   store,
	})
	validator := middleware.OzzoValidator{}
	return &app{
		store: store,
		cmds: middleware.ChainCommands(cmdBus,
			middleware.Logging(logger),
			middleware.Validation(validator),
			middleware.Idempotency(memory.NewIdempotencyStore(time.Hour), nil),
			middleware.Transaction(store, nil),
		),
		queries: middleware.ChainQueries(queryBus, middleware.QueryValidation(validator)),
		adapter: adapter,
	}
}

func (a *app) startBooking(t *testing.T, key string) bookings.StartBookingResult {
	t.Helper()
	res, err := commands.Dispatch[bookings.StartBookingCommand, bookings.StartBookingResult](context.Background(), a.cmds, bookings.StartBookingCommand{
		CustomerID:      faker.UUIDHyphenated(),
		RoomID:          "room-101",
		Deposit:         5000,
		Total:           20000,
		Currency:        "EUR",
		IdempotencyKeyV: key,
	})
	require.NoError(t, err)
	return res
}

func (a *app) reply(t *testing.T, res bookings.StartBookingResult, source domainsaga.Source, step domainsaga.StepType, status domainsaga.ReplyStatus) {
	t.Helper()
	require.NoError(t, a.adapter.Dispatch(context.Background(), domainsaga.Message{
		SagaID:    domainsaga.SagaID(res.SagaID),
		BookingID: domainbooking.BookingID(res.BookingID),
		Step:      step,
		Status:    status,
		Source:    source,
	}))
}

func (a *app) saga(t *testing.T, sagaID string) dto.SagaView {
	t.Helper()
	view, err := queries.Ask[bookings.GetSagaQuery, dto.SagaView](context.Background(), a.queries, bookings.GetSagaQuery{SagaID: sagaID})
	require.NoError(t, err)
	return view
}

func TestStartBookingIsIdempotent(t *testing.T) {
	a := newApp(t)
	key := faker.UUIDHyphenated()

	first := a.startBooking(t, key)
	assert.Equal(t, "PENDING", first.Status)
	second := a.startBooking(t, key)
	assert.Equal(t, first, second)

	view := a.saga(t, first.SagaID)
	assert.Equal(t, string(domainsaga.SagaStarted), view.Phase)
	require.Len(t, view.Steps, 1)
	assert.Equal(t, string(domainsaga.CommandReserveRoom), view.Steps[0].Command)
	require.NotNil(t, view.Booking)
	assert.Equal(t, first.BookingID, view.Booking.ID)
}

func TestStartBookingValidation(t *testing.T) {
	a := newApp(t)
	cases := map[string]bookings.StartBookingCommand{
		"deposit exceeds total": {CustomerID: "c", RoomID: "r", Deposit: 300, Total: 200, Currency: "EUR"},
		"missing room":          {CustomerID: "c", Deposit: 0, Total: 200, Currency: "EUR"},
		"bad currency":          {CustomerID: "c", RoomID: "r", Total: 200, Currency: "eu"},
		"bad booking id":        {BookingID: "b-1", CustomerID: "c", RoomID: "r", Total: 200, Currency: "EUR"},
	}
	for name, cmd := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := a.cmds.Dispatch(context.Background(), cmd)
			require.ErrorIs(t, err, middleware.ErrInvalidInput)
		})
	}
}

func TestGuestCancellation(t *testing.T) {
	a := newApp(t)
	res := a.startBooking(t, "")
	a.reply(t, res, domainsaga.SourceRoom, domainsaga.StepReserveRoom, domainsaga.ReplyReserved)
	a.reply(t, res, domainsaga.SourcePayment, domainsaga.StepDeposit, domainsaga.ReplyDepositPaid)

	view, err := commands.Dispatch[bookings.CancelBookingCommand, dto.SagaView](context.Background(), a.cmds, bookings.CancelBookingCommand{
		SagaID: res.SagaID,
		Reason: "plans changed",
	})
	require.NoError(t, err)
	assert.Equal(t, "CANCELLED", view.Booking.Status)
	assert.Equal(t, string(domainsaga.SagaCompensating), view.Phase)

	commandsSent := map[string]string{}
	for _, row := range view.Steps {
		commandsSent[row.Step] = row.Command
	}
	assert.Equal(t, string(domainsaga.CommandReleaseRoom), commandsSent[string(domainsaga.StepCancellation)])
	assert.Equal(t, string(domainsaga.CommandRefundDeposit), commandsSent[string(domainsaga.StepDeposit)])

	a.reply(t, res, domainsaga.SourceRoom, domainsaga.StepCancellation, domainsaga.ReplyReleased)
	a.reply(t, res, domainsaga.SourcePayment, domainsaga.StepDeposit, domainsaga.ReplyRefunded)
	view = a.saga(t, res.SagaID)
	assert.Equal(t, string(domainsaga.SagaCompensated), view.Phase)
	assert.False(t, view.Booking.DepositPaid)
}

func TestGuestCheckOutBeforeCheckInIsNoOp(t *testing.T) {
	a := newApp(t)
	res := a.startBooking(t, "")
	before := a.saga(t, res.SagaID)

	view, err := commands.Dispatch[bookings.RequestCheckOutCommand, dto.SagaView](context.Background(), a.cmds, bookings.RequestCheckOutCommand{SagaID: res.SagaID})
	require.NoError(t, err)
	assert.Equal(t, before, view)
}

func TestGuestCancelOfCompletedBookingIsRejected(t *testing.T) {
	a := newApp(t)
	res := a.startBooking(t, "")
	a.reply(t, res, domainsaga.SourceRoom, domainsaga.StepReserveRoom, domainsaga.ReplyReserved)
	a.reply(t, res, domainsaga.SourcePayment, domainsaga.StepDeposit, domainsaga.ReplyDepositPaid)
	a.reply(t, res, domainsaga.SourceNotification, domainsaga.StepCheckIn, domainsaga.ReplyQRScanned)
	_, err := commands.Dispatch[bookings.RequestCheckOutCommand, dto.SagaView](context.Background(), a.cmds, bookings.RequestCheckOutCommand{SagaID: res.SagaID})
	require.NoError(t, err)
	a.reply(t, res, domainsaga.SourcePayment, domainsaga.StepCheckOut, domainsaga.ReplyFinalPaid)

	_, err = commands.Dispatch[bookings.CancelBookingCommand, dto.SagaView](context.Background(), a.cmds, bookings.CancelBookingCommand{SagaID: res.SagaID})
	require.ErrorIs(t, err, saga.ErrPrecondition)
	assert.True(t, saga.IsBusiness(err))
	assert.Equal(t, "COMPLETED", a.saga(t, res.SagaID).Booking.Status)
}

func TestGetSagaUnknown(t *testing.T) {
	a := newApp(t)
	_, err := queries.Ask[bookings.GetSagaQuery, dto.SagaView](context.Background(), a.queries, bookings.GetSagaQuery{SagaID: faker.UUIDHyphenated()})
	require.ErrorIs(t, err, bookings.ErrSagaNotFound)

	_, err = queries.Ask[bookings.GetSagaQuery, dto.SagaView](context.Background(), a.queries, bookings.GetSagaQuery{SagaID: "nope"})
	require.ErrorIs(t, err, middleware.ErrInvalidInput)
}

func TestRequeueFailedOutbox(t *testing.T) {
	a := newApp(t)
	res := a.startBooking(t, "")
	row := a.saga(t, res.SagaID).Steps[0]
	ok, err := a.store.MarkStatus(context.Background(), domainsaga.StatusUpdate{
		ID:        row.ID,
		From:      domainsaga.OutboxStarted,
		To:        domainsaga.OutboxFailed,
		Attempts:  5,
		LastError: "broker unavailable",
		At:        time.Now().UTC(),
	})
	require.NoError(t, err)
	require.True(t, ok)

	failed, err := queries.Ask[bookings.ListFailedQuery, dto.OutboxCollection](context.Background(), a.queries, bookings.ListFailedQuery{})
	require.NoError(t, err)
	require.Len(t, failed.Items, 1)
	assert.Equal(t, "broker unavailable", failed.Items[0].LastError)
	assert.Equal(t, string(domainsaga.SagaFailed), a.saga(t, res.SagaID).Phase)

	requeued, err := commands.Dispatch[bookings.RequeueOutboxCommand, dto.OutboxRow](context.Background(), a.cmds, bookings.RequeueOutboxCommand{OutboxID: row.ID})
	require.NoError(t, err)
	assert.Equal(t, string(domainsaga.OutboxStarted), requeued.OutboxStatus)
	assert.Zero(t, requeued.Attempts)

	_, err = commands.Dispatch[bookings.RequeueOutboxCommand, dto.OutboxRow](context.Background(), a.cmds, bookings.RequeueOutboxCommand{OutboxID: row.ID})
	require.ErrorIs(t, err, bookings.ErrOutboxNotFound)
}
