package booking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotelsaga/internal/domain/shared/money"
)

var now = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

func newTestBooking(t *testing.T) *Booking {
	t.Helper()
	b, err := NewBooking(CreateParams{
		ID:         "b-1",
		CustomerID: "c-1",
		RoomID:     "r-1",
		Deposit:    money.Must(3000, "eur"),
		Total:      money.Must(12000, "EUR"),
		CreatedAt:  now,
	})
	require.NoError(t, err)
	return b
}

func TestNewBookingValidates(t *testing.T) {
	_, err := NewBooking(CreateParams{ID: "b", CustomerID: "c", RoomID: "r",
		Deposit: money.Must(500, "EUR"), Total: money.Must(100, "EUR")})
	require.ErrorIs(t, err, ErrDepositExceeds)

	_, err = NewBooking(CreateParams{ID: "b", CustomerID: "c", RoomID: "r",
		Deposit: money.Must(50, "USD"), Total: money.Must(100, "EUR")})
	require.ErrorIs(t, err, money.ErrCurrencyMismatch)

	_, err = NewBooking(CreateParams{CustomerID: "c", RoomID: "r"})
	require.Error(t, err)

	b := newTestBooking(t)
	assert.Equal(t, StatusPending, b.Status)
	ev, ok := b.LastEvent()
	require.True(t, ok)
	assert.Equal(t, "booking.requested", ev.EventName())
}

func TestLifecycle(t *testing.T) {
	b := newTestBooking(t)

	require.NoError(t, b.Confirm(now))
	require.ErrorIs(t, b.CheckIn(now), ErrDepositRequired)
	require.NoError(t, b.PayDeposit(now))
	require.ErrorIs(t, b.PayDeposit(now), ErrInvalidTransition)
	require.ErrorIs(t, b.RevertConfirmation(now), ErrInvalidTransition)
	require.NoError(t, b.CheckIn(now))
	require.NoError(t, b.CheckOut(now))
	assert.Equal(t, money.Must(9000, "EUR"), b.Balance())
	require.NoError(t, b.Complete(now))
	assert.True(t, b.Status.Terminal())
	require.ErrorIs(t, b.Cancel("late", now), ErrInvalidTransition)

	names := make([]string, 0)
	for _, ev := range b.PendingEvents() {
		names = append(names, ev.EventName())
	}
	assert.Equal(t, []string{
		"booking.requested", "booking.room_reserved", "booking.deposit_paid",
		"booking.checked_in", "booking.checked_out", "booking.completed",
	}, names)
}

func TestRevertsRestorePreviousStatus(t *testing.T) {
	b := newTestBooking(t)
	require.NoError(t, b.Confirm(now))
	require.NoError(t, b.RevertConfirmation(now))
	assert.Equal(t, StatusPending, b.Status)

	require.NoError(t, b.Confirm(now))
	require.NoError(t, b.PayDeposit(now))
	require.NoError(t, b.CheckIn(now))
	require.NoError(t, b.RevertCheckIn(now))
	assert.Equal(t, StatusConfirmed, b.Status)
	require.ErrorIs(t, b.RevertCheckIn(now), ErrInvalidTransition)

	require.NoError(t, b.CheckIn(now))
	require.NoError(t, b.CheckOut(now))
	require.NoError(t, b.RevertCheckOut(now))
	assert.Equal(t, StatusCheckedIn, b.Status)
}

func TestCancelRecordsOriginAndRefund(t *testing.T) {
	b := newTestBooking(t)
	require.NoError(t, b.Confirm(now))
	require.NoError(t, b.PayDeposit(now))
	require.NoError(t, b.Cancel("plans changed", now))

	assert.Equal(t, StatusCancelled, b.Status)
	assert.Equal(t, StatusConfirmed, b.CancelledFrom)
	ev, ok := b.LastEvent()
	require.True(t, ok)
	cancelled, ok := ev.(BookingCancelled)
	require.True(t, ok)
	assert.Equal(t, money.Must(3000, "EUR"), cancelled.Refund)
	assert.Equal(t, "plans changed", cancelled.Reason)

	require.NoError(t, b.RefundDeposit(now))
	assert.False(t, b.DepositPaid)
	require.ErrorIs(t, b.RefundDeposit(now), ErrInvalidTransition)
}

func TestCloneDropsPendingEvents(t *testing.T) {
	b := newTestBooking(t)
	c := b.Clone()
	assert.Empty(t, c.PendingEvents())
	assert.NotEmpty(t, b.PendingEvents())
	c.Status = StatusCancelled
	assert.Equal(t, StatusPending, b.Status)
}
