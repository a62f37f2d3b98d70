package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hotelsaga/internal/domain/shared/events"
	"hotelsaga/internal/domain/shared/money"
)

var (
	ErrInvalidTransition = errors.New("booking: invalid status transition")
	ErrBookingNotFound   = errors.New("booking: not found")
	ErrDepositRequired   = errors.New("booking: deposit must be paid before check-in")
	ErrDepositExceeds    = errors.New("booking: deposit exceeds total")
	ErrConcurrentUpdate  = errors.New("booking: concurrent update")
)

type BookingID string

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusConfirmed  Status = "CONFIRMED"
	StatusCheckedIn  Status = "CHECKED_IN"
	StatusCheckedOut Status = "CHECKED_OUT"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
)

// Terminal reports whether no further transition can leave the status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCheckedIn, StatusCheckedOut, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

type Booking struct {
	ID            BookingID
	CustomerID    string
	RoomID        string
	Status        Status
	Deposit       money.Money
	Total         money.Money
	DepositPaid   bool
	CancelledFrom Status
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Version       int64
	events.EventRecorder
}

// Repository is the booking store port. Implementations participate in the
// caller's unit of work; ByID locks the booking row where the store supports it.
type Repository interface {
	ByID(ctx context.Context, id BookingID) (*Booking, error)
	Save(ctx context.Context, booking *Booking) error
}

type CreateParams struct {
	ID         BookingID
	CustomerID string
	RoomID     string
	Deposit    money.Money
	Total      money.Money
	CreatedAt  time.Time
}

func NewBooking(params CreateParams) (*Booking, error) {
	if params.ID == "" {
		return nil, errors.New("booking: id required")
	}
	if params.CustomerID == "" {
		return nil, errors.New("booking: customer id required")
	}
	if params.RoomID == "" {
		return nil, errors.New("booking: room id required")
	}
	exceeds, err := params.Deposit.Exceeds(params.Total)
	if err != nil {
		return nil, fmt.Errorf("booking: amounts: %w", err)
	}
	if exceeds {
		return nil, ErrDepositExceeds
	}
	now := params.CreatedAt.UTC()
	b := &Booking{
		ID:         params.ID,
		CustomerID: params.CustomerID,
		RoomID:     params.RoomID,
		Status:     StatusPending,
		Deposit:    params.Deposit,
		Total:      params.Total,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	b.Record(BookingRequested{
		BookingID:  b.ID,
		CustomerID: b.CustomerID,
		RoomID:     b.RoomID,
		Deposit:    b.Deposit,
		Total:      b.Total,
		At:         now,
	})
	return b, nil
}

// Confirm records the room reservation acknowledged by the room service.
func (b *Booking) Confirm(now time.Time) error {
	if b.Status != StatusPending {
		return b.invalid(StatusConfirmed)
	}
	b.transition(StatusConfirmed, now)
	b.Record(RoomReserved{BookingID: b.ID, RoomID: b.RoomID, Deposit: b.Deposit, At: b.UpdatedAt})
	return nil
}

func (b *Booking) RevertConfirmation(now time.Time) error {
	if b.Status != StatusConfirmed || b.DepositPaid {
		return b.invalid(StatusPending)
	}
	b.transition(StatusPending, now)
	b.Record(RoomReservationReverted{BookingID: b.ID, RoomID: b.RoomID, At: b.UpdatedAt})
	return nil
}

// PayDeposit marks the deposit as captured. The status does not change.
func (b *Booking) PayDeposit(now time.Time) error {
	if b.Status != StatusConfirmed || b.DepositPaid {
		return fmt.Errorf("%w: deposit on %s booking (paid=%t)", ErrInvalidTransition, b.Status, b.DepositPaid)
	}
	b.DepositPaid = true
	b.touch(now)
	b.Record(DepositPaid{BookingID: b.ID, Amount: b.Deposit, At: b.UpdatedAt})
	return nil
}

func (b *Booking) RefundDeposit(now time.Time) error {
	if !b.DepositPaid || (b.Status != StatusConfirmed && b.Status != StatusCancelled) {
		return fmt.Errorf("%w: refund on %s booking (paid=%t)", ErrInvalidTransition, b.Status, b.DepositPaid)
	}
	b.DepositPaid = false
	b.touch(now)
	b.Record(DepositRefunded{BookingID: b.ID, Amount: b.Deposit, At: b.UpdatedAt})
	return nil
}

func (b *Booking) CheckIn(now time.Time) error {
	if b.Status != StatusConfirmed {
		return b.invalid(StatusCheckedIn)
	}
	if !b.DepositPaid {
		return fmt.Errorf("%w: %w", ErrInvalidTransition, ErrDepositRequired)
	}
	b.transition(StatusCheckedIn, now)
	b.Record(CheckedIn{BookingID: b.ID, RoomID: b.RoomID, CustomerID: b.CustomerID, At: b.UpdatedAt})
	return nil
}

func (b *Booking) RevertCheckIn(now time.Time) error {
	if b.Status != StatusCheckedIn {
		return b.invalid(StatusConfirmed)
	}
	b.transition(StatusConfirmed, now)
	b.Record(CheckInReverted{BookingID: b.ID, CustomerID: b.CustomerID, At: b.UpdatedAt})
	return nil
}

func (b *Booking) CheckOut(now time.Time) error {
	if b.Status != StatusCheckedIn {
		return b.invalid(StatusCheckedOut)
	}
	b.transition(StatusCheckedOut, now)
	b.Record(CheckedOut{BookingID: b.ID, Balance: b.Balance(), At: b.UpdatedAt})
	return nil
}

func (b *Booking) RevertCheckOut(now time.Time) error {
	if b.Status != StatusCheckedOut {
		return b.invalid(StatusCheckedIn)
	}
	b.transition(StatusCheckedIn, now)
	b.Record(CheckOutReverted{BookingID: b.ID, Balance: b.Balance(), At: b.UpdatedAt})
	return nil
}

// Complete settles the booking after the final payment.
func (b *Booking) Complete(now time.Time) error {
	if b.Status != StatusCheckedOut {
		return b.invalid(StatusCompleted)
	}
	b.transition(StatusCompleted, now)
	b.Record(BookingCompleted{BookingID: b.ID, Total: b.Total, At: b.UpdatedAt})
	return nil
}

// Cancel is reachable from every non-terminal status and is itself terminal.
func (b *Booking) Cancel(reason string, now time.Time) error {
	if b.Status.Terminal() {
		return b.invalid(StatusCancelled)
	}
	b.CancelledFrom = b.Status
	b.transition(StatusCancelled, now)
	refund := money.Money{Currency: b.Deposit.Currency}
	if b.DepositPaid {
		refund = b.Deposit
	}
	b.Record(BookingCancelled{
		BookingID: b.ID,
		RoomID:    b.RoomID,
		From:      b.CancelledFrom,
		Refund:    refund,
		Reason:    reason,
		At:        b.UpdatedAt,
	})
	return nil
}

// Balance is the amount still owed at checkout.
func (b *Booking) Balance() money.Money {
	if !b.DepositPaid {
		return b.Total
	}
	balance, err := b.Total.Sub(b.Deposit)
	if err != nil {
		return b.Total
	}
	return balance
}

// Clone copies the booking without its pending events.
func (b *Booking) Clone() *Booking {
	out := *b
	out.EventRecorder = events.EventRecorder{}
	return &out
}

func (b *Booking) transition(to Status, now time.Time) {
	b.Status = to
	b.touch(now)
}

func (b *Booking) touch(now time.Time) {
	b.UpdatedAt = now.UTC()
}

func (b *Booking) invalid(to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, to)
}
