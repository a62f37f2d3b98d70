package booking

import (
	"time"

	"hotelsaga/internal/domain/shared/money"
)

type BookingRequested struct {
	BookingID  BookingID   `json:"booking_id"`
	CustomerID string      `json:"customer_id"`
	RoomID     string      `json:"room_id"`
	Deposit    money.Money `json:"deposit"`
	Total      money.Money `json:"total"`
	At         time.Time   `json:"at"`
}

func (e BookingRequested) EventName() string     { return "booking.requested" }
func (e BookingRequested) AggregateID() string   { return string(e.BookingID) }
func (e BookingRequested) OccurredAt() time.Time { return e.At }

type RoomReserved struct {
	BookingID BookingID   `json:"booking_id"`
	RoomID    string      `json:"room_id"`
	Deposit   money.Money `json:"deposit"`
	At        time.Time   `json:"at"`
}

func (e RoomReserved) EventName() string     { return "booking.room_reserved" }
func (e RoomReserved) AggregateID() string   { return string(e.BookingID) }
func (e RoomReserved) OccurredAt() time.Time { return e.At }

type RoomReservationReverted struct {
	BookingID BookingID `json:"booking_id"`
	RoomID    string    `json:"room_id"`
	At        time.Time `json:"at"`
}

func (e RoomReservationReverted) EventName() string     { return "booking.room_reservation_reverted" }
func (e RoomReservationReverted) AggregateID() string   { return string(e.BookingID) }
func (e RoomReservationReverted) OccurredAt() time.Time { return e.At }

type DepositPaid struct {
	BookingID BookingID   `json:"booking_id"`
	Amount    money.Money `json:"amount"`
	At        time.Time   `json:"at"`
}

func (e DepositPaid) EventName() string     { return "booking.deposit_paid" }
func (e DepositPaid) AggregateID() string   { return string(e.BookingID) }
func (e DepositPaid) OccurredAt() time.Time { return e.At }

type DepositRefunded struct {
	BookingID BookingID   `json:"booking_id"`
	Amount    money.Money `json:"amount"`
	At        time.Time   `json:"at"`
}

func (e DepositRefunded) EventName() string     { return "booking.deposit_refunded" }
func (e DepositRefunded) AggregateID() string   { return string(e.BookingID) }
func (e DepositRefunded) OccurredAt() time.Time { return e.At }

type CheckedIn struct {
	BookingID  BookingID `json:"booking_id"`
	RoomID     string    `json:"room_id"`
	CustomerID string    `json:"customer_id"`
	At         time.Time `json:"at"`
}

func (e CheckedIn) EventName() string     { return "booking.checked_in" }
func (e CheckedIn) AggregateID() string   { return string(e.BookingID) }
func (e CheckedIn) OccurredAt() time.Time { return e.At }

type CheckInReverted struct {
	BookingID  BookingID `json:"booking_id"`
	CustomerID string    `json:"customer_id"`
	At         time.Time `json:"at"`
}

func (e CheckInReverted) EventName() string     { return "booking.check_in_reverted" }
func (e CheckInReverted) AggregateID() string   { return string(e.BookingID) }
func (e CheckInReverted) OccurredAt() time.Time { return e.At }

type CheckedOut struct {
	BookingID BookingID   `json:"booking_id"`
	Balance   money.Money `json:"balance"`
	At        time.Time   `json:"at"`
}

func (e CheckedOut) EventName() string     { return "booking.checked_out" }
func (e CheckedOut) AggregateID() string   { return string(e.BookingID) }
func (e CheckedOut) OccurredAt() time.Time { return e.At }

type CheckOutReverted struct {
	BookingID BookingID   `json:"booking_id"`
	Balance   money.Money `json:"balance"`
	At        time.Time   `json:"at"`
}

func (e CheckOutReverted) EventName() string     { return "booking.check_out_reverted" }
func (e CheckOutReverted) AggregateID() string   { return string(e.BookingID) }
func (e CheckOutReverted) OccurredAt() time.Time { return e.At }

type BookingCompleted struct {
	BookingID BookingID   `json:"booking_id"`
	Total     money.Money `json:"total"`
	At        time.Time   `json:"at"`
}

func (e BookingCompleted) EventName() string     { return "booking.completed" }
func (e BookingCompleted) AggregateID() string   { return string(e.BookingID) }
func (e BookingCompleted) OccurredAt() time.Time { return e.At }

type BookingCancelled struct {
	BookingID BookingID   `json:"booking_id"`
	RoomID    string      `json:"room_id"`
	From      Status      `json:"from"`
	Refund    money.Money `json:"refund"`
	Reason    string      `json:"reason,omitempty"`
	At        time.Time   `json:"at"`
}

func (e BookingCancelled) EventName() string     { return "booking.cancelled" }
func (e BookingCancelled) AggregateID() string   { return string(e.BookingID) }
func (e BookingCancelled) OccurredAt() time.Time { return e.At }
