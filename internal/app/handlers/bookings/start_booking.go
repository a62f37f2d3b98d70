package bookings

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"hotelsaga/internal/app/commands"
	"hotelsaga/internal/app/middleware"
	"hotelsaga/internal/app/saga"
	domainbooking "hotelsaga/internal/domain/booking"
	"hotelsaga/internal/domain/shared/money"
)

const startBookingKey = "booking.start"

type StartBookingCommand struct {
	BookingID       string
	CustomerID      string
	RoomID          string
	Deposit         int64
	Total           int64
	Currency        string
	IdempotencyKeyV string
}

func (c StartBookingCommand) Key() string { return startBookingKey }

func (c StartBookingCommand) IdempotencyKey() string { return c.IdempotencyKeyV }

func (c StartBookingCommand) ResultPrototype() any { return &StartBookingResult{} }

func (c StartBookingCommand) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.BookingID, is.UUID),
		validation.Field(&c.CustomerID, validation.Required, validation.Length(1, 128)),
		validation.Field(&c.RoomID, validation.Required, validation.Length(1, 128)),
		validation.Field(&c.Deposit, validation.Min(int64(0)), validation.Max(c.Total)),
		validation.Field(&c.Total, validation.Required, validation.Min(int64(1))),
		validation.Field(&c.Currency, validation.Required, validation.Length(3, 3), is.UpperCase),
	)
}

type StartBookingResult struct {
	SagaID    string `json:"saga_id"`
	BookingID string `json:"booking_id"`
	Status    string `json:"status"`
}

type StartBookingHandler struct {
	Saga *saga.Helper
}

func (h *StartBookingHandler) Handle(ctx context.Context, cmd StartBookingCommand) (StartBookingResult, error) {
	deposit, err := money.New(cmd.Deposit, cmd.Currency)
	if err != nil {
		return StartBookingResult{}, err
	}
	total, err := money.New(cmd.Total, cmd.Currency)
	if err != nil {
		return StartBookingResult{}, err
	}
	row, err := h.Saga.Start(ctx, saga.StartParams{
		BookingID:  domainbooking.BookingID(cmd.BookingID),
		CustomerID: cmd.CustomerID,
		RoomID:     cmd.RoomID,
		Deposit:    deposit,
		Total:      total,
	})
	if err != nil {
		return StartBookingResult{}, err
	}
	return StartBookingResult{
		SagaID:    string(row.SagaID),
		BookingID: string(row.BookingID),
		Status:    string(row.BookingStatus),
	}, nil
}

var _ commands.Handler[StartBookingCommand, StartBookingResult] = (*StartBookingHandler)(nil)
var _ middleware.IdempotentCommand = StartBookingCommand{}
