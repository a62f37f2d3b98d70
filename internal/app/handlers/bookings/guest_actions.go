package bookings

import (
	"context"
	"encoding/json"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"hotelsaga/internal/app/dto"
	"hotelsaga/internal/app/uow"
	domainbooking "hotelsaga/internal/domain/booking"
	domainsaga "hotelsaga/internal/domain/saga"
)

const (
	requestCheckOutKey = "booking.checkout"
	cancelBookingKey   = "booking.cancel"
)

// Dispatcher routes a guest action to its saga step.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg domainsaga.Message) error
}

type RequestCheckOutCommand struct {
	SagaID string
}

func (c RequestCheckOutCommand) Key() string { return requestCheckOutKey }

func (c RequestCheckOutCommand) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.SagaID, validation.Required, is.UUID),
	)
}

type CancelBookingCommand struct {
	SagaID string
	Reason string
}

func (c CancelBookingCommand) Key() string { return cancelBookingKey }

func (c CancelBookingCommand) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.SagaID, validation.Required, is.UUID),
		validation.Field(&c.Reason, validation.Length(0, 512)),
	)
}

// GuestActionHandler turns guest requests into saga messages and returns the
// saga as it stands afterwards.
type GuestActionHandler struct {
	UoWFactory uow.UoWFactory
	Dispatcher Dispatcher
}

func (h *GuestActionHandler) CheckOut(ctx context.Context, cmd RequestCheckOutCommand) (dto.SagaView, error) {
	return h.act(ctx, domainsaga.SagaID(cmd.SagaID), domainsaga.StepCheckOut, domainsaga.ReplyCheckoutRequested, nil)
}

func (h *GuestActionHandler) Cancel(ctx context.Context, cmd CancelBookingCommand) (dto.SagaView, error) {
	payload, err := json.Marshal(map[string]string{"reason": cmd.Reason})
	if err != nil {
		return dto.SagaView{}, err
	}
	return h.act(ctx, domainsaga.SagaID(cmd.SagaID), domainsaga.StepCancellation, domainsaga.ReplyCancelRequested, payload)
}

func (h *GuestActionHandler) act(ctx context.Context, sagaID domainsaga.SagaID, step domainsaga.StepType, status domainsaga.ReplyStatus, payload []byte) (dto.SagaView, error) {
	before, err := loadSaga(ctx, h.UoWFactory, sagaID)
	if err != nil {
		return dto.SagaView{}, err
	}
	if before.Booking == nil {
		return dto.SagaView{}, fmt.Errorf("%w: %s has no booking", ErrSagaNotFound, sagaID)
	}
	err = h.Dispatcher.Dispatch(ctx, domainsaga.Message{
		SagaID:    sagaID,
		BookingID: domainbooking.BookingID(before.Booking.ID),
		Step:      step,
		Status:    status,
		Source:    domainsaga.SourceGuest,
		Payload:   payload,
	})
	if err != nil {
		return dto.SagaView{}, err
	}
	return loadSaga(ctx, h.UoWFactory, sagaID)
}
