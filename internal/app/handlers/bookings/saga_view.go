package bookings

import (
	"context"
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"hotelsaga/internal/app/dto"
	"hotelsaga/internal/app/queries"
	"hotelsaga/internal/app/uow"
	domainbooking "hotelsaga/internal/domain/booking"
	domainsaga "hotelsaga/internal/domain/saga"
)

var ErrSagaNotFound = errors.New("bookings: saga not found")

const getSagaKey = "booking.saga"

type GetSagaQuery struct {
	SagaID string
}

func (q GetSagaQuery) Key() string { return getSagaKey }

func (q GetSagaQuery) Validate() error {
	return validation.ValidateStruct(&q,
		validation.Field(&q.SagaID, validation.Required, is.UUID),
	)
}

type GetSagaHandler struct {
	UoWFactory uow.UoWFactory
}

func (h *GetSagaHandler) Handle(ctx context.Context, q GetSagaQuery) (dto.SagaView, error) {
	return loadSaga(ctx, h.UoWFactory, domainsaga.SagaID(q.SagaID))
}

// loadSaga reads the rows and booking of a saga in one read-only unit.
func loadSaga(ctx context.Context, factory uow.UoWFactory, sagaID domainsaga.SagaID) (dto.SagaView, error) {
	var view dto.SagaView
	err := uow.Run(ctx, factory, uow.TxOptions{ReadOnly: true}, func(ctx context.Context, unit uow.UnitOfWork) error {
		rows, err := unit.Outbox().BySaga(ctx, sagaID)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return fmt.Errorf("%w: %s", ErrSagaNotFound, sagaID)
		}
		run := domainsaga.NewRun(sagaID, rows)
		b, err := unit.Bookings().ByID(ctx, run.BookingID())
		if err != nil && !errors.Is(err, domainbooking.ErrBookingNotFound) {
			return err
		}
		view = dto.MapSaga(run, b)
		return nil
	})
	return view, err
}

var _ queries.Handler[GetSagaQuery, dto.SagaView] = (*GetSagaHandler)(nil)
