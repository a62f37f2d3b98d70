package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"hotelsaga/internal/app/outbox"
	"hotelsaga/internal/app/uow"
	domainbooking "hotelsaga/internal/domain/booking"
	domainsaga "hotelsaga/internal/domain/saga"
	"hotelsaga/internal/domain/shared/money"
)

var ErrHelperNotConfigured = errors.New("saga: helper not configured")

// Helper is the shared transaction and guard machinery used by every step.
type Helper struct {
	factory uow.UoWFactory
	encoder outbox.EventEncoder
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

type HelperOption func(*Helper)

func WithLogger(logger *slog.Logger) HelperOption {
	return func(h *Helper) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func WithClock(now func() time.Time) HelperOption {
	return func(h *Helper) {
		if now != nil {
			h.now = now
		}
	}
}

func WithIDGenerator(gen func() string) HelperOption {
	return func(h *Helper) {
		if gen != nil {
			h.newID = gen
		}
	}
}

func WithEncoder(enc outbox.EventEncoder) HelperOption {
	return func(h *Helper) {
		if enc != nil {
			h.encoder = enc
		}
	}
}

func NewHelper(factory uow.UoWFactory, opts ...HelperOption) (*Helper, error) {
	if factory == nil {
		return nil, ErrHelperNotConfigured
	}
	h := &Helper{
		factory: factory,
		encoder: outbox.JSONEventEncoder{},
		logger:  slog.Default(),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// FindBySagaAndStatus returns the newest row of step in one of statuses.
func (h *Helper) FindBySagaAndStatus(ctx context.Context, sagaID domainsaga.SagaID, step domainsaga.StepType, statuses ...domainsaga.SagaStatus) (*domainsaga.OutboxMessage, error) {
	var found *domainsaga.OutboxMessage
	err := uow.Run(ctx, h.factory, uow.TxOptions{ReadOnly: true}, func(ctx context.Context, unit uow.UnitOfWork) error {
		row, err := unit.Outbox().FindBySagaAndStatus(ctx, sagaID, step, statuses...)
		if err != nil {
			return err
		}
		found = row
		return nil
	})
	return found, err
}

// Run loads every row of the saga.
func (h *Helper) Run(ctx context.Context, sagaID domainsaga.SagaID) (domainsaga.Run, error) {
	var rows []*domainsaga.OutboxMessage
	err := uow.Run(ctx, h.factory, uow.TxOptions{ReadOnly: true}, func(ctx context.Context, unit uow.UnitOfWork) error {
		var err error
		rows, err = unit.Outbox().BySaga(ctx, sagaID)
		return err
	})
	if err != nil {
		return domainsaga.Run{}, err
	}
	return domainsaga.NewRun(sagaID, rows), nil
}

// Advance builds the STARTED row of the next step, carrying the saga and
// booking of current.
func (h *Helper) Advance(current *domainsaga.OutboxMessage, next domainsaga.StepType) *domainsaga.OutboxMessage {
	now := h.now()
	return &domainsaga.OutboxMessage{
		ID:            h.newID(),
		SagaID:        current.SagaID,
		BookingID:     current.BookingID,
		Step:          next,
		SagaStatus:    domainsaga.SagaStarted,
		OutboxStatus:  domainsaga.OutboxStarted,
		NextAttemptAt: now,
		CreatedAt:     now,
	}
}

// WriteOutbox runs fn in one unit of work. The booking named by msg is loaded
// (and locked where the store supports it) before fn runs; a message for an
// unknown booking has no row to guard on and is skipped. On success the
// booking and every row touched by fn are persisted together.
func (h *Helper) WriteOutbox(ctx context.Context, step domainsaga.StepType, op Op, msg domainsaga.Message, fn func(tx *Tx) error) error {
	logger := h.logger.With(
		slog.String("saga_id", string(msg.SagaID)),
		slog.String("booking_id", string(msg.BookingID)),
		slog.String("step", string(step)),
		slog.String("op", string(op)),
		slog.String("status", string(msg.Status)),
	)
	err := uow.Run(ctx, h.factory, uow.TxOptions{}, func(ctx context.Context, unit uow.UnitOfWork) error {
		tx := &Tx{ctx: ctx, unit: unit, helper: h, msg: msg, now: h.now()}
		b, err := unit.Bookings().ByID(ctx, msg.BookingID)
		if errors.Is(err, domainbooking.ErrBookingNotFound) {
			return fmt.Errorf("%w: booking %s not found", ErrSkip, msg.BookingID)
		}
		if err != nil {
			return fmt.Errorf("load booking: %w", err)
		}
		tx.booking = b
		if err := fn(tx); err != nil {
			return err
		}
		return tx.flush()
	})
	switch {
	case err == nil:
		logger.Info("saga step applied")
		return nil
	case errors.Is(err, ErrSkip):
		logger.Debug("saga step skipped", slog.String("reason", err.Error()))
		return nil
	case isBusiness(err):
		logger.Warn("saga step rejected", slog.Any("error", err))
		return &BusinessError{Step: step, Op: op, Err: err}
	default:
		logger.Error("saga step failed", slog.Any("error", err))
		return err
	}
}

type StartParams struct {
	BookingID  domainbooking.BookingID
	SagaID     domainsaga.SagaID
	CustomerID string
	RoomID     string
	Deposit    money.Money
	Total      money.Money
}

// Start creates the PENDING booking and the RESERVE_ROOM command row in one
// transaction.
func (h *Helper) Start(ctx context.Context, params StartParams) (*domainsaga.OutboxMessage, error) {
	if params.BookingID == "" {
		params.BookingID = domainbooking.BookingID(h.newID())
	}
	if params.SagaID == "" {
		params.SagaID = domainsaga.SagaID(h.newID())
	}
	b, err := domainbooking.NewBooking(domainbooking.CreateParams{
		ID:         params.BookingID,
		CustomerID: params.CustomerID,
		RoomID:     params.RoomID,
		Deposit:    params.Deposit,
		Total:      params.Total,
		CreatedAt:  h.now(),
	})
	if err != nil {
		return nil, err
	}
	ev, _ := b.LastEvent()
	payload, err := h.encoder.Encode(ev)
	if err != nil {
		return nil, err
	}
	row := h.Advance(&domainsaga.OutboxMessage{SagaID: params.SagaID, BookingID: b.ID}, domainsaga.StepReserveRoom)
	row.Service = domainsaga.ServiceRoom
	row.Command = domainsaga.CommandReserveRoom
	row.Payload = payload
	row.BookingStatus = b.Status

	err = uow.Run(ctx, h.factory, uow.TxOptions{}, func(ctx context.Context, unit uow.UnitOfWork) error {
		if _, err := unit.Bookings().ByID(ctx, b.ID); err == nil {
			return fmt.Errorf("%w: %s", ErrBookingExists, b.ID)
		} else if !errors.Is(err, domainbooking.ErrBookingNotFound) {
			return err
		}
		if err := unit.Bookings().Save(ctx, b); err != nil {
			return fmt.Errorf("save booking: %w", err)
		}
		return unit.Outbox().Save(ctx, row)
	})
	if err != nil {
		return nil, err
	}
	b.ClearEvents()
	h.logger.Info("saga started",
		slog.String("saga_id", string(row.SagaID)),
		slog.String("booking_id", string(row.BookingID)),
		slog.String("command", string(row.Command)),
	)
	return row, nil
}
