package bookings

import (
	"context"
	"errors"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"hotelsaga/internal/app/commands"
	"hotelsaga/internal/app/dto"
	"hotelsaga/internal/app/queries"
	domainsaga "hotelsaga/internal/domain/saga"
)

var ErrOutboxNotFound = errors.New("bookings: failed outbox message not found")

const (
	listFailedKey    = "outbox.failed"
	requeueOutboxKey = "outbox.requeue"
	defaultListLimit = 100
)

type ListFailedQuery struct {
	Limit int
}

func (q ListFailedQuery) Key() string { return listFailedKey }

func (q ListFailedQuery) Validate() error {
	return validation.ValidateStruct(&q,
		validation.Field(&q.Limit, validation.Min(0), validation.Max(500)),
	)
}

type ListFailedHandler struct {
	Store domainsaga.DispatchStore
}

func (h *ListFailedHandler) Handle(ctx context.Context, q ListFailedQuery) (dto.OutboxCollection, error) {
	limit := q.Limit
	if limit == 0 {
		limit = defaultListLimit
	}
	rows, err := h.Store.Failed(ctx, limit)
	if err != nil {
		return dto.OutboxCollection{}, err
	}
	return dto.OutboxCollection{Items: dto.MapOutboxRows(rows)}, nil
}

// RequeueOutboxCommand hands a FAILED row back to the relay with a fresh
// attempt budget.
type RequeueOutboxCommand struct {
	OutboxID string
}

func (c RequeueOutboxCommand) Key() string { return requeueOutboxKey }

func (c RequeueOutboxCommand) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.OutboxID, validation.Required),
	)
}

type RequeueOutboxHandler struct {
	Store domainsaga.DispatchStore
	Now   func() time.Time
}

func (h *RequeueOutboxHandler) Handle(ctx context.Context, cmd RequeueOutboxCommand) (dto.OutboxRow, error) {
	now := time.Now().UTC()
	if h.Now != nil {
		now = h.Now()
	}
	row, err := h.Store.Requeue(ctx, cmd.OutboxID, now)
	if errors.Is(err, domainsaga.ErrOutboxNotFound) {
		return dto.OutboxRow{}, fmt.Errorf("%w: %s", ErrOutboxNotFound, cmd.OutboxID)
	}
	if err != nil {
		return dto.OutboxRow{}, err
	}
	return dto.MapOutboxRow(row), nil
}

var _ queries.Handler[ListFailedQuery, dto.OutboxCollection] = (*ListFailedHandler)(nil)
var _ commands.Handler[RequeueOutboxCommand, dto.OutboxRow] = (*RequeueOutboxHandler)(nil)
