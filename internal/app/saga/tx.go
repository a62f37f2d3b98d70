package saga

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"hotelsaga/internal/app/uow"
	domainbooking "hotelsaga/internal/domain/booking"
	domainsaga "hotelsaga/internal/domain/saga"
	"hotelsaga/internal/domain/shared/events"
)

// Tx is the view a step gets of its transaction. Row changes are staged and
// written after the booking when the step returns nil.
type Tx struct {
	ctx     context.Context
	unit    uow.UnitOfWork
	helper  *Helper
	msg     domainsaga.Message
	now     time.Time
	booking *domainbooking.Booking
	writes  []*domainsaga.OutboxMessage
	armed   []*domainsaga.OutboxMessage
}

func (tx *Tx) Context() context.Context { return tx.ctx }

func (tx *Tx) Now() time.Time { return tx.now }

func (tx *Tx) Message() domainsaga.Message { return tx.msg }

func (tx *Tx) Booking() *domainbooking.Booking { return tx.booking }

// Require returns the booking when its status is one of want.
func (tx *Tx) Require(want ...domainbooking.Status) (*domainbooking.Booking, error) {
	if !slices.Contains(want, tx.booking.Status) {
		return nil, precondition(tx.booking, want...)
	}
	return tx.booking, nil
}

// Find returns the newest row of step in one of statuses, preferring rows
// already changed in this transaction.
func (tx *Tx) Find(step domainsaga.StepType, statuses ...domainsaga.SagaStatus) (*domainsaga.OutboxMessage, bool, error) {
	for i := len(tx.writes) - 1; i >= 0; i-- {
		if w := tx.writes[i]; w.Step == step && w.HasStatus(statuses...) {
			return w, true, nil
		}
	}
	row, err := tx.unit.Outbox().FindBySagaAndStatus(tx.ctx, tx.msg.SagaID, step, statuses...)
	if errors.Is(err, domainsaga.ErrOutboxNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("find %s outbox: %w", step, err)
	}
	if tx.staged(row.ID) != nil {
		return nil, false, nil
	}
	if row.BookingID != tx.msg.BookingID {
		return nil, false, fmt.Errorf("%w: row %s has booking %s, message has %s", ErrBookingMismatch, row.ID, row.BookingID, tx.msg.BookingID)
	}
	return row, true, nil
}

// Guard is Find that aborts the step with ErrSkip when no row matches.
func (tx *Tx) Guard(step domainsaga.StepType, statuses ...domainsaga.SagaStatus) (*domainsaga.OutboxMessage, error) {
	row, ok, err := tx.Find(step, statuses...)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: no %s row in %v", ErrSkip, step, statuses)
	}
	return row, nil
}

// Absent aborts the step with ErrSkip when step already has a row in one of
// statuses.
func (tx *Tx) Absent(step domainsaga.StepType, statuses ...domainsaga.SagaStatus) error {
	row, ok, err := tx.Find(step, statuses...)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("%w: %s row %s already %s", ErrSkip, step, row.ID, row.SagaStatus)
	}
	return nil
}

// Rows lists every row of the saga with staged changes applied.
func (tx *Tx) Rows() ([]*domainsaga.OutboxMessage, error) {
	stored, err := tx.unit.Outbox().BySaga(tx.ctx, tx.msg.SagaID)
	if err != nil {
		return nil, fmt.Errorf("list outbox: %w", err)
	}
	out := make([]*domainsaga.OutboxMessage, 0, len(stored)+len(tx.writes))
	for _, row := range stored {
		if staged := tx.staged(row.ID); staged != nil {
			out = append(out, staged)
			continue
		}
		out = append(out, row)
	}
	for _, w := range tx.writes {
		if w.Version == 0 {
			out = append(out, w)
		}
	}
	return out, nil
}

// Mark moves row to status and stages it.
func (tx *Tx) Mark(row *domainsaga.OutboxMessage, status domainsaga.SagaStatus) {
	row.SagaStatus = status
	processed := tx.now
	row.ProcessedAt = &processed
	tx.stage(row)
}

// Emit arms row with cmd so the relay dispatches it, carrying ev as payload.
func (tx *Tx) Emit(row *domainsaga.OutboxMessage, cmd domainsaga.Command, ev events.DomainEvent) error {
	svc, err := cmd.Target()
	if err != nil {
		return err
	}
	payload, err := tx.helper.encoder.Encode(ev)
	if err != nil {
		return err
	}
	row.Service = svc
	row.Command = cmd
	row.Payload = payload
	row.OutboxStatus = domainsaga.OutboxStarted
	row.Attempts = 0
	row.NextAttemptAt = tx.now
	row.LastError = ""
	row.ClaimedBy = ""
	row.ClaimedAt = time.Time{}
	tx.stage(row)
	if !slices.Contains(tx.armed, row) {
		tx.armed = append(tx.armed, row)
	}
	return nil
}

// Open creates a new row for step in status. A step has at most one live row.
func (tx *Tx) Open(step domainsaga.StepType, status domainsaga.SagaStatus) (*domainsaga.OutboxMessage, error) {
	live, ok, err := tx.Find(step, domainsaga.LiveSagaStatuses()...)
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, fmt.Errorf("%w: %s row %s is %s", domainsaga.ErrDuplicateLiveStep, step, live.ID, live.SagaStatus)
	}
	row := tx.helper.Advance(&domainsaga.OutboxMessage{SagaID: tx.msg.SagaID, BookingID: tx.msg.BookingID}, step)
	row.CreatedAt = tx.now
	row.NextAttemptAt = tx.now
	row.OutboxStatus = domainsaga.OutboxCompleted
	tx.Mark(row, status)
	if status == domainsaga.SagaStarted {
		row.ProcessedAt = nil
	}
	return row, nil
}

// Advance opens the STARTED row of next and arms it with cmd.
func (tx *Tx) Advance(current *domainsaga.OutboxMessage, next domainsaga.StepType, cmd domainsaga.Command, ev events.DomainEvent) (*domainsaga.OutboxMessage, error) {
	if current.SagaID != tx.msg.SagaID {
		return nil, fmt.Errorf("saga: advance across sagas %s and %s", current.SagaID, tx.msg.SagaID)
	}
	row, err := tx.Open(next, domainsaga.SagaStarted)
	if err != nil {
		return nil, err
	}
	if err := tx.Emit(row, cmd, ev); err != nil {
		return nil, err
	}
	return row, nil
}

// LastEvent returns the event recorded by the latest booking mutation.
func (tx *Tx) LastEvent() events.DomainEvent {
	ev, _ := tx.booking.LastEvent()
	return ev
}

func (tx *Tx) stage(row *domainsaga.OutboxMessage) {
	if slices.Contains(tx.writes, row) {
		return
	}
	tx.writes = append(tx.writes, row)
}

func (tx *Tx) staged(id string) *domainsaga.OutboxMessage {
	for _, w := range tx.writes {
		if w.ID == id {
			return w
		}
	}
	return nil
}

func (tx *Tx) flush() error {
	if len(tx.booking.PendingEvents()) > 0 {
		if err := tx.unit.Bookings().Save(tx.ctx, tx.booking); err != nil {
			return fmt.Errorf("save booking: %w", err)
		}
		tx.booking.ClearEvents()
	}
	for _, row := range tx.writes {
		inserted := row.Version == 0
		row.BookingStatus = tx.booking.Status
		if err := tx.unit.Outbox().Save(tx.ctx, row); err != nil {
			return fmt.Errorf("save %s outbox: %w", row.Step, err)
		}
		if inserted || !slices.Contains(tx.armed, row) {
			continue
		}
		if err := tx.unit.Outbox().Rearm(tx.ctx, row); err != nil {
			return fmt.Errorf("rearm %s outbox: %w", row.Step, err)
		}
	}
	return nil
}
