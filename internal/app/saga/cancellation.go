package saga

import (
	"context"
	"encoding/json"
	"fmt"

	domainbooking "hotelsaga/internal/domain/booking"
	domainsaga "hotelsaga/internal/domain/saga"
)

// CancellationStep cancels the booking on guest request, releases the room and
// refunds a paid deposit.
type CancellationStep struct {
	helper *Helper
}

func NewCancellationStep(h *Helper) *CancellationStep {
	return &CancellationStep{helper: h}
}

func (s *CancellationStep) Type() domainsaga.StepType { return domainsaga.StepCancellation }

func (s *CancellationStep) Process(ctx context.Context, msg domainsaga.Message) error {
	return s.helper.WriteOutbox(ctx, s.Type(), OpProcess, msg, func(tx *Tx) error {
		switch msg.Status {
		case domainsaga.ReplyCancelRequested:
			return s.cancel(tx)
		case domainsaga.ReplyReleased:
			return s.released(tx)
		default:
			return fmt.Errorf("%w: %s %s", ErrUnsupported, s.Type(), msg.Status)
		}
	})
}

func (s *CancellationStep) cancel(tx *Tx) error {
	all := domainsaga.AllSagaStatuses()
	if _, err := tx.Guard(domainsaga.StepReserveRoom, all...); err != nil {
		return err
	}
	if err := tx.Absent(domainsaga.StepCancellation, all...); err != nil {
		return err
	}
	b := tx.Booking()
	if b.Status.Terminal() {
		return precondition(b, domainbooking.StatusPending, domainbooking.StatusConfirmed,
			domainbooking.StatusCheckedIn, domainbooking.StatusCheckedOut)
	}
	paid := b.DepositPaid
	if err := b.Cancel(cancelReason(tx.Message().Payload), tx.Now()); err != nil {
		return err
	}
	cancelled := tx.LastEvent()
	row, err := tx.Open(domainsaga.StepCancellation, domainsaga.SagaCompensating)
	if err != nil {
		return err
	}
	if err := tx.Emit(row, domainsaga.CommandReleaseRoom, cancelled); err != nil {
		return err
	}
	if !paid {
		return nil
	}
	deposit, ok, err := tx.Find(domainsaga.StepDeposit, domainsaga.SagaProcessing, domainsaga.SagaSucceeded)
	if err != nil || !ok {
		return err
	}
	tx.Mark(deposit, domainsaga.SagaCompensating)
	return tx.Emit(deposit, domainsaga.CommandRefundDeposit, cancelled)
}

func (s *CancellationStep) released(tx *Tx) error {
	row, err := tx.Guard(domainsaga.StepCancellation, domainsaga.SagaCompensating)
	if err != nil {
		return err
	}
	if _, err := tx.Require(domainbooking.StatusCancelled); err != nil {
		return err
	}
	tx.Mark(row, domainsaga.SagaCompensated)
	return nil
}

// Rollback records that the room service could not release the room. The
// booking stays cancelled; the row is left FAILED for an operator.
func (s *CancellationStep) Rollback(ctx context.Context, msg domainsaga.Message) error {
	return s.helper.WriteOutbox(ctx, s.Type(), OpRollback, msg, func(tx *Tx) error {
		row, err := tx.Guard(domainsaga.StepCancellation, domainsaga.SagaCompensating)
		if err != nil {
			return err
		}
		tx.Mark(row, domainsaga.SagaFailed)
		return nil
	})
}

func cancelReason(payload []byte) string {
	var body struct {
		Reason string `json:"reason"`
	}
	if len(payload) == 0 || json.Unmarshal(payload, &body) != nil {
		return ""
	}
	return body.Reason
}
