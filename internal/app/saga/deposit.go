package saga

import (
	"context"

	domainbooking "hotelsaga/internal/domain/booking"
	domainsaga "hotelsaga/internal/domain/saga"
)

// DepositStep records the captured deposit and handles its failure or refund.
type DepositStep struct {
	helper *Helper
}

func NewDepositStep(h *Helper) *DepositStep {
	return &DepositStep{helper: h}
}

func (s *DepositStep) Type() domainsaga.StepType { return domainsaga.StepDeposit }

func (s *DepositStep) Process(ctx context.Context, msg domainsaga.Message) error {
	return s.helper.WriteOutbox(ctx, s.Type(), OpProcess, msg, func(tx *Tx) error {
		row, err := tx.Guard(domainsaga.StepDeposit, domainsaga.SagaStarted)
		if err != nil {
			return err
		}
		b, err := tx.Require(domainbooking.StatusConfirmed)
		if err != nil {
			return err
		}
		if err := b.PayDeposit(tx.Now()); err != nil {
			return err
		}
		tx.Mark(row, domainsaga.SagaProcessing)
		room, ok, err := tx.Find(domainsaga.StepReserveRoom, domainsaga.SagaProcessing)
		if err != nil {
			return err
		}
		if ok {
			tx.Mark(room, domainsaga.SagaSucceeded)
		}
		return nil
	})
}

func (s *DepositStep) Rollback(ctx context.Context, msg domainsaga.Message) error {
	return s.helper.WriteOutbox(ctx, s.Type(), OpRollback, msg, func(tx *Tx) error {
		row, err := tx.Guard(domainsaga.StepDeposit,
			domainsaga.SagaStarted, domainsaga.SagaProcessing, domainsaga.SagaCompensating)
		if err != nil {
			return err
		}
		b := tx.Booking()
		applied := row.SagaStatus != domainsaga.SagaStarted
		compensating := row.SagaStatus == domainsaga.SagaCompensating
		refunded := false
		if applied && b.DepositPaid {
			if err := b.RefundDeposit(tx.Now()); err != nil {
				return err
			}
			refunded = true
		}
		tx.Mark(row, domainsaga.SagaCompensated)
		if !applied || compensating {
			return nil
		}
		if refunded && msg.Status == domainsaga.ReplyDepositFailed {
			if err := tx.Emit(row, domainsaga.CommandRefundDeposit, tx.LastEvent()); err != nil {
				return err
			}
		}
		return demote(tx, domainsaga.StepReserveRoom)
	})
}

// demote returns a predecessor to PROCESSING after its successor was
// compensated, so it can be compensated in turn.
func demote(tx *Tx, step domainsaga.StepType) error {
	if tx.Booking().Status == domainbooking.StatusCancelled {
		return nil
	}
	prev, ok, err := tx.Find(step, domainsaga.SagaSucceeded)
	if err != nil || !ok {
		return err
	}
	tx.Mark(prev, domainsaga.SagaProcessing)
	return nil
}
