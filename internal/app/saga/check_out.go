package saga

import (
	"context"
	"fmt"

	domainbooking "hotelsaga/internal/domain/booking"
	domainsaga "hotelsaga/internal/domain/saga"
)

// CheckOutStep checks the guest out on request, charges the balance and
// settles the saga once the final payment is confirmed.
type CheckOutStep struct {
	helper *Helper
}

func NewCheckOutStep(h *Helper) *CheckOutStep {
	return &CheckOutStep{helper: h}
}

func (s *CheckOutStep) Type() domainsaga.StepType { return domainsaga.StepCheckOut }

func (s *CheckOutStep) Process(ctx context.Context, msg domainsaga.Message) error {
	return s.helper.WriteOutbox(ctx, s.Type(), OpProcess, msg, func(tx *Tx) error {
		switch msg.Status {
		case domainsaga.ReplyCheckoutRequested:
			return s.checkOut(tx)
		case domainsaga.ReplyFinalPaid:
			return s.settle(tx)
		default:
			return fmt.Errorf("%w: %s %s", ErrUnsupported, s.Type(), msg.Status)
		}
	})
}

func (s *CheckOutStep) checkOut(tx *Tx) error {
	checkIn, err := tx.Guard(domainsaga.StepCheckIn, domainsaga.SagaProcessing, domainsaga.SagaSucceeded)
	if err != nil {
		return err
	}
	if err := tx.Absent(domainsaga.StepCheckOut, domainsaga.SagaProcessing, domainsaga.SagaSucceeded); err != nil {
		return err
	}
	b, err := tx.Require(domainbooking.StatusCheckedIn)
	if err != nil {
		return err
	}
	if err := b.CheckOut(tx.Now()); err != nil {
		return err
	}
	row, err := tx.Open(domainsaga.StepCheckOut, domainsaga.SagaProcessing)
	if err != nil {
		return err
	}
	if err := tx.Emit(row, domainsaga.CommandChargeFinalPayment, tx.LastEvent()); err != nil {
		return err
	}
	tx.Mark(checkIn, domainsaga.SagaSucceeded)
	return nil
}

func (s *CheckOutStep) settle(tx *Tx) error {
	if _, err := tx.Guard(domainsaga.StepCheckOut, domainsaga.SagaProcessing); err != nil {
		return err
	}
	b, err := tx.Require(domainbooking.StatusCheckedOut)
	if err != nil {
		return err
	}
	if err := b.Complete(tx.Now()); err != nil {
		return err
	}
	rows, err := tx.Rows()
	if err != nil {
		return err
	}
	for _, row := range rows {
		if row.SagaStatus == domainsaga.SagaProcessing {
			tx.Mark(row, domainsaga.SagaSucceeded)
		}
	}
	return nil
}

func (s *CheckOutStep) Rollback(ctx context.Context, msg domainsaga.Message) error {
	return s.helper.WriteOutbox(ctx, s.Type(), OpRollback, msg, func(tx *Tx) error {
		row, err := tx.Guard(domainsaga.StepCheckOut, domainsaga.SagaStarted, domainsaga.SagaProcessing)
		if err != nil {
			return err
		}
		b := tx.Booking()
		if row.SagaStatus == domainsaga.SagaStarted || b.Status == domainbooking.StatusCancelled {
			tx.Mark(row, domainsaga.SagaCompensated)
			return nil
		}
		if err := b.RevertCheckOut(tx.Now()); err != nil {
			return err
		}
		tx.Mark(row, domainsaga.SagaCompensated)
		if err := tx.Emit(row, domainsaga.CommandCancelFinalPayment, tx.LastEvent()); err != nil {
			return err
		}
		return demote(tx, domainsaga.StepCheckIn)
	})
}
