package saga

import (
	"context"

	domainbooking "hotelsaga/internal/domain/booking"
	domainsaga "hotelsaga/internal/domain/saga"
)

// CheckInStep checks the guest in when the notification service reports a
// scanned QR code.
type CheckInStep struct {
	helper *Helper
}

func NewCheckInStep(h *Helper) *CheckInStep {
	return &CheckInStep{helper: h}
}

func (s *CheckInStep) Type() domainsaga.StepType { return domainsaga.StepCheckIn }

func (s *CheckInStep) Process(ctx context.Context, msg domainsaga.Message) error {
	return s.helper.WriteOutbox(ctx, s.Type(), OpProcess, msg, func(tx *Tx) error {
		deposit, err := tx.Guard(domainsaga.StepDeposit, domainsaga.SagaProcessing, domainsaga.SagaSucceeded)
		if err != nil {
			return err
		}
		if err := tx.Absent(domainsaga.StepCheckIn, domainsaga.SagaProcessing, domainsaga.SagaSucceeded); err != nil {
			return err
		}
		b, err := tx.Require(domainbooking.StatusConfirmed)
		if err != nil {
			return err
		}
		if err := b.CheckIn(tx.Now()); err != nil {
			return err
		}
		row, err := tx.Open(domainsaga.StepCheckIn, domainsaga.SagaProcessing)
		if err != nil {
			return err
		}
		if err := tx.Emit(row, domainsaga.CommandNotifyCheckedIn, tx.LastEvent()); err != nil {
			return err
		}
		tx.Mark(deposit, domainsaga.SagaSucceeded)
		return nil
	})
}

func (s *CheckInStep) Rollback(ctx context.Context, msg domainsaga.Message) error {
	return s.helper.WriteOutbox(ctx, s.Type(), OpRollback, msg, func(tx *Tx) error {
		row, err := tx.Guard(domainsaga.StepCheckIn, domainsaga.SagaStarted, domainsaga.SagaProcessing)
		if err != nil {
			return err
		}
		b := tx.Booking()
		if row.SagaStatus == domainsaga.SagaStarted || b.Status == domainbooking.StatusCancelled {
			tx.Mark(row, domainsaga.SagaCompensated)
			return nil
		}
		if err := b.RevertCheckIn(tx.Now()); err != nil {
			return err
		}
		tx.Mark(row, domainsaga.SagaCompensated)
		if err := tx.Emit(row, domainsaga.CommandNotifyCheckInRevert, tx.LastEvent()); err != nil {
			return err
		}
		return demote(tx, domainsaga.StepDeposit)
	})
}
