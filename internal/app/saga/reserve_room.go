package saga

import (
	"context"

	domainbooking "hotelsaga/internal/domain/booking"
	domainsaga "hotelsaga/internal/domain/saga"
)

// ReserveRoomStep confirms the booking once the room service holds the room
// and asks payment for the deposit.
type ReserveRoomStep struct {
	helper *Helper
}

func NewReserveRoomStep(h *Helper) *ReserveRoomStep {
	return &ReserveRoomStep{helper: h}
}

func (s *ReserveRoomStep) Type() domainsaga.StepType { return domainsaga.StepReserveRoom }

func (s *ReserveRoomStep) Process(ctx context.Context, msg domainsaga.Message) error {
	return s.helper.WriteOutbox(ctx, s.Type(), OpProcess, msg, func(tx *Tx) error {
		row, err := tx.Guard(domainsaga.StepReserveRoom, domainsaga.SagaStarted)
		if err != nil {
			return err
		}
		b, err := tx.Require(domainbooking.StatusPending)
		if err != nil {
			return err
		}
		if err := b.Confirm(tx.Now()); err != nil {
			return err
		}
		tx.Mark(row, domainsaga.SagaProcessing)
		_, err = tx.Advance(row, domainsaga.StepDeposit, domainsaga.CommandChargeDeposit, tx.LastEvent())
		return err
	})
}

// Rollback handles a rejected reservation. The room service holds nothing, so
// no release command is issued.
func (s *ReserveRoomStep) Rollback(ctx context.Context, msg domainsaga.Message) error {
	return s.helper.WriteOutbox(ctx, s.Type(), OpRollback, msg, func(tx *Tx) error {
		row, err := tx.Guard(domainsaga.StepReserveRoom, domainsaga.SagaStarted, domainsaga.SagaProcessing)
		if err != nil {
			return err
		}
		b := tx.Booking()
		if row.SagaStatus == domainsaga.SagaProcessing && b.Status != domainbooking.StatusCancelled {
			if err := b.RevertConfirmation(tx.Now()); err != nil {
				return err
			}
		}
		tx.Mark(row, domainsaga.SagaCompensated)
		return nil
	})
}
