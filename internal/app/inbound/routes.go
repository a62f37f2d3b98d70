package inbound

import (
	"hotelsaga/internal/app/saga"
	domainsaga "hotelsaga/internal/domain/saga"
)

// Route is the (source, status) pair of an inbound message.
type Route struct {
	Source domainsaga.Source
	Status domainsaga.ReplyStatus
}

// Target is the step half a route is handled by.
type Target struct {
	Step domainsaga.StepType
	Op   saga.Op
}

// Routes returns the dispatch table of the booking saga.
func Routes() map[Route]Target {
	return map[Route]Target{
		{domainsaga.SourceRoom, domainsaga.ReplyReserved}:      {domainsaga.StepReserveRoom, saga.OpProcess},
		{domainsaga.SourceRoom, domainsaga.ReplyRejected}:      {domainsaga.StepReserveRoom, saga.OpRollback},
		{domainsaga.SourceRoom, domainsaga.ReplyReleased}:      {domainsaga.StepCancellation, saga.OpProcess},
		{domainsaga.SourceRoom, domainsaga.ReplyReleaseFailed}: {domainsaga.StepCancellation, saga.OpRollback},

		{domainsaga.SourcePayment, domainsaga.ReplyDepositPaid}:   {domainsaga.StepDeposit, saga.OpProcess},
		{domainsaga.SourcePayment, domainsaga.ReplyDepositFailed}: {domainsaga.StepDeposit, saga.OpRollback},
		{domainsaga.SourcePayment, domainsaga.ReplyRefunded}:      {domainsaga.StepDeposit, saga.OpRollback},
		{domainsaga.SourcePayment, domainsaga.ReplyFinalPaid}:     {domainsaga.StepCheckOut, saga.OpProcess},
		{domainsaga.SourcePayment, domainsaga.ReplyFinalFailed}:   {domainsaga.StepCheckOut, saga.OpRollback},

		{domainsaga.SourceNotification, domainsaga.ReplyQRScanned}: {domainsaga.StepCheckIn, saga.OpProcess},
		{domainsaga.SourceNotification, domainsaga.ReplyQRInvalid}: {domainsaga.StepCheckIn, saga.OpRollback},

		{domainsaga.SourceGuest, domainsaga.ReplyCheckoutRequested}: {domainsaga.StepCheckOut, saga.OpProcess},
		{domainsaga.SourceGuest, domainsaga.ReplyCancelRequested}:   {domainsaga.StepCancellation, saga.OpProcess},
	}
}
