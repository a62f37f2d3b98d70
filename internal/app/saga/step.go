package saga

import (
	"context"

	domainsaga "hotelsaga/internal/domain/saga"
)

// Op selects the forward or compensating half of a step.
type Op string

const (
	OpProcess  Op = "process"
	OpRollback Op = "rollback"
)

// Step is one stage of the booking saga. Process and Rollback run inside a
// single helper transaction and are safe to invoke more than once.
type Step interface {
	Type() domainsaga.StepType
	Process(ctx context.Context, msg domainsaga.Message) error
	Rollback(ctx context.Context, msg domainsaga.Message) error
}

// Invoke runs op on step.
func Invoke(ctx context.Context, step Step, op Op, msg domainsaga.Message) error {
	if op == OpRollback {
		return step.Rollback(ctx, msg)
	}
	return step.Process(ctx, msg)
}

// Steps builds the five booking steps around one helper, in chain order.
func Steps(h *Helper) []Step {
	return []Step{
		NewReserveRoomStep(h),
		NewDepositStep(h),
		NewCheckInStep(h),
		NewCheckOutStep(h),
		NewCancellationStep(h),
	}
}
