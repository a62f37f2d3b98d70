package saga

import (
	"errors"
	"fmt"
)

var ErrUnknownValue = errors.New("saga: unknown enum value")

type SagaID string

// StepType identifies one of the five booking saga steps. It is also the
// "type" of an outbox row.
type StepType string

const (
	StepReserveRoom  StepType = "RESERVE_ROOM"
	StepDeposit      StepType = "DEPOSIT"
	StepCheckIn      StepType = "CHECK_IN"
	StepCheckOut     StepType = "CHECK_OUT"
	StepCancellation StepType = "CANCELLATION"
)

var stepTypes = []StepType{StepReserveRoom, StepDeposit, StepCheckIn, StepCheckOut, StepCancellation}

// StepTypes lists every step in chain order.
func StepTypes() []StepType {
	return append([]StepType(nil), stepTypes...)
}

func ParseStepType(raw string) (StepType, error) {
	for _, s := range stepTypes {
		if string(s) == raw {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: step %q", ErrUnknownValue, raw)
}

// Service is the collaborator an outbox row is addressed to. It also names
// the outbox family (room, payment, notification).
type Service string

const (
	ServiceRoom         Service = "room"
	ServicePayment      Service = "payment"
	ServiceNotification Service = "notification"
)

// Source is the collaborator an inbound message came from.
type Source string

const (
	SourceRoom         Source = "room"
	SourcePayment      Source = "payment"
	SourceNotification Source = "notification"
	SourceGuest        Source = "guest"
)

var sources = []Source{SourceRoom, SourcePayment, SourceNotification, SourceGuest}

func Sources() []Source {
	return append([]Source(nil), sources...)
}

func ParseSource(raw string) (Source, error) {
	for _, s := range sources {
		if string(s) == raw {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: source %q", ErrUnknownValue, raw)
}

type Command string

const (
	CommandReserveRoom         Command = "RESERVE_ROOM"
	CommandReleaseRoom         Command = "RELEASE_ROOM"
	CommandChargeDeposit       Command = "CHARGE_DEPOSIT"
	CommandRefundDeposit       Command = "REFUND_DEPOSIT"
	CommandNotifyCheckedIn     Command = "NOTIFY_CHECKED_IN"
	CommandNotifyCheckInRevert Command = "NOTIFY_CHECK_IN_REVERTED"
	CommandChargeFinalPayment  Command = "CHARGE_FINAL_PAYMENT"
	CommandCancelFinalPayment  Command = "CANCEL_FINAL_PAYMENT"
)

var commandTargets = map[Command]Service{
	CommandReserveRoom:         ServiceRoom,
	CommandReleaseRoom:         ServiceRoom,
	CommandChargeDeposit:       ServicePayment,
	CommandRefundDeposit:       ServicePayment,
	CommandNotifyCheckedIn:     ServiceNotification,
	CommandNotifyCheckInRevert: ServiceNotification,
	CommandChargeFinalPayment:  ServicePayment,
	CommandCancelFinalPayment:  ServicePayment,
}

// Target returns the collaborator responsible for the command.
func (c Command) Target() (Service, error) {
	svc, ok := commandTargets[c]
	if !ok {
		return "", fmt.Errorf("%w: command %q", ErrUnknownValue, c)
	}
	return svc, nil
}

// ReplyStatus is the status field of an inbound message.
type ReplyStatus string

const (
	ReplyReserved          ReplyStatus = "RESERVED"
	ReplyRejected          ReplyStatus = "REJECTED"
	ReplyReleased          ReplyStatus = "RELEASED"
	ReplyReleaseFailed     ReplyStatus = "RELEASE_FAILED"
	ReplyDepositPaid       ReplyStatus = "DEPOSIT_PAID"
	ReplyDepositFailed     ReplyStatus = "DEPOSIT_FAILED"
	ReplyRefunded          ReplyStatus = "REFUNDED"
	ReplyFinalPaid         ReplyStatus = "FINAL_PAID"
	ReplyFinalFailed       ReplyStatus = "FINAL_FAILED"
	ReplyQRScanned         ReplyStatus = "QR_SCANNED"
	ReplyQRInvalid         ReplyStatus = "QR_INVALID"
	ReplyCheckoutRequested ReplyStatus = "CHECKOUT_REQUESTED"
	ReplyCancelRequested   ReplyStatus = "CANCEL_REQUESTED"
)

var replyStatuses = []ReplyStatus{
	ReplyReserved, ReplyRejected, ReplyReleased, ReplyReleaseFailed,
	ReplyDepositPaid, ReplyDepositFailed, ReplyRefunded, ReplyFinalPaid, ReplyFinalFailed,
	ReplyQRScanned, ReplyQRInvalid, ReplyCheckoutRequested, ReplyCancelRequested,
}

func ReplyStatuses() []ReplyStatus {
	return append([]ReplyStatus(nil), replyStatuses...)
}

func ParseReplyStatus(raw string) (ReplyStatus, error) {
	for _, s := range replyStatuses {
		if string(s) == raw {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: status %q", ErrUnknownValue, raw)
}

type SagaStatus string

const (
	SagaStarted      SagaStatus = "STARTED"
	SagaProcessing   SagaStatus = "PROCESSING"
	SagaSucceeded    SagaStatus = "SUCCEEDED"
	SagaCompensating SagaStatus = "COMPENSATING"
	SagaCompensated  SagaStatus = "COMPENSATED"
	SagaFailed       SagaStatus = "FAILED"
)

// Live reports whether a row in this status still counts against the
// one-live-row-per-(saga, step) invariant.
func (s SagaStatus) Live() bool {
	return s == SagaStarted || s == SagaProcessing || s == SagaCompensating
}

// LiveSagaStatuses lists the non-terminal saga statuses.
func LiveSagaStatuses() []SagaStatus {
	return []SagaStatus{SagaStarted, SagaProcessing, SagaCompensating}
}

// AllSagaStatuses lists every saga status.
func AllSagaStatuses() []SagaStatus {
	return []SagaStatus{SagaStarted, SagaProcessing, SagaSucceeded, SagaCompensating, SagaCompensated, SagaFailed}
}

type OutboxStatus string

const (
	OutboxStarted    OutboxStatus = "STARTED"
	OutboxProcessing OutboxStatus = "PROCESSING"
	OutboxCompleted  OutboxStatus = "COMPLETED"
	OutboxFailed     OutboxStatus = "FAILED"
)
