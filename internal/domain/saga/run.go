package saga

import (
	"sort"
	"time"

	"hotelsaga/internal/domain/booking"
)

// Message is a validated inbound reply or guest action addressed to a step.
type Message struct {
	SagaID     SagaID
	BookingID  booking.BookingID
	Step       StepType
	Status     ReplyStatus
	Source     Source
	Payload    []byte
	ReceivedAt time.Time
}

// Run is the read-side view of one saga assembled from its outbox rows.
type Run struct {
	SagaID   SagaID
	Messages []*OutboxMessage
}

func NewRun(sagaID SagaID, messages []*OutboxMessage) Run {
	sorted := append([]*OutboxMessage(nil), messages...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})
	return Run{SagaID: sagaID, Messages: sorted}
}

// BookingID returns the booking of the saga or "" for an empty run.
func (r Run) BookingID() booking.BookingID {
	if len(r.Messages) == 0 {
		return ""
	}
	return r.Messages[0].BookingID
}

// Phase derives the saga-level status from its rows.
func (r Run) Phase() SagaStatus {
	if len(r.Messages) == 0 {
		return ""
	}
	var (
		compensating            bool
		allStarted, allReverted = true, true
	)
	for _, m := range r.Messages {
		if m.SagaStatus == SagaFailed || m.OutboxStatus == OutboxFailed {
			return SagaFailed
		}
		if m.SagaStatus == SagaCompensating {
			compensating = true
		}
		if m.SagaStatus != SagaStarted {
			allStarted = false
		}
		if m.SagaStatus != SagaCompensated {
			allReverted = false
		}
	}
	switch {
	case compensating:
		return SagaCompensating
	case r.has(StepCancellation, SagaCompensated):
		return SagaCompensated
	case r.has(StepCheckOut, SagaSucceeded):
		return SagaSucceeded
	case allReverted:
		return SagaCompensated
	case allStarted:
		return SagaStarted
	default:
		return SagaProcessing
	}
}

// Stalled returns rows the relay gave up on.
func (r Run) Stalled() []*OutboxMessage {
	var out []*OutboxMessage
	for _, m := range r.Messages {
		if m.OutboxStatus == OutboxFailed {
			out = append(out, m)
		}
	}
	return out
}

func (r Run) has(step StepType, status SagaStatus) bool {
	for _, m := range r.Messages {
		if m.Step == step && m.SagaStatus == status {
			return true
		}
	}
	return false
}
