package saga

import (
	"context"
	"errors"
	"slices"
	"time"

	"hotelsaga/internal/domain/booking"
)

var (
	ErrOutboxNotFound    = errors.New("saga: outbox message not found")
	ErrConcurrentUpdate  = errors.New("saga: concurrent outbox update")
	ErrDuplicateLiveStep = errors.New("saga: live outbox message already exists for step")
)

// OutboxMessage is a command that must eventually reach a collaborator, or
// the record that a step's reply already arrived. One row per (saga, step)
// may be live at a time.
//
// Steps own the saga fields (SagaStatus, BookingStatus, ProcessedAt) guarded
// by Version. The relay owns the dispatch fields (OutboxStatus through
// ClaimedAt) guarded by the ClaimedBy token and Generation. Stores bump
// Generation whenever a row is re-armed or requeued, so a relay that read the
// row earlier cannot claim the new command with its old snapshot.
type OutboxMessage struct {
	ID            string
	SagaID        SagaID
	BookingID     booking.BookingID
	Step          StepType
	Service       Service
	Command       Command
	Payload       []byte
	BookingStatus booking.Status
	SagaStatus    SagaStatus
	OutboxStatus  OutboxStatus
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	ClaimedBy     string
	ClaimedAt     time.Time
	CreatedAt     time.Time
	ProcessedAt   *time.Time
	Version       int64
	Generation    int64
}

// Clone returns a deep copy so stores never share payload buffers with callers.
func (m *OutboxMessage) Clone() *OutboxMessage {
	if m == nil {
		return nil
	}
	out := *m
	out.Payload = slices.Clone(m.Payload)
	if m.ProcessedAt != nil {
		at := *m.ProcessedAt
		out.ProcessedAt = &at
	}
	return &out
}

// HasStatus reports whether the row's saga status is one of statuses.
func (m *OutboxMessage) HasStatus(statuses ...SagaStatus) bool {
	return slices.Contains(statuses, m.SagaStatus)
}

// OutboxRepository is used by saga steps inside a unit of work.
type OutboxRepository interface {
	// FindBySagaAndStatus returns the newest row of the step whose saga status is
	// one of statuses, or ErrOutboxNotFound.
	FindBySagaAndStatus(ctx context.Context, sagaID SagaID, step StepType, statuses ...SagaStatus) (*OutboxMessage, error)
	BySaga(ctx context.Context, sagaID SagaID) ([]*OutboxMessage, error)
	// Save inserts a row with Version 0. Otherwise it updates the saga fields
	// when the stored version still matches. On success msg.Version is
	// incremented.
	Save(ctx context.Context, msg *OutboxMessage) error
	// Rearm overwrites the dispatch fields of a stored row so the relay sends
	// msg.Command again, and bumps its Generation.
	Rearm(ctx context.Context, msg *OutboxMessage) error
}

type DispatchQuery struct {
	Now         time.Time
	StaleBefore time.Time
	Limit       int
}

// StatusUpdate is a compare-and-set on the dispatch fields of a row. It
// applies only while the row has OutboxStatus From, ClaimedBy Owner and
// Generation.
type StatusUpdate struct {
	ID            string
	From          OutboxStatus
	Owner         string
	Generation    int64
	To            OutboxStatus
	Claim         string
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	At            time.Time
}

// Apply writes the update onto m without checking its conditions.
func (u StatusUpdate) Apply(m *OutboxMessage) {
	m.OutboxStatus = u.To
	m.Attempts = u.Attempts
	m.NextAttemptAt = u.NextAttemptAt
	m.LastError = u.LastError
	m.ClaimedBy = u.Claim
	m.ClaimedAt = time.Time{}
	if u.Claim != "" {
		m.ClaimedAt = u.At
	}
}

// Matches reports whether m satisfies the update's conditions.
func (u StatusUpdate) Matches(m *OutboxMessage) bool {
	return m.ID == u.ID && m.OutboxStatus == u.From && m.ClaimedBy == u.Owner && m.Generation == u.Generation
}

// DispatchStore serves the outbox relay and operators outside of step
// transactions.
type DispatchStore interface {
	// Dispatchable returns STARTED rows due at Now and PROCESSING rows claimed
	// before StaleBefore, oldest first.
	Dispatchable(ctx context.Context, q DispatchQuery) ([]*OutboxMessage, error)
	// MarkStatus reports whether the update applied.
	MarkStatus(ctx context.Context, upd StatusUpdate) (bool, error)
	Failed(ctx context.Context, limit int) ([]*OutboxMessage, error)
	// Requeue resets a FAILED row to STARTED with zero attempts and bumps its
	// Generation. It returns
	// ErrOutboxNotFound when no FAILED row has the id.
	Requeue(ctx context.Context, id string, now time.Time) (*OutboxMessage, error)
}

// CopySagaFields copies the step-owned fields of src onto dst.
func CopySagaFields(dst, src *OutboxMessage) {
	dst.SagaStatus = src.SagaStatus
	dst.BookingStatus = src.BookingStatus
	dst.ProcessedAt = src.ProcessedAt
	dst.Version = src.Version
}

// CopyDispatchFields copies the relay-owned fields of src onto dst. The
// generation is left to the store.
func CopyDispatchFields(dst, src *OutboxMessage) {
	dst.Service = src.Service
	dst.Command = src.Command
	dst.Payload = slices.Clone(src.Payload)
	dst.OutboxStatus = src.OutboxStatus
	dst.Attempts = src.Attempts
	dst.NextAttemptAt = src.NextAttemptAt
	dst.LastError = src.LastError
	dst.ClaimedBy = src.ClaimedBy
	dst.ClaimedAt = src.ClaimedAt
}
