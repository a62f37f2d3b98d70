package events

import "time"

// DomainEvent is an immutable fact recorded by an aggregate.
type DomainEvent interface {
	EventName() string
	AggregateID() string
	OccurredAt() time.Time
}

type EventRecorder struct {
	pending []DomainEvent
}

func (r *EventRecorder) Record(event DomainEvent) {
	if event == nil {
		return
	}
	r.pending = append(r.pending, event)
}

func (r *EventRecorder) PendingEvents() []DomainEvent {
	out := make([]DomainEvent, len(r.pending))
	copy(out, r.pending)
	return out
}

// LastEvent returns the most recently recorded event, if any.
func (r *EventRecorder) LastEvent() (DomainEvent, bool) {
	if len(r.pending) == 0 {
		return nil, false
	}
	return r.pending[len(r.pending)-1], true
}

func (r *EventRecorder) ClearEvents() {
	r.pending = nil
}
