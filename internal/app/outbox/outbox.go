package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	domainsaga "hotelsaga/internal/domain/saga"
	"hotelsaga/internal/domain/shared/events"
)

var ErrNilEvent = errors.New("outbox: nil event")

// EventRecord is the serialized form of a domain event stored as the payload
// of an outbox row.
type EventRecord struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Aggregate  string          `json:"aggregate_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

type EventEncoder interface {
	Encode(ev events.DomainEvent) ([]byte, error)
}

type JSONEventEncoder struct {
	IDGenerator func() string
}

func (e JSONEventEncoder) Encode(ev events.DomainEvent) ([]byte, error) {
	if ev == nil {
		return nil, ErrNilEvent
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("outbox: encode %s: %w", ev.EventName(), err)
	}
	idGen := e.IDGenerator
	if idGen == nil {
		idGen = uuid.NewString
	}
	return json.Marshal(EventRecord{
		ID:         idGen(),
		Name:       ev.EventName(),
		Aggregate:  ev.AggregateID(),
		OccurredAt: ev.OccurredAt().UTC(),
		Data:       data,
	})
}

// DecodeRecord parses a payload produced by JSONEventEncoder.
func DecodeRecord(payload []byte) (EventRecord, error) {
	var rec EventRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return EventRecord{}, fmt.Errorf("outbox: decode record: %w", err)
	}
	return rec, nil
}

// CommandEnvelope is the outbound message addressed to the command's service.
type CommandEnvelope struct {
	SagaID    string          `json:"saga_id"`
	BookingID string          `json:"booking_id"`
	Step      string          `json:"step"`
	Command   string          `json:"command"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func NewCommandEnvelope(msg *domainsaga.OutboxMessage) CommandEnvelope {
	env := CommandEnvelope{
		SagaID:    string(msg.SagaID),
		BookingID: string(msg.BookingID),
		Step:      string(msg.Step),
		Command:   string(msg.Command),
	}
	if json.Valid(msg.Payload) {
		env.Payload = json.RawMessage(msg.Payload)
	}
	return env
}
