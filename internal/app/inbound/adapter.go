package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"hotelsaga/internal/app/saga"
	domainbooking "hotelsaga/internal/domain/booking"
	domainsaga "hotelsaga/internal/domain/saga"
)

var (
	ErrMalformed     = errors.New("inbound: malformed message")
	ErrMissingStep   = errors.New("inbound: route targets unregistered step")
	ErrDuplicateStep = errors.New("inbound: step registered twice")
)

// Envelope is the wire form of a reply or guest action.
type Envelope struct {
	SagaID    string          `json:"saga_id"`
	BookingID string          `json:"booking_id"`
	Step      string          `json:"step"`
	Status    string          `json:"status"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func (e Envelope) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.SagaID, validation.Required, is.UUID),
		validation.Field(&e.BookingID, validation.Required, is.UUID),
		validation.Field(&e.Step, validation.Required, validation.By(func(v any) error {
			_, err := domainsaga.ParseStepType(v.(string))
			return err
		})),
		validation.Field(&e.Status, validation.Required, validation.By(func(v any) error {
			_, err := domainsaga.ParseReplyStatus(v.(string))
			return err
		})),
	)
}

// Adapter turns inbound envelopes into step invocations through a fixed
// dispatch table.
type Adapter struct {
	steps  map[domainsaga.StepType]saga.Step
	routes map[Route]Target
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Adapter)

func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithRoutes replaces the default dispatch table.
func WithRoutes(routes map[Route]Target) Option {
	return func(a *Adapter) {
		a.routes = routes
	}
}

func NewAdapter(steps []saga.Step, opts ...Option) (*Adapter, error) {
	a := &Adapter{
		steps:  make(map[domainsaga.StepType]saga.Step, len(steps)),
		routes: Routes(),
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(a)
	}
	for _, step := range steps {
		if _, dup := a.steps[step.Type()]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateStep, step.Type())
		}
		a.steps[step.Type()] = step
	}
	for route, target := range a.routes {
		if _, ok := a.steps[target.Step]; !ok {
			return nil, fmt.Errorf("%w: %s/%s -> %s", ErrMissingStep, route.Source, route.Status, target.Step)
		}
	}
	return a, nil
}

// Decode validates body received from source and resolves its route.
func (a *Adapter) Decode(source domainsaga.Source, body []byte) (domainsaga.Message, Target, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return domainsaga.Message{}, Target{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if err := env.Validate(); err != nil {
		return domainsaga.Message{}, Target{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	msg := domainsaga.Message{
		SagaID:     domainsaga.SagaID(env.SagaID),
		BookingID:  domainbooking.BookingID(env.BookingID),
		Step:       domainsaga.StepType(env.Step),
		Status:     domainsaga.ReplyStatus(env.Status),
		Source:     source,
		Payload:    env.Payload,
		ReceivedAt: a.now(),
	}
	target, err := a.route(msg)
	if err != nil {
		return domainsaga.Message{}, Target{}, err
	}
	return msg, target, nil
}

// Handle decodes body and invokes the routed step. Malformed input returns an
// error wrapping ErrMalformed; step errors are returned unchanged.
func (a *Adapter) Handle(ctx context.Context, source domainsaga.Source, body []byte) error {
	msg, target, err := a.Decode(source, body)
	if err != nil {
		a.logger.Warn("inbound message rejected", slog.String("source", string(source)), slog.Any("error", err))
		return err
	}
	return saga.Invoke(ctx, a.steps[target.Step], target.Op, msg)
}

// Dispatch routes an already decoded message, such as a guest action from the
// HTTP API.
func (a *Adapter) Dispatch(ctx context.Context, msg domainsaga.Message) error {
	target, err := a.route(msg)
	if err != nil {
		return err
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = a.now()
	}
	return saga.Invoke(ctx, a.steps[target.Step], target.Op, msg)
}

func (a *Adapter) route(msg domainsaga.Message) (Target, error) {
	target, ok := a.routes[Route{Source: msg.Source, Status: msg.Status}]
	if !ok {
		return Target{}, fmt.Errorf("%w: no route for %s/%s", ErrMalformed, msg.Source, msg.Status)
	}
	if target.Step != msg.Step {
		return Target{}, fmt.Errorf("%w: %s/%s belongs to %s, got %s", ErrMalformed, msg.Source, msg.Status, target.Step, msg.Step)
	}
	return target, nil
}
