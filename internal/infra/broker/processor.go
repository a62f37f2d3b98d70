package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"

	"hotelsaga/internal/app/inbound"
	"hotelsaga/internal/app/saga"
	domainsaga "hotelsaga/internal/domain/saga"
)

// Handler is the engine entry point a transport feeds.
type Handler interface {
	Handle(ctx context.Context, source domainsaga.Source, body []byte) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key string, payload []byte, headers map[string]string) error
}

// Processor applies the delivery policy shared by every transport:
// malformed messages are dropped, business rejections go to the dead letter
// topic, and transient failures are retried with backoff.
type Processor struct {
	Handler     Handler
	DeadLetter  Producer
	TopicPrefix string
	Attempts    uint
	Delay       time.Duration
	MaxDelay    time.Duration
	Logger      *slog.Logger
}

// Process returns nil when the delivery may be acknowledged. An error means
// the message must be redelivered.
func (p *Processor) Process(ctx context.Context, topic string, key string, body []byte) error {
	logger := p.logger().With(slog.String("topic", topic), slog.String("key", key))
	source, err := SourceFromTopic(p.TopicPrefix, topic)
	if err != nil {
		logger.Warn("message on unknown topic dropped", slog.Any("error", err))
		return nil
	}
	err = retry.Do(
		func() error { return p.Handler.Handle(ctx, source, body) },
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("transient failure, retrying", slog.Uint64("attempt", uint64(n+1)), slog.Any("error", err))
		}),
		retry.Attempts(p.attempts()),
		retry.Delay(p.delay()),
		retry.MaxDelay(p.maxDelay()),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(Retriable),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, inbound.ErrMalformed):
		return nil
	case saga.IsBusiness(err):
		return p.deadLetter(ctx, logger, topic, key, body, err)
	default:
		logger.Error("message left for redelivery", slog.Any("error", err))
		return err
	}
}

// Retriable reports whether err is worth another attempt.
func Retriable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !errors.Is(err, inbound.ErrMalformed) && !saga.IsBusiness(err)
}

func (p *Processor) deadLetter(ctx context.Context, logger *slog.Logger, topic, key string, body []byte, cause error) error {
	if p.DeadLetter == nil {
		logger.Error("business rejection dropped without dead letter producer", slog.Any("error", cause))
		return nil
	}
	headers := map[string]string{
		"error":        cause.Error(),
		"source-topic": topic,
	}
	if err := p.DeadLetter.Publish(ctx, DeadLetterTopic(p.TopicPrefix), key, body, headers); err != nil {
		return fmt.Errorf("broker: dead letter: %w", err)
	}
	logger.Warn("message dead-lettered", slog.Any("error", cause))
	return nil
}

func (p *Processor) attempts() uint {
	if p.Attempts == 0 {
		return 5
	}
	return p.Attempts
}

func (p *Processor) delay() time.Duration {
	if p.Delay <= 0 {
		return 100 * time.Millisecond
	}
	return p.Delay
}

func (p *Processor) maxDelay() time.Duration {
	if p.MaxDelay <= 0 {
		return 5 * time.Second
	}
	return p.MaxDelay
}

func (p *Processor) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
