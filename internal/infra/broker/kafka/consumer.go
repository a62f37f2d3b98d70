package kafka

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/avast/retry-go/v4"
)

// MessageProcessor decides whether a record may be committed. A non-nil error
// leaves the offset in place so the record is redelivered.
type MessageProcessor interface {
	Process(ctx context.Context, topic string, key string, body []byte) error
}

type Consumer struct {
	group      sarama.ConsumerGroup
	processor  MessageProcessor
	logger     *slog.Logger
	retryDelay time.Duration
	maxDelay   time.Duration
}

func NewConsumer(brokers []string, groupID string, cfg *sarama.Config, processor MessageProcessor, logger *slog.Logger) (*Consumer, error) {
	if cfg == nil {
		cfg = sarama.NewConfig()
	}
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Return.Errors = true
	g, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, err
	}
	return NewConsumerWith(g, processor, logger), nil
}

// NewConsumerWith wraps an existing consumer group.
func NewConsumerWith(group sarama.ConsumerGroup, processor MessageProcessor, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{group: group, processor: processor, logger: logger, retryDelay: time.Second, maxDelay: 30 * time.Second}
}

// WithRestartBackoff sets the exponential delay between sessions that fail to
// start, capped at maxDelay.
func (c *Consumer) WithRestartBackoff(delay, maxDelay time.Duration) *Consumer {
	if delay > 0 {
		c.retryDelay = delay
	}
	if maxDelay >= c.retryDelay {
		c.maxDelay = maxDelay
	}
	return c
}

// Run consumes topics until ctx ends. A session that stops on a processing
// error is restarted, which resumes from the last committed offset. Consume
// errors, such as unreachable brokers, are retried with backoff.
func (c *Consumer) Run(ctx context.Context, topics []string) error {
	go c.drainErrors(ctx)
	handler := GroupHandler{Processor: c.processor, Logger: c.logger}
	for {
		err := retry.Do(
			func() error { return c.group.Consume(ctx, topics, handler) },
			retry.Context(ctx),
			retry.Attempts(0),
			retry.Delay(c.retryDelay),
			retry.MaxDelay(c.maxDelay),
			retry.DelayType(retry.BackOffDelay),
			retry.LastErrorOnly(true),
			retry.RetryIf(func(err error) bool { return !errors.Is(err, sarama.ErrClosedConsumerGroup) }),
			retry.OnRetry(func(n uint, err error) {
				c.logger.Error("consumer session ended", slog.Uint64("attempt", uint64(n+1)), slog.Any("error", err))
			}),
		)
		if errors.Is(err, sarama.ErrClosedConsumerGroup) {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return err
		}
	}
}

func (c *Consumer) drainErrors(ctx context.Context) {
	errs := c.group.Errors()
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				return
			}
			c.logger.Warn("consumer group error", slog.Any("error", err))
		}
	}
}

func (c *Consumer) Close() error {
	return c.group.Close()
}

// GroupHandler feeds claimed records to the processor in partition order.
type GroupHandler struct {
	Processor MessageProcessor
	Logger    *slog.Logger
}

func (h GroupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h GroupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h GroupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-sess.Context().Done():
			return nil
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.Processor.Process(sess.Context(), message.Topic, string(message.Key), message.Value); err != nil {
				return err
			}
			sess.MarkMessage(message, "")
		}
	}
}
