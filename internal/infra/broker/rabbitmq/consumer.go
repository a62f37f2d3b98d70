package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

var ErrDeliveriesClosed = errors.New("rabbitmq: delivery channel closed")

type MessageProcessor interface {
	Process(ctx context.Context, topic string, key string, body []byte) error
}

// Consumer reads reply topics from one durable queue bound to the exchange.
type Consumer struct {
	conn      *amqp.Connection
	ch        *amqp.Channel
	queue     string
	processor MessageProcessor
	logger    *slog.Logger
}

func NewConsumer(url, exchange, queue string, keys []string, prefetch int, processor MessageProcessor, logger *slog.Logger) (*Consumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	fail := func(step string, err error) (*Consumer, error) {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("%s: %w", step, err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fail("declare exchange", err)
	}
	q, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		return fail("declare queue", err)
	}
	for _, rk := range keys {
		if err := ch.QueueBind(q.Name, rk, exchange, false, nil); err != nil {
			return fail("bind "+rk, err)
		}
	}
	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			return fail("set qos", err)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{conn: conn, ch: ch, queue: q.Name, processor: processor, logger: logger}, nil
}

// Run consumes until ctx ends or the broker closes the channel.
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return ErrDeliveriesClosed
			}
			if err := Deliver(ctx, c.processor, d); err != nil {
				c.logger.Error("settle delivery", slog.String("routing_key", d.RoutingKey), slog.Any("error", err))
			}
		}
	}
}

// Deliver hands one delivery to p and settles it: ack on success, nack with
// requeue otherwise.
func Deliver(ctx context.Context, p MessageProcessor, d amqp.Delivery) error {
	key, _ := d.Headers[KeyHeader].(string)
	if err := p.Process(ctx, d.RoutingKey, key, d.Body); err != nil {
		return d.Nack(false, true)
	}
	return d.Ack(false)
}

func (c *Consumer) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
