package amqp

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Fatonxhema/cdc-relay/internal/consumer"
)

const DefaultPrefetch = 10

// ErrDeliveriesClosed is returned once the broker closed the delivery stream.
var ErrDeliveriesClosed = errors.New("rabbitmq delivery channel closed")

// Consumer reads change events from a durable queue as a consumer.Source.
type Consumer struct {
	ch         *amqp.Channel
	deliveries <-chan amqp.Delivery
}

func NewConsumer(conn *amqp.Connection, cfg Config, tag string) (*Consumer, error) {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = DefaultPrefetch
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare queue %s: %w", cfg.Queue, err)
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("set prefetch: %w", err)
	}
	deliveries, err := ch.Consume(cfg.Queue, tag, false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("consume %s: %w", cfg.Queue, err)
	}
	return &Consumer{ch: ch, deliveries: deliveries}, nil
}

func (c *Consumer) Fetch(ctx context.Context) (consumer.Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case d, ok := <-c.deliveries:
		if !ok {
			return nil, ErrDeliveriesClosed
		}
		return delivery{d: d}, nil
	}
}

func (c *Consumer) Close() error {
	return c.ch.Close()
}

type delivery struct {
	d amqp.Delivery
}

func (d delivery) Body() []byte { return d.d.Body }

func (d delivery) Ack(context.Context) error {
	return d.d.Ack(false)
}

func (d delivery) Nack(_ context.Context, requeue bool) error {
	return d.d.Nack(false, requeue)
}
