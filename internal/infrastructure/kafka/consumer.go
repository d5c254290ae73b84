package kafka

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Fatonxhema/cdc-relay/internal/consumer"
)

type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	// StartOffset is used while the group has no committed offset: "earliest" (default) or "latest".
	StartOffset string
}

// Consumer reads change events from a topic as a consumer.Source.
type Consumer struct {
	reader *kafka.Reader
	logger *slog.Logger
}

func NewConsumer(cfg ConsumerConfig, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}

	startOffset := kafka.FirstOffset
	if strings.EqualFold(strings.TrimSpace(cfg.StartOffset), "latest") {
		startOffset = kafka.LastOffset
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: false, // Force IPv4
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		MinBytes:    1,    // Process immediately
		MaxBytes:    10e6, // 10MB
		MaxWait:     1 * time.Second,
		Dialer:      dialer,
		StartOffset: startOffset,
	})
	return &Consumer{reader: r, logger: logger}
}

func (c *Consumer) Fetch(ctx context.Context) (consumer.Delivery, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	return &delivery{reader: c.reader, msg: msg, logger: c.logger}, nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

type delivery struct {
	reader *kafka.Reader
	msg    kafka.Message
	logger *slog.Logger
}

func (d *delivery) Body() []byte { return d.msg.Value }

func (d *delivery) Ack(ctx context.Context) error {
	return d.reader.CommitMessages(ctx, d.msg)
}

// Nack commits the offset as well: a partition cannot move past a message
// without committing it, so redelivery is left to the relay's own recovery.
func (d *delivery) Nack(ctx context.Context, requeue bool) error {
	d.logger.ErrorContext(ctx, "DLQ: dropping message",
		"topic", d.msg.Topic, "partition", d.msg.Partition, "offset", d.msg.Offset, "requeue_requested", requeue)
	return d.reader.CommitMessages(ctx, d.msg)
}
