package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/Fatonxhema/cdc-relay/internal/domain/cdc"
)

const (
	headerRoutingKey  = "routing-key"
	headerMessageID   = "message-id"
	headerContentType = "content-type"
	headerPublishedAt = "published-at"
)

type ProducerConfig struct {
	Brokers []string
}

// Producer publishes forwarded messages as a cdc.Sink. The configuration
// exchange is used as the topic and the partition key as the message key, so
// every partition of a source table lands on one kafka partition.
type Producer struct {
	writer *kafka.Writer
}

func NewProducer(cfg ProducerConfig) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		MaxAttempts:            5,
		ReadTimeout:            10 * time.Second,
		WriteTimeout:           10 * time.Second,
		RequiredAcks:           kafka.RequireAll,
		Async:                  false,
		AllowAutoTopicCreation: true,
	}

	return &Producer{writer: w}
}

// Publish returns once every in-sync replica acknowledged the write.
func (p *Producer) Publish(ctx context.Context, pub cdc.Publication) error {
	msg, err := newMessage(pub, time.Now())
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func newMessage(pub cdc.Publication, now time.Time) (kafka.Message, error) {
	value, err := json.Marshal(pub.Message)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal message %s: %w", pub.Message.MessageID, err)
	}

	return kafka.Message{
		Topic: pub.Exchange,
		Key:   []byte(pub.PartitionKey),
		Value: value,
		Headers: []kafka.Header{
			{Key: headerRoutingKey, Value: []byte(pub.RoutingKey)},
			{Key: headerMessageID, Value: []byte(uuid.NewString())},
			{Key: headerContentType, Value: []byte("application/json")},
			{Key: headerPublishedAt, Value: []byte(strconv.FormatInt(now.Unix(), 10))},
		},
	}, nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
