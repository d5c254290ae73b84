// Package amqp connects the relay to RabbitMQ.
package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Fatonxhema/cdc-relay/internal/domain/cdc"
)

// ErrNotConfirmed is returned when the broker negatively acknowledged a publish.
var ErrNotConfirmed = errors.New("broker did not confirm publish")

const ExchangeKind = "topic"

type Config struct {
	URL string
	// Queue is the inbound change event queue.
	Queue    string
	Prefetch int
}

// Dial opens a connection to the broker.
func Dial(cfg Config) (*amqp.Connection, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	return conn, nil
}

// Publisher is a cdc.Sink that waits for publisher confirms.
type Publisher struct {
	conn *amqp.Connection

	mu       sync.Mutex
	ch       *amqp.Channel
	declared map[string]bool
}

func NewPublisher(conn *amqp.Connection) (*Publisher, error) {
	p := &Publisher{conn: conn, declared: make(map[string]bool)}
	if err := p.open(); err != nil {
		return nil, err
	}
	return p, nil
}

// open must be called with mu held or before p is shared.
func (p *Publisher) open() error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("enable publisher confirms: %w", err)
	}
	p.ch = ch
	p.declared = make(map[string]bool)
	return nil
}

// Publish returns once the broker confirmed the message or ctx expires.
func (p *Publisher) Publish(ctx context.Context, pub cdc.Publication) error {
	body, err := json.Marshal(pub.Message)
	if err != nil {
		return fmt.Errorf("failed to marshal message %s: %w", pub.Message.MessageID, err)
	}

	p.mu.Lock()
	if p.ch == nil || p.ch.IsClosed() {
		if err := p.open(); err != nil {
			p.mu.Unlock()
			return err
		}
	}
	if err := p.declare(pub); err != nil {
		p.mu.Unlock()
		return err
	}
	confirm, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, pub.Exchange, pub.RoutingKey, false, false, newPublishing(body, time.Now()))
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", pub.Exchange, err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm: %w", err)
	}
	if !acked {
		return ErrNotConfirmed
	}
	return nil
}

// declare must be called with mu held.
func (p *Publisher) declare(pub cdc.Publication) error {
	if !p.declared[pub.Exchange] {
		if err := p.ch.ExchangeDeclare(pub.Exchange, ExchangeKind, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", pub.Exchange, err)
		}
		p.declared[pub.Exchange] = true
	}
	if pub.Queue == "" {
		return nil
	}

	binding := pub.Exchange + "|" + pub.RoutingKey + "|" + pub.Queue
	if p.declared[binding] {
		return nil
	}
	if _, err := p.ch.QueueDeclare(pub.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", pub.Queue, err)
	}
	if err := p.ch.QueueBind(pub.Queue, pub.RoutingKey, pub.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", pub.Queue, err)
	}
	p.declared[binding] = true
	return nil
}

func newPublishing(body []byte, now time.Time) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    now.UTC(),
		Body:         body,
	}
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return nil
	}
	return p.ch.Close()
}
