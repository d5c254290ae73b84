package cdc

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MaxSequenceNumber is the largest sequence number accepted. Partition buffers
// may index by float64 score, which is exact only up to 2^53.
const MaxSequenceNumber int64 = 1 << 53

// Message is one inbound change event as delivered by the upstream change stream.
// Payload is the serialized row state and is never parsed by the relay.
type Message struct {
	MessageID      string    `json:"messageId"`
	TableName      string    `json:"tableName"`
	Operation      string    `json:"operation"`
	Payload        string    `json:"payload"`
	SequenceNumber int64     `json:"sequenceNumber"`
	PartitionKey   string    `json:"partitionKey"`
	Timestamp      time.Time `json:"timestamp"`
}

// ForwardMessage is the body published to a downstream destination.
type ForwardMessage struct {
	MessageID string    `json:"messageId"`
	TableName string    `json:"tableName"`
	Operation string    `json:"operation"`
	Payload   string    `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Forward builds the outbound body for m.
func (m Message) Forward() ForwardMessage {
	return ForwardMessage{
		MessageID: m.MessageID,
		TableName: m.TableName,
		Operation: m.Operation,
		Payload:   m.Payload,
		Timestamp: m.Timestamp,
	}
}

// Validate checks the fields the pipeline relies on.
func (m Message) Validate() error {
	switch {
	case strings.TrimSpace(m.MessageID) == "":
		return fmt.Errorf("%w: messageId is required", ErrInvalidMessage)
	case strings.TrimSpace(m.TableName) == "":
		return fmt.Errorf("%w: tableName is required", ErrInvalidMessage)
	case strings.TrimSpace(m.PartitionKey) == "":
		return fmt.Errorf("%w: partitionKey is required", ErrInvalidMessage)
	case m.SequenceNumber < 0:
		return fmt.Errorf("%w: sequenceNumber must not be negative", ErrInvalidMessage)
	case m.SequenceNumber > MaxSequenceNumber:
		return fmt.Errorf("%w: sequenceNumber exceeds %d", ErrInvalidMessage, MaxSequenceNumber)
	}
	return nil
}

// envelope mirrors Message with a lenient timestamp so producers that emit
// ISO-8601 without a zone offset are still accepted (interpreted as UTC).
type envelope struct {
	MessageID      string `json:"messageId"`
	TableName      string `json:"tableName"`
	Operation      string `json:"operation"`
	Payload        string `json:"payload"`
	SequenceNumber *int64 `json:"sequenceNumber"`
	PartitionKey   string `json:"partitionKey"`
	Timestamp      string `json:"timestamp"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// DecodeMessage parses and validates an inbound envelope.
func DecodeMessage(body []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if env.SequenceNumber == nil {
		return Message{}, fmt.Errorf("%w: sequenceNumber is required", ErrInvalidMessage)
	}

	ts, err := parseTimestamp(env.Timestamp)
	if err != nil {
		return Message{}, err
	}

	m := Message{
		MessageID:      env.MessageID,
		TableName:      env.TableName,
		Operation:      env.Operation,
		Payload:        env.Payload,
		SequenceNumber: *env.SequenceNumber,
		PartitionKey:   env.PartitionKey,
		Timestamp:      ts,
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: timestamp is required", ErrInvalidMessage)
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unparseable timestamp %q", ErrInvalidMessage, s)
}
