package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Fatonxhema/cdc-relay/internal/domain/cdc"
)

// ErrInvalidInput marks a request the use case refuses before touching storage.
var ErrInvalidInput = errors.New("invalid input")

type EventDTO struct {
	ID             string     `json:"id"`
	MessageID      string     `json:"message_id"`
	TableName      string     `json:"table_name"`
	Operation      string     `json:"operation"`
	Payload        string     `json:"payload"`
	SequenceNumber int64      `json:"sequence_number"`
	PartitionKey   string     `json:"partition_key"`
	Timestamp      time.Time  `json:"timestamp"`
	CreatedAt      time.Time  `json:"created_at"`
	ProcessedAt    *time.Time `json:"processed_at,omitempty"`
	Status         cdc.Status `json:"status"`
	ErrorMessage   *string    `json:"error_message,omitempty"`
	RetryCount     int        `json:"retry_count"`
}

func toEventDTO(r *cdc.EventRecord) *EventDTO {
	return &EventDTO{
		ID:             r.ID,
		MessageID:      r.MessageID,
		TableName:      r.TableName,
		Operation:      r.Operation,
		Payload:        r.Payload,
		SequenceNumber: r.SequenceNumber,
		PartitionKey:   r.PartitionKey,
		Timestamp:      r.Timestamp,
		CreatedAt:      r.CreatedAt,
		ProcessedAt:    r.ProcessedAt,
		Status:         r.Status,
		ErrorMessage:   r.ErrorMessage,
		RetryCount:     r.RetryCount,
	}
}

type GetEvent struct {
	events cdc.EventRepository
}

func NewGetEvent(events cdc.EventRepository) *GetEvent {
	return &GetEvent{events: events}
}

// Execute looks the record up by id, then by source message id.
func (uc *GetEvent) Execute(ctx context.Context, id string) (*EventDTO, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: missing event id", ErrInvalidInput)
	}

	rec, err := uc.events.GetByID(ctx, id)
	if errors.Is(err, cdc.ErrNotFound) {
		rec, err = uc.events.GetByMessageID(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get event %s: %w", id, err)
	}
	return toEventDTO(rec), nil
}
