package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Fatonxhema/cdc-relay/internal/domain/cdc"
)

// RequeueEvent hands a dead-lettered record back to the retry worker with a
// fresh retry budget.
type RequeueEvent struct {
	events cdc.EventRepository
	logger *slog.Logger
}

func NewRequeueEvent(events cdc.EventRepository, logger *slog.Logger) *RequeueEvent {
	if logger == nil {
		logger = slog.Default()
	}
	return &RequeueEvent{events: events, logger: logger}
}

func (uc *RequeueEvent) Execute(ctx context.Context, id string) (*EventDTO, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: missing event id", ErrInvalidInput)
	}

	rec, err := uc.events.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get event %s: %w", id, err)
	}
	if rec.Status != cdc.StatusDeadLettered {
		return nil, fmt.Errorf("requeue event %s in status %s: %w", id, rec.Status, cdc.ErrInvalidTransition)
	}

	rec.Requeue()
	if err := uc.events.Update(ctx, rec); err != nil {
		return nil, fmt.Errorf("requeue event %s: %w", id, err)
	}

	uc.logger.InfoContext(ctx, "event requeued",
		"event_id", rec.ID, "message_id", rec.MessageID, "partition_key", rec.PartitionKey)
	return toEventDTO(rec), nil
}
