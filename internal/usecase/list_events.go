package usecase

import (
	"context"
	"fmt"

	"github.com/Fatonxhema/cdc-relay/internal/domain/cdc"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

type ListEventsParams struct {
	Status       string
	PartitionKey string
	Limit        int
}

type ListEvents struct {
	events cdc.EventRepository
}

func NewListEvents(events cdc.EventRepository) *ListEvents {
	return &ListEvents{events: events}
}

func (uc *ListEvents) Execute(ctx context.Context, params ListEventsParams) ([]*EventDTO, error) {
	status := cdc.Status(params.Status)
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, params.Status)
	}

	limit := params.Limit
	switch {
	case limit < 0:
		return nil, fmt.Errorf("%w: negative limit", ErrInvalidInput)
	case limit == 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}

	records, err := uc.events.List(ctx, cdc.EventFilter{
		Status:       status,
		PartitionKey: params.PartitionKey,
		Limit:        limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	out := make([]*EventDTO, 0, len(records))
	for _, r := range records {
		out = append(out, toEventDTO(r))
	}
	return out, nil
}
