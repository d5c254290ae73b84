package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/Fatonxhema/cdc-relay/internal/domain/cdc"
)

// EventRepository is an in-memory cdc.EventRepository.
type EventRepository struct {
	mu        sync.RWMutex
	byID      map[string]*cdc.EventRecord
	byMessage map[string]string
}

func NewEventRepository() *EventRepository {
	return &EventRepository{
		byID:      make(map[string]*cdc.EventRecord),
		byMessage: make(map[string]string),
	}
}

func clone(r *cdc.EventRecord) *cdc.EventRecord {
	c := *r
	if r.ProcessedAt != nil {
		t := *r.ProcessedAt
		c.ProcessedAt = &t
	}
	if r.ErrorMessage != nil {
		m := *r.ErrorMessage
		c.ErrorMessage = &m
	}
	return &c
}

func (r *EventRepository) CreateIfNotExists(_ context.Context, e *cdc.EventRecord) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byMessage[e.MessageID]; ok {
		return false, nil
	}
	e.Version = 1
	r.byID[e.ID] = clone(e)
	r.byMessage[e.MessageID] = e.ID
	return true, nil
}

func (r *EventRepository) Update(_ context.Context, e *cdc.EventRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.byID[e.ID]
	if !ok {
		return cdc.ErrNotFound
	}
	if stored.Version != e.Version {
		return cdc.ErrConcurrentUpdate
	}
	e.Version++
	r.byID[e.ID] = clone(e)
	return nil
}

func (r *EventRepository) GetByID(_ context.Context, id string) (*cdc.EventRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byID[id]
	if !ok {
		return nil, cdc.ErrNotFound
	}
	return clone(e), nil
}

func (r *EventRepository) GetByMessageID(_ context.Context, messageID string) (*cdc.EventRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byMessage[messageID]
	if !ok {
		return nil, cdc.ErrNotFound
	}
	return clone(r.byID[id]), nil
}

func (r *EventRepository) FetchRetryable(_ context.Context, limit, maxRetries int) ([]*cdc.EventRecord, error) {
	return r.list(func(e *cdc.EventRecord) bool {
		return e.Status.Retryable() && e.RetryCount < maxRetries
	}, limit), nil
}

func (r *EventRepository) List(_ context.Context, f cdc.EventFilter) ([]*cdc.EventRecord, error) {
	return r.list(func(e *cdc.EventRecord) bool {
		if f.Status != "" && e.Status != f.Status {
			return false
		}
		if f.PartitionKey != "" && e.PartitionKey != f.PartitionKey {
			return false
		}
		return true
	}, f.Limit), nil
}

// All returns every record ordered by creation time.
func (r *EventRepository) All() []*cdc.EventRecord {
	return r.list(func(*cdc.EventRecord) bool { return true }, 0)
}

func (r *EventRepository) list(keep func(*cdc.EventRecord) bool, limit int) []*cdc.EventRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*cdc.EventRecord
	for _, e := range r.byID {
		if keep(e) {
			out = append(out, clone(e))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].SequenceNumber < out[j].SequenceNumber
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
