package cdc

import (
	"context"
	"time"
)

// Status is the lifecycle state of an EventRecord. Values are stored verbatim.
type Status string

const (
	// StatusPending is reserved; no transition currently produces it.
	StatusPending Status = "Pending"
	// StatusProcessing is the initial state of an accepted event.
	StatusProcessing Status = "Processing"
	// StatusCompleted means the broker confirmed the publish.
	StatusCompleted Status = "Completed"
	// StatusFailed means the first forwarding attempt failed.
	StatusFailed Status = "Failed"
	// StatusRetryScheduled means a retry cycle failed and another is due.
	StatusRetryScheduled Status = "RetryScheduled"
	// StatusDeadLettered is terminal; an operator must intervene.
	StatusDeadLettered Status = "DeadLettered"
	// StatusValidationError is reserved; no transition currently produces it.
	StatusValidationError Status = "ValidationError"
)

var transitions = map[Status][]Status{
	StatusProcessing:     {StatusCompleted, StatusFailed},
	StatusFailed:         {StatusCompleted, StatusRetryScheduled, StatusDeadLettered},
	StatusRetryScheduled: {StatusCompleted, StatusRetryScheduled, StatusDeadLettered},
	// operator requeue
	StatusDeadLettered: {StatusFailed},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed,
		StatusRetryScheduled, StatusDeadLettered, StatusValidationError:
		return true
	}
	return false
}

// Terminal reports whether no further automatic transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusDeadLettered
}

// Retryable reports whether the retry worker may pick up a record in s.
func (s Status) Retryable() bool {
	return s == StatusFailed || s == StatusRetryScheduled
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// EventRecord is the durable lifecycle record of an accepted Message.
type EventRecord struct {
	ID             string
	MessageID      string
	TableName      string
	Operation      string
	Payload        string
	SequenceNumber int64
	PartitionKey   string
	Timestamp      time.Time
	CreatedAt      time.Time
	ProcessedAt    *time.Time
	Status         Status
	ErrorMessage   *string
	RetryCount     int
	// Version is the optimistic concurrency token maintained by the store.
	Version int
}

// NewEventRecord derives a Processing record from m.
func NewEventRecord(id string, m Message, now time.Time) *EventRecord {
	return &EventRecord{
		ID:             id,
		MessageID:      m.MessageID,
		TableName:      m.TableName,
		Operation:      m.Operation,
		Payload:        m.Payload,
		SequenceNumber: m.SequenceNumber,
		PartitionKey:   m.PartitionKey,
		Timestamp:      m.Timestamp,
		CreatedAt:      now,
		Status:         StatusProcessing,
	}
}

// Message rebuilds the inbound message the record was derived from.
func (r *EventRecord) Message() Message {
	return Message{
		MessageID:      r.MessageID,
		TableName:      r.TableName,
		Operation:      r.Operation,
		Payload:        r.Payload,
		SequenceNumber: r.SequenceNumber,
		PartitionKey:   r.PartitionKey,
		Timestamp:      r.Timestamp,
	}
}

// Complete moves the record to Completed.
func (r *EventRecord) Complete(now time.Time) {
	r.Status = StatusCompleted
	r.ProcessedAt = &now
	r.ErrorMessage = nil
}

// Fail records a failed forwarding attempt made by the orchestrator. Records
// already on the retry path keep their status and retry budget.
func (r *EventRecord) Fail(err error) {
	if !r.Status.Retryable() {
		r.Status = StatusFailed
	}
	r.setError(err)
}

// RetryFailed records a failed retry cycle. The record is dead-lettered once
// RetryCount reaches maxRetries.
func (r *EventRecord) RetryFailed(err error, maxRetries int) {
	r.RetryCount++
	if r.RetryCount >= maxRetries {
		r.Status = StatusDeadLettered
	} else {
		r.Status = StatusRetryScheduled
	}
	r.setError(err)
}

// Requeue returns a dead-lettered record to the retry path with a fresh budget.
func (r *EventRecord) Requeue() {
	r.Status = StatusFailed
	r.RetryCount = 0
}

func (r *EventRecord) setError(err error) {
	if err == nil {
		r.ErrorMessage = nil
		return
	}
	msg := err.Error()
	r.ErrorMessage = &msg
}

// EventFilter narrows List queries.
type EventFilter struct {
	Status       Status
	PartitionKey string
	Limit        int
}

// EventRepository is the durable event store.
type EventRepository interface {
	// CreateIfNotExists inserts r unless a record with the same message id exists.
	CreateIfNotExists(ctx context.Context, r *EventRecord) (bool, error)
	// Update persists r when r.Version matches the stored version and bumps it.
	Update(ctx context.Context, r *EventRecord) error
	GetByID(ctx context.Context, id string) (*EventRecord, error)
	GetByMessageID(ctx context.Context, messageID string) (*EventRecord, error)
	// FetchRetryable returns Failed/RetryScheduled records with RetryCount < maxRetries, oldest first.
	FetchRetryable(ctx context.Context, limit, maxRetries int) ([]*EventRecord, error)
	List(ctx context.Context, filter EventFilter) ([]*EventRecord, error)
}
