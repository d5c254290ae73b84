package cdc

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidMessage marks an inbound body that cannot be processed at all.
	ErrInvalidMessage = errors.New("invalid cdc message")
	// ErrSequence marks an expected/received sequence mismatch.
	ErrSequence = errors.New("sequence mismatch")
	// ErrRoutingNotFound marks a table without an active routing configuration.
	ErrRoutingNotFound = errors.New("routing configuration not found")
	// ErrPublish marks a forwarding failure. Always retryable.
	ErrPublish = errors.New("publish failed")
	// ErrTransient marks infrastructure unavailability (cache, store, lock contention).
	ErrTransient = errors.New("transient infrastructure error")
	// ErrPartitionBusy is returned when the partition lock could not be acquired in time.
	ErrPartitionBusy = fmt.Errorf("%w: partition is locked by another consumer", ErrTransient)
	// ErrNotFound is returned by repositories for missing records.
	ErrNotFound = errors.New("record not found")
	// ErrConcurrentUpdate is returned when a record changed since it was read.
	ErrConcurrentUpdate = errors.New("record was modified concurrently")
	// ErrInvalidTransition is returned for status changes outside the lifecycle.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// SequenceError reports a mismatch for strict-mode callers.
type SequenceError struct {
	PartitionKey string
	Expected     int64
	Received     int64
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("sequence mismatch for partition %s: expected %d, received %d", e.PartitionKey, e.Expected, e.Received)
}

func (e *SequenceError) Unwrap() error { return ErrSequence }

// RoutingNotFoundError signals a configuration gap, not a transient fault.
type RoutingNotFoundError struct {
	TableName string
}

func (e *RoutingNotFoundError) Error() string {
	return fmt.Sprintf("routing configuration not found for table: %s", e.TableName)
}

func (e *RoutingNotFoundError) Unwrap() error { return ErrRoutingNotFound }

// PublishError wraps a forwarding failure for a single message.
type PublishError struct {
	MessageID string
	Err       error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish message %s: %v", e.MessageID, e.Err)
}

func (e *PublishError) Unwrap() []error { return []error{ErrPublish, e.Err} }

// Transient wraps err so errors.Is(err, ErrTransient) holds.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, errors.Join(ErrTransient, err))
}

// IsTransient reports whether err should be retried at the transport level.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
