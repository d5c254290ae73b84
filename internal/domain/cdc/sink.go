package cdc

import "context"

// Publication is one forwarded message addressed to a destination.
type Publication struct {
	Exchange   string
	RoutingKey string
	// Queue, when set, is bound to Exchange with RoutingKey by sinks that manage topology.
	Queue string
	// PartitionKey keeps downstream partitioning aligned with upstream ordering.
	PartitionKey string
	Message      ForwardMessage
}

// Sink publishes a message and returns only once the broker confirmed it.
// Implementations must honor ctx as the confirmation deadline.
type Sink interface {
	Publish(ctx context.Context, p Publication) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, p Publication) error

func (fn SinkFunc) Publish(ctx context.Context, p Publication) error {
	return fn(ctx, p)
}
