// Package processor forwards change events to their downstream destination in
// per-partition sequence order.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Fatonxhema/cdc-relay/internal/domain/cdc"
	"github.com/Fatonxhema/cdc-relay/internal/domain/routing"
	"github.com/Fatonxhema/cdc-relay/internal/idempotency"
	"github.com/Fatonxhema/cdc-relay/internal/sequencer"
)

const (
	DefaultPublishTimeout = 5 * time.Second
	// persistTimeout bounds status writes that must survive a cancelled caller.
	persistTimeout = 5 * time.Second
)

// Resolver finds the destination of a source table.
type Resolver interface {
	Resolve(ctx context.Context, table string) (*routing.Configuration, error)
}

type Options struct {
	PublishTimeout time.Duration
	// IdempotencyTTL overrides the guard default when > 0.
	IdempotencyTTL time.Duration
	Now            func() time.Time
	Logger         *slog.Logger
}

func (o *Options) setDefaults() {
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = DefaultPublishTimeout
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

type Processor struct {
	guard    *idempotency.Guard
	seq      *sequencer.Sequencer
	resolver Resolver
	events   cdc.EventRepository
	sink     cdc.Sink
	opts     Options
	log      *slog.Logger
}

func New(
	guard *idempotency.Guard,
	seq *sequencer.Sequencer,
	resolver Resolver,
	events cdc.EventRepository,
	sink cdc.Sink,
	opts Options,
) *Processor {
	opts.setDefaults()
	return &Processor{
		guard:    guard,
		seq:      seq,
		resolver: resolver,
		events:   events,
		sink:     sink,
		opts:     opts,
		log:      opts.Logger,
	}
}

// Process runs one inbound message through the pipeline. A nil error means the
// message may be acknowledged: it was forwarded, buffered behind a gap, or had
// already been handled.
func (p *Processor) Process(ctx context.Context, m cdc.Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	log := p.log.With("message_id", m.MessageID, "partition_key", m.PartitionKey, "sequence", m.SequenceNumber)

	done, err := p.guard.IsProcessed(ctx, m.MessageID)
	if err != nil {
		return err
	}
	if done {
		log.InfoContext(ctx, "message already processed, skipping")
		messagesTotal.WithLabelValues(outcomeDuplicate).Inc()
		return p.resume(ctx, m.PartitionKey)
	}

	lease, err := p.seq.Lock(ctx, m.PartitionKey)
	if err != nil {
		return fmt.Errorf("lock partition %s: %w", m.PartitionKey, err)
	}
	defer p.release(ctx, lease)

	pos, expected, err := p.seq.Classify(ctx, m.PartitionKey, m.SequenceNumber)
	if err != nil {
		return err
	}

	switch pos {
	case sequencer.Stale:
		log.InfoContext(ctx, "discarding stale message", "expected", expected)
		messagesTotal.WithLabelValues(outcomeStale).Inc()
		return nil
	case sequencer.Ahead:
		if err := p.seq.Buffer(ctx, m); err != nil {
			return err
		}
		log.InfoContext(ctx, "message buffered behind gap", "expected", expected)
		messagesTotal.WithLabelValues(outcomeBuffered).Inc()
	default:
		if err := p.forward(ctx, m); err != nil {
			return err
		}
	}

	if err := p.drain(ctx, lease, m.PartitionKey); err != nil {
		return fmt.Errorf("drain partition %s: %w", m.PartitionKey, err)
	}
	return nil
}

// Reconcile continues a partition after the retry worker settled rec. If the
// cursor still waits on rec, it moves past it and replays the buffer.
// Dead-lettered records are skipped over so later events are not held back.
func (p *Processor) Reconcile(ctx context.Context, rec *cdc.EventRecord) error {
	if !rec.Status.Terminal() {
		return nil
	}

	lease, err := p.seq.Lock(ctx, rec.PartitionKey)
	if err != nil {
		return fmt.Errorf("lock partition %s: %w", rec.PartitionKey, err)
	}
	defer p.release(ctx, lease)

	if rec.Status == cdc.StatusCompleted {
		if err := p.guard.MarkProcessed(ctx, rec.MessageID, p.opts.IdempotencyTTL); err != nil {
			return err
		}
	}

	expected, err := p.seq.Expected(ctx, rec.PartitionKey)
	if err != nil {
		return err
	}
	if expected != rec.SequenceNumber {
		return nil
	}

	if err := p.seq.Advance(ctx, rec.PartitionKey, rec.SequenceNumber); err != nil {
		return err
	}
	if err := p.seq.Remove(ctx, rec.PartitionKey, rec.SequenceNumber); err != nil {
		return err
	}
	p.log.InfoContext(ctx, "partition advanced past retried event",
		"message_id", rec.MessageID, "partition_key", rec.PartitionKey,
		"sequence", rec.SequenceNumber, "status", rec.Status)

	return p.drain(ctx, lease, rec.PartitionKey)
}

// resume drains pk when a redelivery finds its message already settled, since
// the earlier delivery may have failed between settling and draining. A busy
// partition is left to its holder, which drains before releasing.
func (p *Processor) resume(ctx context.Context, pk string) error {
	lease, err := p.seq.TryLock(ctx, pk)
	if err != nil {
		return fmt.Errorf("lock partition %s: %w", pk, err)
	}
	if lease == nil {
		return nil
	}
	defer p.release(ctx, lease)

	if err := p.drain(ctx, lease, pk); err != nil {
		return fmt.Errorf("drain partition %s: %w", pk, err)
	}
	return nil
}

// drain replays buffered messages that became in order, stopping at the first gap.
func (p *Processor) drain(ctx context.Context, lease *sequencer.Lease, pk string) error {
	ready, err := p.seq.DrainReady(ctx, pk)
	if err != nil {
		return err
	}
	if len(ready) == 0 {
		return nil
	}
	expected, err := p.seq.Expected(ctx, pk)
	if err != nil {
		return err
	}

	for _, m := range ready {
		if m.SequenceNumber != expected {
			break
		}
		if err := lease.Extend(ctx); err != nil {
			return err
		}

		done, err := p.guard.IsProcessed(ctx, m.MessageID)
		if err != nil {
			return err
		}
		if done {
			err = p.settle(ctx, m, false)
		} else {
			err = p.forward(ctx, m)
		}
		if err != nil {
			return err
		}

		drainedTotal.Inc()
		expected++
	}
	return nil
}

// forward persists, publishes and settles an in-order message.
func (p *Processor) forward(ctx context.Context, m cdc.Message) error {
	log := p.log.With("message_id", m.MessageID, "partition_key", m.PartitionKey, "sequence", m.SequenceNumber)

	route, routeErr := p.resolver.Resolve(ctx, m.TableName)
	if routeErr != nil && !errors.Is(routeErr, cdc.ErrRoutingNotFound) {
		return routeErr
	}

	rec := cdc.NewEventRecord(uuid.NewString(), m, p.opts.Now())
	if routeErr != nil {
		rec.Fail(routeErr)
	}
	created, err := p.events.CreateIfNotExists(ctx, rec)
	if err != nil {
		return cdc.Transient("persist event record", err)
	}

	if !created {
		rec, err = p.events.GetByMessageID(ctx, m.MessageID)
		if err != nil {
			return cdc.Transient("load event record", err)
		}
		switch rec.Status {
		case cdc.StatusCompleted:
			log.InfoContext(ctx, "event already forwarded, settling partition")
			return p.settle(ctx, m, true)
		case cdc.StatusDeadLettered:
			log.WarnContext(ctx, "event is dead-lettered, skipping over it")
			return p.settle(ctx, m, false)
		}
		if routeErr != nil {
			return p.fail(ctx, rec, routeErr)
		}
		log.InfoContext(ctx, "re-publishing existing event record", "status", rec.Status, "record_id", rec.ID)
	} else if routeErr != nil {
		log.ErrorContext(ctx, "no active routing configuration", "table", m.TableName, "record_id", rec.ID)
		messagesTotal.WithLabelValues(outcomeUnrouted).Inc()
		return routeErr
	}

	if err := p.publish(ctx, route, m); err != nil {
		return p.fail(ctx, rec, err)
	}

	completed := *rec
	completed.Complete(p.opts.Now())
	if err := p.events.Update(ctx, &completed); err != nil {
		log.ErrorContext(ctx, "event published but completion not persisted, retry will publish it again",
			"record_id", rec.ID, "exchange", route.Exchange, "routing_key", route.RoutingKey, "error", err)
		return p.fail(ctx, rec, fmt.Errorf("persist completion: %w", err))
	}

	if err := p.settle(ctx, m, true); err != nil {
		return err
	}
	log.InfoContext(ctx, "event forwarded", "exchange", route.Exchange, "routing_key", route.RoutingKey)
	messagesTotal.WithLabelValues(outcomeForwarded).Inc()
	return nil
}

func (p *Processor) publish(ctx context.Context, route *routing.Configuration, m cdc.Message) error {
	pubCtx, cancel := context.WithTimeout(ctx, p.opts.PublishTimeout)
	defer cancel()

	start := time.Now()
	err := p.sink.Publish(pubCtx, cdc.Publication{
		Exchange:     route.Exchange,
		RoutingKey:   route.RoutingKey,
		Queue:        route.Queue,
		PartitionKey: m.PartitionKey,
		Message:      m.Forward(),
	})
	publishDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return &cdc.PublishError{MessageID: m.MessageID, Err: err}
	}
	return nil
}

// settle moves the cursor past m. mark is false for messages that must not be
// reported as processed, such as dead-lettered ones.
func (p *Processor) settle(ctx context.Context, m cdc.Message, mark bool) error {
	if err := p.seq.Advance(ctx, m.PartitionKey, m.SequenceNumber); err != nil {
		return err
	}
	if mark {
		if err := p.guard.MarkProcessed(ctx, m.MessageID, p.opts.IdempotencyTTL); err != nil {
			return err
		}
	}
	if err := p.seq.Remove(ctx, m.PartitionKey, m.SequenceNumber); err != nil {
		return err
	}
	if !mark {
		messagesTotal.WithLabelValues(outcomeSettled).Inc()
	}
	return nil
}

// fail records cause on rec and returns it. The write outlives a cancelled ctx
// so an interrupted attempt is never left looking successful.
func (p *Processor) fail(ctx context.Context, rec *cdc.EventRecord, cause error) error {
	messagesTotal.WithLabelValues(outcomeFailed).Inc()

	rec.Fail(cause)
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := p.events.Update(persistCtx, rec); err != nil {
		p.log.ErrorContext(ctx, "failed to persist event failure",
			"message_id", rec.MessageID, "record_id", rec.ID, "error", err)
		return errors.Join(cause, err)
	}

	p.log.WarnContext(ctx, "event forwarding failed",
		"message_id", rec.MessageID, "record_id", rec.ID, "status", rec.Status, "error", cause)
	return cause
}

func (p *Processor) release(ctx context.Context, lease *sequencer.Lease) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := lease.Release(releaseCtx); err != nil {
		p.log.WarnContext(ctx, "failed to release partition lock", "error", err)
	}
}
