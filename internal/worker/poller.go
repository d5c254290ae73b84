package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Fatonxhema/cdc-relay/internal/domain/cdc"
	"github.com/Fatonxhema/cdc-relay/internal/domain/routing"
	"github.com/Fatonxhema/cdc-relay/internal/sequencer"
)

var (
	retryOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cdc_retry_events_total",
		Help: "Retry cycles by outcome",
	}, []string{"outcome"})
	batchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cdc_retry_batch_errors_total",
		Help: "Failed attempts to fetch a retry batch",
	})
)

// errLeaseLost aborts a retry whose partition lock could not be renewed.
var errLeaseLost = errors.New("partition lease lost")

const (
	DefaultInterval       = 30 * time.Second
	DefaultErrorInterval  = time.Minute
	DefaultBatchSize      = 10
	DefaultMaxRetries     = 5
	DefaultAttempts       = 5
	DefaultInitialBackoff = 2 * time.Second
	DefaultMultiplier     = 2.0
	DefaultPublishTimeout = 5 * time.Second
)

type Resolver interface {
	Resolve(ctx context.Context, table string) (*routing.Configuration, error)
}

type Locker interface {
	TryLock(ctx context.Context, pk string) (*sequencer.Lease, error)
}

// Reconciler resumes a partition once one of its records is settled.
type Reconciler interface {
	Reconcile(ctx context.Context, rec *cdc.EventRecord) error
}

type RetryOptions struct {
	Interval      time.Duration
	ErrorInterval time.Duration
	BatchSize     int
	// MaxRetries is the number of failed cycles after which a record is dead-lettered.
	MaxRetries int
	// Attempts, InitialBackoff and Multiplier shape the publish retries inside one cycle.
	Attempts       int
	InitialBackoff time.Duration
	Multiplier     float64
	PublishTimeout time.Duration
	Now            func() time.Time
	Logger         *slog.Logger
}

func (o *RetryOptions) setDefaults() {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.ErrorInterval <= 0 {
		o.ErrorInterval = DefaultErrorInterval
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.Attempts <= 0 {
		o.Attempts = DefaultAttempts
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = DefaultInitialBackoff
	}
	if o.Multiplier < 1 {
		o.Multiplier = DefaultMultiplier
	}
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

// RetryPoller re-publishes failed event records until they complete or are dead-lettered.
type RetryPoller struct {
	events     cdc.EventRepository
	resolver   Resolver
	sink       cdc.Sink
	locker     Locker
	reconciler Reconciler
	opts       RetryOptions
	log        *slog.Logger
}

func NewRetryPoller(
	events cdc.EventRepository,
	resolver Resolver,
	sink cdc.Sink,
	locker Locker,
	reconciler Reconciler,
	opts RetryOptions,
) *RetryPoller {
	opts.setDefaults()
	return &RetryPoller{
		events:     events,
		resolver:   resolver,
		sink:       sink,
		locker:     locker,
		reconciler: reconciler,
		opts:       opts,
		log:        opts.Logger,
	}
}

// Run polls until ctx is cancelled.
func (p *RetryPoller) Run(ctx context.Context) error {
	p.log.Info("retry poller started",
		"interval", p.opts.Interval, "batch_size", p.opts.BatchSize, "max_retries", p.opts.MaxRetries)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("retry poller stopped")
			return nil
		case <-timer.C:
		}

		wait := p.opts.Interval
		if _, err := p.ProcessBatch(ctx); err != nil && ctx.Err() == nil {
			batchErrors.Inc()
			p.log.ErrorContext(ctx, "failed to process retry batch", "error", err)
			wait = p.opts.ErrorInterval
		}
		timer.Reset(wait)
	}
}

// ProcessBatch runs one retry cycle and returns how many records it settled or
// rescheduled. Only a failure to fetch the batch is returned as an error.
func (p *RetryPoller) ProcessBatch(ctx context.Context) (int, error) {
	records, err := p.events.FetchRetryable(ctx, p.opts.BatchSize, p.opts.MaxRetries)
	if err != nil {
		return 0, fmt.Errorf("fetch retryable events: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}
	p.log.InfoContext(ctx, "retrying failed events", "count", len(records))

	handled := 0
	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}
		if p.retry(ctx, rec) {
			handled++
		}
	}
	return handled, nil
}

func (p *RetryPoller) retry(ctx context.Context, rec *cdc.EventRecord) bool {
	log := p.log.With("record_id", rec.ID, "message_id", rec.MessageID,
		"partition_key", rec.PartitionKey, "sequence", rec.SequenceNumber)

	lease, err := p.locker.TryLock(ctx, rec.PartitionKey)
	if err != nil {
		log.WarnContext(ctx, "failed to lock partition", "error", err)
		return false
	}
	if lease == nil {
		log.DebugContext(ctx, "partition busy, retry deferred")
		retryOutcomes.WithLabelValues("deferred").Inc()
		return false
	}

	settled := p.attempt(ctx, log, lease, rec)

	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	if err := lease.Release(releaseCtx); err != nil {
		log.WarnContext(ctx, "failed to release partition lock", "error", err)
	}
	cancel()

	if settled && rec.Status.Terminal() {
		if err := p.reconciler.Reconcile(ctx, rec); err != nil {
			log.WarnContext(ctx, "failed to resume partition", "error", err)
		}
	}
	return settled
}

// attempt publishes rec and persists the outcome. It reports whether the new
// status was stored.
func (p *RetryPoller) attempt(ctx context.Context, log *slog.Logger, lease *sequencer.Lease, rec *cdc.EventRecord) bool {
	route, err := p.resolver.Resolve(ctx, rec.TableName)
	if err != nil && !errors.Is(err, cdc.ErrRoutingNotFound) {
		log.WarnContext(ctx, "routing lookup unavailable, retry deferred", "error", err)
		return false
	}
	if err == nil {
		err = p.publish(ctx, log, lease, route, rec)
	}
	if ctx.Err() != nil {
		// shutting down; the interrupted cycle is not counted
		return false
	}
	if errors.Is(err, errLeaseLost) {
		log.WarnContext(ctx, "partition lock lost during retry, outcome discarded", "error", err)
		retryOutcomes.WithLabelValues("deferred").Inc()
		return false
	}

	outcome := "completed"
	if err == nil {
		rec.Complete(p.opts.Now())
	} else {
		rec.RetryFailed(err, p.opts.MaxRetries)
		outcome = "rescheduled"
		if rec.Status == cdc.StatusDeadLettered {
			outcome = "dead_lettered"
		}
	}

	if err := p.events.Update(ctx, rec); err != nil {
		if errors.Is(err, cdc.ErrConcurrentUpdate) {
			log.WarnContext(ctx, "event record changed during retry, skipping")
		} else {
			log.ErrorContext(ctx, "failed to persist retry outcome", "error", err)
		}
		return false
	}
	retryOutcomes.WithLabelValues(outcome).Inc()

	switch rec.Status {
	case cdc.StatusCompleted:
		log.InfoContext(ctx, "event retried successfully")
	case cdc.StatusDeadLettered:
		log.ErrorContext(ctx, "event dead-lettered", "retry_count", rec.RetryCount, "error", err)
	default:
		log.WarnContext(ctx, "event retry failed", "retry_count", rec.RetryCount, "error", err)
	}
	return true
}

func (p *RetryPoller) publish(ctx context.Context, log *slog.Logger, lease *sequencer.Lease, route *routing.Configuration, rec *cdc.EventRecord) error {
	m := rec.Message()
	pub := cdc.Publication{
		Exchange:     route.Exchange,
		RoutingKey:   route.RoutingKey,
		Queue:        route.Queue,
		PartitionKey: m.PartitionKey,
		Message:      m.Forward(),
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.opts.InitialBackoff
	b.Multiplier = p.opts.Multiplier
	b.RandomizationFactor = 0
	b.MaxInterval = time.Hour
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.opts.Attempts-1)), ctx)

	op := func() error {
		// Another holder may own the partition once the lease lapsed during backoff.
		if err := lease.Extend(ctx); err != nil {
			return backoff.Permanent(fmt.Errorf("%w: %w", errLeaseLost, err))
		}
		pubCtx, cancel := context.WithTimeout(ctx, p.opts.PublishTimeout)
		defer cancel()
		if err := p.sink.Publish(pubCtx, pub); err != nil {
			return &cdc.PublishError{MessageID: m.MessageID, Err: err}
		}
		return nil
	}
	notify := func(err error, next time.Duration) {
		log.DebugContext(ctx, "publish attempt failed", "next_attempt_in", next, "error", err)
	}
	return backoff.RetryNotify(op, policy, notify)
}
