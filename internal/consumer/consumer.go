// Package consumer feeds inbound change events from a transport into the processor
// and acknowledges them according to the outcome.
package consumer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/Fatonxhema/cdc-relay/internal/domain/cdc"
)

var (
	deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cdc_consumer_deliveries_total",
		Help: "Inbound deliveries by acknowledgement outcome",
	}, []string{"outcome"})
	processingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cdc_consumer_processing_duration_seconds",
		Help:    "Time taken to process an inbound delivery",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	})
)

// Delivery is one inbound transport message.
type Delivery interface {
	Body() []byte
	Ack(ctx context.Context) error
	// Nack rejects the delivery. With requeue the transport redelivers it later.
	Nack(ctx context.Context, requeue bool) error
}

// Source yields deliveries from a transport.
type Source interface {
	// Fetch blocks until a delivery is available or ctx is done.
	Fetch(ctx context.Context) (Delivery, error)
}

// Processor is the pipeline entry point.
type Processor interface {
	Process(ctx context.Context, m cdc.Message) error
}

const (
	DefaultConcurrency     = 1
	DefaultMaxRetries      = 5
	DefaultInitialBackoff  = time.Second
	DefaultFetchErrorDelay = time.Second
)

type Options struct {
	// Concurrency is the number of handler goroutines sharing the source.
	Concurrency int
	// MaxRetries bounds local retries of transient failures before requeueing.
	// A negative value disables them.
	MaxRetries      int
	InitialBackoff  time.Duration
	FetchErrorDelay time.Duration
	Logger          *slog.Logger
}

func (o *Options) setDefaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	} else if o.MaxRetries == 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = DefaultInitialBackoff
	}
	if o.FetchErrorDelay <= 0 {
		o.FetchErrorDelay = DefaultFetchErrorDelay
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

type Consumer struct {
	source    Source
	processor Processor
	opts      Options
	log       *slog.Logger
}

func New(source Source, processor Processor, opts Options) *Consumer {
	opts.setDefaults()
	return &Consumer{
		source:    source,
		processor: processor,
		opts:      opts,
		log:       opts.Logger,
	}
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info("consumer started", "concurrency", c.opts.Concurrency)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < c.opts.Concurrency; i++ {
		g.Go(func() error { return c.loop(ctx) })
	}
	err := g.Wait()
	c.log.Info("consumer stopped")
	return err
}

func (c *Consumer) loop(ctx context.Context) error {
	for {
		d, err := c.source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.ErrorContext(ctx, "failed to fetch message", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.opts.FetchErrorDelay):
			}
			continue
		}
		c.Handle(ctx, d)
	}
}

// Handle processes one delivery and settles it with the transport.
//
// Malformed bodies and non-transient failures are rejected without requeue; the
// retry worker owns recovery of persisted events. Transient failures are retried
// locally and then requeued, because nothing durable records them yet.
func (c *Consumer) Handle(ctx context.Context, d Delivery) {
	started := time.Now()
	defer func() { processingDuration.Observe(time.Since(started).Seconds()) }()

	m, err := cdc.DecodeMessage(d.Body())
	if err != nil {
		c.log.ErrorContext(ctx, "rejecting malformed message", "error", err)
		c.nack(ctx, d, "malformed", false)
		return
	}
	log := c.log.With("message_id", m.MessageID, "partition_key", m.PartitionKey, "sequence", m.SequenceNumber)

	err = c.process(ctx, log, m)
	switch {
	case err == nil:
		c.ack(ctx, d)
	case ctx.Err() != nil:
		log.WarnContext(ctx, "processing interrupted, requeueing", "error", err)
		c.nack(ctx, d, "requeued", true)
	case cdc.IsTransient(err):
		log.ErrorContext(ctx, "transient failure persisted, requeueing", "error", err)
		c.nack(ctx, d, "requeued", true)
	default:
		log.ErrorContext(ctx, "processing failed, rejecting", "error", err)
		c.nack(ctx, d, "rejected", false)
	}
}

func (c *Consumer) process(ctx context.Context, log *slog.Logger, m cdc.Message) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.opts.MaxRetries)), ctx)

	op := func() error {
		err := c.processor.Process(ctx, m)
		if err != nil && !cdc.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		log.WarnContext(ctx, "transient failure, retrying", "backoff", next, "error", err)
	}

	err := backoff.RetryNotify(op, policy, notify)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}

// Settling outlives a cancelled ctx so finished work is not redelivered on shutdown.
func settleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
}

func (c *Consumer) ack(ctx context.Context, d Delivery) {
	settleCtx, cancel := settleContext(ctx)
	defer cancel()
	if err := d.Ack(settleCtx); err != nil {
		c.log.ErrorContext(ctx, "failed to ack delivery", "error", err)
		return
	}
	deliveriesTotal.WithLabelValues("acked").Inc()
}

func (c *Consumer) nack(ctx context.Context, d Delivery, outcome string, requeue bool) {
	settleCtx, cancel := settleContext(ctx)
	defer cancel()
	if err := d.Nack(settleCtx, requeue); err != nil {
		c.log.ErrorContext(ctx, "failed to nack delivery", "outcome", outcome, "error", err)
		return
	}
	deliveriesTotal.WithLabelValues(outcome).Inc()
}
