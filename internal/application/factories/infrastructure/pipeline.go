package infrastructure

import (
	"context"

	"github.com/Fatonxhema/cdc-relay/internal/domain/cdc"
	"github.com/Fatonxhema/cdc-relay/internal/idempotency"
	"github.com/Fatonxhema/cdc-relay/internal/infrastructure/postgres"
	"github.com/Fatonxhema/cdc-relay/internal/processor"
	"github.com/Fatonxhema/cdc-relay/internal/routing"
	"github.com/Fatonxhema/cdc-relay/internal/sequencer"
)

// Pipeline holds the components shared by the consumer and the retry worker.
type Pipeline struct {
	Events    *postgres.EventRepository
	Routes    *postgres.RoutingRepository
	Resolver  *routing.Resolver
	Sink      cdc.Sink
	Sequencer *sequencer.Sequencer
	Processor *processor.Processor
}

func (f *Factory) Pipeline(ctx context.Context) (*Pipeline, error) {
	pool, err := f.Postgres(ctx)
	if err != nil {
		return nil, err
	}
	store, err := f.Store(ctx)
	if err != nil {
		return nil, err
	}
	sink, err := f.Sink()
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		Events: postgres.NewEventRepository(pool),
		Routes: postgres.NewRoutingRepository(pool),
		Sink:   sink,
	}
	p.Resolver = routing.NewResolver(p.Routes, store, f.cfg.Pipeline.RoutingTTL, f.logger)
	p.Sequencer = sequencer.New(store, sequencer.Options{
		BufferTTL: f.cfg.Pipeline.BufferTTL,
		LockTTL:   f.cfg.Pipeline.LockTTL,
		LockWait:  f.cfg.Pipeline.LockWait,
	})
	p.Processor = processor.New(
		idempotency.New(store, f.cfg.Pipeline.IdempotencyTTL),
		p.Sequencer,
		p.Resolver,
		p.Events,
		sink,
		processor.Options{
			PublishTimeout: f.cfg.Pipeline.PublishTimeout,
			IdempotencyTTL: f.cfg.Pipeline.IdempotencyTTL,
			Logger:         f.logger,
		},
	)
	return p, nil
}
