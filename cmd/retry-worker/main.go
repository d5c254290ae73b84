package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Fatonxhema/cdc-relay/internal/application/factories/infrastructure"
	"github.com/Fatonxhema/cdc-relay/internal/config"
	"github.com/Fatonxhema/cdc-relay/internal/worker"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize structured JSON logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	infraFactory := infrastructure.NewFactory(cfg, logger)
	defer infraFactory.Close()

	pipeline, err := infraFactory.Pipeline(ctx)
	if err != nil {
		logger.Error("failed to init pipeline", "error", err)
		os.Exit(1)
	}

	poller := worker.NewRetryPoller(
		pipeline.Events,
		pipeline.Resolver,
		pipeline.Sink,
		pipeline.Sequencer,
		pipeline.Processor,
		worker.RetryOptions{
			Interval:       cfg.Retry.Interval,
			ErrorInterval:  cfg.Retry.ErrorInterval,
			BatchSize:      cfg.Retry.BatchSize,
			MaxRetries:     cfg.Retry.MaxRetries,
			Attempts:       cfg.Retry.Attempts,
			InitialBackoff: cfg.Retry.InitialBackoff,
			PublishTimeout: cfg.Pipeline.PublishTimeout,
			Logger:         logger,
		},
	)

	if err := worker.New(cfg.HTTP.MetricsAddr, logger, poller).Run(ctx); err != nil {
		logger.Error("retry worker stopped with error", "error", err)
		infraFactory.Close()
		os.Exit(1)
	}

	logger.Info("retry worker exited")
}
