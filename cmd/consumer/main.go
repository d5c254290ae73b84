package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Fatonxhema/cdc-relay/internal/application/factories/infrastructure"
	"github.com/Fatonxhema/cdc-relay/internal/config"
	"github.com/Fatonxhema/cdc-relay/internal/consumer"
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

	source, err := infraFactory.Source(cfg.App.Name)
	if err != nil {
		logger.Error("failed to init source", "error", err)
		os.Exit(1)
	}

	c := consumer.New(source, pipeline.Processor, consumer.Options{
		Concurrency: cfg.Pipeline.Concurrency,
		MaxRetries:  cfg.Pipeline.LocalRetries,
		Logger:      logger,
	})

	logger.Info("cdc consumer started",
		"source", cfg.Transport.Source, "sink", cfg.Transport.Sink, "concurrency", cfg.Pipeline.Concurrency)

	if err := worker.New(cfg.HTTP.MetricsAddr, logger, c).Run(ctx); err != nil {
		logger.Error("consumer stopped with error", "error", err)
		infraFactory.Close()
		os.Exit(1)
	}

	logger.Info("consumer exited")
}
