package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Fatonxhema/cdc-relay/internal/application/factories/infrastructure"
	"github.com/Fatonxhema/cdc-relay/internal/config"
	"github.com/Fatonxhema/cdc-relay/internal/worker"
)

func newRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Run a single retry worker cycle now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFactory(cmd.Context(), func(ctx context.Context, f *infrastructure.Factory, cfg *config.Config, logger *slog.Logger) error {
				pipeline, err := f.Pipeline(ctx)
				if err != nil {
					return err
				}
				poller := worker.NewRetryPoller(
					pipeline.Events, pipeline.Resolver, pipeline.Sink, pipeline.Sequencer, pipeline.Processor,
					worker.RetryOptions{
						BatchSize:      cfg.Retry.BatchSize,
						MaxRetries:     cfg.Retry.MaxRetries,
						Attempts:       cfg.Retry.Attempts,
						InitialBackoff: cfg.Retry.InitialBackoff,
						PublishTimeout: cfg.Pipeline.PublishTimeout,
						Logger:         logger,
					},
				)

				n, err := poller.ProcessBatch(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Processed %d events\n", n)
				return nil
			})
		},
	}
}
