package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Fatonxhema/cdc-relay/internal/application/factories/infrastructure"
	"github.com/Fatonxhema/cdc-relay/internal/config"
	"github.com/Fatonxhema/cdc-relay/internal/infrastructure/postgres"
	"github.com/Fatonxhema/cdc-relay/internal/usecase"
)

func newEventsCmd() *cobra.Command {
	var params usecase.ListEventsParams

	cmd := &cobra.Command{
		Use:   "events [id]",
		Short: "List recent event records, or show one by id or message id",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFactory(cmd.Context(), func(ctx context.Context, f *infrastructure.Factory, _ *config.Config, _ *slog.Logger) error {
				pool, err := f.Postgres(ctx)
				if err != nil {
					return err
				}
				repo := postgres.NewEventRepository(pool)

				if len(args) == 1 {
					event, err := usecase.NewGetEvent(repo).Execute(ctx, args[0])
					if err != nil {
						return err
					}
					return writeJSON(cmd.OutOrStdout(), event)
				}

				events, err := usecase.NewListEvents(repo).Execute(ctx, params)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), events)
			})
		},
	}

	cmd.Flags().StringVar(&params.Status, "status", "", "Filter by status (e.g. DeadLettered)")
	cmd.Flags().StringVar(&params.PartitionKey, "partition", "", "Filter by partition key")
	cmd.Flags().IntVar(&params.Limit, "limit", 5, "Maximum number of records")
	return cmd
}
