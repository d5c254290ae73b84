package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Fatonxhema/cdc-relay/internal/application/factories/infrastructure"
	"github.com/Fatonxhema/cdc-relay/internal/config"
	"github.com/Fatonxhema/cdc-relay/internal/infrastructure/postgres"
	"github.com/Fatonxhema/cdc-relay/internal/routing"
	"github.com/Fatonxhema/cdc-relay/internal/usecase"
)

func newRoutesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "List active routing configurations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFactory(cmd.Context(), func(ctx context.Context, f *infrastructure.Factory, _ *config.Config, _ *slog.Logger) error {
				pool, err := f.Postgres(ctx)
				if err != nil {
					return err
				}
				routes, err := usecase.NewListRoutes(postgres.NewRoutingRepository(pool)).Execute(ctx)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), routes)
			})
		},
	}
	cmd.AddCommand(newRoutesSetCmd())
	return cmd
}

func newRoutesSetCmd() *cobra.Command {
	var (
		params   usecase.UpsertRouteParams
		inactive bool
	)

	cmd := &cobra.Command{
		Use:   "set <table>",
		Short: "Create or replace the routing configuration of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params.TableName = args[0]
			active := !inactive
			params.IsActive = &active

			return withFactory(cmd.Context(), func(ctx context.Context, f *infrastructure.Factory, cfg *config.Config, logger *slog.Logger) error {
				pool, err := f.Postgres(ctx)
				if err != nil {
					return err
				}
				store, err := f.Store(ctx)
				if err != nil {
					return err
				}
				repo := postgres.NewRoutingRepository(pool)
				resolver := routing.NewResolver(repo, store, cfg.Pipeline.RoutingTTL, logger)

				route, err := usecase.NewUpsertRoute(repo, resolver, logger).Execute(ctx, params)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), route)
			})
		},
	}

	cmd.Flags().StringVar(&params.Exchange, "exchange", "", "Destination exchange or topic (required)")
	cmd.Flags().StringVar(&params.RoutingKey, "routing-key", "", "Routing key")
	cmd.Flags().StringVar(&params.Queue, "queue", "", "Queue to declare and bind (amqp only)")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "Store the configuration disabled")
	_ = cmd.MarkFlagRequired("exchange")
	return cmd
}
