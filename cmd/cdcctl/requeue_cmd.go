package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Fatonxhema/cdc-relay/internal/application/factories/infrastructure"
	"github.com/Fatonxhema/cdc-relay/internal/config"
	"github.com/Fatonxhema/cdc-relay/internal/domain/cdc"
	"github.com/Fatonxhema/cdc-relay/internal/infrastructure/postgres"
	"github.com/Fatonxhema/cdc-relay/internal/usecase"
)

func newRequeueCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "requeue [id...]",
		Short: "Return dead-lettered events to the retry worker with a fresh retry budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return fmt.Errorf("pass event ids or --all")
			}
			return withFactory(cmd.Context(), func(ctx context.Context, f *infrastructure.Factory, _ *config.Config, logger *slog.Logger) error {
				pool, err := f.Postgres(ctx)
				if err != nil {
					return err
				}
				repo := postgres.NewEventRepository(pool)

				ids := args
				if all {
					dead, err := usecase.NewListEvents(repo).Execute(ctx, usecase.ListEventsParams{
						Status: string(cdc.StatusDeadLettered),
						Limit:  usecase.MaxListLimit,
					})
					if err != nil {
						return err
					}
					for _, e := range dead {
						ids = append(ids, e.ID)
					}
				}

				uc := usecase.NewRequeueEvent(repo, logger)
				requeued := 0
				for _, id := range ids {
					if _, err := uc.Execute(ctx, id); err != nil {
						logger.Error("requeue failed", "event_id", id, "error", err)
						continue
					}
					requeued++
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d of %d events\n", requeued, len(ids))
				if requeued < len(ids) {
					return fmt.Errorf("%d events were not requeued", len(ids)-requeued)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Requeue every dead-lettered event")
	return cmd
}
