package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Fatonxhema/cdc-relay/internal/application/factories/infrastructure"
	"github.com/Fatonxhema/cdc-relay/internal/config"
)

var configPath string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "cdcctl",
		Short:        "Inspect and repair cdc relay state",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to config file (env vars override)")

	cmd.AddCommand(newEventsCmd())
	cmd.AddCommand(newRequeueCmd())
	cmd.AddCommand(newRoutesCmd())
	cmd.AddCommand(newRetryCmd())
	return cmd
}

// newFactory loads config and logs to stderr so stdout stays machine readable.
func newFactory() (*infrastructure.Factory, *config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}))
	return infrastructure.NewFactory(cfg, logger), cfg, logger, nil
}

func withFactory(ctx context.Context, fn func(ctx context.Context, f *infrastructure.Factory, cfg *config.Config, logger *slog.Logger) error) error {
	f, cfg, logger, err := newFactory()
	if err != nil {
		return err
	}
	defer f.Close()
	return fn(ctx, f, cfg, logger)
}
