package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Fatonxhema/cdc-relay/internal/api"
	"github.com/Fatonxhema/cdc-relay/internal/application/factories/infrastructure"
	"github.com/Fatonxhema/cdc-relay/internal/config"
	"github.com/Fatonxhema/cdc-relay/internal/infrastructure/postgres"
	"github.com/Fatonxhema/cdc-relay/internal/routing"
	"github.com/Fatonxhema/cdc-relay/internal/usecase"
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

	// Initialize dependencies
	pgPool, err := infraFactory.Postgres(ctx)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}

	store, err := infraFactory.Store(ctx)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}

	// Repositories
	eventRepo := postgres.NewEventRepository(pgPool)
	routingRepo := postgres.NewRoutingRepository(pgPool)
	resolver := routing.NewResolver(routingRepo, store, cfg.Pipeline.RoutingTTL, logger)

	// UseCases
	getEventUC := usecase.NewGetEvent(eventRepo)
	listEventsUC := usecase.NewListEvents(eventRepo)
	requeueEventUC := usecase.NewRequeueEvent(eventRepo, logger)
	listRoutesUC := usecase.NewListRoutes(routingRepo)
	upsertRouteUC := usecase.NewUpsertRoute(routingRepo, resolver, logger)

	// REST API Handler
	handlers := api.NewHandlers(getEventUC, listEventsUC, requeueEventUC, listRoutesUC, upsertRouteUC,
		map[string]api.Pinger{"postgres": pgPool, "redis": store}, logger)
	apiHandler := api.NewRouter(handlers, store, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           apiHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Server starting", "port", cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen failed", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	logger.Info("Server exiting")
}
