package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Fatonxhema/cdc-relay/internal/domain/routing"
)

type ListRoutes struct {
	repo routing.Repository
}

func NewListRoutes(repo routing.Repository) *ListRoutes {
	return &ListRoutes{repo: repo}
}

func (uc *ListRoutes) Execute(ctx context.Context) ([]*routing.Configuration, error) {
	configs, err := uc.repo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list routes: %w", err)
	}
	if configs == nil {
		configs = []*routing.Configuration{}
	}
	return configs, nil
}

// CacheInvalidator drops a cached routing configuration.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, table string) error
}

type UpsertRouteParams struct {
	TableName  string `json:"-"`
	Exchange   string `json:"exchange"`
	RoutingKey string `json:"routing_key"`
	Queue      string `json:"queue"`
	IsActive   *bool  `json:"is_active"`
}

type UpsertRoute struct {
	repo   routing.Repository
	cache  CacheInvalidator
	logger *slog.Logger
}

func NewUpsertRoute(repo routing.Repository, cache CacheInvalidator, logger *slog.Logger) *UpsertRoute {
	if logger == nil {
		logger = slog.Default()
	}
	return &UpsertRoute{repo: repo, cache: cache, logger: logger}
}

func (uc *UpsertRoute) Execute(ctx context.Context, params UpsertRouteParams) (*routing.Configuration, error) {
	if params.TableName == "" || params.Exchange == "" {
		return nil, fmt.Errorf("%w: table name and exchange are required", ErrInvalidInput)
	}

	active := true
	if params.IsActive != nil {
		active = *params.IsActive
	}
	c := &routing.Configuration{
		TableName:  params.TableName,
		Exchange:   params.Exchange,
		RoutingKey: params.RoutingKey,
		Queue:      params.Queue,
		IsActive:   active,
	}
	if err := uc.repo.Upsert(ctx, c); err != nil {
		return nil, fmt.Errorf("upsert route %s: %w", params.TableName, err)
	}

	// Stale entries expire with the cache ttl anyway.
	if uc.cache != nil {
		if err := uc.cache.Invalidate(ctx, c.TableName); err != nil {
			uc.logger.WarnContext(ctx, "failed to invalidate routing cache", "table", c.TableName, "error", err)
		}
	}
	return c, nil
}
