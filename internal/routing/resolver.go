// Package routing resolves the downstream destination of a source table.
package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Fatonxhema/cdc-relay/internal/domain/cdc"
	"github.com/Fatonxhema/cdc-relay/internal/domain/routing"
	"github.com/Fatonxhema/cdc-relay/internal/kv"
)

const DefaultCacheTTL = 5 * time.Minute

// Resolver reads active routing configurations through a shared cache.
type Resolver struct {
	repo   routing.Repository
	cache  kv.Store
	ttl    time.Duration
	logger *slog.Logger
}

// NewResolver builds a Resolver. cache may be nil to disable caching.
func NewResolver(repo routing.Repository, cache kv.Store, ttl time.Duration, logger *slog.Logger) *Resolver {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{repo: repo, cache: cache, ttl: ttl, logger: logger}
}

func cacheKey(table string) string {
	return fmt.Sprintf("routing:%s", table)
}

// Resolve returns the active configuration for table or a *cdc.RoutingNotFoundError.
func (r *Resolver) Resolve(ctx context.Context, table string) (*routing.Configuration, error) {
	if r.cache != nil {
		val, ok, err := r.cache.Get(ctx, cacheKey(table))
		if err != nil {
			r.logger.WarnContext(ctx, "routing cache read failed", "table", table, "error", err)
		} else if ok {
			var c routing.Configuration
			if err := json.Unmarshal([]byte(val), &c); err == nil {
				return &c, nil
			}
		}
	}

	c, err := r.repo.GetActive(ctx, table)
	if errors.Is(err, cdc.ErrNotFound) {
		return nil, &cdc.RoutingNotFoundError{TableName: table}
	}
	if err != nil {
		return nil, cdc.Transient("load routing configuration", err)
	}

	if r.cache != nil {
		data, _ := json.Marshal(c)
		if err := r.cache.Set(ctx, cacheKey(table), string(data), r.ttl); err != nil {
			r.logger.WarnContext(ctx, "routing cache write failed", "table", table, "error", err)
		}
	}
	return c, nil
}

// Invalidate drops the cached configuration for table.
func (r *Resolver) Invalidate(ctx context.Context, table string) error {
	if r.cache == nil {
		return nil
	}
	if err := r.cache.Delete(ctx, cacheKey(table)); err != nil {
		return cdc.Transient("invalidate routing cache", err)
	}
	return nil
}
