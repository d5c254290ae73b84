// Package idempotency tracks which message identifiers completed the pipeline.
package idempotency

import (
	"context"
	"time"

	"github.com/Fatonxhema/cdc-relay/internal/domain/cdc"
	"github.com/Fatonxhema/cdc-relay/internal/kv"
)

// DefaultTTL outlives expected upstream redelivery windows while bounding key growth.
const DefaultTTL = 7 * 24 * time.Hour

const keyPrefix = "processed:"

type Guard struct {
	store kv.Store
	ttl   time.Duration
}

// New returns a Guard whose marks expire after ttl (DefaultTTL when ttl <= 0).
func New(store kv.Store, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{store: store, ttl: ttl}
}

func key(messageID string) string {
	return keyPrefix + messageID
}

// IsProcessed reports whether messageID carries a completion mark.
func (g *Guard) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	_, ok, err := g.store.Get(ctx, key(messageID))
	if err != nil {
		return false, cdc.Transient("idempotency check", err)
	}
	return ok, nil
}

// MarkProcessed records completion. Call it only after the publish was
// confirmed and the partition cursor advanced; ttl <= 0 uses the guard default.
func (g *Guard) MarkProcessed(ctx context.Context, messageID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = g.ttl
	}
	if err := g.store.Set(ctx, key(messageID), "1", ttl); err != nil {
		return cdc.Transient("idempotency mark", err)
	}
	return nil
}

// Forget removes a mark so an operator can force reprocessing.
func (g *Guard) Forget(ctx context.Context, messageID string) error {
	if err := g.store.Delete(ctx, key(messageID)); err != nil {
		return cdc.Transient("idempotency forget", err)
	}
	return nil
}
