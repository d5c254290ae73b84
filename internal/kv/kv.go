// Package kv defines the shared cache capabilities the pipeline relies on.
//
// Cursors, buffered entries, idempotency marks and partition locks all live
// behind Store so that every consumer and worker instance sees the same state.
package kv

import (
	"context"
	"time"
)

// Store is a shared expiring key-value store with a per-key sorted integer index.
// A zero ttl means the key does not expire.
type Store interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX sets key only if it is absent and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	// CompareAndDelete deletes key only if it currently holds value.
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
	// CompareAndExpire resets the ttl of key only if it currently holds value.
	CompareAndExpire(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// IndexAdd adds member to the sorted index at key and refreshes its ttl.
	IndexAdd(ctx context.Context, key string, member int64, ttl time.Duration) error
	// IndexRange returns members >= min in ascending order.
	IndexRange(ctx context.Context, key string, min int64) ([]int64, error)
	IndexRemove(ctx context.Context, key string, members ...int64) error

	Ping(ctx context.Context) error
}
