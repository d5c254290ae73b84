package sequencer

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Fatonxhema/cdc-relay/internal/domain/cdc"
)

func lockKey(pk string) string { return "lock:partition:" + pk }

// Lease is a held partition lock. It expires on its own if the holder crashes.
type Lease struct {
	s     *Sequencer
	key   string
	token string
}

// Lock acquires the advisory lock for pk, polling until LockWait elapses.
// It returns cdc.ErrPartitionBusy if another holder keeps it.
func (s *Sequencer) Lock(ctx context.Context, pk string) (*Lease, error) {
	deadline := time.Now().Add(s.opts.LockWait)
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}

		lease, err := s.TryLock(ctx, pk)
		if err != nil || lease != nil {
			return lease, err
		}
		if !time.Now().Before(deadline) {
			return nil, cdc.ErrPartitionBusy
		}
		timer.Reset(s.opts.LockInterval)
	}
}

// TryLock makes a single attempt and returns a nil lease if pk is held elsewhere.
func (s *Sequencer) TryLock(ctx context.Context, pk string) (*Lease, error) {
	token := uuid.NewString()
	ok, err := s.store.SetNX(ctx, lockKey(pk), token, s.opts.LockTTL)
	if err != nil {
		return nil, cdc.Transient("acquire partition lock", err)
	}
	if !ok {
		return nil, nil
	}
	return &Lease{s: s, key: lockKey(pk), token: token}, nil
}

// Extend renews the lease ttl. It returns cdc.ErrPartitionBusy if the lease was lost.
func (l *Lease) Extend(ctx context.Context) error {
	ok, err := l.s.store.CompareAndExpire(ctx, l.key, l.token, l.s.opts.LockTTL)
	if err != nil {
		return cdc.Transient("extend partition lock", err)
	}
	if !ok {
		return cdc.ErrPartitionBusy
	}
	return nil
}

// Release frees the lock if it is still ours.
func (l *Lease) Release(ctx context.Context) error {
	if _, err := l.s.store.CompareAndDelete(ctx, l.key, l.token); err != nil {
		return cdc.Transient("release partition lock", err)
	}
	return nil
}
