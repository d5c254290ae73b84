package memory

import (
	"context"
	"sort"
	"sync"
	"time"
)

type entry struct {
	value     string
	expiresAt time.Time
}

type index struct {
	members   map[int64]struct{}
	expiresAt time.Time
}

// Store is a process-local kv.Store used by tests and single-node runs.
type Store struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]entry
	indexes map[string]*index
}

func NewStore() *Store {
	return NewStoreWithClock(time.Now)
}

// NewStoreWithClock lets tests control expiry.
func NewStoreWithClock(now func() time.Time) *Store {
	return &Store{
		now:     now,
		entries: make(map[string]entry),
		indexes: make(map[string]*index),
	}
}

func (s *Store) expired(at time.Time) bool {
	return !at.IsZero() && !s.now().Before(at)
}

func (s *Store) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

// lookup must be called with mu held.
func (s *Store) lookup(key string) (entry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return entry{}, false
	}
	if s.expired(e.expiresAt) {
		delete(s.entries, key)
		return entry{}, false
	}
	return e, true
}

func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	return e.value, ok, nil
}

func (s *Store) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = entry{value: value, expiresAt: s.deadline(ttl)}
	return nil
}

func (s *Store) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lookup(key); ok {
		return false, nil
	}
	s.entries[key] = entry{value: value, expiresAt: s.deadline(ttl)}
	return true, nil
}

func (s *Store) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		delete(s.entries, k)
		delete(s.indexes, k)
	}
	return nil
}

func (s *Store) CompareAndDelete(_ context.Context, key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok || e.value != value {
		return false, nil
	}
	delete(s.entries, key)
	return true, nil
}

func (s *Store) CompareAndExpire(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok || e.value != value {
		return false, nil
	}
	e.expiresAt = s.deadline(ttl)
	s.entries[key] = e
	return true, nil
}

func (s *Store) IndexAdd(_ context.Context, key string, member int64, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.liveIndex(key)
	if idx == nil {
		idx = &index{members: make(map[int64]struct{})}
		s.indexes[key] = idx
	}
	idx.members[member] = struct{}{}
	if ttl > 0 {
		idx.expiresAt = s.deadline(ttl)
	}
	return nil
}

func (s *Store) IndexRange(_ context.Context, key string, min int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.liveIndex(key)
	if idx == nil {
		return nil, nil
	}
	out := make([]int64, 0, len(idx.members))
	for m := range idx.members {
		if m >= min {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *Store) IndexRemove(_ context.Context, key string, members ...int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.liveIndex(key)
	if idx == nil {
		return nil
	}
	for _, m := range members {
		delete(idx.members, m)
	}
	if len(idx.members) == 0 {
		delete(s.indexes, key)
	}
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

// liveIndex must be called with mu held.
func (s *Store) liveIndex(key string) *index {
	idx, ok := s.indexes[key]
	if !ok {
		return nil
	}
	if s.expired(idx.expiresAt) {
		delete(s.indexes, key)
		return nil
	}
	return idx
}
