package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Fatonxhema/cdc-relay/internal/domain/cdc"
	"github.com/Fatonxhema/cdc-relay/internal/domain/routing"
)

// RoutingRepository is an in-memory routing.Repository.
type RoutingRepository struct {
	mu      sync.RWMutex
	byTable map[string]routing.Configuration
	reads   int
}

func NewRoutingRepository(configs ...routing.Configuration) *RoutingRepository {
	r := &RoutingRepository{byTable: make(map[string]routing.Configuration)}
	for i := range configs {
		_ = r.Upsert(context.Background(), &configs[i])
	}
	return r
}

func (r *RoutingRepository) GetActive(_ context.Context, table string) (*routing.Configuration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reads++
	c, ok := r.byTable[table]
	if !ok || !c.IsActive {
		return nil, cdc.ErrNotFound
	}
	return &c, nil
}

func (r *RoutingRepository) ListActive(_ context.Context) ([]*routing.Configuration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*routing.Configuration
	for _, c := range r.byTable {
		if c.IsActive {
			c := c
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TableName < out[j].TableName })
	return out, nil
}

func (r *RoutingRepository) Upsert(_ context.Context, c *routing.Configuration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	if prev, ok := r.byTable[c.TableName]; ok {
		c.ID = prev.ID
		c.CreatedAt = prev.CreatedAt
		c.UpdatedAt = &now
	} else {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
	}
	r.byTable[c.TableName] = *c
	return nil
}

// Reads reports how many GetActive calls reached the repository.
func (r *RoutingRepository) Reads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reads
}
