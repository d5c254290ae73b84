package routing

import (
	"context"
	"time"
)

// Configuration maps a source table to its downstream destination.
type Configuration struct {
	ID         string     `json:"id"`
	TableName  string     `json:"table_name"`
	Exchange   string     `json:"exchange"`
	RoutingKey string     `json:"routing_key"`
	Queue      string     `json:"queue"`
	IsActive   bool       `json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
}

// Destination is where a forwarded message is published.
type Destination struct {
	Exchange   string
	RoutingKey string
}

func (c *Configuration) Destination() Destination {
	return Destination{Exchange: c.Exchange, RoutingKey: c.RoutingKey}
}

type Repository interface {
	// GetActive returns the active configuration for table, or cdc.ErrNotFound.
	GetActive(ctx context.Context, table string) (*Configuration, error)
	ListActive(ctx context.Context) ([]*Configuration, error)
	// Upsert creates or replaces the configuration keyed by TableName.
	Upsert(ctx context.Context, c *Configuration) error
}
