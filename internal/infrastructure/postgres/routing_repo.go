package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Fatonxhema/cdc-relay/internal/domain/cdc"
	"github.com/Fatonxhema/cdc-relay/internal/domain/routing"
)

const routingColumns = `id::text, table_name, exchange, routing_key, queue, is_active, created_at, updated_at`

type RoutingRepository struct {
	pool *pgxpool.Pool
}

func NewRoutingRepository(pool *pgxpool.Pool) *RoutingRepository {
	return &RoutingRepository{pool: pool}
}

func (r *RoutingRepository) GetActive(ctx context.Context, table string) (*routing.Configuration, error) {
	sql := `SELECT ` + routingColumns + ` FROM routing_configurations WHERE table_name = $1 AND is_active`

	c, err := scanRouting(conn(ctx, r.pool).QueryRow(ctx, sql, table))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, cdc.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get routing configuration: %w", err)
	}
	return c, nil
}

func (r *RoutingRepository) ListActive(ctx context.Context) ([]*routing.Configuration, error) {
	sql := `SELECT ` + routingColumns + ` FROM routing_configurations WHERE is_active ORDER BY table_name`

	rows, err := conn(ctx, r.pool).Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("query routing configurations: %w", err)
	}
	defer rows.Close()

	var out []*routing.Configuration
	for rows.Next() {
		c, err := scanRouting(rows)
		if err != nil {
			return nil, fmt.Errorf("scan routing configuration: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate routing configurations: %w", err)
	}
	return out, nil
}

func (r *RoutingRepository) Upsert(ctx context.Context, c *routing.Configuration) error {
	const sql = `
		INSERT INTO routing_configurations (id, table_name, exchange, routing_key, queue, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (table_name) DO UPDATE
		SET exchange = EXCLUDED.exchange,
			routing_key = EXCLUDED.routing_key,
			queue = EXCLUDED.queue,
			is_active = EXCLUDED.is_active,
			updated_at = NOW()
		RETURNING id::text, created_at, updated_at
	`

	id := c.ID
	if id == "" {
		id = uuid.NewString()
	}
	err := conn(ctx, r.pool).QueryRow(ctx, sql, id, c.TableName, c.Exchange, c.RoutingKey, c.Queue, c.IsActive).
		Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert routing configuration: %w", err)
	}
	return nil
}

func scanRouting(row pgx.Row) (*routing.Configuration, error) {
	var c routing.Configuration
	if err := row.Scan(&c.ID, &c.TableName, &c.Exchange, &c.RoutingKey, &c.Queue, &c.IsActive, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}
