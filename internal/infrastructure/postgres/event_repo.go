package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Fatonxhema/cdc-relay/internal/domain/cdc"
)

// payload is stored as a JSON string value and read back as its text.
const eventColumns = `
	id::text,
	message_id,
	table_name,
	operation,
	payload #>> '{}',
	sequence_number,
	partition_key,
	timestamp,
	created_at,
	processed_at,
	status,
	error_message,
	retry_count,
	version
`

type EventRepository struct {
	pool *pgxpool.Pool
}

func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

func (r *EventRepository) CreateIfNotExists(ctx context.Context, e *cdc.EventRecord) (bool, error) {
	const sql = `
		INSERT INTO cdc_events (
			id, message_id, table_name, operation, payload, sequence_number, partition_key,
			timestamp, created_at, processed_at, status, error_message, retry_count, version
		)
		VALUES ($1, $2, $3, $4, to_jsonb($5::text), $6, $7, $8, $9, $10, $11, $12, $13, 1)
		ON CONFLICT (message_id) DO NOTHING
	`

	tag, err := conn(ctx, r.pool).Exec(ctx, sql,
		e.ID, e.MessageID, e.TableName, e.Operation, e.Payload, e.SequenceNumber, e.PartitionKey,
		e.Timestamp, e.CreatedAt, e.ProcessedAt, string(e.Status), e.ErrorMessage, e.RetryCount)
	if err != nil {
		return false, fmt.Errorf("insert cdc event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	e.Version = 1
	return true, nil
}

func (r *EventRepository) Update(ctx context.Context, e *cdc.EventRecord) error {
	const sql = `
		UPDATE cdc_events
		SET status = $3, processed_at = $4, error_message = $5, retry_count = $6, version = version + 1
		WHERE id = $1 AND version = $2
	`

	db := conn(ctx, r.pool)
	tag, err := db.Exec(ctx, sql, e.ID, e.Version, string(e.Status), e.ProcessedAt, e.ErrorMessage, e.RetryCount)
	if err != nil {
		return fmt.Errorf("update cdc event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM cdc_events WHERE id = $1)`, e.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check cdc event: %w", err)
		}
		if !exists {
			return cdc.ErrNotFound
		}
		return cdc.ErrConcurrentUpdate
	}
	e.Version++
	return nil
}

func (r *EventRepository) GetByID(ctx context.Context, id string) (*cdc.EventRecord, error) {
	sql := `SELECT ` + eventColumns + ` FROM cdc_events WHERE id = $1`
	return r.getOne(ctx, sql, id)
}

func (r *EventRepository) GetByMessageID(ctx context.Context, messageID string) (*cdc.EventRecord, error) {
	sql := `SELECT ` + eventColumns + ` FROM cdc_events WHERE message_id = $1`
	return r.getOne(ctx, sql, messageID)
}

func (r *EventRepository) getOne(ctx context.Context, sql string, arg any) (*cdc.EventRecord, error) {
	e, err := scanEvent(conn(ctx, r.pool).QueryRow(ctx, sql, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, cdc.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get cdc event: %w", err)
	}
	return e, nil
}

func (r *EventRepository) FetchRetryable(ctx context.Context, limit, maxRetries int) ([]*cdc.EventRecord, error) {
	sql := `
		SELECT ` + eventColumns + `
		FROM cdc_events
		WHERE status IN ($1, $2) AND retry_count < $3
		ORDER BY created_at ASC
		LIMIT $4
	`
	return r.query(ctx, sql, string(cdc.StatusFailed), string(cdc.StatusRetryScheduled), maxRetries, limit)
}

func (r *EventRepository) List(ctx context.Context, f cdc.EventFilter) ([]*cdc.EventRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.PartitionKey != "" {
		args = append(args, f.PartitionKey)
		where = append(where, fmt.Sprintf("partition_key = $%d", len(args)))
	}

	sql := `SELECT ` + eventColumns + ` FROM cdc_events`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY created_at ASC, sequence_number ASC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return r.query(ctx, sql, args...)
}

func (r *EventRepository) query(ctx context.Context, sql string, args ...any) ([]*cdc.EventRecord, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query cdc events: %w", err)
	}
	defer rows.Close()

	var events []*cdc.EventRecord
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cdc event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cdc events: %w", err)
	}
	return events, nil
}

func scanEvent(row pgx.Row) (*cdc.EventRecord, error) {
	var (
		e      cdc.EventRecord
		status string
	)
	err := row.Scan(&e.ID, &e.MessageID, &e.TableName, &e.Operation, &e.Payload, &e.SequenceNumber,
		&e.PartitionKey, &e.Timestamp, &e.CreatedAt, &e.ProcessedAt, &status, &e.ErrorMessage,
		&e.RetryCount, &e.Version)
	if err != nil {
		return nil, err
	}
	e.Status = cdc.Status(status)
	e.Timestamp = e.Timestamp.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	if e.ProcessedAt != nil {
		t := e.ProcessedAt.UTC()
		e.ProcessedAt = &t
	}
	return &e, nil
}
