package infrastructure

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	pgxpool "github.com/jackc/pgx/v5/pgxpool"
	amqp091 "github.com/rabbitmq/amqp091-go"
	go_redis "github.com/redis/go-redis/v9"

	"github.com/Fatonxhema/cdc-relay/internal/config"
	"github.com/Fatonxhema/cdc-relay/internal/consumer"
	"github.com/Fatonxhema/cdc-relay/internal/domain/cdc"
	"github.com/Fatonxhema/cdc-relay/internal/infrastructure/amqp"
	"github.com/Fatonxhema/cdc-relay/internal/infrastructure/kafka"
	"github.com/Fatonxhema/cdc-relay/internal/infrastructure/postgres"
	"github.com/Fatonxhema/cdc-relay/internal/infrastructure/redis"
)

type Factory struct {
	cfg      *config.Config
	logger   *slog.Logger
	pgPool   *pgxpool.Pool
	redisCli *go_redis.Client
	amqpConn *amqp091.Connection
	closers  []io.Closer
}

func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		cfg:    cfg,
		logger: logger,
	}
}

func (f *Factory) Postgres(ctx context.Context) (*pgxpool.Pool, error) {
	if f.pgPool != nil {
		return f.pgPool, nil
	}

	var pool *pgxpool.Pool
	var err error

	// Retry connection up to 5 times
	for i := 0; i < 5; i++ {
		pool, err = postgres.NewClient(ctx, postgres.Config{
			Host:     f.cfg.Postgres.Host,
			Port:     f.cfg.Postgres.Port,
			User:     f.cfg.Postgres.User,
			Password: f.cfg.Postgres.Password,
			DBName:   f.cfg.Postgres.DBName,
			SSLMode:  f.cfg.Postgres.SSLMode,
			MaxConns: f.cfg.Postgres.MaxConns,
		})
		if err == nil {
			break
		}
		f.logger.Warn("failed to connect to postgres, retrying in 2s", "attempt", i+1, "max", 5, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to init postgres after retries: %w", err)
	}

	if f.cfg.Postgres.AutoMigrate {
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to ensure schema: %w", err)
		}
	}

	f.pgPool = pool
	return pool, nil
}

func (f *Factory) Redis(ctx context.Context) (*go_redis.Client, error) {
	if f.redisCli != nil {
		return f.redisCli, nil
	}

	client, err := redis.NewClient(ctx, redis.Config{
		Addr:         f.cfg.Redis.Addr,
		Password:     f.cfg.Redis.Password,
		DB:           f.cfg.Redis.DB,
		DialTimeout:  f.cfg.Redis.DialTimeout,
		ReadTimeout:  f.cfg.Redis.ReadTimeout,
		WriteTimeout: f.cfg.Redis.WriteTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init redis: %w", err)
	}

	f.redisCli = client
	return client, nil
}

// Store returns the shared key-value store backing cursors, buffers, marks and locks.
func (f *Factory) Store(ctx context.Context) (*redis.Store, error) {
	client, err := f.Redis(ctx)
	if err != nil {
		return nil, err
	}
	return redis.NewStore(client, f.cfg.Redis.KeyPrefix), nil
}

func (f *Factory) AMQP() (*amqp091.Connection, error) {
	if f.amqpConn != nil && !f.amqpConn.IsClosed() {
		return f.amqpConn, nil
	}

	conn, err := amqp.Dial(f.amqpConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to init rabbitmq: %w", err)
	}
	f.amqpConn = conn
	return conn, nil
}

func (f *Factory) amqpConfig() amqp.Config {
	return amqp.Config{
		URL:      f.cfg.AMQP.URL,
		Queue:    f.cfg.AMQP.Queue,
		Prefetch: f.cfg.AMQP.Prefetch,
	}
}

// Sink builds the configured outbound publisher.
func (f *Factory) Sink() (cdc.Sink, error) {
	switch f.cfg.Transport.Sink {
	case config.TransportAMQP:
		conn, err := f.AMQP()
		if err != nil {
			return nil, err
		}
		pub, err := amqp.NewPublisher(conn)
		if err != nil {
			return nil, fmt.Errorf("failed to init rabbitmq publisher: %w", err)
		}
		f.closers = append(f.closers, pub)
		return pub, nil
	default:
		prod := kafka.NewProducer(kafka.ProducerConfig{Brokers: f.cfg.Kafka.Brokers})
		f.closers = append(f.closers, prod)
		return prod, nil
	}
}

// Source builds the configured inbound consumer.
func (f *Factory) Source(name string) (consumer.Source, error) {
	switch f.cfg.Transport.Source {
	case config.TransportAMQP:
		conn, err := f.AMQP()
		if err != nil {
			return nil, err
		}
		src, err := amqp.NewConsumer(conn, f.amqpConfig(), name)
		if err != nil {
			return nil, fmt.Errorf("failed to init rabbitmq consumer: %w", err)
		}
		f.closers = append(f.closers, src)
		return src, nil
	default:
		src := kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers:     f.cfg.Kafka.Brokers,
			Topic:       f.cfg.Kafka.Topic,
			GroupID:     f.cfg.Kafka.GroupID,
			StartOffset: f.cfg.Kafka.StartOffset,
		}, f.logger)
		f.closers = append(f.closers, src)
		return src, nil
	}
}

func (f *Factory) Close() {
	for i := len(f.closers) - 1; i >= 0; i-- {
		if err := f.closers[i].Close(); err != nil {
			f.logger.Warn("failed to close resource", "error", err)
		}
	}
	if f.amqpConn != nil {
		f.amqpConn.Close()
	}
	if f.pgPool != nil {
		f.pgPool.Close()
	}
	if f.redisCli != nil {
		f.redisCli.Close()
	}
}
