// Package database opens the PostgreSQL and Redis connections the service runs on.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-validation/internal/config"
	"ms-validation/internal/logger"
)

func retryPolicy(ctx context.Context, retries int) backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(policy, uint64(retries)), ctx)
}

// ConnectPostgres opens the pool and waits for the server to answer, retrying
// with exponential backoff.
func ConnectPostgres(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*bun.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN not set")
	}

	sqldb, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL: %w", err)
	}
	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.MaxLifetime)

	attempt := 0
	ping := func() error {
		attempt++
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", attempt, cfg.ConnectRetries+1))
		return sqldb.PingContext(ctx)
	}
	notify := func(err error, wait time.Duration) {
		log.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v, retrying in %s", err, wait))
	}
	if err := backoff.RetryNotify(ping, retryPolicy(ctx, cfg.ConnectRetries), notify); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("failed to connect to PostgreSQL after %d attempts: %w", attempt, err)
	}

	log.Info("DATABASE", "PostgreSQL connection successful")
	return bun.NewDB(sqldb, pgdialect.New()), nil
}

// ConnectRedis returns a client that has answered PING.
func ConnectRedis(ctx context.Context, cfg config.RedisConfig, retries int, log *logger.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ping := func() error { return client.Ping(ctx).Err() }
	notify := func(err error, wait time.Duration) {
		log.Warn("REDIS", fmt.Sprintf("Redis ping failed: %v, retrying in %s", err, wait))
	}
	if err := backoff.RetryNotify(ping, retryPolicy(ctx, retries), notify); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection error: %w", err)
	}

	log.Info("REDIS", fmt.Sprintf("Redis connection successful to %s (DB: %d)", cfg.Addr, cfg.DB))
	return client, nil
}
