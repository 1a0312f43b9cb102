// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

// Package store provides the PostgreSQL connection and schema lifecycle.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Ping retry parameters. A cold database (e.g. a container still
// starting) gets a short fibonacci backoff before Open gives up.
const (
	pingRetryBase = 250 * time.Millisecond
	pingRetryMax  = 5
)

// DB owns the pgxpool and its lifecycle: opened once at service start,
// closed on shutdown, and injected into repositories rather than held
// as package state.
type DB struct {
	pool *pgxpool.Pool
}

// Open connects to PostgreSQL and verifies the connection with a
// bounded retrying ping.
func Open(ctx context.Context, dsn string) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").
			With("operation", "create pool").
			Wrap(err)
	}

	backoff := retry.WithMaxRetries(pingRetryMax, retry.NewFibonacci(pingRetryBase))
	if err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if pingErr := pool.Ping(ctx); pingErr != nil {
			return retry.RetryableError(pingErr)
		}
		return nil
	}); err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").
			With("operation", "ping").
			Wrap(err)
	}

	return &DB{pool: pool}, nil
}

// Pool returns the underlying pgxpool for repositories.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Close closes the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}
