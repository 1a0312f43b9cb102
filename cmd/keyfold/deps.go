// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keyfold/keyfold/internal/store"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// OpenDatabase opens the database pool.
	// Default: store.Open
	OpenDatabase func(ctx context.Context, url string) (Database, error)

	// NewMigrator creates a schema migrator.
	// Default: store.NewMigrator
	NewMigrator func(url string) (SchemaMigrator, error)
}

func (d *ServeDeps) applyDefaults() {
	if d.OpenDatabase == nil {
		d.OpenDatabase = func(ctx context.Context, url string) (Database, error) {
			return store.Open(ctx, url)
		}
	}
	if d.NewMigrator == nil {
		d.NewMigrator = func(url string) (SchemaMigrator, error) {
			return store.NewMigrator(url)
		}
	}
}

// Database interface wraps the methods used from store.DB.
type Database interface {
	Pool() *pgxpool.Pool
	Close()
}

// SchemaMigrator interface wraps the methods used from store.Migrator.
type SchemaMigrator interface {
	Up() error
	Down() error
	Version() (version uint, dirty bool, err error)
	Close() error
}
