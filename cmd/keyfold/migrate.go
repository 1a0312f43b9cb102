// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package main

import (
	"os"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/keyfold/keyfold/internal/config"
	"github.com/keyfold/keyfold/internal/store"
)

// newMigratorFromEnv builds a migrator against DATABASE_URL.
func newMigratorFromEnv() (SchemaMigrator, error) {
	databaseURL := os.Getenv(config.EnvDatabaseURL)
	if databaseURL == "" {
		return nil, oops.Code("CONFIG_INVALID").Errorf("%s environment variable is required", config.EnvDatabaseURL)
	}
	return store.NewMigrator(databaseURL)
}

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database schema migrations",
		Long:  `Apply, roll back, or inspect schema migrations against the PostgreSQL database.`,
		RunE:  runMigrateUp,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE:  runMigrateUp,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back all migrations (drops all data)",
		RunE:  runMigrateDown,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show the current migration version",
		RunE:  runMigrateVersion,
	})

	return cmd
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	migrator, err := newMigratorFromEnv()
	if err != nil {
		return err
	}
	defer closeMigrator(cmd, migrator)

	cmd.Println("Running migrations...")
	if err := migrator.Up(); err != nil {
		return err
	}

	cmd.Println("Migrations completed successfully")
	return nil
}

func runMigrateDown(cmd *cobra.Command, _ []string) error {
	migrator, err := newMigratorFromEnv()
	if err != nil {
		return err
	}
	defer closeMigrator(cmd, migrator)

	cmd.Println("Rolling back migrations...")
	if err := migrator.Down(); err != nil {
		return err
	}

	cmd.Println("Rollback completed successfully")
	return nil
}

func runMigrateVersion(cmd *cobra.Command, _ []string) error {
	migrator, err := newMigratorFromEnv()
	if err != nil {
		return err
	}
	defer closeMigrator(cmd, migrator)

	version, dirty, err := migrator.Version()
	if err != nil {
		return err
	}
	if version == 0 && !dirty {
		cmd.Println("No migrations applied")
		return nil
	}

	cmd.Printf("Version: %d (dirty: %v)\n", version, dirty)
	return nil
}

func closeMigrator(cmd *cobra.Command, migrator SchemaMigrator) {
	if err := migrator.Close(); err != nil {
		cmd.PrintErrln("warning: error closing migrator:", err)
	}
}
