// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/keyfold/keyfold/internal/auth"
	authpg "github.com/keyfold/keyfold/internal/auth/postgres"
	"github.com/keyfold/keyfold/internal/config"
	"github.com/keyfold/keyfold/internal/httpapi"
	"github.com/keyfold/keyfold/internal/logging"
	"github.com/keyfold/keyfold/internal/mail"
	"github.com/keyfold/keyfold/internal/observability"
)

const shutdownTimeout = 5 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	defaults := config.Default()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the auth API server",
		Long: `Start the Keyfold HTTP server: the auth API plus an optional
metrics/health endpoint. Requires DATABASE_URL and KEYFOLD_TOKEN_SECRET
in the environment.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeWithDeps(cmd.Context(), cmd, nil)
		},
	}

	cmd.Flags().String("http-addr", defaults.HTTPAddr, "auth API listen address")
	cmd.Flags().String("metrics-addr", defaults.MetricsAddr, "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("log-format", defaults.LogFormat, "log format (json or text)")
	cmd.Flags().String("base-url", defaults.BaseURL, "public URL prefix for action links in outbound mail")
	cmd.Flags().Int("bcrypt-cost", defaults.BcryptCost, "bcrypt work factor for password hashing")
	cmd.Flags().Duration("session-ttl", defaults.SessionTTL, "session token lifetime")
	cmd.Flags().Duration("reset-ttl", defaults.ResetTTL, "password reset token lifetime")
	cmd.Flags().Duration("verification-ttl", defaults.VerificationTTL, "email verification token lifetime")
	cmd.Flags().Bool("auto-migrate", defaults.AutoMigrate, "apply pending schema migrations on startup")

	return cmd
}

// runServeWithDeps starts the service with injectable dependencies.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	deps.applyDefaults()

	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logging.SetDefault("keyfold", version, cfg.LogFormat)
	logger := slog.Default()

	slog.Info("starting keyfold",
		"http_addr", cfg.HTTPAddr,
		"metrics_addr", cfg.MetricsAddr,
		"log_format", cfg.LogFormat,
	)

	db, err := deps.OpenDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer db.Close()

	slog.Info("connected to database")

	if cfg.AutoMigrate {
		migrator, err := deps.NewMigrator(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		migrateErr := migrator.Up()
		if closeErr := migrator.Close(); closeErr != nil {
			slog.Warn("error closing migrator", "error", closeErr)
		}
		if migrateErr != nil {
			return migrateErr
		}
		slog.Info("schema migrations applied")
	}

	// Assemble the auth service.
	issuer, err := auth.NewTokenIssuer([]byte(cfg.TokenSecret),
		auth.WithSessionTTL(cfg.SessionTTL),
		auth.WithResetTTL(cfg.ResetTTL),
		auth.WithVerificationTTL(cfg.VerificationTTL),
	)
	if err != nil {
		return err
	}

	notifier, err := mail.NewLogNotifier(logger, cfg.BaseURL)
	if err != nil {
		return err
	}

	repo := authpg.NewAccountRepository(db.Pool())
	hasher := auth.NewBcryptHasher(cfg.BcryptCost)

	svc, err := auth.NewServiceWithLogger(repo, hasher, issuer, notifier, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Start observability server if configured.
	var obsServer *observability.Server
	var metrics *observability.Metrics
	if cfg.MetricsAddr != "" {
		obsServer = observability.NewServer(cfg.MetricsAddr, func() bool {
			pingCtx, pingCancel := context.WithTimeout(context.Background(), time.Second)
			defer pingCancel()
			return db.Pool().Ping(pingCtx) == nil
		})
		metrics = obsServer.Metrics()

		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
	}

	handler, err := httpapi.NewHandler(svc, issuer, logger, metrics)
	if err != nil {
		return err
	}

	apiServer := httpapi.NewServer(cfg.HTTPAddr, handler.Routes())
	apiErrChan, err := apiServer.Start()
	if err != nil {
		if obsServer != nil {
			stopServer(obsServer.Stop, "observability")
		}
		return oops.Code("API_START_FAILED").Wrap(err)
	}
	go monitorServerErrors(ctx, cancel, apiErrChan, "api")

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("Keyfold started")
	slog.Info("keyfold ready", "api_addr", apiServer.Addr())

	// Wait for shutdown signal or server failure
	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	}

	slog.Info("shutting down...")

	stopServer(apiServer.Stop, "api")
	if obsServer != nil {
		stopServer(obsServer.Stop, "observability")
	}

	slog.Info("shutdown complete")
	return nil
}

// stopServer stops a server with a bounded timeout, logging failures.
func stopServer(stop func(context.Context) error, name string) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := stop(shutdownCtx); err != nil {
		slog.Warn("error stopping server", "server", name, "error", err)
	}
}

// monitorServerErrors monitors a server's error channel and cancels the
// context on error so a server failure triggers graceful shutdown of
// the whole process. It exits when an error arrives, the channel
// closes, or the context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			// Channel closed, server stopped gracefully
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
		// Context cancelled, exit monitoring
	}
}
