// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

// Package mail provides outbound notification implementations for the
// auth.Notifier port.
package mail

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/samber/oops"
)

// LogNotifier implements auth.Notifier by logging the outbound message
// instead of delivering it. It is the development transport; production
// deployments plug a real mail relay behind the same port.
type LogNotifier struct {
	logger  *slog.Logger
	baseURL string
}

// NewLogNotifier creates a LogNotifier. baseURL is the public frontend
// URL used to build action links, e.g. "https://app.example.com".
func NewLogNotifier(logger *slog.Logger, baseURL string) (*LogNotifier, error) {
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	if baseURL == "" {
		return nil, oops.Errorf("base URL is required")
	}
	return &LogNotifier{
		logger:  logger,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

// SendVerification logs the verification message with its action URL.
func (n *LogNotifier) SendVerification(_ context.Context, email, token string) error {
	n.logger.Info("outbound email",
		"to", email,
		"subject", "Verify your email address",
		"action_url", fmt.Sprintf("%s/verify-email?token=%s", n.baseURL, token),
		"expires_in", "24h",
	)
	return nil
}

// SendPasswordReset logs the reset message with its action URL.
func (n *LogNotifier) SendPasswordReset(_ context.Context, email, token string) error {
	n.logger.Info("outbound email",
		"to", email,
		"subject", "Reset your password",
		"action_url", fmt.Sprintf("%s/reset-password?token=%s", n.baseURL, token),
		"expires_in", "1h",
	)
	return nil
}
