// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package auth

import "context"

// Notifier is the outbound notification port. Implementations deliver
// account emails (verification links, password reset links) through an
// external transport. Callers treat delivery as best-effort: a Notifier
// failure must never fail the enclosing auth flow.
type Notifier interface {
	// SendVerification dispatches an email verification message
	// carrying the plaintext verification token.
	SendVerification(ctx context.Context, email, token string) error

	// SendPasswordReset dispatches a password reset message carrying
	// the plaintext reset token.
	SendPasswordReset(ctx context.Context, email, token string) error
}
