// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

// Package auth provides the account and credential core for Keyfold.
//
// # Domain Types
//
// Account is the persisted identity record. Accounts should be created
// through NewAccount, which validates the email, username, and password
// hash before constructing the record. Direct struct initialization
// bypasses validation and may create invalid state.
//
// # Credentials
//
// PasswordHasher abstracts password hashing; BcryptHasher is the
// production implementation. TokenIssuer signs and verifies the three
// token kinds (session, password reset, email verification); a token of
// one kind is rejected wherever another kind is expected, even when the
// signature is valid.
//
// # Services
//
// Service orchestrates the flows: Register, Login, RequestPasswordReset,
// ResetPassword, VerifyEmail, GetProfile, UpdateProfile, ChangePassword.
// It is created with NewService or NewServiceWithLogger, both of which
// validate dependencies.
package auth
