// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/keyfold/keyfold/pkg/errutil"
)

// dummyPasswordHash is used when an account doesn't exist to prevent timing attacks.
// We still run password verification to make response time consistent.
// This is NOT a real credential - it's a fake digest that will never match any password.
//
//nolint:gosec // G101: This is an intentionally fake digest for timing attack prevention, not a credential.
const dummyPasswordHash = "$2a$12$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Service orchestrates validators, the password hasher, the token
// issuer, and the account repository to implement the auth flows.
// Failures surface synchronously as coded errors; nothing is retried
// and no failure is fatal to the process.
type Service struct {
	accounts AccountRepository
	hasher   PasswordHasher
	tokens   *TokenIssuer
	notifier Notifier
	logger   *slog.Logger
}

// NewService creates a Service with a no-op logger.
// Returns an error if any required dependency is nil.
func NewService(accounts AccountRepository, hasher PasswordHasher, tokens *TokenIssuer, notifier Notifier) (*Service, error) {
	return NewServiceWithLogger(accounts, hasher, tokens, notifier, slog.New(slog.DiscardHandler))
}

// NewServiceWithLogger creates a Service with the provided logger.
// Returns an error if any required dependency is nil.
func NewServiceWithLogger(accounts AccountRepository, hasher PasswordHasher, tokens *TokenIssuer, notifier Notifier, logger *slog.Logger) (*Service, error) {
	if accounts == nil {
		return nil, oops.Errorf("accounts repository is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if tokens == nil {
		return nil, oops.Errorf("token issuer is required")
	}
	if notifier == nil {
		return nil, oops.Errorf("notifier is required")
	}
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	return &Service{
		accounts: accounts,
		hasher:   hasher,
		tokens:   tokens,
		notifier: notifier,
		logger:   logger,
	}, nil
}

// RegisterParams carries the registration input.
type RegisterParams struct {
	Email       string
	Username    string
	Password    string
	DateOfBirth *time.Time
}

// Register creates a new unverified account, dispatches a verification
// email (best-effort), and returns the account with a session token.
// Fails fast at the first violation with a coded error.
func (s *Service) Register(ctx context.Context, params RegisterParams) (*Account, string, error) {
	if params.Email == "" || params.Username == "" || params.Password == "" {
		return nil, "", oops.Code("MISSING_FIELDS").Errorf("email, username, and password are required")
	}
	if !ValidateEmail(params.Email) {
		return nil, "", oops.Code("INVALID_EMAIL").Errorf("invalid email address")
	}
	if res := ValidateUsername(params.Username); !res.OK() {
		return nil, "", oops.Code("INVALID_USERNAME").
			With("violations", res.Violations).
			Errorf("username validation failed")
	}
	if res := ValidatePassword(params.Password); !res.OK() {
		return nil, "", oops.Code("INVALID_PASSWORD").
			With("violations", res.Violations).
			Errorf("password validation failed")
	}

	// Pre-checks give friendly conflicts; the unique indexes remain the
	// authority under concurrent registration (see Create below).
	if err := s.checkEmailFree(ctx, params.Email); err != nil {
		return nil, "", err
	}
	if err := s.checkUsernameFree(ctx, params.Username); err != nil {
		return nil, "", err
	}

	passwordHash, err := s.hasher.Hash(params.Password)
	if err != nil {
		return nil, "", oops.Code("REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	account, err := NewAccount(params.Email, params.Username, passwordHash, params.DateOfBirth)
	if err != nil {
		return nil, "", err
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		switch {
		case errors.Is(err, ErrEmailTaken):
			return nil, "", oops.Code("EMAIL_EXISTS").Wrap(err)
		case errors.Is(err, ErrUsernameTaken):
			return nil, "", oops.Code("USERNAME_EXISTS").Wrap(err)
		}
		return nil, "", oops.Code("REGISTER_FAILED").
			With("operation", "create account").
			Wrap(err)
	}

	// Verification email is fire-and-forget: dispatch failure never
	// fails the registration.
	if verificationToken, tokErr := s.tokens.IssueVerification(account.Email); tokErr != nil {
		errutil.LogError(s.logger, "issue verification token failed", tokErr)
	} else if sendErr := s.notifier.SendVerification(ctx, account.Email, verificationToken); sendErr != nil {
		errutil.LogError(s.logger, "verification email dispatch failed", sendErr)
	}

	sessionToken, err := s.tokens.IssueSession(account.ID, account.Email, account.Username)
	if err != nil {
		return nil, "", oops.Code("REGISTER_FAILED").
			With("operation", "issue session token").
			Wrap(err)
	}

	return account, sessionToken, nil
}

// Login authenticates by email and password and returns the account
// with a fresh session token. Absent accounts and wrong passwords both
// fail with INVALID_CREDENTIALS so callers cannot enumerate emails, and
// password verification runs either way to keep response timing flat.
func (s *Service) Login(ctx context.Context, email, password string) (*Account, string, error) {
	if email == "" || password == "" {
		return nil, "", oops.Code("MISSING_CREDENTIALS").Errorf("email and password are required")
	}

	account, lookupErr := s.accounts.GetByEmail(ctx, email)

	targetHash := dummyPasswordHash
	accountExists := false
	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrNotFound) {
			return nil, "", oops.Code("LOGIN_FAILED").
				With("operation", "get account by email").
				Wrap(lookupErr)
		}
	} else {
		targetHash = account.PasswordHash
		accountExists = true
	}

	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil {
		return nil, "", oops.Code("LOGIN_FAILED").
			With("operation", "verify password").
			Wrap(verifyErr)
	}
	if !accountExists || !valid {
		return nil, "", oops.Code("INVALID_CREDENTIALS").Errorf("invalid email or password")
	}

	token, err := s.tokens.IssueSession(account.ID, account.Email, account.Username)
	if err != nil {
		return nil, "", oops.Code("LOGIN_FAILED").
			With("operation", "issue session token").
			Wrap(err)
	}

	// Last-active stamp is best effort; login succeeds regardless. It
	// runs inline, not in a goroutine, so the returned account carries
	// the timestamp of this login.
	now := time.Now()
	if err := s.accounts.UpdateLastActive(ctx, account.ID, now); err == nil {
		account.LastActiveAt = &now
	}

	return account, token, nil
}

// RequestPasswordReset issues a reset token for the account with the
// given email and dispatches it (best-effort). For unknown emails it
// returns ("", nil) so the caller can respond with the same generic
// success message either way.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	if email == "" {
		return "", oops.Code("MISSING_EMAIL").Errorf("email is required")
	}
	if !ValidateEmail(email) {
		return "", oops.Code("INVALID_EMAIL").Errorf("invalid email address")
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// No distinguishing signal for unknown emails.
			return "", nil
		}
		return "", oops.Code("RESET_REQUEST_FAILED").
			With("operation", "get account by email").
			Wrap(err)
	}

	token, err := s.tokens.IssueReset(account.Email)
	if err != nil {
		return "", oops.Code("RESET_REQUEST_FAILED").
			With("operation", "issue reset token").
			Wrap(err)
	}

	if sendErr := s.notifier.SendPasswordReset(ctx, account.Email, token); sendErr != nil {
		errutil.LogError(s.logger, "password reset email dispatch failed", sendErr)
	}

	return token, nil
}

// ResetPassword sets a new password for the account named by a valid
// reset token. The new password is validated before the token so the
// caller gets the full rule checklist even with a stale link.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if token == "" || newPassword == "" {
		return oops.Code("MISSING_FIELDS").Errorf("token and new password are required")
	}
	if res := ValidatePassword(newPassword); !res.OK() {
		return oops.Code("INVALID_PASSWORD").
			With("violations", res.Violations).
			Errorf("password validation failed")
	}

	email, err := s.tokens.VerifyReset(token)
	if err != nil {
		// Expired, malformed, and wrong-kind tokens all read as invalid
		// to the caller.
		return oops.Code("INVALID_TOKEN").Wrap(err)
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("USER_NOT_FOUND").Wrap(err)
		}
		return oops.Code("RESET_FAILED").
			With("operation", "get account by email").
			Wrap(err)
	}

	passwordHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code("RESET_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	if err := s.accounts.UpdatePassword(ctx, account.ID, passwordHash); err != nil {
		return oops.Code("RESET_FAILED").
			With("operation", "update password").
			Wrap(err)
	}
	return nil
}

// VerifyEmail marks the account named by a valid verification token as
// verified.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return oops.Code("MISSING_TOKEN").Errorf("verification token is required")
	}

	email, err := s.tokens.VerifyVerification(token)
	if err != nil {
		return oops.Code("INVALID_TOKEN").Wrap(err)
	}

	if err := s.accounts.MarkVerified(ctx, email); err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("USER_NOT_FOUND").Wrap(err)
		}
		return oops.Code("VERIFY_FAILED").
			With("operation", "mark verified").
			Wrap(err)
	}
	return nil
}

// GetProfile returns the account for an authenticated session.
func (s *Service) GetProfile(ctx context.Context, accountID ulid.ULID) (*Account, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("USER_NOT_FOUND").Wrap(err)
		}
		return nil, oops.Code("PROFILE_FETCH_FAILED").
			With("operation", "get account by id").
			Wrap(err)
	}
	return account, nil
}

// UpdateProfile applies a partial profile update and returns the
// updated account. A username change is validated and checked for
// conflicts; the unique index remains the authority under races.
func (s *Service) UpdateProfile(ctx context.Context, accountID ulid.ULID, update ProfileUpdate) (*Account, error) {
	if update.Username != nil {
		if res := ValidateUsername(*update.Username); !res.OK() {
			return nil, oops.Code("INVALID_USERNAME").
				With("violations", res.Violations).
				Errorf("username validation failed")
		}
		existing, err := s.accounts.GetByUsername(ctx, *update.Username)
		if err == nil && existing.ID != accountID {
			return nil, oops.Code("USERNAME_EXISTS").Wrap(ErrUsernameTaken)
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, oops.Code("PROFILE_UPDATE_FAILED").
				With("operation", "get account by username").
				Wrap(err)
		}
	}

	if !update.Empty() {
		if err := s.accounts.UpdateProfile(ctx, accountID, update); err != nil {
			switch {
			case errors.Is(err, ErrUsernameTaken):
				return nil, oops.Code("USERNAME_EXISTS").Wrap(err)
			case errors.Is(err, ErrNotFound):
				return nil, oops.Code("USER_NOT_FOUND").Wrap(err)
			}
			return nil, oops.Code("PROFILE_UPDATE_FAILED").
				With("operation", "update profile").
				Wrap(err)
		}
	}

	return s.GetProfile(ctx, accountID)
}

// ChangePassword replaces the password after verifying the current one.
func (s *Service) ChangePassword(ctx context.Context, accountID ulid.ULID, currentPassword, newPassword string) error {
	if currentPassword == "" || newPassword == "" {
		return oops.Code("MISSING_FIELDS").Errorf("current and new password are required")
	}

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("USER_NOT_FOUND").Wrap(err)
		}
		return oops.Code("PASSWORD_UPDATE_FAILED").
			With("operation", "get account by id").
			Wrap(err)
	}

	valid, err := s.hasher.Verify(currentPassword, account.PasswordHash)
	if err != nil {
		return oops.Code("PASSWORD_UPDATE_FAILED").
			With("operation", "verify current password").
			Wrap(err)
	}
	if !valid {
		return oops.Code("INVALID_CURRENT_PASSWORD").Errorf("current password is incorrect")
	}

	if res := ValidatePassword(newPassword); !res.OK() {
		return oops.Code("INVALID_NEW_PASSWORD").
			With("violations", res.Violations).
			Errorf("password validation failed")
	}

	passwordHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code("PASSWORD_UPDATE_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	if err := s.accounts.UpdatePassword(ctx, accountID, passwordHash); err != nil {
		return oops.Code("PASSWORD_UPDATE_FAILED").
			With("operation", "update password").
			Wrap(err)
	}
	return nil
}

// TouchLastActive stamps the account's last-active time. Best-effort
// companion for authenticated middleware; errors are the caller's to
// ignore.
func (s *Service) TouchLastActive(ctx context.Context, accountID ulid.ULID) error {
	//nolint:wrapcheck // Callers treat this as best effort.
	return s.accounts.UpdateLastActive(ctx, accountID, time.Now())
}

func (s *Service) checkEmailFree(ctx context.Context, email string) error {
	_, err := s.accounts.GetByEmail(ctx, email)
	if err == nil {
		return oops.Code("EMAIL_EXISTS").Wrap(ErrEmailTaken)
	}
	if !errors.Is(err, ErrNotFound) {
		return oops.Code("REGISTER_FAILED").
			With("operation", "get account by email").
			Wrap(err)
	}
	return nil
}

func (s *Service) checkUsernameFree(ctx context.Context, username string) error {
	_, err := s.accounts.GetByUsername(ctx, username)
	if err == nil {
		return oops.Code("USERNAME_EXISTS").Wrap(ErrUsernameTaken)
	}
	if !errors.Is(err, ErrNotFound) {
		return oops.Code("REGISTER_FAILED").
			With("operation", "get account by username").
			Wrap(err)
	}
	return nil
}
