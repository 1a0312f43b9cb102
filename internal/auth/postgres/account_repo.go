// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

// Package postgres implements the auth repository ports on PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/keyfold/keyfold/internal/auth"
)

// Querier is the subset of pgxpool.Pool used by the repository.
// Satisfied by *pgxpool.Pool and by pgxmock in tests.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// AccountRepository implements auth.AccountRepository using PostgreSQL.
// The unique indexes on lower(email) and lower(username) are the
// authority for uniqueness; a race between two concurrent inserts is
// resolved here, not by the service's pre-check.
type AccountRepository struct {
	db Querier
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(db Querier) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `id, email, username, password_hash, date_of_birth,
		       verified, preferences, created_at, last_active_at, profile_picture`

// Create stores a new account.
func (r *AccountRepository) Create(ctx context.Context, account *auth.Account) error {
	prefsJSON, err := json.Marshal(account.Preferences)
	if err != nil {
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "marshal preferences").
			Wrap(err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO accounts (
			id, email, username, password_hash, date_of_birth,
			verified, preferences, created_at, last_active_at, profile_picture
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		account.ID.String(),
		account.Email,
		account.Username,
		account.PasswordHash,
		account.DateOfBirth,
		account.Verified,
		prefsJSON,
		account.CreatedAt,
		account.LastActiveAt,
		account.ProfilePicture,
	)
	if err != nil {
		if conflictErr := conflictFor(err); conflictErr != nil {
			return oops.Code("ACCOUNT_CONFLICT").
				With("username", account.Username).
				Wrap(conflictErr)
		}
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "insert account").
			With("username", account.Username).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id = $1
	`, id.String())

	account, err := r.scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_BY_ID_FAILED").
			With("operation", "get account by id").
			With("id", id.String()).
			Wrap(err)
	}
	return account, nil
}

// GetByEmail retrieves an account by email (case-insensitive).
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*auth.Account, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE LOWER(email) = LOWER($1)
	`, email)

	account, err := r.scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("email", email).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_BY_EMAIL_FAILED").
			With("operation", "get account by email").
			Wrap(err)
	}
	return account, nil
}

// GetByUsername retrieves an account by username (case-insensitive).
func (r *AccountRepository) GetByUsername(ctx context.Context, username string) (*auth.Account, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE LOWER(username) = LOWER($1)
	`, username)

	account, err := r.scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("username", username).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_BY_USERNAME_FAILED").
			With("operation", "get account by username").
			With("username", username).
			Wrap(err)
	}
	return account, nil
}

// UpdateProfile applies a partial profile update.
func (r *AccountRepository) UpdateProfile(ctx context.Context, id ulid.ULID, update auth.ProfileUpdate) error {
	if update.Empty() {
		return nil
	}

	var prefsJSON []byte
	if update.Preferences != nil {
		var err error
		prefsJSON, err = json.Marshal(update.Preferences)
		if err != nil {
			return oops.Code("ACCOUNT_UPDATE_FAILED").
				With("operation", "marshal preferences").
				Wrap(err)
		}
	}

	result, err := r.db.Exec(ctx, `
		UPDATE accounts SET
			username = COALESCE($2, username),
			date_of_birth = COALESCE($3, date_of_birth),
			preferences = COALESCE($4, preferences)
		WHERE id = $1
	`,
		id.String(),
		update.Username,
		update.DateOfBirth,
		prefsJSON,
	)
	if err != nil {
		if conflictErr := conflictFor(err); conflictErr != nil {
			return oops.Code("ACCOUNT_CONFLICT").
				With("id", id.String()).
				Wrap(conflictErr)
		}
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "update profile").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// UpdatePassword replaces only the password hash.
func (r *AccountRepository) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error {
	result, err := r.db.Exec(ctx, `
		UPDATE accounts SET password_hash = $2
		WHERE id = $1
	`, id.String(), passwordHash)
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_PASSWORD_FAILED").
			With("operation", "update password").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// UpdateLastActive stamps the last-active time.
func (r *AccountRepository) UpdateLastActive(ctx context.Context, id ulid.ULID, lastActive time.Time) error {
	result, err := r.db.Exec(ctx, `
		UPDATE accounts SET last_active_at = $2
		WHERE id = $1
	`, id.String(), lastActive)
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_LAST_ACTIVE_FAILED").
			With("operation", "update last active").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// MarkVerified flips the verification flag by email.
func (r *AccountRepository) MarkVerified(ctx context.Context, email string) error {
	result, err := r.db.Exec(ctx, `
		UPDATE accounts SET verified = TRUE
		WHERE LOWER(email) = LOWER($1)
	`, email)
	if err != nil {
		return oops.Code("ACCOUNT_MARK_VERIFIED_FAILED").
			With("operation", "mark verified").
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("email", email).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// conflictFor maps a unique-violation error to the matching domain
// sentinel, or returns nil for other errors.
func conflictFor(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.UniqueViolation {
		return nil
	}
	switch {
	case strings.Contains(pgErr.ConstraintName, "email"):
		return auth.ErrEmailTaken
	case strings.Contains(pgErr.ConstraintName, "username"):
		return auth.ErrUsernameTaken
	}
	return nil
}

// scanAccount scans a single row into an Account.
// Callers are responsible for handling pgx.ErrNoRows.
func (r *AccountRepository) scanAccount(row pgx.Row) (*auth.Account, error) {
	var (
		idStr          string
		email          string
		username       string
		passwordHash   string
		dateOfBirth    *time.Time
		verified       bool
		prefsJSON      []byte
		createdAt      time.Time
		lastActiveAt   *time.Time
		profilePicture *string
	)

	err := row.Scan(
		&idStr,
		&email,
		&username,
		&passwordHash,
		&dateOfBirth,
		&verified,
		&prefsJSON,
		&createdAt,
		&lastActiveAt,
		&profilePicture,
	)
	if err != nil {
		// Propagate pgx.ErrNoRows unchanged for callers to handle with context.
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("ACCOUNT_SCAN_FAILED").
			With("operation", "scan account").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_ID").
			With("operation", "parse account id").
			With("id", idStr).
			Wrap(err)
	}

	var prefs auth.Preferences
	if len(prefsJSON) > 0 {
		if err := json.Unmarshal(prefsJSON, &prefs); err != nil {
			return nil, oops.Code("ACCOUNT_INVALID_PREFERENCES").
				With("operation", "unmarshal preferences").
				Wrap(err)
		}
	}

	return &auth.Account{
		ID:             id,
		Email:          email,
		Username:       username,
		PasswordHash:   passwordHash,
		DateOfBirth:    dateOfBirth,
		Verified:       verified,
		Preferences:    prefs,
		CreatedAt:      createdAt,
		LastActiveAt:   lastActiveAt,
		ProfilePicture: profilePicture,
	}, nil
}

// Compile-time interface check.
var _ auth.AccountRepository = (*AccountRepository)(nil)
