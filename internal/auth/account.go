// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Account is the persisted identity record for a registered user.
// Email and username are each globally unique (enforced by the
// repository's unique indexes). PasswordHash never leaves the
// credential layer: API views of an account exclude it.
type Account struct {
	ID             ulid.ULID
	Email          string
	Username       string
	PasswordHash   string
	DateOfBirth    *time.Time
	Verified       bool
	Preferences    Preferences
	CreatedAt      time.Time
	LastActiveAt   *time.Time
	ProfilePicture *string
}

// Preferences is the optional per-account settings blob, stored as JSON.
type Preferences struct {
	Notifications NotificationSettings  `json:"notifications,omitempty"`
	Privacy       PrivacySettings       `json:"privacy,omitempty"`
	Accessibility AccessibilitySettings `json:"accessibility,omitempty"`
}

// NotificationSettings controls outbound notification channels.
type NotificationSettings struct {
	Email     bool   `json:"email,omitempty"`
	Push      bool   `json:"push,omitempty"`
	SMS       bool   `json:"sms,omitempty"`
	Frequency string `json:"frequency,omitempty"`
}

// PrivacySettings controls profile visibility and data sharing.
type PrivacySettings struct {
	ProfileVisibility string `json:"profile_visibility,omitempty"`
	DataSharing       bool   `json:"data_sharing,omitempty"`
	AnalyticsOptOut   bool   `json:"analytics_opt_out,omitempty"`
}

// AccessibilitySettings controls client rendering hints.
type AccessibilitySettings struct {
	FontSize           string `json:"font_size,omitempty"`
	HighContrast       bool   `json:"high_contrast,omitempty"`
	TextToSpeech       bool   `json:"text_to_speech,omitempty"`
	KeyboardNavigation bool   `json:"keyboard_navigation,omitempty"`
}

// NewAccount creates a validated, unverified Account with a fresh ULID.
// The password must already be hashed; dateOfBirth is optional.
func NewAccount(email, username, passwordHash string, dateOfBirth *time.Time) (*Account, error) {
	if !ValidateEmail(email) {
		return nil, oops.Code("INVALID_EMAIL").Errorf("invalid email address")
	}
	if res := ValidateUsername(username); !res.OK() {
		return nil, oops.Code("INVALID_USERNAME").
			With("violations", res.Violations).
			Errorf("invalid username")
	}
	if passwordHash == "" {
		return nil, oops.Code("ACCOUNT_INVALID_HASH").Errorf("password hash cannot be empty")
	}

	return &Account{
		ID:           ulid.Make(),
		Email:        email,
		Username:     username,
		PasswordHash: passwordHash,
		DateOfBirth:  dateOfBirth,
		CreatedAt:    time.Now(),
	}, nil
}

// ProfileUpdate carries the mutable profile fields; nil means unchanged.
type ProfileUpdate struct {
	Username    *string
	DateOfBirth *time.Time
	Preferences *Preferences
}

// Empty reports whether the update would change nothing.
func (u ProfileUpdate) Empty() bool {
	return u.Username == nil && u.DateOfBirth == nil && u.Preferences == nil
}

// AccountRepository manages account persistence. Uniqueness of email
// and username is the repository's responsibility: concurrent inserts
// with the same email must be resolved by the unique index, not by the
// caller's pre-check.
type AccountRepository interface {
	// Create stores a new account. Returns ErrEmailTaken or
	// ErrUsernameTaken on a unique-index collision.
	Create(ctx context.Context, account *Account) error

	// GetByID retrieves an account by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*Account, error)

	// GetByEmail retrieves an account by email (case-insensitive).
	GetByEmail(ctx context.Context, email string) (*Account, error)

	// GetByUsername retrieves an account by username (case-insensitive).
	GetByUsername(ctx context.Context, username string) (*Account, error)

	// UpdateProfile applies a partial profile update. Returns
	// ErrUsernameTaken if a username change collides.
	UpdateProfile(ctx context.Context, id ulid.ULID, update ProfileUpdate) error

	// UpdatePassword replaces only the password hash.
	UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error

	// UpdateLastActive stamps the last-active time.
	UpdateLastActive(ctx context.Context, id ulid.ULID, lastActive time.Time) error

	// MarkVerified flips the verification flag for the account with the
	// given email. Returns ErrNotFound if no such account exists.
	MarkVerified(ctx context.Context, email string) error
}
