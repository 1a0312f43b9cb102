// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package auth

import "regexp"

// Username validation constraints.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 30
)

// MinPasswordLength is the minimum accepted password length.
const MinPasswordLength = 8

var (
	// emailRegex requires a local part, an @, a domain, and a TLD
	// separator, none of which may contain whitespace or another @.
	emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

	// usernameRegex matches usernames built only from letters, numbers,
	// underscores, and hyphens. It does not match the empty string.
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	passwordUpperRegex  = regexp.MustCompile(`[A-Z]`)
	passwordLowerRegex  = regexp.MustCompile(`[a-z]`)
	passwordDigitRegex  = regexp.MustCompile(`[0-9]`)
	passwordSymbolRegex = regexp.MustCompile(`[!@#$%^&*(),.?":{}|<>]`)
)

// ValidationResult is the outcome of a rule check: a pass/fail flag
// derived from an ordered list of human-readable violations. Validators
// never return errors; malformed input is reported as violations.
type ValidationResult struct {
	Violations []string
}

// OK reports whether no rule was violated.
func (r ValidationResult) OK() bool {
	return len(r.Violations) == 0
}

// ValidateEmail reports whether the address has the shape
// local@domain.tld with no whitespace or extra @ characters.
func ValidateEmail(email string) bool {
	return emailRegex.MatchString(email)
}

// ValidatePassword checks a password against all strength rules and
// accumulates one violation per unmet rule, so callers can render a
// complete checklist rather than the first failure.
func ValidatePassword(password string) ValidationResult {
	var result ValidationResult

	if len(password) < MinPasswordLength {
		result.Violations = append(result.Violations, "password must be at least 8 characters long")
	}
	if !passwordUpperRegex.MatchString(password) {
		result.Violations = append(result.Violations, "password must contain at least one uppercase letter")
	}
	if !passwordLowerRegex.MatchString(password) {
		result.Violations = append(result.Violations, "password must contain at least one lowercase letter")
	}
	if !passwordDigitRegex.MatchString(password) {
		result.Violations = append(result.Violations, "password must contain at least one number")
	}
	if !passwordSymbolRegex.MatchString(password) {
		result.Violations = append(result.Violations, "password must contain at least one special character")
	}

	return result
}

// ValidateUsername checks length bounds and the allowed character set.
// Rules are independent: the empty string violates both the minimum
// length rule and the character-set rule, since the anchored pattern
// requires at least one character.
func ValidateUsername(username string) ValidationResult {
	var result ValidationResult

	if len(username) < MinUsernameLength {
		result.Violations = append(result.Violations, "username must be at least 3 characters long")
	}
	if len(username) > MaxUsernameLength {
		result.Violations = append(result.Violations, "username must be no more than 30 characters long")
	}
	if !usernameRegex.MatchString(username) {
		result.Violations = append(result.Violations, "username can only contain letters, numbers, underscores, and hyphens")
	}

	return result
}
