// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Default token lifetimes.
const (
	SessionTokenTTL      = 24 * time.Hour
	ResetTokenTTL        = time.Hour
	VerificationTokenTTL = 24 * time.Hour
)

// TokenKind discriminates the three token variants. Every issued token
// carries its kind as a claim, and every verifier checks it: a token of
// one kind is rejected wherever another kind is expected, even when the
// signature and expiry are valid.
type TokenKind int

const (
	KindSession TokenKind = iota
	KindPasswordReset
	KindEmailVerification
)

// Wire tags for the kind claim.
const (
	kindTagSession      = "session"
	kindTagReset        = "password-reset"
	kindTagVerification = "email-verification"
)

// String returns the wire tag for the kind.
func (k TokenKind) String() string {
	switch k {
	case KindSession:
		return kindTagSession
	case KindPasswordReset:
		return kindTagReset
	case KindEmailVerification:
		return kindTagVerification
	}
	return "unknown"
}

// Verification failures.
var (
	// ErrTokenExpired is returned for a well-formed token past its expiry.
	ErrTokenExpired = oops.Code("TOKEN_EXPIRED").Errorf("token has expired")

	// ErrTokenInvalid is returned for malformed tokens, bad signatures,
	// and tokens missing required claims.
	ErrTokenInvalid = oops.Code("INVALID_TOKEN").Errorf("invalid token")

	// ErrWrongTokenKind is returned when a cryptographically valid token
	// of one kind is presented where another kind is expected.
	ErrWrongTokenKind = oops.Code("INVALID_TOKEN").Errorf("wrong token kind")
)

// SessionClaims is the payload of a verified session token.
type SessionClaims struct {
	AccountID ulid.ULID
	Email     string
	Username  string
}

// tokenClaims is the on-the-wire claim set shared by all three kinds.
type tokenClaims struct {
	jwt.RegisteredClaims
	Kind     string `json:"kind"`
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
}

// TokenIssuer signs and verifies the three token kinds with a shared
// HS256 secret. Issuance and verification are stateless and safe for
// concurrent use; tokens are never persisted and expire intrinsically.
type TokenIssuer struct {
	secret          []byte
	sessionTTL      time.Duration
	resetTTL        time.Duration
	verificationTTL time.Duration
	now             func() time.Time
}

// TokenIssuerOption configures a TokenIssuer.
type TokenIssuerOption func(*TokenIssuer)

// WithSessionTTL overrides the session token lifetime.
func WithSessionTTL(ttl time.Duration) TokenIssuerOption {
	return func(i *TokenIssuer) { i.sessionTTL = ttl }
}

// WithResetTTL overrides the password reset token lifetime.
func WithResetTTL(ttl time.Duration) TokenIssuerOption {
	return func(i *TokenIssuer) { i.resetTTL = ttl }
}

// WithVerificationTTL overrides the email verification token lifetime.
func WithVerificationTTL(ttl time.Duration) TokenIssuerOption {
	return func(i *TokenIssuer) { i.verificationTTL = ttl }
}

// WithClock overrides the time source used when issuing tokens.
func WithClock(now func() time.Time) TokenIssuerOption {
	return func(i *TokenIssuer) { i.now = now }
}

// NewTokenIssuer creates a TokenIssuer with the given signing secret.
// Returns an error if the secret is empty.
func NewTokenIssuer(secret []byte, opts ...TokenIssuerOption) (*TokenIssuer, error) {
	if len(secret) == 0 {
		return nil, oops.Code("TOKEN_SECRET_EMPTY").Errorf("token signing secret is required")
	}

	issuer := &TokenIssuer{
		secret:          secret,
		sessionTTL:      SessionTokenTTL,
		resetTTL:        ResetTokenTTL,
		verificationTTL: VerificationTokenTTL,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(issuer)
	}
	return issuer, nil
}

// IssueSession signs a session token carrying the account id, email,
// and username.
func (i *TokenIssuer) IssueSession(accountID ulid.ULID, email, username string) (string, error) {
	now := i.now()
	return i.sign(tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.sessionTTL)),
		},
		Kind:     kindTagSession,
		Email:    email,
		Username: username,
	})
}

// IssueReset signs a password reset token carrying only the email.
func (i *TokenIssuer) IssueReset(email string) (string, error) {
	now := i.now()
	return i.sign(tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.resetTTL)),
		},
		Kind:  kindTagReset,
		Email: email,
	})
}

// IssueVerification signs an email verification token carrying only the
// email.
func (i *TokenIssuer) IssueVerification(email string) (string, error) {
	now := i.now()
	return i.sign(tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.verificationTTL)),
		},
		Kind:  kindTagVerification,
		Email: email,
	})
}

// VerifySession verifies a session token and returns its payload.
// Fails with ErrTokenExpired, ErrTokenInvalid, or ErrWrongTokenKind.
func (i *TokenIssuer) VerifySession(token string) (SessionClaims, error) {
	claims, err := i.verify(token, KindSession)
	if err != nil {
		return SessionClaims{}, err
	}

	accountID, err := ulid.Parse(claims.Subject)
	if err != nil {
		return SessionClaims{}, oops.Code("INVALID_TOKEN").
			With("operation", "parse subject").
			Wrap(ErrTokenInvalid)
	}
	if claims.Email == "" || claims.Username == "" {
		return SessionClaims{}, oops.Code("INVALID_TOKEN").
			With("operation", "check session payload").
			Wrap(ErrTokenInvalid)
	}

	return SessionClaims{
		AccountID: accountID,
		Email:     claims.Email,
		Username:  claims.Username,
	}, nil
}

// VerifyReset verifies a password reset token and returns the email it
// was issued for.
func (i *TokenIssuer) VerifyReset(token string) (string, error) {
	claims, err := i.verify(token, KindPasswordReset)
	if err != nil {
		return "", err
	}
	if claims.Email == "" {
		return "", oops.Code("INVALID_TOKEN").
			With("operation", "check reset payload").
			Wrap(ErrTokenInvalid)
	}
	return claims.Email, nil
}

// VerifyVerification verifies an email verification token and returns
// the email it was issued for.
func (i *TokenIssuer) VerifyVerification(token string) (string, error) {
	claims, err := i.verify(token, KindEmailVerification)
	if err != nil {
		return "", err
	}
	if claims.Email == "" {
		return "", oops.Code("INVALID_TOKEN").
			With("operation", "check verification payload").
			Wrap(ErrTokenInvalid)
	}
	return claims.Email, nil
}

func (i *TokenIssuer) sign(claims tokenClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", oops.Code("TOKEN_SIGN_FAILED").Wrap(err)
	}
	return signed, nil
}

func (i *TokenIssuer) verify(token string, want TokenKind) (*tokenClaims, error) {
	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, oops.Code("TOKEN_EXPIRED").Wrap(ErrTokenExpired)
		}
		return nil, oops.Code("INVALID_TOKEN").Wrap(ErrTokenInvalid)
	}
	if !parsed.Valid {
		return nil, oops.Code("INVALID_TOKEN").Wrap(ErrTokenInvalid)
	}

	if claims.Kind != want.String() {
		return nil, oops.Code("INVALID_TOKEN").
			With("want_kind", want.String()).
			With("got_kind", claims.Kind).
			Wrap(ErrWrongTokenKind)
	}

	return claims, nil
}
