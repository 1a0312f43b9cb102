// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package auth_test

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyfold/keyfold/internal/auth"
)

var testSecret = []byte("test-signing-secret")

func newTestIssuer(t *testing.T, opts ...auth.TokenIssuerOption) *auth.TokenIssuer {
	t.Helper()
	issuer, err := auth.NewTokenIssuer(testSecret, opts...)
	require.NoError(t, err)
	return issuer
}

func TestNewTokenIssuer(t *testing.T) {
	t.Run("rejects empty secret", func(t *testing.T) {
		_, err := auth.NewTokenIssuer(nil)
		assert.Error(t, err)
	})
}

func TestSessionTokenRoundtrip(t *testing.T) {
	issuer := newTestIssuer(t)
	accountID := ulid.Make()

	token, err := issuer.IssueSession(accountID, "user@example.com", "someuser")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := issuer.VerifySession(token)
	require.NoError(t, err)
	assert.Equal(t, accountID, claims.AccountID)
	assert.Equal(t, "user@example.com", claims.Email)
	assert.Equal(t, "someuser", claims.Username)
}

func TestResetTokenRoundtrip(t *testing.T) {
	issuer := newTestIssuer(t)

	token, err := issuer.IssueReset("user@example.com")
	require.NoError(t, err)

	email, err := issuer.VerifyReset(token)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", email)
}

func TestVerificationTokenRoundtrip(t *testing.T) {
	issuer := newTestIssuer(t)

	token, err := issuer.IssueVerification("user@example.com")
	require.NoError(t, err)

	email, err := issuer.VerifyVerification(token)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", email)
}

// Every kind must be rejected by the other two verifiers even though
// the signature and expiry are valid.
func TestCrossKindRejection(t *testing.T) {
	issuer := newTestIssuer(t)
	accountID := ulid.Make()

	sessionToken, err := issuer.IssueSession(accountID, "user@example.com", "someuser")
	require.NoError(t, err)
	resetToken, err := issuer.IssueReset("user@example.com")
	require.NoError(t, err)
	verificationToken, err := issuer.IssueVerification("user@example.com")
	require.NoError(t, err)

	verifySession := func(token string) error {
		_, err := issuer.VerifySession(token)
		return err
	}
	verifyReset := func(token string) error {
		_, err := issuer.VerifyReset(token)
		return err
	}
	verifyVerification := func(token string) error {
		_, err := issuer.VerifyVerification(token)
		return err
	}

	tests := []struct {
		name   string
		token  string
		verify func(string) error
	}{
		{"session rejected by reset verifier", sessionToken, verifyReset},
		{"session rejected by verification verifier", sessionToken, verifyVerification},
		{"reset rejected by session verifier", resetToken, verifySession},
		{"reset rejected by verification verifier", resetToken, verifyVerification},
		{"verification rejected by session verifier", verificationToken, verifySession},
		{"verification rejected by reset verifier", verificationToken, verifyReset},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.verify(tt.token)
			assert.ErrorIs(t, err, auth.ErrWrongTokenKind)
		})
	}
}

func TestTamperedTokenFails(t *testing.T) {
	issuer := newTestIssuer(t)

	token, err := issuer.IssueReset("user@example.com")
	require.NoError(t, err)

	// Flip the last character of the signature.
	last := token[len(token)-1]
	replacement := byte('A')
	if last == 'A' {
		replacement = 'B'
	}
	tampered := token[:len(token)-1] + string(replacement)

	_, err = issuer.VerifyReset(tampered)
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestForeignSecretFails(t *testing.T) {
	issuer := newTestIssuer(t)

	other, err := auth.NewTokenIssuer([]byte("a-different-secret"))
	require.NoError(t, err)

	token, err := other.IssueReset("user@example.com")
	require.NoError(t, err)

	_, err = issuer.VerifyReset(token)
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestGarbageTokenFails(t *testing.T) {
	issuer := newTestIssuer(t)

	for _, token := range []string{"", "garbage", "a.b.c"} {
		_, err := issuer.VerifySession(token)
		assert.ErrorIs(t, err, auth.ErrTokenInvalid, "token %q", token)
	}
}

func TestExpiredTokenFails(t *testing.T) {
	// Issue with a clock two hours in the past so the default 1h reset
	// TTL has already elapsed at verification time.
	issuer := newTestIssuer(t, auth.WithClock(func() time.Time {
		return time.Now().Add(-2 * time.Hour)
	}))

	token, err := issuer.IssueReset("user@example.com")
	require.NoError(t, err)

	_, err = issuer.VerifyReset(token)
	assert.ErrorIs(t, err, auth.ErrTokenExpired)
}

func TestSessionSurvivesWhereResetExpires(t *testing.T) {
	// Two hours old: the 1h reset TTL is gone, the 24h session TTL is not.
	issuer := newTestIssuer(t, auth.WithClock(func() time.Time {
		return time.Now().Add(-2 * time.Hour)
	}))

	sessionToken, err := issuer.IssueSession(ulid.Make(), "user@example.com", "someuser")
	require.NoError(t, err)
	resetToken, err := issuer.IssueReset("user@example.com")
	require.NoError(t, err)

	_, err = issuer.VerifySession(sessionToken)
	assert.NoError(t, err)

	_, err = issuer.VerifyReset(resetToken)
	assert.ErrorIs(t, err, auth.ErrTokenExpired)
}

func TestCustomTTLs(t *testing.T) {
	issuer := newTestIssuer(t,
		auth.WithResetTTL(time.Minute),
		auth.WithClock(func() time.Time {
			return time.Now().Add(-5 * time.Minute)
		}),
	)

	token, err := issuer.IssueReset("user@example.com")
	require.NoError(t, err)

	_, err = issuer.VerifyReset(token)
	assert.ErrorIs(t, err, auth.ErrTokenExpired)
}
