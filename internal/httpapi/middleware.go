// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/keyfold/keyfold/internal/auth"
)

type contextKey int

const (
	requestIDKey contextKey = iota
	sessionKey
)

// requestIDFrom returns the request ID stored by withRequestID, or the
// empty string outside a request context.
func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// sessionFrom returns the verified session claims stored by
// requireSession. The bool is false on unauthenticated routes.
func sessionFrom(ctx context.Context) (auth.SessionClaims, bool) {
	claims, ok := ctx.Value(sessionKey).(auth.SessionClaims)
	return claims, ok
}

// withRequestID tags every request with an ID, honoring a caller's
// X-Request-Id and minting a ULID otherwise. The ID is echoed on the
// response and appears in every error envelope.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = ulid.Make().String()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// requireSession rejects requests without a valid bearer session token.
// All authentication failures are 401; the code distinguishes a missing
// token, an expired token, and everything else. On success the claims
// land in the request context and the account's last-active stamp is
// touched best-effort.
func (h *Handler) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || token == "" {
			writeErrorCode(w, r, http.StatusUnauthorized, "MISSING_TOKEN", "authorization token is required", nil)
			return
		}

		claims, err := h.sessions.VerifySession(token)
		if err != nil {
			code, message := "INVALID_TOKEN", codeMessage["INVALID_TOKEN"]
			if errors.Is(err, auth.ErrTokenExpired) {
				code, message = "TOKEN_EXPIRED", codeMessage["TOKEN_EXPIRED"]
			}
			writeErrorCode(w, r, http.StatusUnauthorized, code, message, nil)
			return
		}

		ctx := context.WithValue(r.Context(), sessionKey, claims)

		// Activity stamping must never block or fail the request.
		if err := h.svc.TouchLastActive(ctx, claims.AccountID); err != nil {
			h.logger.Debug("last-active touch failed",
				"account_id", claims.AccountID.String(),
				"error", err,
			)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
