// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/samber/oops"

	"github.com/keyfold/keyfold/internal/auth"
	"github.com/keyfold/keyfold/pkg/errutil"
)

// errorBody is the wire shape of every error response.
type errorBody struct {
	Code      string   `json:"code"`
	Message   string   `json:"message"`
	Timestamp string   `json:"timestamp"`
	RequestID string   `json:"requestId"`
	Details   []string `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// codeStatus maps wire error codes to HTTP status. Codes absent from
// this table are treated as internal errors.
var codeStatus = map[string]int{
	"MISSING_FIELDS":           http.StatusBadRequest,
	"INVALID_EMAIL":            http.StatusBadRequest,
	"INVALID_USERNAME":         http.StatusBadRequest,
	"INVALID_PASSWORD":         http.StatusBadRequest,
	"EMAIL_EXISTS":             http.StatusConflict,
	"USERNAME_EXISTS":          http.StatusConflict,
	"MISSING_CREDENTIALS":      http.StatusBadRequest,
	"INVALID_CREDENTIALS":      http.StatusUnauthorized,
	"MISSING_EMAIL":            http.StatusBadRequest,
	"MISSING_TOKEN":            http.StatusBadRequest,
	"INVALID_TOKEN":            http.StatusBadRequest,
	"TOKEN_EXPIRED":            http.StatusUnauthorized,
	"USER_NOT_FOUND":           http.StatusNotFound,
	"INVALID_CURRENT_PASSWORD": http.StatusBadRequest,
	"INVALID_NEW_PASSWORD":     http.StatusBadRequest,
}

// codeMessage provides the fixed client-facing message per code so
// internal error detail never reaches the wire.
var codeMessage = map[string]string{
	"MISSING_FIELDS":           "required fields are missing",
	"INVALID_EMAIL":            "invalid email address",
	"INVALID_USERNAME":         "username validation failed",
	"INVALID_PASSWORD":         "password validation failed",
	"EMAIL_EXISTS":             "email already registered",
	"USERNAME_EXISTS":          "username already taken",
	"MISSING_CREDENTIALS":      "email and password are required",
	"INVALID_CREDENTIALS":      "invalid email or password",
	"MISSING_EMAIL":            "email is required",
	"MISSING_TOKEN":            "token is required",
	"INVALID_TOKEN":            "invalid or expired token",
	"TOKEN_EXPIRED":            "token has expired",
	"USER_NOT_FOUND":           "user not found",
	"INVALID_CURRENT_PASSWORD": "current password is incorrect",
	"INVALID_NEW_PASSWORD":     "password validation failed",
}

// accountJSON is the client-facing view of an account. The password
// hash never appears here.
type accountJSON struct {
	ID             string           `json:"id"`
	Email          string           `json:"email"`
	Username       string           `json:"username"`
	DateOfBirth    *string          `json:"dateOfBirth,omitempty"`
	IsVerified     bool             `json:"isVerified"`
	Preferences    auth.Preferences `json:"preferences"`
	CreatedAt      time.Time        `json:"createdAt"`
	LastActiveAt   *time.Time       `json:"lastActiveAt,omitempty"`
	ProfilePicture *string          `json:"profilePicture,omitempty"`
}

func accountView(a *auth.Account) accountJSON {
	view := accountJSON{
		ID:             a.ID.String(),
		Email:          a.Email,
		Username:       a.Username,
		IsVerified:     a.Verified,
		Preferences:    a.Preferences,
		CreatedAt:      a.CreatedAt,
		LastActiveAt:   a.LastActiveAt,
		ProfilePicture: a.ProfilePicture,
	}
	if a.DateOfBirth != nil {
		dob := a.DateOfBirth.Format("2006-01-02")
		view.DateOfBirth = &dob
	}
	return view
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	//nolint:errcheck // response write error means the client is gone
	json.NewEncoder(w).Encode(body)
}

// writeError renders err as the standard error envelope. Errors without
// a known wire code become opaque 500s and are logged in full.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	code := errutil.Code(err)
	status, known := codeStatus[code]
	if !known {
		errutil.LogError(logger, "request failed", err)
		code = "INTERNAL_ERROR"
		status = http.StatusInternalServerError
	}

	message, ok := codeMessage[code]
	if !ok {
		message = "internal server error"
	}

	writeErrorCode(w, r, status, code, message, violationDetails(err))
}

// writeErrorCode renders a fixed code/message pair, for call sites that
// produce wire errors directly (middleware, body decoding).
func writeErrorCode(w http.ResponseWriter, r *http.Request, status int, code, message string, details []string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: requestIDFrom(r.Context()),
		Details:   details,
	}})
}

// violationDetails extracts the accumulated validation messages an
// INVALID_PASSWORD or INVALID_USERNAME error carries.
func violationDetails(err error) []string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}
	v, ok := oopsErr.Context()["violations"].([]string)
	if !ok {
		return nil
	}
	return v
}
