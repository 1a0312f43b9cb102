// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

// Package httpapi exposes the auth service over a small JSON/HTTP API.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/keyfold/keyfold/internal/auth"
	"github.com/keyfold/keyfold/internal/observability"
	"github.com/keyfold/keyfold/pkg/errutil"
)

// AuthService is the surface of the auth orchestration layer consumed
// by the HTTP handlers.
type AuthService interface {
	Register(ctx context.Context, params auth.RegisterParams) (*auth.Account, string, error)
	Login(ctx context.Context, email, password string) (*auth.Account, string, error)
	RequestPasswordReset(ctx context.Context, email string) (string, error)
	ResetPassword(ctx context.Context, token, newPassword string) error
	VerifyEmail(ctx context.Context, token string) error
	GetProfile(ctx context.Context, accountID ulid.ULID) (*auth.Account, error)
	UpdateProfile(ctx context.Context, accountID ulid.ULID, update auth.ProfileUpdate) (*auth.Account, error)
	ChangePassword(ctx context.Context, accountID ulid.ULID, currentPassword, newPassword string) error
	TouchLastActive(ctx context.Context, accountID ulid.ULID) error
}

// SessionVerifier checks bearer session tokens for the auth middleware.
type SessionVerifier interface {
	VerifySession(token string) (auth.SessionClaims, error)
}

// Handler serves the auth API routes.
type Handler struct {
	svc      AuthService
	sessions SessionVerifier
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewHandler creates a Handler. metrics may be nil when the
// observability server is disabled.
func NewHandler(svc AuthService, sessions SessionVerifier, logger *slog.Logger, metrics *observability.Metrics) (*Handler, error) {
	if svc == nil {
		return nil, oops.Errorf("auth service is required")
	}
	if sessions == nil {
		return nil, oops.Errorf("session verifier is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{svc: svc, sessions: sessions, logger: logger, metrics: metrics}, nil
}

// Routes returns the full route table with middleware applied.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/register", h.handleRegister)
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("POST /auth/request-password-reset", h.handleRequestPasswordReset)
	mux.HandleFunc("POST /auth/reset-password", h.handleResetPassword)
	mux.HandleFunc("POST /auth/verify-email", h.handleVerifyEmail)

	mux.Handle("GET /auth/profile", h.requireSession(http.HandlerFunc(h.handleGetProfile)))
	mux.Handle("PUT /profile/update", h.requireSession(http.HandlerFunc(h.handleUpdateProfile)))
	mux.Handle("PUT /profile/password", h.requireSession(http.HandlerFunc(h.handleChangePassword)))

	return withRequestID(mux)
}

// record counts an auth operation outcome when metrics are enabled.
func (h *Handler) record(operation string, err error) {
	if h.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		if _, known := codeStatus[errutil.Code(err)]; known {
			status = "client_error"
		} else {
			status = "server_error"
		}
	}
	h.metrics.AuthRequestsTotal.WithLabelValues(operation, status).Inc()
}

// tokenIssued counts a successfully issued token by kind.
func (h *Handler) tokenIssued(kind auth.TokenKind) {
	if h.metrics == nil {
		return
	}
	h.metrics.TokensIssuedTotal.WithLabelValues(kind.String()).Inc()
}

type registerRequest struct {
	Email       string `json:"email"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	DateOfBirth string `json:"dateOfBirth"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, r, http.StatusBadRequest, "MISSING_FIELDS", codeMessage["MISSING_FIELDS"], nil)
		return
	}

	params := auth.RegisterParams{
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
	}
	if req.DateOfBirth != "" {
		dob, err := time.Parse("2006-01-02", req.DateOfBirth)
		if err != nil {
			writeErrorCode(w, r, http.StatusBadRequest, "MISSING_FIELDS", "dateOfBirth must be YYYY-MM-DD", nil)
			return
		}
		params.DateOfBirth = &dob
	}

	account, token, err := h.svc.Register(r.Context(), params)
	h.record("register", err)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	// Registration issues a verification token alongside the session.
	h.tokenIssued(auth.KindSession)
	h.tokenIssued(auth.KindEmailVerification)

	writeJSON(w, http.StatusCreated, map[string]any{
		"account": accountView(account),
		"token":   token,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, r, http.StatusBadRequest, "MISSING_CREDENTIALS", codeMessage["MISSING_CREDENTIALS"], nil)
		return
	}

	account, token, err := h.svc.Login(r.Context(), req.Email, req.Password)
	h.record("login", err)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.tokenIssued(auth.KindSession)

	writeJSON(w, http.StatusOK, map[string]any{
		"account": accountView(account),
		"token":   token,
	})
}

type resetRequestRequest struct {
	Email string `json:"email"`
}

func (h *Handler) handleRequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, r, http.StatusBadRequest, "MISSING_EMAIL", codeMessage["MISSING_EMAIL"], nil)
		return
	}

	// The response is identical whether or not the email exists.
	token, err := h.svc.RequestPasswordReset(r.Context(), req.Email)
	h.record("reset_request", err)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	// Unknown emails issue no token, so there is nothing to count.
	if token != "" {
		h.tokenIssued(auth.KindPasswordReset)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "if the email is registered, a reset link has been sent",
	})
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, r, http.StatusBadRequest, "MISSING_FIELDS", codeMessage["MISSING_FIELDS"], nil)
		return
	}

	err := h.svc.ResetPassword(r.Context(), req.Token, req.NewPassword)
	h.record("reset", err)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"message": "password has been reset"})
}

type verifyEmailRequest struct {
	Token string `json:"token"`
}

func (h *Handler) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, r, http.StatusBadRequest, "MISSING_TOKEN", codeMessage["MISSING_TOKEN"], nil)
		return
	}

	err := h.svc.VerifyEmail(r.Context(), req.Token)
	h.record("verify_email", err)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"message": "email verified"})
}

func (h *Handler) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	claims, ok := sessionFrom(r.Context())
	if !ok {
		writeErrorCode(w, r, http.StatusUnauthorized, "MISSING_TOKEN", "authorization token is required", nil)
		return
	}

	account, err := h.svc.GetProfile(r.Context(), claims.AccountID)
	h.record("get_profile", err)
	if err != nil {
		// An authenticated session whose account has vanished reads as an
		// authentication failure, not a 404.
		if errutil.Code(err) == "USER_NOT_FOUND" {
			writeErrorCode(w, r, http.StatusUnauthorized, "USER_NOT_FOUND", codeMessage["USER_NOT_FOUND"], nil)
			return
		}
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"account": accountView(account)})
}

type updateProfileRequest struct {
	Username    *string           `json:"username"`
	DateOfBirth *string           `json:"dateOfBirth"`
	Preferences *auth.Preferences `json:"preferences"`
}

func (h *Handler) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	claims, ok := sessionFrom(r.Context())
	if !ok {
		writeErrorCode(w, r, http.StatusUnauthorized, "MISSING_TOKEN", "authorization token is required", nil)
		return
	}

	var req updateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, r, http.StatusBadRequest, "MISSING_FIELDS", codeMessage["MISSING_FIELDS"], nil)
		return
	}

	update := auth.ProfileUpdate{
		Username:    req.Username,
		Preferences: req.Preferences,
	}
	if req.DateOfBirth != nil {
		dob, err := time.Parse("2006-01-02", *req.DateOfBirth)
		if err != nil {
			writeErrorCode(w, r, http.StatusBadRequest, "MISSING_FIELDS", "dateOfBirth must be YYYY-MM-DD", nil)
			return
		}
		update.DateOfBirth = &dob
	}

	account, err := h.svc.UpdateProfile(r.Context(), claims.AccountID, update)
	h.record("update_profile", err)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"account": accountView(account)})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	claims, ok := sessionFrom(r.Context())
	if !ok {
		writeErrorCode(w, r, http.StatusUnauthorized, "MISSING_TOKEN", "authorization token is required", nil)
		return
	}

	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, r, http.StatusBadRequest, "MISSING_FIELDS", codeMessage["MISSING_FIELDS"], nil)
		return
	}

	err := h.svc.ChangePassword(r.Context(), claims.AccountID, req.CurrentPassword, req.NewPassword)
	h.record("change_password", err)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"message": "password updated"})
}
