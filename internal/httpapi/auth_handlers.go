package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"jodi.app/internal/audit"
	"jodi.app/internal/auth"
	"jodi.app/internal/obs"
)

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type tokenResponse struct {
	AccessToken        string `json:"access_token"`
	RefreshToken       string `json:"refresh_token"`
	TokenType          string `json:"token_type"`
	ExpiresIn          int64  `json:"expires_in"`
	MustChangePassword bool   `json:"must_change_password"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.svc.Register(a.requestCtx(r), req.Username, req.Password, requestMeta(r))
	if err != nil {
		if errors.Is(err, auth.ErrConflict) {
			writeError(w, r, http.StatusConflict, "username already taken")
			return
		}
		a.handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	pair, user, err := a.svc.Login(a.requestCtx(r), req.Username, req.Password, requestMeta(r))
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrAccountLocked):
			obs.ObserveLogin("locked")
			writeError(w, r, http.StatusLocked, "account temporarily locked")
		case errors.Is(err, auth.ErrAccountDisabled):
			obs.ObserveLogin("disabled")
			writeError(w, r, http.StatusForbidden, "account disabled")
		case errors.Is(err, auth.ErrInvalidCredentials):
			obs.ObserveLogin("failure")
			writeError(w, r, http.StatusUnauthorized, "invalid username or password")
		default:
			a.handleAuthError(w, r, err)
		}
		return
	}
	obs.ObserveLogin("success")
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:        pair.AccessToken,
		RefreshToken:       pair.RefreshToken,
		TokenType:          "bearer",
		ExpiresIn:          int64(a.svc.AccessTTL().Seconds()),
		MustChangePassword: user.MustChangePassword,
	})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, r, http.StatusBadRequest, "refresh_token is required")
		return
	}
	pair, user, err := a.svc.Refresh(a.requestCtx(r), req.RefreshToken, requestMeta(r))
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidToken):
			unauthorized(w, r, "invalid refresh token")
		case errors.Is(err, auth.ErrAccountDisabled):
			writeError(w, r, http.StatusForbidden, "account disabled")
		default:
			a.handleAuthError(w, r, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:        pair.AccessToken,
		RefreshToken:       pair.RefreshToken,
		TokenType:          "bearer",
		ExpiresIn:          int64(a.svc.AccessTTL().Seconds()),
		MustChangePassword: user.MustChangePassword,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.Logout(a.requestCtx(r), req.RefreshToken, requestMeta(r)); err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			unauthorized(w, r, "invalid refresh token")
			return
		}
		a.handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "logged out"})
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		unauthorized(w, r, "authentication required")
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	err := a.svc.ChangePassword(a.requestCtx(r), principal.Username, req.CurrentPassword, req.NewPassword, requestMeta(r))
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, r, http.StatusUnauthorized, "current password is incorrect")
			return
		}
		a.handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "password changed; existing sessions revoked",
	})
}

func (a *API) handlePasswordPolicy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"min_length":    auth.PasswordMinLength,
		"max_length":    auth.PasswordMaxLength,
		"history_limit": auth.PasswordHistoryLimit,
		"expiry_days":   int(auth.PasswordExpiry.Hours() / 24),
		"requirements":  auth.PasswordPolicyRequirements(),
	})
}

// handleAuthError maps the remaining service errors to status codes.
func (a *API) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var policyErr *auth.PolicyViolationError
	switch {
	case errors.As(err, &policyErr):
		payload := map[string]any{
			"error":      "password does not meet policy",
			"violations": policyErr.Violations,
		}
		if rid := RequestIDFromContext(r.Context()); rid != "" {
			payload["request_id"] = rid
		}
		writeJSON(w, http.StatusBadRequest, payload)
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "user not found")
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// requestCtx threads the request id through to audit diagnostics.
func (a *API) requestCtx(r *http.Request) context.Context {
	return audit.WithRequestID(r.Context(), RequestIDFromContext(r.Context()))
}

func requestMeta(r *http.Request) auth.RequestMeta {
	return auth.RequestMeta{
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	}
}
