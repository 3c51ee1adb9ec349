package httpapi

import (
	"encoding/json"
	"net/http"
	"testing"

	"jodi.app/internal/auth"
)

const testPassword = "Val1d!pass"

func TestRegisterCreatesFreeUser(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(http.MethodPost, "/v1/auth/register", map[string]any{
		"username": "John_Doe",
		"password": testPassword,
	}, "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var user auth.User
	if err := json.Unmarshal(rr.Body.Bytes(), &user); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if user.Username != "john_doe" || user.RoleName != auth.RoleFreeUser {
		t.Fatalf("unexpected user: %+v", user)
	}
}

func TestRegisterDuplicateConflict(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser("priya", testPassword, auth.RoleFreeUser)
	rr := env.do(http.MethodPost, "/v1/auth/register", map[string]any{
		"username": "priya",
		"password": testPassword,
	}, "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}

func TestRegisterWeakPasswordListsViolations(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(http.MethodPost, "/v1/auth/register", map[string]any{
		"username": "priya",
		"password": "weak",
	}, "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var body struct {
		Error      string   `json:"error"`
		Violations []string `json:"violations"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Violations) == 0 {
		t.Fatalf("expected violations, got %s", rr.Body.String())
	}
}

func TestLoginReturnsTokenPair(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser("priya", testPassword, auth.RolePremiumUser)

	resp := env.login("priya", testPassword)
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		t.Fatal("expected both tokens")
	}
	if resp.TokenType != "bearer" {
		t.Fatalf("unexpected token type %q", resp.TokenType)
	}
	if resp.ExpiresIn != 3600 {
		t.Fatalf("unexpected expires_in %d", resp.ExpiresIn)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser("priya", testPassword, auth.RoleFreeUser)
	rr := env.do(http.MethodPost, "/v1/auth/login", map[string]any{
		"username": "priya",
		"password": "Wrong1!pass",
	}, "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestLoginLockedAccountReturns423(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser("priya", testPassword, auth.RoleFreeUser)
	for i := 0; i < 5; i++ {
		env.do(http.MethodPost, "/v1/auth/login", map[string]any{
			"username": "priya",
			"password": "Wrong1!pass",
		}, "")
	}
	rr := env.do(http.MethodPost, "/v1/auth/login", map[string]any{
		"username": "priya",
		"password": testPassword,
	}, "")
	if rr.Code != http.StatusLocked {
		t.Fatalf("expected 423, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestRefreshRotatesTokens(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser("priya", testPassword, auth.RoleFreeUser)
	first := env.login("priya", testPassword)

	rr := env.do(http.MethodPost, "/v1/auth/refresh", map[string]any{
		"refresh_token": first.RefreshToken,
	}, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var next tokenResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &next); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if next.RefreshToken == first.RefreshToken {
		t.Fatal("refresh token not rotated")
	}

	// Replay of the consumed token is a 401.
	rr = env.do(http.MethodPost, "/v1/auth/refresh", map[string]any{
		"refresh_token": first.RefreshToken,
	}, "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 on replay, got %d", rr.Code)
	}
}

func TestLogoutThenRefreshFails(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser("priya", testPassword, auth.RoleFreeUser)
	tokens := env.login("priya", testPassword)

	rr := env.do(http.MethodPost, "/v1/auth/logout", map[string]any{
		"refresh_token": tokens.RefreshToken,
	}, tokens.AccessToken)
	if rr.Code != http.StatusOK {
		t.Fatalf("logout: %d %s", rr.Code, rr.Body.String())
	}

	rr = env.do(http.MethodPost, "/v1/auth/refresh", map[string]any{
		"refresh_token": tokens.RefreshToken,
	}, "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", rr.Code)
	}
}

func TestChangePasswordRequiresAuth(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(http.MethodPost, "/v1/auth/change-password", map[string]any{
		"current_password": testPassword,
		"new_password":     "N3w!passwd",
	}, "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestChangePasswordFlow(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser("priya", testPassword, auth.RoleFreeUser)
	tokens := env.login("priya", testPassword)

	rr := env.do(http.MethodPost, "/v1/auth/change-password", map[string]any{
		"current_password": testPassword,
		"new_password":     "N3w!passwd",
	}, tokens.AccessToken)
	if rr.Code != http.StatusOK {
		t.Fatalf("change password: %d %s", rr.Code, rr.Body.String())
	}

	// Old password no longer works, new one does.
	rr = env.do(http.MethodPost, "/v1/auth/login", map[string]any{
		"username": "priya",
		"password": testPassword,
	}, "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("old password still accepted: %d", rr.Code)
	}
	env.login("priya", "N3w!passwd")
}

func TestPasswordPolicyEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(http.MethodGet, "/v1/auth/password-policy", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body struct {
		MinLength    int      `json:"min_length"`
		ExpiryDays   int      `json:"expiry_days"`
		Requirements []string `json:"requirements"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.MinLength != 8 || body.ExpiryDays != 90 {
		t.Fatalf("unexpected policy: %+v", body)
	}
	if len(body.Requirements) == 0 {
		t.Fatal("expected requirements listed")
	}
}

func TestMethodNotAllowedOnLogin(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(http.MethodGet, "/v1/auth/login", nil, "")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
	if rr.Header().Get("Allow") != http.MethodPost {
		t.Fatalf("expected Allow header, got %q", rr.Header().Get("Allow"))
	}
}
