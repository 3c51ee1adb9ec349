package httpapi

import (
	"context"
	"net/http"
	"testing"

	"jodi.app/internal/auth"
)

func TestPublicPathsSkipAuth(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/healthz", "/readyz", "/v1/info", "/v1/auth/password-policy"} {
		rr := env.do(http.MethodGet, path, nil, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rr.Code)
		}
	}
}

func TestProtectedPathRequiresToken(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(http.MethodGet, "/v1/admin/audit-logs", nil, "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if rr.Header().Get("WWW-Authenticate") == "" {
		t.Fatal("expected WWW-Authenticate header")
	}
}

func TestInvalidTokenRejected(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(http.MethodGet, "/v1/admin/audit-logs", nil, "garbage.token.value")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestForbiddenWithoutPermission(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser("priya", "Val1d!pass", auth.RoleFreeUser)
	tokens := env.login("priya", "Val1d!pass")

	// Authenticated but lacking audit.read: 403, not 401.
	rr := env.do(http.MethodGet, "/v1/admin/audit-logs", nil, tokens.AccessToken)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestDisabledAccountGets403(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser("priya", "Val1d!pass", auth.RoleModerator)
	tokens := env.login("priya", "Val1d!pass")

	if err := env.users.SetStatus(context.Background(), "priya", auth.StatusBanned); err != nil {
		t.Fatalf("set status: %v", err)
	}
	rr := env.do(http.MethodGet, "/v1/admin/audit-logs", nil, tokens.AccessToken)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for banned account, got %d", rr.Code)
	}
}

func TestExtractBearerToken(t *testing.T) {
	if _, err := extractBearerToken(""); err == nil {
		t.Fatal("expected error for empty header")
	}
	if _, err := extractBearerToken("Basic abc"); err == nil {
		t.Fatal("expected error for wrong scheme")
	}
	token, err := extractBearerToken("Bearer  abc123 ")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if token != "abc123" {
		t.Fatalf("unexpected token %q", token)
	}
}
