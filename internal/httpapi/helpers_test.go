package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"jodi.app/internal/audit"
	"jodi.app/internal/auth"
	"jodi.app/internal/ids"
)

type memUserStore struct {
	mu    sync.Mutex
	users map[string]*auth.User
}

func (s *memUserStore) Create(_ context.Context, u *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.Username]; ok {
		return auth.ErrConflict
	}
	cp := *u
	s.users[u.Username] = &cp
	return nil
}

func (s *memUserStore) FindByUsername(_ context.Context, username string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return nil, fmt.Errorf("user %q: %w", username, auth.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

func (s *memUserStore) RecordLoginFailure(_ context.Context, username string, policy auth.LockoutPolicy) (int, *time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return 0, nil, auth.ErrNotFound
	}
	u.FailedLoginAttempts++
	now := time.Now().UTC()
	u.LastFailedLogin = &now
	if u.FailedLoginAttempts >= policy.MaxAttempts {
		until := now.Add(policy.Duration)
		u.LockedUntil = &until
	}
	return u.FailedLoginAttempts, u.LockedUntil, nil
}

func (s *memUserStore) RecordLoginSuccess(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[username]; ok {
		u.FailedLoginAttempts = 0
		u.LastFailedLogin = nil
		u.LockedUntil = nil
	}
	return nil
}

func (s *memUserStore) UpdatePassword(_ context.Context, username, hash string, history []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return auth.ErrNotFound
	}
	u.PasswordHash = hash
	u.PasswordHistory = history
	u.PasswordChangedAt = time.Now().UTC()
	return nil
}

func (s *memUserStore) UpdateRole(_ context.Context, username, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return auth.ErrNotFound
	}
	u.RoleName = role
	return nil
}

func (s *memUserStore) SetCustomPermissions(_ context.Context, username string, perms []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return auth.ErrNotFound
	}
	u.CustomPermissions = perms
	return nil
}

func (s *memUserStore) SetStatus(_ context.Context, username, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return auth.ErrNotFound
	}
	u.Status = status
	return nil
}

type memSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*auth.Session
}

func (s *memSessionStore) CreateSession(_ context.Context, sess *auth.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *memSessionStore) FindSession(_ context.Context, id string) (*auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *memSessionStore) RevokeSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.Revoked = true
		return nil
	}
	return auth.ErrNotFound
}

func (s *memSessionStore) RevokeSessionsByUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			sess.Revoked = true
		}
	}
	return nil
}

type memAuditStore struct {
	mu      sync.Mutex
	entries []auth.AuditEntry
}

func (s *memAuditStore) Append(_ context.Context, entry *auth.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *memAuditStore) Query(_ context.Context, filter auth.AuditFilter) ([]auth.AuditEntry, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []auth.AuditEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if filter.Username != "" && e.Username != filter.Username {
			continue
		}
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		matched = append(matched, e)
	}
	total := len(matched)
	offset := (filter.Page - 1) * filter.Limit
	if offset > total {
		offset = total
	}
	end := offset + filter.Limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

type testEnv struct {
	t     *testing.T
	api   *API
	users *memUserStore
	audit *memAuditStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	users := &memUserStore{users: make(map[string]*auth.User)}
	sessions := &memSessionStore{sessions: make(map[string]*auth.Session)}
	auditStore := &memAuditStore{}

	tokens, err := auth.NewTokenManager("httpapi-test-secret")
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}
	recorder := audit.NewRecorder(auditStore)
	svc, err := auth.NewService(users, sessions, tokens, auth.WithAuditSink(recorder))
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	api := New(svc, recorder, ReadyProbe{}, Limits{}, "test")
	return &testEnv{t: t, api: api, users: users, audit: auditStore}
}

// seedUser inserts a user directly, bypassing registration.
func (e *testEnv) seedUser(username, password, role string) {
	e.t.Helper()
	hash, err := auth.HashPassword(password)
	if err != nil {
		e.t.Fatalf("hash password: %v", err)
	}
	now := time.Now().UTC()
	err = e.users.Create(context.Background(), &auth.User{
		ID:                ids.New(),
		Username:          username,
		PasswordHash:      hash,
		RoleName:          role,
		Status:            auth.StatusActive,
		PasswordChangedAt: now,
		CreatedAt:         now,
		UpdatedAt:         now,
	})
	if err != nil {
		e.t.Fatalf("seed user %s: %v", username, err)
	}
}

func (e *testEnv) login(username, password string) tokenResponse {
	e.t.Helper()
	rr := e.do(http.MethodPost, "/v1/auth/login", map[string]any{
		"username": username,
		"password": password,
	}, "")
	if rr.Code != http.StatusOK {
		e.t.Fatalf("login %s: status %d body %s", username, rr.Code, rr.Body.String())
	}
	var resp tokenResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		e.t.Fatalf("decode login response: %v", err)
	}
	return resp
}

func (e *testEnv) do(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			e.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "192.0.2.10:52000"
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.api.Handler().ServeHTTP(rr, req)
	return rr
}
