package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"jodi.app/internal/ids"
)

// PolicyViolationError reports the full list of password policy violations
// so callers can surface them to the user.
type PolicyViolationError struct {
	Violations []string
}

func (e *PolicyViolationError) Error() string {
	return "auth: password policy violation: " + strings.Join(e.Violations, "; ")
}

func (e *PolicyViolationError) Unwrap() error { return ErrInvalidInput }

// Service provides authentication, authorization and account administration.
type Service struct {
	users    UserStore
	sessions SessionStore
	tokens   *TokenManager
	sink     AuditSink
	lockout  LockoutPolicy
	now      func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithAuditSink wires best-effort audit recording.
func WithAuditSink(sink AuditSink) ServiceOption {
	return func(s *Service) { s.sink = sink }
}

// WithLockoutPolicy overrides the default lockout thresholds.
func WithLockoutPolicy(policy LockoutPolicy) ServiceOption {
	return func(s *Service) {
		if policy.MaxAttempts > 0 && policy.Duration > 0 {
			s.lockout = policy
		}
	}
}

// WithClock overrides the time source. Only intended for tests.
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the auth service.
func NewService(users UserStore, sessions SessionStore, tokens *TokenManager, opts ...ServiceOption) (*Service, error) {
	if users == nil || sessions == nil || tokens == nil {
		return nil, fmt.Errorf("%w: user store, session store and token manager are required", ErrInvalidInput)
	}
	s := &Service{
		users:    users,
		sessions: sessions,
		tokens:   tokens,
		lockout:  DefaultLockoutPolicy(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// LockoutPolicy reports the active lockout thresholds.
func (s *Service) LockoutPolicy() LockoutPolicy { return s.lockout }

// Register creates an account with the default role after enforcing the
// password policy.
func (s *Service) Register(ctx context.Context, username, password string, meta RequestMeta) (*User, error) {
	username = normalizeUsername(username)
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if violations := ValidatePasswordPolicy(password); len(violations) > 0 {
		return nil, &PolicyViolationError{Violations: violations}
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	user := &User{
		ID:                ids.New(),
		Username:          username,
		PasswordHash:      hash,
		RoleName:          DefaultRole,
		Status:            StatusActive,
		PasswordChangedAt: now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user %s: %w", username, err)
	}
	s.record(ctx, AuditEntry{
		Username: username,
		Action:   ActionUserRegistered,
		Status:   AuditStatusSuccess,
		Metadata: map[string]string{"role": user.RoleName},
	}, meta)
	return user, nil
}

// Login authenticates credentials and issues a token pair. The lockout check
// runs before credential verification: a locked account rejects the attempt
// regardless of password correctness.
func (s *Service) Login(ctx context.Context, username, password string, meta RequestMeta) (TokenPair, *User, error) {
	username = normalizeUsername(username)
	if username == "" || password == "" {
		return TokenPair{}, nil, ErrInvalidCredentials
	}
	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if isNotFound(err) {
			s.recordFailure(ctx, username, "unknown user", meta)
			return TokenPair{}, nil, ErrInvalidCredentials
		}
		return TokenPair{}, nil, fmt.Errorf("find user %s: %w", username, err)
	}
	now := s.now().UTC()
	if Locked(user.LockedUntil, now) {
		s.recordFailure(ctx, username, "account locked", meta)
		return TokenPair{}, nil, ErrAccountLocked
	}
	if user.Status != StatusActive {
		s.recordFailure(ctx, username, "account "+user.Status, meta)
		return TokenPair{}, nil, ErrAccountDisabled
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		attempts, lockedUntil, ferr := s.users.RecordLoginFailure(ctx, username, s.lockout)
		entry := AuditEntry{
			Username: username,
			Action:   ActionLoginFailed,
			Status:   AuditStatusFailure,
			Metadata: map[string]string{"reason": "bad password"},
		}
		if ferr == nil {
			entry.Metadata["failed_attempts"] = strconv.Itoa(attempts)
		}
		s.record(ctx, entry, meta)
		if ferr == nil && Locked(lockedUntil, now) {
			s.record(ctx, AuditEntry{
				Username: username,
				Action:   ActionAccountLocked,
				Status:   AuditStatusSuccess,
				Metadata: map[string]string{"locked_until": lockedUntil.UTC().Format(time.RFC3339)},
			}, meta)
		}
		return TokenPair{}, nil, ErrInvalidCredentials
	}
	if err := s.users.RecordLoginSuccess(ctx, username); err != nil {
		return TokenPair{}, nil, fmt.Errorf("reset login counter for %s: %w", username, err)
	}
	if PasswordExpired(user.PasswordChangedAt, now) {
		user.MustChangePassword = true
	}
	pair, err := s.mintSession(ctx, user)
	if err != nil {
		return TokenPair{}, nil, err
	}
	s.record(ctx, AuditEntry{
		Username: username,
		Action:   ActionLoginSuccess,
		Status:   AuditStatusSuccess,
	}, meta)
	return pair, user, nil
}

// Refresh rotates a refresh token: the presented session is revoked and a
// fresh pair is issued. Expired, revoked and malformed tokens all fail with
// ErrInvalidToken.
func (s *Service) Refresh(ctx context.Context, refreshToken string, meta RequestMeta) (TokenPair, *User, error) {
	claims, err := s.tokens.Verify(refreshToken, TokenKindRefresh)
	if err != nil {
		return TokenPair{}, nil, ErrInvalidToken
	}
	rec, err := s.sessions.FindSession(ctx, claims.ID)
	if err != nil {
		if isNotFound(err) {
			return TokenPair{}, nil, ErrInvalidToken
		}
		return TokenPair{}, nil, fmt.Errorf("find session %s: %w", claims.ID, err)
	}
	now := s.now().UTC()
	if rec.Revoked || now.After(rec.ExpiresAt) {
		return TokenPair{}, nil, ErrInvalidToken
	}
	if !compareTokenHash(rec.TokenHash, refreshToken) {
		_ = s.sessions.RevokeSession(ctx, rec.ID)
		return TokenPair{}, nil, ErrInvalidToken
	}
	user, err := s.users.FindByUsername(ctx, claims.Subject)
	if err != nil {
		if isNotFound(err) {
			return TokenPair{}, nil, ErrInvalidToken
		}
		return TokenPair{}, nil, fmt.Errorf("find user %s: %w", claims.Subject, err)
	}
	if user.Status != StatusActive {
		return TokenPair{}, nil, ErrAccountDisabled
	}
	if err := s.sessions.RevokeSession(ctx, rec.ID); err != nil {
		return TokenPair{}, nil, fmt.Errorf("revoke session %s: %w", rec.ID, err)
	}
	pair, err := s.mintSession(ctx, user)
	if err != nil {
		return TokenPair{}, nil, err
	}
	s.record(ctx, AuditEntry{
		Username: user.Username,
		Action:   ActionTokenRefreshed,
		Status:   AuditStatusSuccess,
	}, meta)
	return pair, user, nil
}

// Logout revokes the presented refresh session.
func (s *Service) Logout(ctx context.Context, refreshToken string, meta RequestMeta) error {
	claims, err := s.tokens.Verify(refreshToken, TokenKindRefresh)
	if err != nil {
		return ErrInvalidToken
	}
	if err := s.sessions.RevokeSession(ctx, claims.ID); err != nil && !isNotFound(err) {
		return fmt.Errorf("revoke session %s: %w", claims.ID, err)
	}
	s.record(ctx, AuditEntry{
		Username: claims.Subject,
		Action:   ActionLogout,
		Status:   AuditStatusSuccess,
	}, meta)
	return nil
}

// ChangePassword verifies the current password, enforces policy and history,
// and revokes existing refresh sessions.
func (s *Service) ChangePassword(ctx context.Context, username, current, candidate string, meta RequestMeta) error {
	username = normalizeUsername(username)
	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if isNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("find user %s: %w", username, err)
	}
	if err := VerifyPassword(user.PasswordHash, current); err != nil {
		s.record(ctx, AuditEntry{
			Username: username,
			Action:   ActionPasswordChanged,
			Status:   AuditStatusFailure,
			Metadata: map[string]string{"reason": "current password mismatch"},
		}, meta)
		return ErrInvalidCredentials
	}
	if violations := ValidatePasswordPolicy(candidate); len(violations) > 0 {
		return &PolicyViolationError{Violations: violations}
	}
	if PasswordInHistory(candidate, append(user.PasswordHistory, user.PasswordHash)) {
		return &PolicyViolationError{Violations: []string{
			fmt.Sprintf("password was used within the last %d changes", PasswordHistoryLimit),
		}}
	}
	hash, err := HashPassword(candidate)
	if err != nil {
		return err
	}
	history := AppendPasswordHistory(user.PasswordHistory, user.PasswordHash)
	if err := s.users.UpdatePassword(ctx, username, hash, history); err != nil {
		return fmt.Errorf("update password for %s: %w", username, err)
	}
	if err := s.sessions.RevokeSessionsByUser(ctx, user.ID); err != nil && !isNotFound(err) {
		return fmt.Errorf("revoke sessions for %s: %w", username, err)
	}
	s.record(ctx, AuditEntry{
		Username: username,
		Action:   ActionPasswordChanged,
		Status:   AuditStatusSuccess,
		Metadata: map[string]string{"sessions_revoked": "true"},
	}, meta)
	return nil
}

// AssignRole switches a user's role. Admins cannot remove their own admin
// role. The audit entry is keyed by the target account.
func (s *Service) AssignRole(ctx context.Context, actor Principal, username, role, reason string, meta RequestMeta) (*User, error) {
	username = normalizeUsername(username)
	role = strings.TrimSpace(strings.ToLower(role))
	if !KnownRole(role) {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	if actor.Username == username && role != RoleAdmin {
		return nil, fmt.Errorf("%w: cannot remove your own admin role", ErrInvalidInput)
	}
	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find user %s: %w", username, err)
	}
	oldRole := user.RoleName
	if err := s.users.UpdateRole(ctx, username, role); err != nil {
		return nil, fmt.Errorf("update role for %s: %w", username, err)
	}
	user.RoleName = role
	s.record(ctx, AuditEntry{
		Username:       username,
		Action:         ActionRoleAssigned,
		TargetUsername: username,
		Status:         AuditStatusSuccess,
		Metadata: map[string]string{
			"assigned_by": actor.Username,
			"old_role":    oldRole,
			"new_role":    role,
			"reason":      reason,
		},
	}, meta)
	return user, nil
}

// GrantPermission adds a custom permission string to a user.
func (s *Service) GrantPermission(ctx context.Context, actor Principal, username, permission, reason string, meta RequestMeta) (*User, error) {
	username = normalizeUsername(username)
	permission = strings.TrimSpace(permission)
	if !ValidPermissionString(permission) {
		return nil, fmt.Errorf("%w: malformed permission %q", ErrInvalidInput, permission)
	}
	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find user %s: %w", username, err)
	}
	for _, p := range user.CustomPermissions {
		if p == permission {
			return nil, fmt.Errorf("%w: permission %q already granted", ErrConflict, permission)
		}
	}
	perms := append(append([]string(nil), user.CustomPermissions...), permission)
	if err := s.users.SetCustomPermissions(ctx, username, perms); err != nil {
		return nil, fmt.Errorf("grant permission for %s: %w", username, err)
	}
	user.CustomPermissions = perms
	s.record(ctx, AuditEntry{
		Username:       username,
		Action:         ActionPermissionGranted,
		TargetUsername: username,
		Status:         AuditStatusSuccess,
		Metadata: map[string]string{
			"granted_by": actor.Username,
			"permission": permission,
			"reason":     reason,
		},
	}, meta)
	return user, nil
}

// RevokePermission removes a previously granted custom permission.
func (s *Service) RevokePermission(ctx context.Context, actor Principal, username, permission, reason string, meta RequestMeta) (*User, error) {
	username = normalizeUsername(username)
	permission = strings.TrimSpace(permission)
	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find user %s: %w", username, err)
	}
	perms := make([]string, 0, len(user.CustomPermissions))
	found := false
	for _, p := range user.CustomPermissions {
		if p == permission {
			found = true
			continue
		}
		perms = append(perms, p)
	}
	if !found {
		return nil, fmt.Errorf("%w: permission %q not granted", ErrNotFound, permission)
	}
	if err := s.users.SetCustomPermissions(ctx, username, perms); err != nil {
		return nil, fmt.Errorf("revoke permission for %s: %w", username, err)
	}
	user.CustomPermissions = perms
	s.record(ctx, AuditEntry{
		Username:       username,
		Action:         ActionPermissionRevoked,
		TargetUsername: username,
		Status:         AuditStatusSuccess,
		Metadata: map[string]string{
			"revoked_by": actor.Username,
			"permission": permission,
			"reason":     reason,
		},
	}, meta)
	return user, nil
}

// SetStatus transitions an account between active, inactive, suspended and
// banned. Leaving the active state revokes all refresh sessions.
func (s *Service) SetStatus(ctx context.Context, actor Principal, username, status, reason string, meta RequestMeta) (*User, error) {
	username = normalizeUsername(username)
	status = strings.TrimSpace(strings.ToLower(status))
	switch status {
	case StatusActive, StatusInactive, StatusSuspended, StatusBanned:
	default:
		return nil, fmt.Errorf("%w: unsupported status %q", ErrInvalidInput, status)
	}
	if actor.Username == username && status != StatusActive {
		return nil, fmt.Errorf("%w: cannot change your own account status", ErrInvalidInput)
	}
	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find user %s: %w", username, err)
	}
	oldStatus := user.Status
	if err := s.users.SetStatus(ctx, username, status); err != nil {
		return nil, fmt.Errorf("set status for %s: %w", username, err)
	}
	user.Status = status
	if status != StatusActive {
		if err := s.sessions.RevokeSessionsByUser(ctx, user.ID); err != nil && !isNotFound(err) {
			return nil, fmt.Errorf("revoke sessions for %s: %w", username, err)
		}
	}
	s.record(ctx, AuditEntry{
		Username:       username,
		Action:         ActionStatusChanged,
		TargetUsername: username,
		Status:         AuditStatusSuccess,
		Metadata: map[string]string{
			"changed_by": actor.Username,
			"old_status": oldStatus,
			"new_status": status,
			"reason":     reason,
		},
	}, meta)
	return user, nil
}

// Authenticate verifies an access token and resolves the current principal.
// Role or permission changes take effect immediately because the user record
// is reloaded on every call.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (Principal, error) {
	claims, err := s.tokens.Verify(accessToken, TokenKindAccess)
	if err != nil {
		return Principal{}, err
	}
	user, err := s.users.FindByUsername(ctx, claims.Subject)
	if err != nil {
		if isNotFound(err) {
			return Principal{}, ErrInvalidToken
		}
		return Principal{}, fmt.Errorf("find user %s: %w", claims.Subject, err)
	}
	if user.Status != StatusActive {
		return Principal{}, ErrAccountDisabled
	}
	return NewPrincipal(user), nil
}

// AccessTTL exposes the access token lifetime for login responses.
func (s *Service) AccessTTL() time.Duration { return s.tokens.AccessTTL() }

// RequirePermission is the guard form of the permission check: it fails with
// ErrUnauthenticated when no principal is attached to the context and with
// ErrForbidden when the principal lacks the permission.
func RequirePermission(ctx context.Context, permission string) (Principal, error) {
	principal, ok := PrincipalFromContext(ctx)
	if !ok {
		return Principal{}, ErrUnauthenticated
	}
	if !principal.HasPermission(permission) {
		return Principal{}, ErrForbidden
	}
	return principal, nil
}

// ValidPermissionString accepts "resource.action", "resource.*" and the
// global wildcard forms.
func ValidPermissionString(p string) bool {
	if p == "*" || p == "*.*" {
		return true
	}
	resource, action, found := strings.Cut(p, ".")
	return found && resource != "" && action != "" && !strings.Contains(action, ".")
}

func (s *Service) mintSession(ctx context.Context, user *User) (TokenPair, error) {
	pair, refreshClaims, err := s.tokens.IssuePair(user.Username, user.RoleName)
	if err != nil {
		return TokenPair{}, err
	}
	session := &Session{
		ID:        refreshClaims.ID,
		UserID:    user.ID,
		Username:  user.Username,
		TokenHash: hashToken(pair.RefreshToken),
		ExpiresAt: pair.RefreshExpiresAt,
		CreatedAt: s.now().UTC(),
	}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return TokenPair{}, fmt.Errorf("create session for %s: %w", user.Username, err)
	}
	return pair, nil
}

func (s *Service) recordFailure(ctx context.Context, username, reason string, meta RequestMeta) {
	s.record(ctx, AuditEntry{
		Username: username,
		Action:   ActionLoginFailed,
		Status:   AuditStatusFailure,
		Metadata: map[string]string{"reason": reason},
	}, meta)
}

func (s *Service) record(ctx context.Context, entry AuditEntry, meta RequestMeta) {
	if s.sink == nil {
		return
	}
	entry.IPAddress = meta.IP
	entry.UserAgent = meta.UserAgent
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = s.now().UTC()
	}
	s.sink.Record(ctx, entry)
}

func normalizeUsername(username string) string {
	return strings.TrimSpace(strings.ToLower(username))
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func compareTokenHash(expectedHash, raw string) bool {
	actual := hashToken(raw)
	if len(actual) != len(expectedHash) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}
