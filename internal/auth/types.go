package auth

import "time"

// Account status values. Accounts are never hard-deleted; they transition
// between these states instead.
const (
	StatusActive    = "active"
	StatusInactive  = "inactive"
	StatusSuspended = "suspended"
	StatusBanned    = "banned"
)

// Audit action names recorded by the service.
const (
	ActionUserRegistered    = "user_registered"
	ActionLoginSuccess      = "login_success"
	ActionLoginFailed       = "login_failed"
	ActionAccountLocked     = "account_locked"
	ActionLogout            = "logout"
	ActionTokenRefreshed    = "token_refreshed"
	ActionPasswordChanged   = "password_changed"
	ActionRoleAssigned      = "role_assigned"
	ActionPermissionGranted = "permission_granted"
	ActionPermissionRevoked = "permission_revoked"
	ActionStatusChanged     = "user_status_changed"
)

// Audit entry status values.
const (
	AuditStatusSuccess = "success"
	AuditStatusFailure = "failure"
)

// User is an account on the platform. PasswordHistory keeps the most recent
// password hashes, newest last, capped at PasswordHistoryLimit.
type User struct {
	ID                  string     `json:"id"`
	Username            string     `json:"username"`
	PasswordHash        string     `json:"-"`
	RoleName            string     `json:"role_name"`
	CustomPermissions   []string   `json:"custom_permissions,omitempty"`
	Status              string     `json:"status"`
	FailedLoginAttempts int        `json:"-"`
	LastFailedLogin     *time.Time `json:"-"`
	LockedUntil         *time.Time `json:"-"`
	PasswordChangedAt   time.Time  `json:"-"`
	PasswordHistory     []string   `json:"-"`
	MustChangePassword  bool       `json:"must_change_password"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Session is a persisted refresh session. ID doubles as the refresh token's
// jti claim; TokenHash is the sha256 of the raw token so a database leak does
// not hand out usable credentials.
type Session struct {
	ID        string
	UserID    string
	Username  string
	TokenHash string
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
}

// AuditEntry is one append-only record of a security-relevant action.
type AuditEntry struct {
	ID             string            `json:"id"`
	Username       string            `json:"username"`
	Action         string            `json:"action"`
	TargetUsername string            `json:"target_username,omitempty"`
	Resource       string            `json:"resource,omitempty"`
	Status         string            `json:"status"`
	IPAddress      string            `json:"ip_address,omitempty"`
	UserAgent      string            `json:"user_agent,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	OccurredAt     time.Time         `json:"timestamp"`
}

// AuditFilter narrows an audit query. Zero-valued fields are ignored.
// Pagination is offset based: Page starts at 1.
type AuditFilter struct {
	Username       string
	Action         string
	TargetUsername string
	Start          *time.Time
	End            *time.Time
	Page           int
	Limit          int
}

// RequestMeta carries per-request context worth auditing.
type RequestMeta struct {
	IP        string
	UserAgent string
}
