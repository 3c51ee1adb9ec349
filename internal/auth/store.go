package auth

import (
	"context"
	"time"
)

// UserStore manages persistent user records. RecordLoginFailure must apply
// the counter increment and conditional lock in a single atomic storage
// operation: two racing failed logins for the same account must not
// under-count.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	FindByUsername(ctx context.Context, username string) (*User, error)
	RecordLoginFailure(ctx context.Context, username string, policy LockoutPolicy) (attempts int, lockedUntil *time.Time, err error)
	RecordLoginSuccess(ctx context.Context, username string) error
	UpdatePassword(ctx context.Context, username, hash string, history []string) error
	UpdateRole(ctx context.Context, username, role string) error
	SetCustomPermissions(ctx context.Context, username string, perms []string) error
	SetStatus(ctx context.Context, username, status string) error
}

// SessionStore manages refresh-session lifecycle.
type SessionStore interface {
	CreateSession(ctx context.Context, s *Session) error
	FindSession(ctx context.Context, id string) (*Session, error)
	RevokeSession(ctx context.Context, id string) error
	RevokeSessionsByUser(ctx context.Context, userID string) error
}

// AuditStore appends immutable entries and serves filtered reads.
type AuditStore interface {
	Append(ctx context.Context, entry *AuditEntry) error
	Query(ctx context.Context, filter AuditFilter) ([]AuditEntry, int, error)
}

// AuditSink receives best-effort audit events. Implementations must never
// fail the triggering request: errors stay inside the sink.
type AuditSink interface {
	Record(ctx context.Context, entry AuditEntry)
}
