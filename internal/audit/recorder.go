// Package audit persists security events best-effort: an audit write must
// never fail the request that triggered it.
package audit

import (
	"context"
	"strings"
	"time"

	"jodi.app/internal/auth"
	"jodi.app/internal/ids"
	"jodi.app/internal/obs"
)

const (
	defaultAttempts = 2
	defaultTimeout  = 2 * time.Second

	defaultLimit = 50
	maxLimit     = 100
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context so recorded
// entries can be correlated with request logs.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Recorder appends entries to an AuditStore with bounded attempts. Failures
// are reported on the diagnostic log channel and then dropped.
type Recorder struct {
	store    auth.AuditStore
	attempts int
	timeout  time.Duration
	now      func() time.Time
}

var _ auth.AuditSink = (*Recorder)(nil)

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithAttempts bounds how often a failed append is retried.
func WithAttempts(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.attempts = n
		}
	}
}

// WithTimeout bounds each append attempt.
func WithTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithClock overrides the time source. Only intended for tests.
func WithClock(fn func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRecorder constructs a Recorder over the given store.
func NewRecorder(store auth.AuditStore, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:    store,
		attempts: defaultAttempts,
		timeout:  defaultTimeout,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record appends an entry. It never returns an error: after the bounded
// attempts are exhausted the entry is dropped with a diagnostic log line.
// The append runs on a detached context so a canceled request cannot abort
// the write mid-flight.
func (r *Recorder) Record(ctx context.Context, entry auth.AuditEntry) {
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = r.now().UTC()
	}
	if entry.Status == "" {
		entry.Status = auth.AuditStatusSuccess
	}

	var lastErr error
	for i := 0; i < r.attempts; i++ {
		attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		lastErr = r.store.Append(attemptCtx, &entry)
		cancel()
		if lastErr == nil {
			return
		}
	}

	obs.ObserveAuditDrop()
	diag := map[string]any{
		"ts":       r.now().UTC().Format(time.RFC3339Nano),
		"level":    "error",
		"msg":      "audit_append_failed",
		"action":   entry.Action,
		"username": entry.Username,
		"attempts": r.attempts,
		"error":    lastErr.Error(),
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		diag["request_id"] = rid
	}
	obs.LogEntry(diag)
}

// Query returns filtered entries ordered newest first, plus the unpaged
// total. Page and limit are normalized here so every store sees the same
// bounds.
func (r *Recorder) Query(ctx context.Context, filter auth.AuditFilter) ([]auth.AuditEntry, int, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	filter.Username = strings.TrimSpace(filter.Username)
	filter.Action = strings.TrimSpace(filter.Action)
	filter.TargetUsername = strings.TrimSpace(filter.TargetUsername)
	return r.store.Query(ctx, filter)
}
