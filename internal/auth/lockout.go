package auth

import "time"

// LockoutPolicy bounds repeated failed logins. The mutable counter itself
// lives in the user record and must be updated atomically by the store; this
// type only carries the thresholds.
type LockoutPolicy struct {
	// MaxAttempts failures in a row lock the account.
	MaxAttempts int
	// Duration is the lockout window once the threshold is reached.
	Duration time.Duration
	// ResetAfter discards a stale counter: a failure this long after the
	// previous one restarts counting at 1.
	ResetAfter time.Duration
}

// DefaultLockoutPolicy mirrors the platform's security configuration.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{
		MaxAttempts: 5,
		Duration:    30 * time.Minute,
		ResetAfter:  60 * time.Minute,
	}
}

// Locked reports whether a lockout window is still active at now.
func Locked(lockedUntil *time.Time, now time.Time) bool {
	return lockedUntil != nil && now.Before(*lockedUntil)
}
