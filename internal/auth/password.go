package auth

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// Password policy constants.
const (
	PasswordMinLength    = 8
	PasswordMaxLength    = 128
	PasswordSpecialChars = "!@#$%^&*()_+-=[]{}|;:,.<>?"

	// PasswordHistoryLimit is how many previous hashes a reused password is
	// checked against.
	PasswordHistoryLimit = 5

	// PasswordExpiry forces a change after this interval.
	PasswordExpiry = 90 * 24 * time.Hour
)

// HashPassword hashes a plaintext password with bcrypt. The salt is embedded
// in the resulting hash.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("%w: password is empty", ErrInvalidInput)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword compares a plaintext password with a stored hash. bcrypt's
// comparison is constant-time with respect to the hash.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return fmt.Errorf("%w: password hash is empty", ErrInvalidInput)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// ValidatePasswordPolicy returns the list of policy violations for a
// candidate password. An empty slice means the password is acceptable.
func ValidatePasswordPolicy(password string) []string {
	var violations []string
	if len(password) < PasswordMinLength {
		violations = append(violations, fmt.Sprintf("password must be at least %d characters", PasswordMinLength))
	}
	if len(password) > PasswordMaxLength {
		violations = append(violations, fmt.Sprintf("password must not exceed %d characters", PasswordMaxLength))
	}
	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case strings.ContainsRune(PasswordSpecialChars, r):
			hasSpecial = true
		}
	}
	if !hasUpper {
		violations = append(violations, "password must contain at least one uppercase letter")
	}
	if !hasLower {
		violations = append(violations, "password must contain at least one lowercase letter")
	}
	if !hasDigit {
		violations = append(violations, "password must contain at least one number")
	}
	if !hasSpecial {
		violations = append(violations, fmt.Sprintf("password must contain at least one special character (%s)", PasswordSpecialChars))
	}
	return violations
}

// PasswordPolicyRequirements lists the policy in user-facing form.
func PasswordPolicyRequirements() []string {
	return []string{
		fmt.Sprintf("At least %d characters", PasswordMinLength),
		"At least one uppercase letter (A-Z)",
		"At least one lowercase letter (a-z)",
		"At least one number (0-9)",
		fmt.Sprintf("At least one special character (%s)", PasswordSpecialChars),
	}
}

// PasswordInHistory reports whether password matches any of the stored
// previous hashes.
func PasswordInHistory(password string, history []string) bool {
	start := 0
	if len(history) > PasswordHistoryLimit {
		start = len(history) - PasswordHistoryLimit
	}
	for _, hash := range history[start:] {
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil {
			return true
		}
	}
	return false
}

// AppendPasswordHistory pushes a new hash, trimming to the history limit.
func AppendPasswordHistory(history []string, hash string) []string {
	history = append(history, hash)
	if len(history) > PasswordHistoryLimit {
		history = history[len(history)-PasswordHistoryLimit:]
	}
	return history
}

// PasswordExpired reports whether the password changed at changedAt has
// outlived the expiry interval.
func PasswordExpired(changedAt, now time.Time) bool {
	if changedAt.IsZero() {
		return false
	}
	return now.Sub(changedAt) >= PasswordExpiry
}
