package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"jodi.app/internal/auth"
)

var _ auth.UserStore = (*Store)(nil)

const userColumns = `id, username, password_hash, role_name, custom_permissions, status,
	failed_login_attempts, last_failed_login, locked_until,
	password_changed_at, password_history, must_change_password,
	created_at, updated_at`

func (s *Store) Create(ctx context.Context, u *auth.User) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	perms, err := encodeStrings(u.CustomPermissions)
	if err != nil {
		return err
	}
	history, err := encodeStrings(u.PasswordHistory)
	if err != nil {
		return err
	}
	row := s.db.QueryRowContext(ctx, `
		insert into users (id, username, password_hash, role_name, custom_permissions, status,
			password_changed_at, password_history, must_change_password)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		returning created_at, updated_at
	`, u.ID, u.Username, u.PasswordHash, u.RoleName, perms, u.Status,
		u.PasswordChangedAt, history, u.MustChangePassword)
	if err := row.Scan(&u.CreatedAt, &u.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return fmt.Errorf("user %q: %w", u.Username, auth.ErrConflict)
		}
		return err
	}
	return nil
}

func (s *Store) FindByUsername(ctx context.Context, username string) (*auth.User, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from users
		where username = $1
	`, username)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %q: %w", username, auth.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// RecordLoginFailure bumps the failure counter and locks the account once the
// threshold is reached, all in one statement so concurrent failures cannot
// under-count. A counter older than policy.ResetAfter restarts from one.
func (s *Store) RecordLoginFailure(ctx context.Context, username string, policy auth.LockoutPolicy) (int, *time.Time, error) {
	if s.db == nil {
		return 0, nil, errors.New("database connection unavailable")
	}
	var (
		attempts    int
		lockedUntil sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		update users set
			failed_login_attempts = case
				when last_failed_login is null or last_failed_login < now() - make_interval(secs => $2)
					then 1
				else failed_login_attempts + 1
			end,
			last_failed_login = now(),
			locked_until = case
				when (case
					when last_failed_login is null or last_failed_login < now() - make_interval(secs => $2)
						then 1
					else failed_login_attempts + 1
				end) >= $3 then now() + make_interval(secs => $4)
				else locked_until
			end,
			updated_at = now()
		where username = $1
		returning failed_login_attempts, locked_until
	`, username, policy.ResetAfter.Seconds(), policy.MaxAttempts, policy.Duration.Seconds()).
		Scan(&attempts, &lockedUntil)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, fmt.Errorf("user %q: %w", username, auth.ErrNotFound)
	}
	if err != nil {
		return 0, nil, err
	}
	if !lockedUntil.Valid {
		return attempts, nil, nil
	}
	t := lockedUntil.Time.UTC()
	return attempts, &t, nil
}

func (s *Store) RecordLoginSuccess(ctx context.Context, username string) error {
	return s.execOne(ctx, `
		update users set
			failed_login_attempts = 0,
			last_failed_login = null,
			locked_until = null,
			updated_at = now()
		where username = $1
	`, username)
}

func (s *Store) UpdatePassword(ctx context.Context, username, hash string, history []string) error {
	encoded, err := encodeStrings(history)
	if err != nil {
		return err
	}
	return s.execOne(ctx, `
		update users set
			password_hash = $2,
			password_history = $3,
			password_changed_at = now(),
			must_change_password = false,
			updated_at = now()
		where username = $1
	`, username, hash, encoded)
}

func (s *Store) UpdateRole(ctx context.Context, username, role string) error {
	return s.execOne(ctx, `
		update users set role_name = $2, updated_at = now()
		where username = $1
	`, username, role)
}

func (s *Store) SetCustomPermissions(ctx context.Context, username string, perms []string) error {
	encoded, err := encodeStrings(perms)
	if err != nil {
		return err
	}
	return s.execOne(ctx, `
		update users set custom_permissions = $2, updated_at = now()
		where username = $1
	`, username, encoded)
}

func (s *Store) SetStatus(ctx context.Context, username, status string) error {
	return s.execOne(ctx, `
		update users set status = $2, updated_at = now()
		where username = $1
	`, username, status)
}

func (s *Store) execOne(ctx context.Context, query string, args ...any) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*auth.User, error) {
	var (
		u          auth.User
		rawPerms   []byte
		rawHistory []byte
		lastFailed sql.NullTime
		lockedTil  sql.NullTime
	)
	if err := row.Scan(
		&u.ID, &u.Username, &u.PasswordHash, &u.RoleName, &rawPerms, &u.Status,
		&u.FailedLoginAttempts, &lastFailed, &lockedTil,
		&u.PasswordChangedAt, &rawHistory, &u.MustChangePassword,
		&u.CreatedAt, &u.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if lastFailed.Valid {
		t := lastFailed.Time.UTC()
		u.LastFailedLogin = &t
	}
	if lockedTil.Valid {
		t := lockedTil.Time.UTC()
		u.LockedUntil = &t
	}
	var err error
	if u.CustomPermissions, err = decodeStrings(rawPerms); err != nil {
		return nil, fmt.Errorf("decode custom_permissions: %w", err)
	}
	if u.PasswordHistory, err = decodeStrings(rawHistory); err != nil {
		return nil, fmt.Errorf("decode password_history: %w", err)
	}
	return &u, nil
}

func encodeStrings(values []string) ([]byte, error) {
	if len(values) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(values)
}

func decodeStrings(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, err
	}
	return values, nil
}
