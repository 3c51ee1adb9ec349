package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"jodi.app/internal/auth"
)

var _ auth.SessionStore = (*Store)(nil)

func (s *Store) CreateSession(ctx context.Context, sess *auth.Session) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `
		insert into sessions (id, user_id, username, token_hash, expires_at)
		values ($1, $2, $3, $4, $5)
		returning created_at
	`, sess.ID, sess.UserID, sess.Username, sess.TokenHash, sess.ExpiresAt)
	if err := row.Scan(&sess.CreatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) FindSession(ctx context.Context, id string) (*auth.Session, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	var sess auth.Session
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, username, token_hash, expires_at, revoked, created_at
		from sessions
		where id = $1
	`, id).Scan(&sess.ID, &sess.UserID, &sess.Username, &sess.TokenHash,
		&sess.ExpiresAt, &sess.Revoked, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %q: %w", id, auth.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Store) RevokeSession(ctx context.Context, id string) error {
	return s.execOne(ctx, `
		update sessions set revoked = true where id = $1 and not revoked
	`, id)
}

func (s *Store) RevokeSessionsByUser(ctx context.Context, userID string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	// Revoking zero sessions is fine: the user may simply hold none.
	_, err := s.db.ExecContext(ctx, `
		update sessions set revoked = true where user_id = $1 and not revoked
	`, userID)
	return err
}
