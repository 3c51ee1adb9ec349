// Package redisstore keeps refresh sessions in Redis so revocation is shared
// across instances without touching Postgres on every refresh.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"jodi.app/internal/auth"
)

const keyPrefix = "session:"

func sessionKey(id string) string { return keyPrefix + id }

func userKey(userID string) string { return "user_sessions:" + userID }

// Sessions implements auth.SessionStore over a Redis client. Entries expire
// with the refresh token so stale sessions clean themselves up.
type Sessions struct {
	client *redis.Client
	now    func() time.Time
}

var _ auth.SessionStore = (*Sessions)(nil)

// Open connects and pings before returning, so a bad address fails at boot
// rather than on the first login.
func Open(addr, password string, db int) (*Sessions, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Sessions{client: client, now: time.Now}, nil
}

// New wraps an existing client. Used by tests with miniredis-style setups.
func New(client *redis.Client) *Sessions {
	return &Sessions{client: client, now: time.Now}
}

func (s *Sessions) Close() error { return s.client.Close() }

func (s *Sessions) CreateSession(ctx context.Context, sess *auth.Session) error {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = s.now().UTC()
	}
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session %q already expired: %w", sess.ID, auth.ErrInvalidInput)
	}
	payload, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionKey(sess.ID), payload, ttl)
	pipe.SAdd(ctx, userKey(sess.UserID), sess.ID)
	// The index outlives individual sessions by a margin; orphaned members
	// are skipped on revoke-all.
	pipe.Expire(ctx, userKey(sess.UserID), ttl+time.Hour)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Sessions) FindSession(ctx context.Context, id string) (*auth.Session, error) {
	raw, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("session %q: %w", id, auth.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var sess auth.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session %q: %w", id, err)
	}
	return &sess, nil
}

func (s *Sessions) RevokeSession(ctx context.Context, id string) error {
	sess, err := s.FindSession(ctx, id)
	if err != nil {
		return err
	}
	if sess.Revoked {
		return nil
	}
	sess.Revoked = true
	ttl, err := s.client.TTL(ctx, sessionKey(id)).Result()
	if err != nil {
		return err
	}
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, sessionKey(id), payload, ttl).Err()
}

func (s *Sessions) RevokeSessionsByUser(ctx context.Context, userID string) error {
	ids, err := s.client.SMembers(ctx, userKey(userID)).Result()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := s.RevokeSession(ctx, id); err != nil {
			if isNotFound(err) {
				continue
			}
			return err
		}
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, auth.ErrNotFound)
}
