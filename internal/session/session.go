// Package session implements server-side sessions: an opaque token carried in
// a cookie maps to the authenticated handle and its last activity time.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/tavernchat/users-api/internal/store"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "session:"

	fieldHandle       = "handle"
	fieldLastActivity = "last_activity"
)

// Session is the state bound to an opaque token.
type Session struct {
	Token        string
	Handle       string
	LastActivity time.Time
}

// Store persists sessions in Redis hashes with a sliding TTL.
type Store struct {
	client redis.UniversalClient
	ttl    time.Duration
	now    func() time.Time
}

// NewStore constructs a session store. Sessions expire after ttl of
// inactivity; Touch restarts the clock.
func NewStore(client redis.UniversalClient, ttl time.Duration) *Store {
	return &Store{
		client: client,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Create binds a fresh opaque token to the handle and returns the token.
func (s *Store) Create(ctx context.Context, handle string) (string, error) {
	token := uuid.NewString()
	key := keyPrefix + token
	now := s.now()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		fieldHandle:       handle,
		fieldLastActivity: strconv.FormatInt(now.UnixMilli(), 10),
	})
	pipe.Expire(ctx, key, s.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("session create: %w", err)
	}

	return token, nil
}

// Get resolves a token to its session, or store.ErrNotFound when the token is
// unknown or expired.
func (s *Store) Get(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, store.ErrNotFound
	}

	values, err := s.client.HGetAll(ctx, keyPrefix+token).Result()
	if err != nil {
		return nil, fmt.Errorf("session get: %w", err)
	}
	if len(values) == 0 || values[fieldHandle] == "" {
		return nil, store.ErrNotFound
	}

	lastActivity := time.Time{}
	if raw := values[fieldLastActivity]; raw != "" {
		if ms, convErr := strconv.ParseInt(raw, 10, 64); convErr == nil {
			lastActivity = time.UnixMilli(ms)
		}
	}

	return &Session{
		Token:        token,
		Handle:       values[fieldHandle],
		LastActivity: lastActivity,
	}, nil
}

// Touch refreshes the session's last activity time and expiry.
func (s *Store) Touch(ctx context.Context, token string) error {
	key := keyPrefix + token
	now := s.now()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fieldLastActivity, strconv.FormatInt(now.UnixMilli(), 10))
	pipe.Expire(ctx, key, s.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session touch: %w", err)
	}

	return nil
}

// Clear removes the session. Clearing an unknown token is not an error, which
// keeps logout idempotent.
func (s *Store) Clear(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.client.Del(ctx, keyPrefix+token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("session clear: %w", err)
	}
	return nil
}

// WithClock overrides the internal clock, used in tests.
func (s *Store) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}
