package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tavernchat/users-api/internal/store"

	"github.com/redis/go-redis/v9"
)

// RecoveryCodeCache maps a user handle to a pending recovery code with a fixed
// TTL. Setting a new code overwrites any pending one; reads after expiry
// report absence.
type RecoveryCodeCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRecoveryCodeCache constructs a cache with the given per-entry TTL.
func NewRecoveryCodeCache(client redis.UniversalClient, ttl time.Duration) *RecoveryCodeCache {
	return &RecoveryCodeCache{
		client: client,
		ttl:    ttl,
	}
}

// Set stores the code for the handle, replacing any pending code and
// restarting the expiry clock.
func (c *RecoveryCodeCache) Set(ctx context.Context, handle, code string) error {
	if err := c.client.Set(ctx, c.key(handle), code, c.ttl).Err(); err != nil {
		return fmt.Errorf("recovery code set: %w", err)
	}
	return nil
}

// Get returns the pending code for the handle, or store.ErrNotFound when none
// was issued or it has expired.
func (c *RecoveryCodeCache) Get(ctx context.Context, handle string) (string, error) {
	code, err := c.client.Get(ctx, c.key(handle)).Result()
	if errors.Is(err, redis.Nil) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("recovery code get: %w", err)
	}
	return code, nil
}

// Remove invalidates the pending code after successful use.
func (c *RecoveryCodeCache) Remove(ctx context.Context, handle string) error {
	if err := c.client.Del(ctx, c.key(handle)).Err(); err != nil {
		return fmt.Errorf("recovery code remove: %w", err)
	}
	return nil
}

func (c *RecoveryCodeCache) key(handle string) string {
	return "mfa:" + handle
}
