package redisstore

import (
	"context"
	"fmt"

	"github.com/tavernchat/users-api/internal/config"
	"github.com/tavernchat/users-api/internal/store"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// consumeScript atomically spends one point from the bucket. The first consume
// within a window starts the expiry clock; the counter and its TTL live and
// die together, which is what makes the budget a rolling window.
const consumeScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
    redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
    return 0
end
return 1`

// RateLimiter is a per-key point budget over a rolling window. Each
// authentication operation class (login, recovery, registration) gets its own
// instance with an independent key namespace.
type RateLimiter struct {
	client redis.UniversalClient
	name   string
	cfg    config.BucketConfig
	logger *logrus.Logger
}

// NewRateLimiter constructs a limiter namespaced by name.
func NewRateLimiter(client redis.UniversalClient, name string, cfg config.BucketConfig, logger *logrus.Logger) *RateLimiter {
	return &RateLimiter{
		client: client,
		name:   name,
		cfg:    cfg,
		logger: logger,
	}
}

// Name returns the limiter's namespace (login, recover, register).
func (r *RateLimiter) Name() string {
	return r.name
}

// Consume spends one point for the key. Returns store.ErrRateLimited when the
// budget is exhausted within the window.
func (r *RateLimiter) Consume(ctx context.Context, key string) error {
	result, err := r.client.Eval(ctx, consumeScript, []string{r.key(key)},
		r.cfg.Points, r.cfg.Window.Milliseconds()).Result()
	if err != nil {
		return fmt.Errorf("rate limit consume: %w", err)
	}

	allowed, ok := result.(int64)
	if !ok {
		return fmt.Errorf("rate limit consume: unexpected script result %T", result)
	}

	if allowed == 0 {
		r.logger.WithFields(logrus.Fields{
			"limiter": r.name,
			"key":     key,
		}).Warn("Rate limit exceeded")
		return store.ErrRateLimited
	}

	return nil
}

// Reset clears the bucket for the key. Called on successful terminal outcomes
// so a legitimate user starts the next window with a full budget.
func (r *RateLimiter) Reset(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("rate limit reset: %w", err)
	}
	return nil
}

func (r *RateLimiter) key(key string) string {
	return fmt.Sprintf("ratelimit:%s:%s", r.name, key)
}
