package routes

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// transientPatterns are the key namespaces holding transient auth state.
var transientPatterns = []string{
	"ratelimit:*", // per-IP rate limit counters
	"mfa:*",       // pending recovery codes
	"session:*",   // bound sessions
}

// AdminHandler exposes operator maintenance endpoints over the transient
// Redis state. These routes are expected to sit behind a private listener or
// an ingress ACL, not on the public surface.
type AdminHandler struct {
	redisClient redis.UniversalClient
	logger      *logrus.Logger
}

func NewAdminHandler(redisClient redis.UniversalClient, logger *logrus.Logger) *AdminHandler {
	return &AdminHandler{
		redisClient: redisClient,
		logger:      logger,
	}
}

// FlushTransientState deletes transient auth keys. The optional patterns query
// parameter narrows the flush to a comma-separated subset of the defaults.
func (a *AdminHandler) FlushTransientState(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	patterns := transientPatterns
	if custom := c.Query("patterns"); custom != "" {
		requested := strings.Split(custom, ",")
		patterns = make([]string, 0, len(requested))
		for _, pattern := range requested {
			pattern = strings.TrimSpace(pattern)
			if a.isAllowedPattern(pattern) {
				patterns = append(patterns, pattern)
			} else {
				a.logger.WithField("pattern", pattern).Warn("Ignoring flush pattern outside transient namespaces")
			}
		}
	}

	totalDeleted := 0
	deletedByPattern := make(map[string]int)

	a.logger.Info("Starting transient state flush")

	for _, pattern := range patterns {
		deleted, err := a.deleteKeysByPattern(ctx, pattern)
		if err != nil {
			a.logger.WithError(err).WithField("pattern", pattern).Error("Failed to delete keys")
			continue
		}

		deletedByPattern[pattern] = deleted
		totalDeleted += deleted
	}

	a.logger.WithField("total_deleted", totalDeleted).Info("Transient state flush completed")

	return c.JSON(fiber.Map{
		"success":            true,
		"total_deleted_keys": totalDeleted,
		"deleted_by_pattern": deletedByPattern,
	})
}

// isAllowedPattern restricts custom patterns to the transient namespaces so a
// flush cannot reach beyond auth state.
func (a *AdminHandler) isAllowedPattern(pattern string) bool {
	for _, allowed := range transientPatterns {
		prefix := strings.TrimSuffix(allowed, "*")
		if strings.HasPrefix(pattern, prefix) {
			return true
		}
	}
	return false
}

// deleteKeysByPattern deletes all keys matching the pattern. SCAN keeps the
// iteration cursor-based so Redis is never blocked.
func (a *AdminHandler) deleteKeysByPattern(ctx context.Context, pattern string) (int, error) {
	deleted := 0

	iter := a.redisClient.Scan(ctx, 0, pattern, 100).Iterator()

	keys := []string{}
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())

		if len(keys) >= 100 {
			count, err := a.deleteBatch(ctx, keys)
			if err != nil {
				a.logger.WithError(err).WithField("pattern", pattern).Error("Failed to delete batch")
			}
			deleted += count
			keys = []string{}
		}
	}

	if len(keys) > 0 {
		count, err := a.deleteBatch(ctx, keys)
		if err != nil {
			a.logger.WithError(err).WithField("pattern", pattern).Error("Failed to delete remaining keys")
		}
		deleted += count
	}

	if err := iter.Err(); err != nil {
		return deleted, err
	}

	return deleted, nil
}

// deleteBatch deletes keys individually; pipelined DEL fails with CROSSSLOT
// when keys land in different hash slots on a cluster.
func (a *AdminHandler) deleteBatch(ctx context.Context, keys []string) (int, error) {
	deleted := 0

	for _, key := range keys {
		result, err := a.redisClient.Del(ctx, key).Result()
		if err != nil {
			a.logger.WithError(err).WithField("key", key).Warn("Failed to delete key")
			continue
		}
		deleted += int(result)
	}

	return deleted, nil
}

// GetStats reports Redis server info and key counts per transient namespace.
func (a *AdminHandler) GetStats(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	info, err := a.redisClient.Info(ctx, "stats", "clients", "memory").Result()
	if err != nil {
		a.logger.WithError(err).Error("Failed to get Redis stats")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get Redis statistics",
		})
	}

	keyCount := make(map[string]int64)
	for _, pattern := range transientPatterns {
		iter := a.redisClient.Scan(ctx, 0, pattern, 100).Iterator()
		count := int64(0)
		for iter.Next(ctx) {
			count++
		}
		keyCount[pattern] = count
	}

	return c.JSON(fiber.Map{
		"success":   true,
		"info":      info,
		"key_count": keyCount,
	})
}
