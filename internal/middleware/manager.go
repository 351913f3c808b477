package middleware

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/tavernchat/users-api/internal/config"
	"github.com/tavernchat/users-api/internal/session"
	"github.com/tavernchat/users-api/internal/store/redisstore"
)

// Manager holds the shared Redis client, the session store built on it, and
// the middleware instances wired to both.
type Manager struct {
	Session     *SessionMiddleware
	Sessions    *session.Store
	RedisClient *redis.Client
	Config      *config.Config
	Logger      *logrus.Logger
}

// NewManager connects to Redis and wires the session store and middleware.
func NewManager(cfg *config.Config, logger *logrus.Logger) (*Manager, error) {
	redisClient, err := redisstore.NewClient(&cfg.Redis, &cfg.AWS, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis client: %w", err)
	}

	sessions := session.NewStore(redisClient, cfg.Auth.SessionTTL)
	sessionMiddleware := NewSessionMiddleware(&cfg.Auth, sessions, logger)

	return &Manager{
		Session:     sessionMiddleware,
		Sessions:    sessions,
		RedisClient: redisClient,
		Config:      cfg,
		Logger:      logger,
	}, nil
}

// Close closes the shared Redis client.
func (m *Manager) Close() error {
	if m.RedisClient != nil {
		return m.RedisClient.Close()
	}
	return nil
}
