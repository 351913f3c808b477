package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/tavernchat/users-api/internal/config"
	"github.com/tavernchat/users-api/internal/session"
	"github.com/tavernchat/users-api/internal/store"
)

const (
	localsSessionToken  = "session_token"
	localsSessionHandle = "session_handle"
)

// SessionResolver resolves an opaque session token. Satisfied by
// *session.Store.
type SessionResolver interface {
	Get(ctx context.Context, token string) (*session.Session, error)
}

// SessionMiddleware resolves the session cookie into request locals. It never
// rejects a request: anonymous callers simply carry no bound handle, and each
// handler decides whether authentication is required.
type SessionMiddleware struct {
	cfg      *config.AuthConfig
	sessions SessionResolver
	logger   *logrus.Logger
}

// NewSessionMiddleware creates the session-resolution middleware.
func NewSessionMiddleware(cfg *config.AuthConfig, sessions SessionResolver, logger *logrus.Logger) *SessionMiddleware {
	return &SessionMiddleware{
		cfg:      cfg,
		sessions: sessions,
		logger:   logger,
	}
}

// Handle resolves the cookie, if any, into the bound handle.
func (s *SessionMiddleware) Handle() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Cookies(s.cfg.SessionCookie)
		if token == "" {
			return c.Next()
		}

		sess, err := s.sessions.Get(c.Context(), token)
		if errors.Is(err, store.ErrNotFound) {
			// stale cookie, treat as anonymous
			return c.Next()
		}
		if err != nil {
			s.logger.WithError(err).Error("Session lookup failed")
			return c.Next()
		}

		c.Locals(localsSessionToken, token)
		c.Locals(localsSessionHandle, sess.Handle)

		return c.Next()
	}
}

// SetSessionCookie attaches a session cookie to the response.
func SetSessionCookie(c *fiber.Ctx, cfg *config.AuthConfig, token string) {
	c.Cookie(&fiber.Cookie{
		Name:     cfg.SessionCookie,
		Value:    token,
		Expires:  time.Now().Add(cfg.SessionTTL),
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
		Path:     "/",
	})
}

// ClearSessionCookie expires the session cookie.
func ClearSessionCookie(c *fiber.Ctx, cfg *config.AuthConfig) {
	c.Cookie(&fiber.Cookie{
		Name:     cfg.SessionCookie,
		Value:    "",
		Expires:  time.Now().Add(-time.Hour),
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
		Path:     "/",
	})
}

// BoundHandle returns the handle bound to the request's session, or "".
func BoundHandle(c *fiber.Ctx) string {
	if handle, ok := c.Locals(localsSessionHandle).(string); ok {
		return handle
	}
	return ""
}

// SessionToken returns the resolved session token, or "".
func SessionToken(c *fiber.Ctx) string {
	if token, ok := c.Locals(localsSessionToken).(string); ok {
		return token
	}
	return ""
}
