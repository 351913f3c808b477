package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// ClientIP extracts the client IP used as the rate-limit key. When
// preferRealIPHeader is set, X-Real-IP wins; otherwise the first hop of
// X-Forwarded-For is used, falling back to the remote address.
func ClientIP(c *fiber.Ctx, preferRealIPHeader bool) string {
	if preferRealIPHeader {
		if realIP := c.Get("X-Real-IP"); realIP != "" {
			return strings.TrimSpace(realIP)
		}
		return c.IP()
	}

	if xff := c.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	if realIP := c.Get("X-Real-IP"); realIP != "" {
		return strings.TrimSpace(realIP)
	}

	return c.IP()
}
