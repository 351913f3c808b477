package routes

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/tavernchat/users-api/internal/monitor"
)

// MonitorHandler exposes the request monitor plugin endpoints.
type MonitorHandler struct {
	monitor *monitor.RequestMonitor
	logger  *logrus.Logger
}

func NewMonitorHandler(m *monitor.RequestMonitor, logger *logrus.Logger) *MonitorHandler {
	return &MonitorHandler{
		monitor: m,
		logger:  logger,
	}
}

// Health reports the monitor plugin is alive and how much it has tracked.
func (h *MonitorHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"tracked":   h.monitor.TrackedRequests(),
		"endpoints": h.monitor.TrackedEndpoints(),
	})
}

// Stats returns the windowed traffic summary. The window query parameter is
// in minutes and defaults to 5.
func (h *MonitorHandler) Stats(c *fiber.Ctx) error {
	windowMinutes := 5
	if raw := c.Query("window"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "window must be a positive integer of minutes",
			})
		}
		windowMinutes = parsed
	}

	return c.JSON(h.monitor.Statistics(time.Duration(windowMinutes) * time.Minute))
}

// Detailed returns the all-time per-endpoint breakdown.
func (h *MonitorHandler) Detailed(c *fiber.Ctx) error {
	return c.JSON(h.monitor.Detailed())
}

// Recent returns the most recent requests, newest first. The limit query
// parameter defaults to 100.
func (h *MonitorHandler) Recent(c *fiber.Ctx) error {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "limit must be a positive integer",
			})
		}
		limit = parsed
	}

	return c.JSON(fiber.Map{
		"requests": h.monitor.Recent(limit),
		"tracked":  h.monitor.TrackedRequests(),
	})
}

// Users returns the tracked user activity snapshot.
func (h *MonitorHandler) Users(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"users": h.monitor.ActiveUsers(),
	})
}

// Clear drops all recorded requests and aggregates.
func (h *MonitorHandler) Clear(c *fiber.Ctx) error {
	h.monitor.Clear()
	h.logger.Info("Request monitor history cleared")
	return c.JSON(fiber.Map{"success": true})
}
