package routes

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/tavernchat/users-api/internal/config"
	"github.com/tavernchat/users-api/internal/metrics"
	"github.com/tavernchat/users-api/internal/middleware"
	"github.com/tavernchat/users-api/internal/monitor"
	"github.com/tavernchat/users-api/internal/store/redisstore"
)

// Dependencies carries the constructed handlers and shared middleware into
// Setup. Tests assemble it around in-memory fakes.
type Dependencies struct {
	Users          *UsersHandler
	Monitor        *MonitorHandler
	Export         *ExportHandler
	Admin          *AdminHandler
	RequestMonitor *monitor.RequestMonitor
	Session        *middleware.SessionMiddleware
	Ready          func() error
}

// Setup configures all API routes.
func Setup(app *fiber.App, cfg *config.Config, logger *logrus.Logger, deps Dependencies) {
	// Health check endpoints (no auth required)
	app.Get("/healthz", healthCheck)
	app.Get("/readyz", readinessCheck(deps.Ready))
	app.Get("/version", versionHandler)

	// Metrics endpoint (no auth required)
	app.Get(cfg.Observability.MetricsPath, metrics.PrometheusHandler())

	api := app.Group("/api")
	api.Use(metrics.HTTPMetricsMiddleware())
	if deps.RequestMonitor != nil {
		api.Use(monitor.Middleware(deps.RequestMonitor))
	}
	api.Use(deps.Session.Handle())

	// Public user-management endpoints
	userRoutes := api.Group("/users")
	userRoutes.Post("/list", deps.Users.List)
	userRoutes.Post("/login", deps.Users.Login)
	userRoutes.Post("/logout", deps.Users.Logout)
	userRoutes.Post("/register", deps.Users.Register)
	userRoutes.Post("/recover-step1", deps.Users.RecoverStep1)
	userRoutes.Post("/recover-step2", deps.Users.RecoverStep2)
	userRoutes.Post("/heartbeat", deps.Users.Heartbeat)
	userRoutes.Get("/me", deps.Users.Me)

	// Plugin surfaces
	plugins := api.Group("/plugins")

	monitorRoutes := plugins.Group("/monitor")
	monitorRoutes.Get("/health", deps.Monitor.Health)
	monitorRoutes.Get("/stats", deps.Monitor.Stats)
	monitorRoutes.Get("/stats/detailed", deps.Monitor.Detailed)
	monitorRoutes.Get("/recent-requests", deps.Monitor.Recent)
	monitorRoutes.Get("/users", deps.Monitor.Users)
	monitorRoutes.Post("/clear", deps.Monitor.Clear)

	exportRoutes := plugins.Group("/export")
	exportRoutes.Get("/status", deps.Export.Status)
	exportRoutes.Get("/system", deps.Export.SystemStats)
	exportRoutes.Get("/system/csv", deps.Export.SystemStatsCSV)
	exportRoutes.Get("/directory", deps.Export.DirectoryStats)
	exportRoutes.Get("/app-info", deps.Export.AppInfo)
	exportRoutes.Post("/snapshot", deps.Export.UploadSnapshot)

	// Operator maintenance endpoints; keep off the public ingress
	if deps.Admin != nil {
		adminRoutes := api.Group("/admin")
		adminRoutes.Post("/flush-transient", deps.Admin.FlushTransientState)
		adminRoutes.Get("/stats", deps.Admin.GetStats)
	}

	// 404 handler
	app.Use(notFoundHandler)
}

// ReadyProbe combines the Redis probe with any storage probes into one
// readiness check.
func ReadyProbe(manager *middleware.Manager, probes ...func(context.Context) error) func() error {
	redisProbe := redisstore.HealthCheck(manager.RedisClient, manager.Logger)
	return func() error {
		if err := redisProbe(); err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		for _, probe := range probes {
			if err := probe(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// healthCheck returns the health status of the service
func healthCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"service":   "users-api",
	})
}

// readinessCheck checks if the service is ready to accept traffic
func readinessCheck(probe func() error) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if probe != nil {
			if err := probe(); err != nil {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
					"status":    "not ready",
					"reason":    "dependency unavailable",
					"error":     err.Error(),
					"timestamp": time.Now().UTC(),
				})
			}
		}

		return c.JSON(fiber.Map{
			"status":    "ready",
			"timestamp": time.Now().UTC(),
			"service":   "users-api",
		})
	}
}

// versionHandler returns version information
func versionHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service": "users-api",
		"version": getVersion(),
		"commit":  getCommit(),
		"built":   getBuildTime(),
	})
}

// notFoundHandler handles 404 errors
func notFoundHandler(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": fiber.Map{
			"code":     "NOT_FOUND",
			"message":  "The requested resource was not found",
			"path":     c.Path(),
			"trace_id": c.Get("X-Request-ID"),
		},
	})
}

// Set at build time via -ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func getVersion() string   { return version }
func getCommit() string    { return commit }
func getBuildTime() string { return buildTime }
