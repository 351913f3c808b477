package routes

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/tavernchat/users-api/internal/export"
)

// ExportHandler exposes the data export plugin endpoints.
type ExportHandler struct {
	exporter *export.Exporter
	logger   *logrus.Logger
}

func NewExportHandler(exporter *export.Exporter, logger *logrus.Logger) *ExportHandler {
	return &ExportHandler{
		exporter: exporter,
		logger:   logger,
	}
}

// Status lists the export surface and whether S3 archiving is available.
func (h *ExportHandler) Status(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "ok",
		"endpoints": []string{
			"/api/plugins/export/status",
			"/api/plugins/export/system",
			"/api/plugins/export/system/csv",
			"/api/plugins/export/directory",
			"/api/plugins/export/app-info",
			"/api/plugins/export/snapshot",
		},
		"uploadEnabled": h.exporter.UploadEnabled(),
	})
}

// SystemStats returns the process snapshot as JSON.
func (h *ExportHandler) SystemStats(c *fiber.Ctx) error {
	return c.JSON(h.exporter.SystemStats())
}

// SystemStatsCSV returns the process snapshot as a CSV download.
func (h *ExportHandler) SystemStatsCSV(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="system-stats.csv"`)
	return c.SendString(h.exporter.SystemStatsCSV())
}

// DirectoryStats returns the data-root usage summary.
func (h *ExportHandler) DirectoryStats(c *fiber.Ctx) error {
	return c.JSON(h.exporter.DirectoryStats())
}

// AppInfo returns the combined snapshot as a JSON download.
func (h *ExportHandler) AppInfo(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="app-info.json"`)
	return c.JSON(h.exporter.AppInfo())
}

// UploadSnapshot archives the combined snapshot to S3 when configured.
func (h *ExportHandler) UploadSnapshot(c *fiber.Ctx) error {
	if !h.exporter.UploadEnabled() {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "snapshot upload is not configured",
		})
	}

	key, err := h.exporter.UploadSnapshot(c.Context())
	if err != nil {
		h.logger.WithError(err).Error("Snapshot upload failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": fmt.Sprintf("snapshot upload failed: %v", err),
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"key":     key,
	})
}
