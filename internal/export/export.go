// Package export produces downloadable snapshots of system and data-root
// statistics, optionally archiving them to S3.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"github.com/tavernchat/users-api/internal/config"
)

// SystemStats is a point-in-time process snapshot.
type SystemStats struct {
	Timestamp     string  `json:"timestamp"`
	UptimeSeconds float64 `json:"uptime"`
	Goroutines    int     `json:"goroutines"`
	HeapAlloc     uint64  `json:"heapAlloc"`
	HeapSys       uint64  `json:"heapSys"`
	NumGC         uint32  `json:"numGC"`
	Platform      string  `json:"platform"`
	GoVersion     string  `json:"goVersion"`
}

// DirectoryStats summarizes a recursive walk of the data root.
type DirectoryStats struct {
	Path      string  `json:"path"`
	TotalSize int64   `json:"totalSize"`
	FileCount int     `json:"fileCount"`
	SizeInMB  float64 `json:"sizeInMB"`
}

// AppInfo combines both snapshots for the app-info export.
type AppInfo struct {
	ExportTime     string         `json:"exportTime"`
	DataRoot       string         `json:"dataRoot"`
	SystemStats    SystemStats    `json:"systemStats"`
	DirectoryStats DirectoryStats `json:"directoryStats"`
}

// Exporter builds export payloads. When an S3 bucket is configured, snapshots
// can additionally be archived there.
type Exporter struct {
	dataRoot string
	bucket   string
	prefix   string
	s3Client *s3.Client
	logger   *logrus.Logger
	started  time.Time
	now      func() time.Time
}

// NewExporter creates an exporter for the given data root. s3Client may be nil
// when uploads are disabled.
func NewExporter(cfg *config.ExportConfig, dataRoot string, s3Client *s3.Client, logger *logrus.Logger) *Exporter {
	return &Exporter{
		dataRoot: dataRoot,
		bucket:   cfg.S3Bucket,
		prefix:   cfg.S3Prefix,
		s3Client: s3Client,
		logger:   logger,
		started:  time.Now(),
		now:      time.Now,
	}
}

// SystemStats returns the current process snapshot.
func (e *Exporter) SystemStats() SystemStats {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	now := e.now()
	return SystemStats{
		Timestamp:     now.UTC().Format(time.RFC3339),
		UptimeSeconds: now.Sub(e.started).Seconds(),
		Goroutines:    runtime.NumGoroutine(),
		HeapAlloc:     mem.HeapAlloc,
		HeapSys:       mem.HeapSys,
		NumGC:         mem.NumGC,
		Platform:      runtime.GOOS,
		GoVersion:     runtime.Version(),
	}
}

// SystemStatsCSV renders the system snapshot as a two-column CSV document.
func (e *Exporter) SystemStatsCSV() string {
	stats := e.SystemStats()

	var b strings.Builder
	b.WriteString("Field,Value\n")
	fmt.Fprintf(&b, "Timestamp,%q\n", stats.Timestamp)
	fmt.Fprintf(&b, "Uptime (seconds),%.2f\n", stats.UptimeSeconds)
	fmt.Fprintf(&b, "Goroutines,%d\n", stats.Goroutines)
	fmt.Fprintf(&b, "Heap Alloc (MB),%.2f\n", float64(stats.HeapAlloc)/1024/1024)
	fmt.Fprintf(&b, "Heap Sys (MB),%.2f\n", float64(stats.HeapSys)/1024/1024)
	fmt.Fprintf(&b, "GC Cycles,%d\n", stats.NumGC)
	fmt.Fprintf(&b, "Platform,%q\n", stats.Platform)
	fmt.Fprintf(&b, "Go Version,%q\n", stats.GoVersion)
	return b.String()
}

// DirectoryStats walks the data root and totals file count and size.
// Unreadable entries are logged and skipped rather than failing the export.
func (e *Exporter) DirectoryStats() DirectoryStats {
	stats := DirectoryStats{Path: e.dataRoot}

	err := filepath.WalkDir(e.dataRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			e.logger.WithError(err).WithField("path", path).Warn("Skipping unreadable entry during export walk")
			return nil
		}
		if d.IsDir() {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			e.logger.WithError(infoErr).WithField("path", path).Warn("Skipping unstattable file during export walk")
			return nil
		}

		stats.FileCount++
		stats.TotalSize += info.Size()
		return nil
	})
	if err != nil {
		e.logger.WithError(err).WithField("path", e.dataRoot).Warn("Data root walk failed")
	}

	stats.SizeInMB = float64(stats.TotalSize) / 1024 / 1024
	return stats
}

// AppInfo combines the system and directory snapshots.
func (e *Exporter) AppInfo() AppInfo {
	return AppInfo{
		ExportTime:     e.now().UTC().Format(time.RFC3339),
		DataRoot:       e.dataRoot,
		SystemStats:    e.SystemStats(),
		DirectoryStats: e.DirectoryStats(),
	}
}

// UploadEnabled reports whether snapshot archiving to S3 is configured.
func (e *Exporter) UploadEnabled() bool {
	return e.s3Client != nil && e.bucket != ""
}

// UploadSnapshot archives the current app-info snapshot to S3 and returns the
// object key.
func (e *Exporter) UploadSnapshot(ctx context.Context) (string, error) {
	if !e.UploadEnabled() {
		return "", fmt.Errorf("snapshot upload is not configured")
	}

	payload, err := json.MarshalIndent(e.AppInfo(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}

	key := fmt.Sprintf("%s/app-info-%s.json", strings.TrimSuffix(e.prefix, "/"), e.now().UTC().Format("20060102T150405Z"))

	_, err = e.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("upload snapshot: %w", err)
	}

	e.logger.WithFields(logrus.Fields{
		"bucket": e.bucket,
		"key":    key,
	}).Info("Export snapshot uploaded")

	return key, nil
}

// WithClock overrides the internal clock, used in tests.
func (e *Exporter) WithClock(clock func() time.Time) {
	if clock != nil {
		e.now = clock
	}
}
