package export

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tavernchat/users-api/internal/config"
)

func newTestExporter(t *testing.T) (*Exporter, string) {
	t.Helper()

	dataRoot := t.TempDir()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	e := NewExporter(&config.ExportConfig{S3Prefix: "exports"}, dataRoot, nil, logger)
	return e, dataRoot
}

func TestSystemStats(t *testing.T) {
	e, _ := newTestExporter(t)

	stats := e.SystemStats()
	assert.NotEmpty(t, stats.Timestamp)
	assert.Positive(t, stats.Goroutines)
	assert.NotEmpty(t, stats.GoVersion)
}

func TestSystemStatsCSV(t *testing.T) {
	e, _ := newTestExporter(t)

	csv := e.SystemStatsCSV()
	lines := strings.Split(strings.TrimSpace(csv), "\n")
	require.GreaterOrEqual(t, len(lines), 8)
	assert.Equal(t, "Field,Value", lines[0])
	assert.Contains(t, csv, "Goroutines,")
	assert.Contains(t, csv, "Go Version,")
}

func TestDirectoryStats(t *testing.T) {
	e, dataRoot := newTestExporter(t)

	require.NoError(t, os.MkdirAll(filepath.Join(dataRoot, "alice7", "chats"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dataRoot, "alice7", "chats", "log.jsonl"), make([]byte, 2048), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dataRoot, "alice7", "settings.json"), make([]byte, 1024), 0o644))

	stats := e.DirectoryStats()
	assert.Equal(t, dataRoot, stats.Path)
	assert.Equal(t, 2, stats.FileCount)
	assert.Equal(t, int64(3072), stats.TotalSize)
}

func TestDirectoryStats_EmptyRoot(t *testing.T) {
	e, _ := newTestExporter(t)

	stats := e.DirectoryStats()
	assert.Zero(t, stats.FileCount)
	assert.Zero(t, stats.TotalSize)
}

func TestAppInfo(t *testing.T) {
	e, dataRoot := newTestExporter(t)

	info := e.AppInfo()
	assert.Equal(t, dataRoot, info.DataRoot)
	assert.NotEmpty(t, info.ExportTime)
}

func TestUploadDisabledWithoutBucket(t *testing.T) {
	e, _ := newTestExporter(t)

	assert.False(t, e.UploadEnabled())
	_, err := e.UploadSnapshot(context.Background())
	assert.Error(t, err)
}
