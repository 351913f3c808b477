// Package content manages per-user data directories and default content
// seeding performed at registration time.
package content

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/tavernchat/users-api/internal/config"
)

// DefaultAvatar is served when a user has not uploaded an avatar.
const DefaultAvatar = "img/default-avatar.png"

// userDirectories are created under the data root for every new account.
var userDirectories = []string{
	"settings",
	"characters",
	"chats",
	"themes",
	"avatars",
	"backups",
}

// Manager provisions user storage under the data root and seeds default
// content from the source directory.
type Manager struct {
	dataRoot  string
	sourceDir string
	logger    *logrus.Logger
}

// NewManager creates a content manager for the configured data root.
func NewManager(cfg *config.ContentConfig, logger *logrus.Logger) *Manager {
	return &Manager{
		dataRoot:  cfg.DataRoot,
		sourceDir: cfg.SourceDir,
		logger:    logger,
	}
}

// DataRoot returns the root directory holding all user data.
func (m *Manager) DataRoot() string {
	return m.dataRoot
}

// Provision creates the user's directory tree and seeds default settings.
// Safe to call again for an existing user: directories are created
// idempotently and seeding never overwrites existing files.
func (m *Manager) Provision(handle string) error {
	userRoot := filepath.Join(m.dataRoot, handle)

	for _, dir := range userDirectories {
		if err := os.MkdirAll(filepath.Join(userRoot, dir), 0o755); err != nil {
			return fmt.Errorf("create user directory %s: %w", dir, err)
		}
	}

	if err := m.seedDefaults(handle); err != nil {
		return fmt.Errorf("seed default content: %w", err)
	}

	m.logger.WithField("handle", handle).Info("User data directories provisioned")
	return nil
}

// seedDefaults copies default settings files into the user's settings
// directory, skipping files the user already has.
func (m *Manager) seedDefaults(handle string) error {
	entries, err := os.ReadDir(m.sourceDir)
	if os.IsNotExist(err) {
		m.logger.WithField("source", m.sourceDir).Debug("No default content source, skipping seed")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read content source: %w", err)
	}

	targetDir := filepath.Join(m.dataRoot, handle, "settings")
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		target := filepath.Join(targetDir, entry.Name())
		if _, err := os.Stat(target); err == nil {
			continue
		}

		if err := copyFile(filepath.Join(m.sourceDir, entry.Name()), target); err != nil {
			return fmt.Errorf("copy %s: %w", entry.Name(), err)
		}

		m.logger.WithFields(logrus.Fields{
			"handle": handle,
			"file":   entry.Name(),
		}).Debug("Seeded default content")
	}

	return nil
}

// AvatarFor returns the avatar path relative to the data root, matching the
// on-disk layout so a static server rooted there resolves it directly.
// Falls back to the default when the user has none.
func (m *Manager) AvatarFor(handle string) string {
	avatarDir := filepath.Join(m.dataRoot, handle, "avatars")
	entries, err := os.ReadDir(avatarDir)
	if err != nil {
		return DefaultAvatar
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			return filepath.ToSlash(filepath.Join(handle, "avatars", entry.Name()))
		}
	}

	return DefaultAvatar
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
