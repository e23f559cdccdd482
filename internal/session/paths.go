package session

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.juschat.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".juschat")
}

// Dir returns the session-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "sessions", name)
}

// SocketPath returns the control socket path for a session.
func SocketPath(name string) string {
	return filepath.Join(Dir(name), "daemon.sock")
}

// LockPath returns the lock file path for a session.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// DBPath returns the juschat.db path for a session.
func DBPath(name string) string {
	return filepath.Join(Dir(name), "juschat.db")
}

// TokenPath returns the bearer-token file path for a session.
func TokenPath(name string) string {
	return filepath.Join(Dir(name), "token")
}

// AttachmentDir returns where staged attachment files are copied before
// upload.
func AttachmentDir(name string) string {
	return filepath.Join(Dir(name), "attachments")
}

// LogDir returns the log directory for a session.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "juschatd.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the session directory tree with owner-only permissions.
func EnsureDir(name string) error {
	dirs := []string{
		Dir(name),
		LogDir(name),
		AttachmentDir(name),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
