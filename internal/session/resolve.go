package session

import (
	"fmt"

	"github.com/brunakemp/juschat/internal/config"
)

const DefaultSessionName = "main"

// Resolve determines the active session name using precedence:
// 1. flagOverride (--session flag)
// 2. config.toml default_session
// 3. "main"
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	cfg, err := config.Load(ConfigPath())
	if err == nil && cfg.DefaultSession != "" {
		return cfg.DefaultSession
	}
	return DefaultSessionName
}

// ValidateName rejects names that cannot safely become a directory and
// socket path component under the state dir: lowercase letters, digits,
// hyphen and underscore, at most 64 characters.
func ValidateName(name string) error {
	if name == "" || len(name) > 64 {
		return fmt.Errorf("session name %q: must be 1-64 characters of [a-z0-9_-]", name)
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return fmt.Errorf("session name %q: must be 1-64 characters of [a-z0-9_-]", name)
		}
	}
	return nil
}
