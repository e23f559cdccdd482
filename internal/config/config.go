package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config represents the global ~/.juschat/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`
	Server         Server `toml:"server"`
	Upload         Upload `toml:"upload"`
	Sync           Sync   `toml:"sync"`
}

// Server configures the case-management backend endpoint.
type Server struct {
	BaseURL           string `toml:"base_url"`
	RequestTimeoutSec int    `toml:"request_timeout_sec"`
}

// Upload configures the object-storage collaborator used for attachments.
type Upload struct {
	Endpoint string `toml:"endpoint"`
	Preset   string `toml:"preset"`
}

// Sync configures the polling loops.
type Sync struct {
	MessagePollSec   int `toml:"message_poll_sec"`
	DirectoryPollSec int `toml:"directory_poll_sec"`
	DegradedAfter    int `toml:"degraded_after"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DefaultSession: "main",
		Server: Server{
			BaseURL:           "http://localhost:4000/api",
			RequestTimeoutSec: 10,
		},
		Sync: Sync{
			MessagePollSec:   3,
			DirectoryPollSec: 15,
			DegradedAfter:    3,
		},
	}
}

// Load reads config from path, falling back to defaults for unset fields
// and applying JUSCHAT_* environment overrides last. A missing file is not
// an error; a malformed one is.
func Load(path string) (*Config, error) {
	// Development convenience, same as the backend tooling.
	_ = godotenv.Load()

	cfg := Default()
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if v := os.Getenv("JUSCHAT_SERVER_URL"); v != "" {
		cfg.Server.BaseURL = v
	}
	if v := os.Getenv("JUSCHAT_UPLOAD_ENDPOINT"); v != "" {
		cfg.Upload.Endpoint = v
	}
	if v := os.Getenv("JUSCHAT_UPLOAD_PRESET"); v != "" {
		cfg.Upload.Preset = v
	}
	if v := os.Getenv("JUSCHAT_SESSION"); v != "" {
		cfg.DefaultSession = v
	}
	if v := os.Getenv("JUSCHAT_POLL_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Sync.MessagePollSec = n
		}
	}

	return cfg, nil
}

// Save writes cfg to path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// RequestTimeout returns the backend request timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	if c.Server.RequestTimeoutSec <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Server.RequestTimeoutSec) * time.Second
}

// MessagePollInterval returns the open-conversation poll interval.
func (c *Config) MessagePollInterval() time.Duration {
	if c.Sync.MessagePollSec <= 0 {
		return 3 * time.Second
	}
	return time.Duration(c.Sync.MessagePollSec) * time.Second
}

// DirectoryPollInterval returns the conversation-list refresh interval.
func (c *Config) DirectoryPollInterval() time.Duration {
	if c.Sync.DirectoryPollSec <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.Sync.DirectoryPollSec) * time.Second
}
