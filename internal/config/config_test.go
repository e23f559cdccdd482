package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultSession = "coord"
	cfg.Server.BaseURL = "https://api.example.org/api"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultSession != "coord" {
		t.Errorf("DefaultSession = %q, want %q", loaded.DefaultSession, "coord")
	}
	if loaded.Server.BaseURL != "https://api.example.org/api" {
		t.Errorf("BaseURL = %q", loaded.Server.BaseURL)
	}
}

func TestLoadMissingUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DefaultSession != "main" {
		t.Errorf("DefaultSession = %q, want main", cfg.DefaultSession)
	}
	if cfg.MessagePollInterval() != 3*time.Second {
		t.Errorf("MessagePollInterval = %v, want 3s", cfg.MessagePollInterval())
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("JUSCHAT_SERVER_URL", "http://10.0.0.2:4000/api")
	t.Setenv("JUSCHAT_POLL_SEC", "7")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.BaseURL != "http://10.0.0.2:4000/api" {
		t.Errorf("BaseURL = %q, want env override", cfg.Server.BaseURL)
	}
	if cfg.MessagePollInterval() != 7*time.Second {
		t.Errorf("MessagePollInterval = %v, want 7s", cfg.MessagePollInterval())
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}

func TestIntervalFloors(t *testing.T) {
	cfg := &Config{}
	if cfg.RequestTimeout() != 10*time.Second {
		t.Errorf("RequestTimeout zero-value = %v, want 10s", cfg.RequestTimeout())
	}
	if cfg.DirectoryPollInterval() != 15*time.Second {
		t.Errorf("DirectoryPollInterval zero-value = %v, want 15s", cfg.DirectoryPollInterval())
	}
}
