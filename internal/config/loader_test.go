package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWritesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.yaml")

	cfg, resolved, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if resolved != path {
		t.Fatalf("unexpected path: %s", resolved)
	}
	if cfg.ServerURL != Default().ServerURL {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
}

func TestLoadReadsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.yaml")
	content := "server_url: ws://example.test/ws\nmax_attempts: 9\nbackoff_base: 250ms\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, _, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerURL != "ws://example.test/ws" {
		t.Fatalf("server_url not applied: %+v", cfg)
	}
	if cfg.MaxAttempts != 9 {
		t.Fatalf("max_attempts not applied: %+v", cfg)
	}
	if cfg.BackoffBase != 250*time.Millisecond {
		t.Fatalf("backoff_base not applied: %+v", cfg)
	}
	// Untouched fields keep defaults.
	if cfg.TypingExpiry != Default().TypingExpiry {
		t.Fatalf("default lost: %+v", cfg)
	}
}
