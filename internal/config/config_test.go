package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseJSONFileOverridesDefaults(t *testing.T) {
	path := writeTempConfig(t, `{"peer_host":"10.0.0.2","peer_port":9000,"pipe_capacity":4096,"compress":true}`)

	cfg := Default()
	if err := ParseJSONFile(&cfg, path); err != nil {
		t.Fatalf("ParseJSONFile returned error: %v", err)
	}

	if cfg.PeerHost != "10.0.0.2" || cfg.PeerPort != 9000 {
		t.Fatalf("unexpected peer address: %+v", cfg)
	}
	if cfg.PipeCapacity != 4096 {
		t.Fatalf("expected pipe_capacity override, got %+v", cfg)
	}
	if !cfg.Compress {
		t.Fatalf("expected compress to be enabled")
	}
	if cfg.Transport != "tcp" {
		t.Fatalf("expected untouched field to keep its default, got %q", cfg.Transport)
	}
}

func TestParseJSONFileMissing(t *testing.T) {
	cfg := Default()
	missing := filepath.Join(t.TempDir(), "missing.json")
	if err := ParseJSONFile(&cfg, missing); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}
