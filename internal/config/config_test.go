package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tjfontaine/polyglot-agent-gateway/internal/domain"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Session.TTL() != time.Hour {
		t.Errorf("ttl = %s", cfg.Session.TTL())
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("backend = %q", cfg.Storage.Backend)
	}
	if cfg.Engine.Command != "agent" || cfg.Engine.MaxTurns != 25 {
		t.Errorf("engine = %+v", cfg.Engine)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9090
session:
  ttl_seconds: 120
storage:
  backend: sqlite
  path: /tmp/gw.db
auth:
  keys:
    - hash: abc123
      tier: full
    - hash: def456
      tier: builtin
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9090 || cfg.Session.TTLSeconds != 120 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Storage.Backend != "sqlite" || cfg.Storage.Path != "/tmp/gw.db" {
		t.Errorf("storage = %+v", cfg.Storage)
	}

	tiers, err := cfg.Auth.TierMap()
	if err != nil {
		t.Fatalf("TierMap() error = %v", err)
	}
	if tiers["abc123"] != domain.TierFull || tiers["def456"] != domain.TierBuiltin {
		t.Errorf("tiers = %+v", tiers)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("AGW_SERVER__PORT", "7070")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d, want env override 7070", cfg.Server.Port)
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad port", "server:\n  port: -1\n"},
		{"unknown backend", "storage:\n  backend: magnetic-tape\n"},
		{"sqlite without path", "storage:\n  backend: sqlite\n"},
		{"bad tier", "auth:\n  keys:\n    - hash: abc\n      tier: super\n"},
		{"zero ttl", "session:\n  ttl_seconds: 0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("Load() accepted invalid config")
			}
		})
	}
}
