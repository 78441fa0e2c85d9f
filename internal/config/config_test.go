package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
bus:
  kind: redis
  redis_addr: localhost:6379
store:
  driver: sqlite
  sqlite_path: /tmp/quiz.db
health:
  probe_delay: 250ms
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Bus.Kind != "redis" || cfg.Bus.RedisAddr != "localhost:6379" {
		t.Fatalf("bus section not applied: %+v", cfg.Bus)
	}
	if cfg.Bus.GlobalTopic != "global" {
		t.Fatalf("expected default global topic, got %q", cfg.Bus.GlobalTopic)
	}
	if cfg.Store.Driver != "sqlite" || cfg.Resume.Driver != "memory" {
		t.Fatalf("unexpected store config: %+v / %+v", cfg.Store, cfg.Resume)
	}
	if got := TTLDuration(cfg.Health.ProbeDelay, time.Second); got != 250*time.Millisecond {
		t.Fatalf("expected 250ms probe delay, got %v", got)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Driver != "memory" || !cfg.Features.Interactive {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestTTLDurationFallback(t *testing.T) {
	if got := TTLDuration("", time.Minute); got != time.Minute {
		t.Fatalf("empty: got %v", got)
	}
	if got := TTLDuration("soon", time.Minute); got != time.Minute {
		t.Fatalf("invalid: got %v", got)
	}
}
