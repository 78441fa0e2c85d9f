package cli

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"quiz-sync/internal/app"
	"quiz-sync/internal/config"
)

func redisConfig(addr, password string) config.Config {
	cfg := config.Default()
	cfg.Store.Driver = "redis"
	cfg.Store.RedisAddr = addr
	cfg.Store.RedisPassword = password
	cfg.Resume.Driver = "redis"
	cfg.Resume.RedisAddr = addr
	cfg.Resume.RedisPassword = password
	cfg.Bus.Kind = "redis"
	cfg.Bus.RedisAddr = addr
	cfg.Bus.RedisPassword = password
	return cfg
}

func TestRedisBackendsAuthenticate(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()
	mr.RequireAuth("s3cret")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cfg := redisConfig(mr.Addr(), "s3cret")

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer closeStore()
	if err := store.Put(ctx, app.TableSessions, "quiz-1", []byte(`{}`)); err != nil {
		t.Fatalf("store put: %v", err)
	}

	resume, closeResume, err := openResumeStore(cfg)
	if err != nil {
		t.Fatalf("open resume store: %v", err)
	}
	defer closeResume()
	if err := resume.Set(ctx, app.KeySessionName, "quiz-1"); err != nil {
		t.Fatalf("resume set: %v", err)
	}

	dialer, closeDialer, err := newDialer(cfg)
	if err != nil {
		t.Fatalf("new dialer: %v", err)
	}
	conn, err := dialer.Dial(ctx)
	if err != nil {
		t.Fatalf("dial bus: %v", err)
	}
	_ = conn.Close()

	closeDialer()
	if _, err := dialer.Dial(ctx); err == nil {
		t.Fatalf("expected dial to fail once the bus client is released")
	}
}

func TestRedisBackendsWithoutPasswordAreRejected(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()
	mr.RequireAuth("s3cret")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cfg := redisConfig(mr.Addr(), "")

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer closeStore()
	if err := store.Put(ctx, app.TableSessions, "quiz-1", []byte(`{}`)); err == nil {
		t.Fatalf("expected the store to be refused without a password")
	}

	resume, closeResume, err := openResumeStore(cfg)
	if err != nil {
		t.Fatalf("open resume store: %v", err)
	}
	defer closeResume()
	if err := resume.Set(ctx, app.KeySessionName, "quiz-1"); err == nil {
		t.Fatalf("expected the resume store to be refused without a password")
	}
}
