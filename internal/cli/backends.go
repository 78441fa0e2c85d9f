package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"quiz-sync/internal/api"
	"quiz-sync/internal/app"
	"quiz-sync/internal/config"
	"quiz-sync/internal/infra/memory"
	pgstore "quiz-sync/internal/infra/postgres"
	redisstore "quiz-sync/internal/infra/redis"
	"quiz-sync/internal/infra/sqlite"
	"quiz-sync/internal/logging"
	"quiz-sync/internal/transport"
	"quiz-sync/internal/transport/redisbus"
	"quiz-sync/internal/transport/ws"
)

func loadConfig(path string) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, log, nil
}

func newAPIClient(cfg config.Config, log *zap.Logger) *api.Client {
	return api.New(cfg.API.BaseURL, config.TTLDuration(cfg.API.Timeout, 10*time.Second), log)
}

// openStore builds the persistent store named by store.driver. The returned
// func releases its connections.
func openStore(ctx context.Context, cfg config.Config) (app.PersistentStore, func(), error) {
	var (
		store   app.PersistentStore
		closeFn = func() {}
	)
	switch cfg.Store.Driver {
	case "", "memory":
		store = memory.NewStore()
	case "sqlite":
		path := cfg.Store.SQLitePath
		if path == "" {
			p, err := sqlite.DefaultPath()
			if err != nil {
				return nil, nil, err
			}
			path = p
		}
		db, err := sqlite.Open(path)
		if err != nil {
			return nil, nil, err
		}
		store, closeFn = db, func() { _ = db.Close() }
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Store.RedisAddr, Password: cfg.Store.RedisPassword, DB: cfg.Store.RedisDB})
		store, closeFn = redisstore.NewStore(client), func() { _ = client.Close() }
	case "postgres":
		if cfg.Store.PostgresURL == "" {
			return nil, nil, fmt.Errorf("postgres url not configured")
		}
		pool, err := pgxpool.Connect(ctx, cfg.Store.PostgresURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		store, closeFn = pgstore.NewStore(pool), pool.Close
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	if cfg.Store.CacheTTL != "" {
		store = memory.NewCachedStore(store, config.TTLDuration(cfg.Store.CacheTTL, time.Minute))
	}
	return store, closeFn, nil
}

func openResumeStore(cfg config.Config) (app.ResumeStore, func(), error) {
	switch cfg.Resume.Driver {
	case "", "memory":
		return memory.NewResumeStore(), func() {}, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Resume.RedisAddr, Password: cfg.Resume.RedisPassword, DB: cfg.Resume.RedisDB})
		ttl := config.TTLDuration(cfg.Resume.TTL, 12*time.Hour)
		return redisstore.NewResumeStore(client, cfg.Resume.Scope, ttl), func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown resume driver %q", cfg.Resume.Driver)
	}
}

// newDialer builds the bus dialer named by bus.kind. The returned func
// releases the connections the dialer owns.
func newDialer(cfg config.Config) (transport.Dialer, func(), error) {
	switch cfg.Bus.Kind {
	case "", "ws":
		return ws.Dialer{URL: cfg.Bus.URL, HandshakeTimeout: 10 * time.Second}, func() {}, nil
	case "redis":
		d := redisbus.NewDialer(cfg.Bus.RedisAddr, cfg.Bus.RedisPassword, cfg.Bus.RedisDB)
		return d, func() { _ = d.Client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown bus kind %q", cfg.Bus.Kind)
	}
}
