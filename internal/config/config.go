package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"quiz-sync/internal/protocol"
)

type Config struct {
	Bus struct {
		Kind          string `yaml:"kind"` // ws | redis
		URL           string `yaml:"url"`
		RedisAddr     string `yaml:"redis_addr"`
		RedisPassword string `yaml:"redis_password"`
		RedisDB       int    `yaml:"redis_db"`
		GlobalTopic   string `yaml:"global_topic"`
		TopicPrefix   string `yaml:"topic_prefix"`
	} `yaml:"bus"`
	API struct {
		BaseURL string `yaml:"base_url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"api"`
	Store struct {
		Driver        string `yaml:"driver"` // memory | sqlite | redis | postgres
		SQLitePath    string `yaml:"sqlite_path"`
		PostgresURL   string `yaml:"postgres_url"`
		RedisAddr     string `yaml:"redis_addr"`
		RedisPassword string `yaml:"redis_password"`
		RedisDB       int    `yaml:"redis_db"`
		CacheTTL      string `yaml:"cache_ttl"` // empty disables the read cache
	} `yaml:"store"`
	Resume struct {
		Driver        string `yaml:"driver"` // memory | redis
		RedisAddr     string `yaml:"redis_addr"`
		RedisPassword string `yaml:"redis_password"`
		RedisDB       int    `yaml:"redis_db"`
		Scope         string `yaml:"scope"`
		TTL           string `yaml:"ttl"`
	} `yaml:"resume"`
	Health struct {
		ProbeDelay    string `yaml:"probe_delay"`
		ProbeInterval string `yaml:"probe_interval"`
	} `yaml:"health"`
	Features struct {
		ReadingConfirmationEnabled bool `yaml:"reading_confirmation_enabled"`
		ConfidenceSliderEnabled    bool `yaml:"confidence_slider_enabled"`
		Interactive                bool `yaml:"interactive"`
	} `yaml:"features"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Default returns a configuration that runs entirely in memory against a local bus.
func Default() Config {
	cfg := Config{}
	cfg.Bus.Kind = "ws"
	cfg.Bus.URL = "ws://localhost:8080/bus"
	cfg.Bus.GlobalTopic = protocol.DefaultGlobalTopic
	cfg.Bus.TopicPrefix = "quiz."
	cfg.API.BaseURL = "http://localhost:8080/api/v1"
	cfg.API.Timeout = "10s"
	cfg.Store.Driver = "memory"
	cfg.Resume.Driver = "memory"
	cfg.Resume.Scope = "default"
	cfg.Resume.TTL = "12h"
	cfg.Health.ProbeDelay = "500ms"
	cfg.Health.ProbeInterval = "30s"
	cfg.Features.ReadingConfirmationEnabled = true
	cfg.Features.ConfidenceSliderEnabled = true
	cfg.Features.Interactive = true
	cfg.Log.Level = "info"
	cfg.Log.Format = "console"
	return cfg
}

// Load reads YAML config from path on top of Default. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
