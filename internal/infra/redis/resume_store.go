package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"quiz-sync/internal/app"
)

// ResumeStore keeps the resume keys of one participant context in Redis.
// Keys expire after ttl; every Set refreshes the expiry.
//
//	SET resume:{scope}:{key} {value} EX ttl
type ResumeStore struct {
	client *redis.Client
	scope  string
	ttl    time.Duration
}

func NewResumeStore(client *redis.Client, scope string, ttl time.Duration) *ResumeStore {
	return &ResumeStore{client: client, scope: scope, ttl: ttl}
}

func (s *ResumeStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", app.ErrNotFound
	}
	return v, err
}

func (s *ResumeStore) Set(ctx context.Context, key, value string) error {
	return s.client.Set(ctx, s.key(key), value, s.ttl).Err()
}

func (s *ResumeStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

func (s *ResumeStore) key(key string) string {
	return "resume:" + s.scope + ":" + key
}
