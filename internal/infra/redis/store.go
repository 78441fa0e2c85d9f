package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"quiz-sync/internal/app"
)

// Store is a Redis-backed app.PersistentStore. Each table is one hash:
//
//	HSET store:{table} {key} {json}
type Store struct {
	client *redis.Client
	prefix string
}

func NewStore(client *redis.Client) *Store {
	return &Store{client: client, prefix: "store:"}
}

func (s *Store) Get(ctx context.Context, table, key string) ([]byte, error) {
	value, err := s.client.HGet(ctx, s.tableKey(table), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, app.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s/%s: %w", table, key, err)
	}
	return value, nil
}

func (s *Store) Put(ctx context.Context, table, key string, value []byte) error {
	if err := s.client.HSet(ctx, s.tableKey(table), key, value).Err(); err != nil {
		return fmt.Errorf("redis put %s/%s: %w", table, key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, table, key string) error {
	if err := s.client.HDel(ctx, s.tableKey(table), key).Err(); err != nil {
		return fmt.Errorf("redis delete %s/%s: %w", table, key, err)
	}
	return nil
}

func (s *Store) tableKey(table string) string {
	return s.prefix + table
}
