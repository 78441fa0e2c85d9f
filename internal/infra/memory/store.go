package memory

import (
	"bytes"
	"context"
	"sync"

	"quiz-sync/internal/app"
)

// Store is an in-memory implementation of app.PersistentStore.
type Store struct {
	mu     sync.RWMutex
	tables map[string]map[string][]byte
}

func NewStore() *Store {
	return &Store{tables: make(map[string]map[string][]byte)}
}

func (s *Store) Get(_ context.Context, table, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.tables[table][key]
	if !ok {
		return nil, app.ErrNotFound
	}
	return bytes.Clone(value), nil
}

func (s *Store) Put(_ context.Context, table, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.tables[table]
	if !ok {
		rows = make(map[string][]byte)
		s.tables[table] = rows
	}
	rows[key] = bytes.Clone(value)
	return nil
}

func (s *Store) Delete(_ context.Context, table, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tables[table], key)
	return nil
}

// ResumeStore is a process-local app.ResumeStore.
type ResumeStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewResumeStore() *ResumeStore {
	return &ResumeStore{values: make(map[string]string)}
}

func (s *ResumeStore) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return "", app.ErrNotFound
	}
	return v, nil
}

func (s *ResumeStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *ResumeStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}
