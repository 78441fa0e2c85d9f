package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"quiz-sync/internal/domain"
	"quiz-sync/internal/protocol"
)

// ErrNotFound is returned by PersistentStore.Get and ResumeStore.Get for absent keys.
var ErrNotFound = errors.New("not found")

// Tables of the persistent store.
const (
	TableSessions = "sessions"
	TableConfig   = "config"
)

// PersistentStore is durable keyed storage organised in tables. Concurrent
// access to different keys is safe; same-key races resolve last-write-wins.
type PersistentStore interface {
	Get(ctx context.Context, table, key string) ([]byte, error)
	Put(ctx context.Context, table, key string, value []byte) error
	Delete(ctx context.Context, table, key string) error
}

// Ephemeral resume keys.
const (
	KeySessionName     = "current-session-name"
	KeyParticipantName = "current-participant-name"
	KeyQuestionIndex   = "current-question-index"
)

// ResumeStore holds the per-participant keys read on bootstrap to resume a session.
type ResumeStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// SessionAPI is the read/write API the stores and the engine call. api.Client implements it.
type SessionAPI interface {
	GetSession(ctx context.Context, name string) (*domain.Session, error)
	PutSavedSession(ctx context.Context, s *domain.Session) error
	DeleteActiveSession(ctx context.Context, s *domain.Session) error
	GetMembers(ctx context.Context, name string) ([]domain.Member, error)
	DeleteMember(ctx context.Context, sessionName, memberName string) error
	AdvanceStep(ctx context.Context, sessionName string) (protocol.Envelope, error)
}

// GetJSON reads and decodes a JSON document.
func GetJSON[T any](ctx context.Context, store PersistentStore, table, key string) (T, error) {
	var out T
	raw, err := store.Get(ctx, table, key)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %s/%s: %w", table, key, err)
	}
	return out, nil
}

// PutJSON encodes and stores a JSON document.
func PutJSON(ctx context.Context, store PersistentStore, table, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", table, key, err)
	}
	return store.Put(ctx, table, key, raw)
}
