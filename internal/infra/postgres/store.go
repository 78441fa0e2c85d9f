package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"quiz-sync/internal/app"
	"quiz-sync/internal/infra/postgres/migrations"
)

// Store is a Postgres-backed app.PersistentStore over the kv_store table.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Get(ctx context.Context, table, key string) ([]byte, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM kv_store WHERE tbl=$1 AND key=$2`, table, key).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, app.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load %s/%s: %w", table, key, err)
	}
	return raw, nil
}

func (s *Store) Put(ctx context.Context, table, key string, value []byte) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO kv_store (tbl, key, value) VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (tbl, key) DO UPDATE SET value=EXCLUDED.value, updated_at=now()`,
		table, key, string(value))
	if err != nil {
		return fmt.Errorf("store %s/%s: %w", table, key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, table, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM kv_store WHERE tbl=$1 AND key=$2`, table, key); err != nil {
		return fmt.Errorf("delete %s/%s: %w", table, key, err)
	}
	return nil
}

// Migrate applies the bun migrations to the database at dsn and returns
// the names of the migrations that ran.
func Migrate(ctx context.Context, dsn string) ([]string, error) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, migrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		return nil, fmt.Errorf("migrator init: %w", err)
	}
	group, err := migrator.Migrate(ctx)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	var applied []string
	for _, m := range group.Migrations {
		applied = append(applied, m.Name)
	}
	return applied, nil
}
