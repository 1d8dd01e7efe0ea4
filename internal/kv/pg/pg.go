// Package pg implements kv.Store on Postgres through the pgx stdlib driver.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/nextlevelbuilder/gchat/internal/kv"
	"github.com/nextlevelbuilder/gchat/migrations"
)

// Store is a kv.Store backed by the kv_entries table.
type Store struct {
	db *sql.DB
}

// OpenDB opens a pooled connection and verifies it.
func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Open applies pending migrations and returns a store on dsn.
func Open(dsn string) (*Store, error) {
	if err := migrations.Up(migrations.DialectPostgres, dsn); err != nil {
		return nil, err
	}
	db, err := OpenDB(dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return New(db), nil
}

// New wraps an existing connection. The schema must already exist.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Get(ctx context.Context, collection, key string) ([]byte, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		`SELECT value::text FROM kv_entries WHERE collection = $1 AND key = $2`,
		collection, key,
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kv pg get: %w", err)
	}
	return []byte(v), nil
}

func (s *Store) Set(ctx context.Context, collection, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv_entries (collection, key, value, updated_at)
		 VALUES ($1, $2, $3::jsonb, now())
		 ON CONFLICT (collection, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		collection, key, string(value),
	)
	if err != nil {
		return fmt.Errorf("kv pg set: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, key string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM kv_entries WHERE collection = $1 AND key = $2`, collection, key,
	); err != nil {
		return fmt.Errorf("kv pg delete: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }
