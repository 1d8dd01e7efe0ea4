// Package sqlite implements kv.Store on an embedded SQLite file (pure Go driver).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/gchat/internal/kv"
	"github.com/nextlevelbuilder/gchat/migrations"
)

// Store is a kv.Store backed by the kv_entries table.
type Store struct {
	db *sql.DB
}

// Open creates the database file if needed, applies migrations and
// returns a ready store.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	if err := migrations.Up(migrations.DialectSQLite, migrations.SQLiteURL(path)); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Get(ctx context.Context, collection, key string) ([]byte, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv_entries WHERE collection = ? AND key = ?`,
		collection, key,
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kv sqlite get: %w", err)
	}
	return []byte(v), nil
}

func (s *Store) Set(ctx context.Context, collection, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv_entries (collection, key, value, updated_at)
		 VALUES (?, ?, ?, strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		 ON CONFLICT (collection, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		collection, key, string(value),
	)
	if err != nil {
		return fmt.Errorf("kv sqlite set: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, key string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM kv_entries WHERE collection = ? AND key = ?`, collection, key,
	); err != nil {
		return fmt.Errorf("kv sqlite delete: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }
