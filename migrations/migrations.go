// Package migrations embeds the SQL schema for the postgres and sqlite
// kv backends and runs it through golang-migrate.
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

//go:embed postgres/*.sql sqlite/*.sql
var files embed.FS

// New builds a migrator for dsn. A non-empty dir replaces the embedded
// files with a directory on disk.
func New(dialect, dsn, dir string) (*migrate.Migrate, error) {
	if dir != "" {
		m, err := migrate.New("file://"+dir, dsn)
		if err != nil {
			return nil, fmt.Errorf("create migrator: %w", err)
		}
		return m, nil
	}

	sub, err := fs.Sub(files, dialect)
	if err != nil {
		return nil, fmt.Errorf("unknown dialect %q: %w", dialect, err)
	}
	src, err := iofs.New(sub, ".")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}

// Up applies every pending migration. It is a no-op when the schema is current.
func Up(dialect, dsn string) error {
	m, err := New(dialect, dsn, "")
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// SQLiteURL turns a file path into a migrate database URL.
func SQLiteURL(path string) string {
	return "sqlite://" + path
}
