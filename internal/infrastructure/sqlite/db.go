// Package sqlite is the durable storage layer: the assignment ledger
// and the coordination event log, both in one SQLite file managed by
// embedded golang-migrate migrations.
package sqlite

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/zjrosen/foreman/internal/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps the ledger database connection.
type DB struct {
	conn *sql.DB
	path string
}

// NewDB opens (creating if necessary) the ledger database at dbPath and
// brings the schema up to date. Parent directories are created 0700. If
// the file already exists, a .bak copy is taken before migrations run
// so a bad migration never eats the only copy of the ledger.
func NewDB(dbPath string) (*DB, error) {
	if !isMemory(dbPath) {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		if _, err := os.Stat(dbPath); err == nil {
			if err := backupFile(dbPath); err != nil {
				return nil, fmt.Errorf("pre-migration backup: %w", err)
			}
		}
	}

	conn, err := Open(dbPath, migrationsFS)
	if err != nil {
		return nil, err
	}
	log.Info(log.CatDB, "Ledger database ready", "path", dbPath)
	return &DB{conn: conn, path: dbPath}, nil
}

// Open opens a foreman-managed SQLite file with the standard pragmas
// (WAL, busy_timeout 5000, foreign_keys on) and applies the given
// migration set, which must live under a migrations/ directory in fsys.
// Shared by the ledger store and the local board provider.
func Open(dbPath string, fsys fs.FS) (*sql.DB, error) {
	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)&_pragma=foreign_keys(on)"
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if isMemory(dbPath) {
		// A second connection would see a different empty database.
		conn.SetMaxOpenConns(1)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := runMigrations(conn, fsys); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return conn, nil
}

func runMigrations(conn *sql.DB, fsys fs.FS) error {
	src, err := iofs.New(fsys, "migrations")
	if err != nil {
		return err
	}
	drv, err := migratesqlite.WithInstance(conn, &migratesqlite.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// backupFile copies path to path.bak, overwriting any previous backup.
func backupFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	dst, err := os.OpenFile(path+".bak", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer func() { _ = dst.Close() }()

	_, err = io.Copy(dst, src)
	return err
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory") || strings.HasPrefix(path, ":memory:")
}

// Conn exposes the underlying connection to the repositories.
func (d *DB) Conn() *sql.DB { return d.conn }

// Path returns the database file path.
func (d *DB) Path() string { return d.path }

// Close closes the connection.
func (d *DB) Close() error { return d.conn.Close() }
