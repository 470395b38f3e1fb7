package sqlite

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestNewDB_CreatesDirectory verifies that NewDB creates the parent directory if missing.
func TestNewDB_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "foreman.db")

	db, err := NewDB(dbPath)
	require.NoError(t, err, "NewDB should succeed even with nested non-existent directories")
	defer func() { _ = db.Close() }()

	info, err := os.Stat(filepath.Dir(dbPath))
	require.NoError(t, err, "Directory should exist after NewDB")
	require.True(t, info.IsDir(), "Should be a directory")

	// Windows doesn't support Unix permissions.
	if runtime.GOOS != "windows" {
		require.Equal(t, os.FileMode(0700), info.Mode().Perm(), "Directory should have 0700 permissions")
	}
}

// TestNewDB_CreatesDatabaseFile verifies that NewDB creates the database file on first run.
func TestNewDB_CreatesDatabaseFile(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "foreman.db")

	db, err := NewDB(dbPath)
	require.NoError(t, err, "NewDB should succeed")
	defer func() { _ = db.Close() }()

	info, err := os.Stat(dbPath)
	require.NoError(t, err, "Database file should exist after NewDB")
	require.False(t, info.IsDir(), "Should be a file, not a directory")
}

// TestNewDB_RunsMigrations verifies the schema comes up with every table.
func TestNewDB_RunsMigrations(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "foreman.db")

	db, err := NewDB(dbPath)
	require.NoError(t, err, "NewDB should succeed")
	defer func() { _ = db.Close() }()

	for _, table := range []string{"assignments", "lease_seq", "events"} {
		var name string
		err := db.Conn().QueryRow(
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table,
		).Scan(&name)
		require.NoError(t, err, "expected table %s", table)
		require.Equal(t, table, name)
	}

	var value int64
	err = db.Conn().QueryRow(`SELECT value FROM lease_seq WHERE id = 1`).Scan(&value)
	require.NoError(t, err, "lease sequence row should be seeded")
	require.Equal(t, int64(0), value)
}

// TestNewDB_BacksUpExistingFile verifies the pre-migration .bak copy.
func TestNewDB_BacksUpExistingFile(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "foreman.db")

	first, err := NewDB(dbPath)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	// Fresh database: nothing to back up.
	_, err = os.Stat(dbPath + ".bak")
	require.True(t, os.IsNotExist(err), "no backup expected on first open")

	second, err := NewDB(dbPath)
	require.NoError(t, err)
	defer func() { _ = second.Close() }()

	_, err = os.Stat(dbPath + ".bak")
	require.NoError(t, err, "backup expected once a previous file exists")
}

// TestNewDB_Idempotent verifies repeated opens of the same file succeed.
func TestNewDB_Idempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "foreman.db")

	for i := 0; i < 3; i++ {
		db, err := NewDB(dbPath)
		require.NoError(t, err, "open %d should succeed", i)
		require.NoError(t, db.Close())
	}
}

func TestDB_Path(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "foreman.db")
	db, err := NewDB(dbPath)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	require.Equal(t, dbPath, db.Path())
}
