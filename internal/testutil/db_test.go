package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenDBAppliesMigrations(t *testing.T) {
	db := OpenDB(t)

	rows, err := db.Conn().Query(`SELECT name FROM sqlite_master WHERE type = 'table'`)
	require.NoError(t, err)
	defer func() { _ = rows.Close() }()

	tables := map[string]bool{}
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		tables[name] = true
	}
	require.NoError(t, rows.Err())
	require.True(t, tables["assignments"])
	require.True(t, tables["lease_seq"])
	require.True(t, tables["events"])
}

func TestOpenDBAtReopensSamePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")

	db := OpenDBAt(t, path)
	require.NoError(t, db.Close())

	// Second open backs up the existing file before re-running
	// migrations, then comes up clean.
	db = OpenDBAt(t, path)
	require.Equal(t, path, db.Path())
	_, err := os.Stat(path + ".bak")
	require.NoError(t, err)
}
