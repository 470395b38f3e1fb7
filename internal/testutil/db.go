package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/foreman/internal/infrastructure/sqlite"
)

// OpenDB opens a migrated ledger database in a per-test temp directory
// and closes it when the test ends.
func OpenDB(t *testing.T) *sqlite.DB {
	t.Helper()
	return OpenDBAt(t, filepath.Join(t.TempDir(), "ledger.db"))
}

// OpenDBAt opens a migrated ledger database at path. Restart scenarios
// close the handle mid-test and reopen the same path; the cleanup hook
// tolerates that because Close on a closed connection is a no-op.
func OpenDBAt(t *testing.T, path string) *sqlite.DB {
	t.Helper()
	db, err := sqlite.NewDB(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}
