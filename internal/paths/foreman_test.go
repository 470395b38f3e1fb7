package paths

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveDataDirAppendsDotForeman(t *testing.T) {
	dir := t.TempDir()
	require.Equal(t, filepath.Join(dir, ".foreman"), ResolveDataDir(dir))
}

func TestResolveDataDirAcceptsDataDirItself(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".foreman")
	require.Equal(t, dir, ResolveDataDir(dir))
}

func TestResolveDataDirEmptyMeansCurrentDir(t *testing.T) {
	require.Equal(t, ".foreman", ResolveDataDir(""))
}

func TestResolveDataDirDetectsLedgerFile(t *testing.T) {
	// A directory holding ledger.db is used as-is, no .foreman appended.
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ledger.db"), []byte{}, 0o600))

	require.Equal(t, dir, ResolveDataDir(dir))
}

func TestResolveDataDirFollowsRedirect(t *testing.T) {
	root := t.TempDir()

	// Main worktree owns the real data dir.
	mainData := filepath.Join(root, "main", ".foreman")
	require.NoError(t, os.MkdirAll(mainData, 0o750))

	// Linked worktree's .foreman redirects to it.
	worktreeData := filepath.Join(root, "wt", ".foreman")
	require.NoError(t, os.MkdirAll(worktreeData, 0o750))
	require.NoError(t, os.WriteFile(
		filepath.Join(worktreeData, "redirect"),
		[]byte("../../main/.foreman\n"),
		0o600,
	))

	require.Equal(t, mainData, ResolveDataDir(filepath.Join(root, "wt")))
}

func TestResolveDataDirIgnoresEmptyRedirect(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".foreman")
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "redirect"), []byte("  \n"), 0o600))

	require.Equal(t, dir, ResolveDataDir(dir))
}

func TestDefaultFilePaths(t *testing.T) {
	dataDir := filepath.Join("proj", ".foreman")

	require.Equal(t, filepath.Join(dataDir, "ledger.db"), LedgerPath(dataDir))
	require.Equal(t, filepath.Join(dataDir, "board.db"), BoardPath(dataDir))
	require.Equal(t, filepath.Join(dataDir, "foreman.log"), LogPath(dataDir))
}
