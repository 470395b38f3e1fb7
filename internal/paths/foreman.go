// Package paths provides path resolution utilities.
package paths

import (
	"os"
	"path/filepath"
	"strings"
)

// ResolveDataDir resolves the .foreman data directory from user input.
// It normalizes the input (accepting either a project dir or the
// .foreman dir itself), appends .foreman if needed, and follows
// redirect files for git worktrees.
//
// Input normalization:
//   - "/path/to/project" -> "/path/to/project/.foreman"
//   - "/path/to/project/.foreman" -> "/path/to/project/.foreman"
//   - "/path/to/data" (containing ledger.db) -> "/path/to/data"
//   - "" -> "./.foreman"
//
// Redirect handling:
//   - If .foreman/redirect exists, its content names the actual data
//     directory. A worktree's .foreman can point at the main worktree
//     so every checkout shares one ledger and board.
func ResolveDataDir(path string) string {
	if path == "" {
		path = "."
	}
	path = filepath.Clean(path)

	// Already the data dir.
	if filepath.Base(path) == ".foreman" {
		return followRedirect(path)
	}

	// A directory holding ledger.db directly is a data dir, wherever it
	// lives. Supports FOREMAN_DIR pointing straight at shared storage.
	if _, err := os.Stat(filepath.Join(path, "ledger.db")); err == nil {
		return followRedirect(path)
	}

	return followRedirect(filepath.Join(path, ".foreman"))
}

// LedgerPath returns the default ledger database file under dataDir.
func LedgerPath(dataDir string) string {
	return filepath.Join(dataDir, "ledger.db")
}

// BoardPath returns the default local-board database file under dataDir.
func BoardPath(dataDir string) string {
	return filepath.Join(dataDir, "board.db")
}

// LogPath returns the default log file under dataDir.
func LogPath(dataDir string) string {
	return filepath.Join(dataDir, "foreman.log")
}

// followRedirect checks for a redirect file and follows it if present.
// The target is relative to the directory holding the redirect file.
func followRedirect(dataDir string) string {
	content, err := os.ReadFile(filepath.Join(dataDir, "redirect")) //nolint:gosec // redirect path is within the data dir
	if err != nil {
		return dataDir
	}

	target := strings.TrimSpace(string(content))
	if target == "" {
		return dataDir
	}

	return filepath.Clean(filepath.Join(dataDir, target))
}
