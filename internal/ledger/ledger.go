// Package ledger holds the durable record of outstanding assignments.
// Entries are keyed by agent and secondarily indexed by task; both
// indexes are unique, which is what makes the duplicate-assignment race
// resolvable: the losing insert observes the task index populated and
// the engine restarts candidate selection.
//
// Two implementations exist: the in-memory ledger below for tests and
// ephemeral runs, and the SQLite-backed ledger in
// internal/infrastructure/sqlite for everything else.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/zjrosen/foreman/internal/domain"
)

// Insert conflict sentinels. Callers classify with errors.Is.
var (
	// ErrAgentHolds means the agent already has a live assignment.
	ErrAgentHolds = errors.New("ledger: agent already holds a live assignment")
	// ErrTaskHeld means another agent already holds the task.
	ErrTaskHeld = errors.New("ledger: task already held")
)

// Entry is one live ledger row: the assignment plus the agent record
// captured at assignment time. The snapshot is what lets crash recovery
// re-seat agents whose leases survived the restart.
type Entry struct {
	domain.Assignment
	Agent domain.Agent
}

// Ledger is the assignment store. Implementations must hand out
// monotonic lease ids and keep both unique indexes consistent under
// concurrent inserts.
type Ledger interface {
	// Insert records a live assignment for the agent. Fails with
	// ErrAgentHolds or ErrTaskHeld on index conflicts.
	Insert(ctx context.Context, agent domain.Agent, taskID string, at time.Time) (Entry, error)

	// Remove deletes the entry matching both ids. Missing entries
	// fail with errs.NoSuchAssignmentError.
	Remove(ctx context.Context, agentID, taskID string) error

	// GetByAgent returns the agent's live entry, if any.
	GetByAgent(ctx context.Context, agentID string) (Entry, bool, error)

	// GetByTask returns the entry holding the task, if any.
	GetByTask(ctx context.Context, taskID string) (Entry, bool, error)

	// List returns every live entry, ordered by lease id.
	List(ctx context.Context) ([]Entry, error)

	// ExpireOlderThan removes and returns every entry assigned more
	// than age ago. Used when a flat stale_after override is
	// configured; the sweeper otherwise expires per-task.
	ExpireOlderThan(ctx context.Context, age time.Duration) ([]Entry, error)
}
