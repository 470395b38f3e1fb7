package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/zjrosen/foreman/internal/board"
	"github.com/zjrosen/foreman/internal/domain"
	"github.com/zjrosen/foreman/internal/log"
)

// DefaultSweepInterval is how often the sweeper scans for stale leases.
const DefaultSweepInterval = time.Minute

// Sweeper reclaims expired leases in the background. Each sweep reads a
// fresh board snapshot (estimates drive per-task TTLs), removes expired
// entries from the ledger, reverts the tasks to todo with no assignee,
// and leaves a comment noting the expiration. Failures are logged and
// retried on the next cycle; they never surface to user requests.
type Sweeper struct {
	ledger   Ledger
	board    board.Client
	policy   Policy
	interval time.Duration

	// OnExpired, when set, runs after each successful reclamation.
	// The coordinator uses it to idle the agent's session and publish
	// the lease_expired event.
	OnExpired func(Entry)
}

// NewSweeper wires a sweeper. A non-positive interval gets the default.
func NewSweeper(l Ledger, b board.Client, policy Policy, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{ledger: l, board: b, policy: policy, interval: interval}
}

// Run sweeps on the configured interval until ctx is done. Holds no
// locks across board I/O; cancels cleanly on shutdown.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info(log.CatSweep, "Sweeper started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			log.Info(log.CatSweep, "Sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce performs a single sweep and returns how many leases were
// reclaimed. Exported for startup recovery and tests.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	entries, err := s.ledger.List(ctx)
	if err != nil {
		log.ErrorErr(log.CatSweep, "Sweep list failed", err)
		return 0
	}
	if len(entries) == 0 {
		return 0
	}

	snap, err := board.Snapshot(ctx, s.board)
	if err != nil {
		log.ErrorErr(log.CatSweep, "Sweep snapshot failed", err)
		return 0
	}

	now := time.Now()
	reclaimed := 0
	for _, e := range entries {
		var estimate float64
		if t, ok := snap.Task(e.TaskID); ok {
			estimate = t.EstimatedHours
		}
		ttl := s.policy.TTL(estimate)
		age := e.Age(now)
		if age <= ttl {
			continue
		}
		if s.reclaim(ctx, e, age) {
			reclaimed++
		}
	}
	if reclaimed > 0 {
		log.Info(log.CatSweep, "Sweep reclaimed stale leases", "count", reclaimed)
	}
	return reclaimed
}

func (s *Sweeper) reclaim(ctx context.Context, e Entry, age time.Duration) bool {
	// Ledger first: once the entry is gone the task is assignable
	// again even if the board write below fails.
	if err := s.ledger.Remove(ctx, e.AgentID, e.TaskID); err != nil {
		log.ErrorErr(log.CatSweep, "Stale lease remove failed", err,
			"agent", e.AgentID, "task", e.TaskID)
		return false
	}

	todo := domain.StatusTodo
	unassigned := ""
	patch := domain.TaskPatch{
		Status:   &todo,
		Assignee: &unassigned,
		Comment: fmt.Sprintf("Lease %d for agent %s expired after %s; task returned to the backlog.",
			e.LeaseID, e.AgentID, age.Round(time.Minute)),
	}
	if err := s.board.UpdateTask(ctx, e.TaskID, patch); err != nil {
		log.ErrorErr(log.CatSweep, "Stale lease board revert failed", err,
			"agent", e.AgentID, "task", e.TaskID)
	}

	log.Warn(log.CatSweep, "Lease expired", "agent", e.AgentID, "task", e.TaskID,
		"lease", e.LeaseID, "age", age)
	if s.OnExpired != nil {
		s.OnExpired(e)
	}
	return true
}
