package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zjrosen/foreman/internal/domain"
	"github.com/zjrosen/foreman/internal/errs"
	"github.com/zjrosen/foreman/internal/ledger"
)

func newTestRepo(t *testing.T) (*AssignmentRepository, *DB) {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "foreman.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewAssignmentRepository(db), db
}

func testAgent(id string) domain.Agent {
	return domain.Agent{ID: id, Name: id, Role: "worker", Skills: []string{"go"}}
}

func TestRepository_InsertAndGet(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	at := time.Now()
	e, err := repo.Insert(ctx, testAgent("agent-1"), "task-001", at)
	require.NoError(t, err)
	require.Equal(t, int64(1), e.LeaseID)
	require.Equal(t, "agent-1", e.AgentID)

	byAgent, ok, err := repo.GetByAgent(ctx, "agent-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "task-001", byAgent.TaskID)
	require.Equal(t, at.Unix(), byAgent.AssignedAt.Unix())
	require.Equal(t, []string{"go"}, byAgent.Agent.Skills, "agent snapshot should round-trip")

	byTask, ok, err := repo.GetByTask(ctx, "task-001")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "agent-1", byTask.AgentID)

	_, ok, err = repo.GetByAgent(ctx, "agent-unknown")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRepository_InsertConflicts(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.Insert(ctx, testAgent("agent-1"), "task-001", time.Now())
	require.NoError(t, err)

	_, err = repo.Insert(ctx, testAgent("agent-1"), "task-002", time.Now())
	require.ErrorIs(t, err, ledger.ErrAgentHolds)

	_, err = repo.Insert(ctx, testAgent("agent-2"), "task-001", time.Now())
	require.ErrorIs(t, err, ledger.ErrTaskHeld)
}

func TestRepository_LeaseIDsSurviveRestart(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "foreman.db")
	ctx := context.Background()

	db, err := NewDB(dbPath)
	require.NoError(t, err)
	repo := NewAssignmentRepository(db)

	e, err := repo.Insert(ctx, testAgent("agent-1"), "task-001", time.Now())
	require.NoError(t, err)
	require.Equal(t, int64(1), e.LeaseID)
	require.NoError(t, repo.Remove(ctx, "agent-1", "task-001"))
	require.NoError(t, db.Close())

	// Reopen: the sequence must not restart even though the table is empty.
	db2, err := NewDB(dbPath)
	require.NoError(t, err)
	defer func() { _ = db2.Close() }()
	repo2 := NewAssignmentRepository(db2)

	e2, err := repo2.Insert(ctx, testAgent("agent-1"), "task-002", time.Now())
	require.NoError(t, err)
	require.Equal(t, int64(2), e2.LeaseID)
}

func TestRepository_RemoveRequiresMatchingPair(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.Insert(ctx, testAgent("agent-1"), "task-001", time.Now())
	require.NoError(t, err)

	var nsa *errs.NoSuchAssignmentError
	require.ErrorAs(t, repo.Remove(ctx, "agent-1", "task-999"), &nsa)
	require.ErrorAs(t, repo.Remove(ctx, "agent-9", "task-001"), &nsa)

	require.NoError(t, repo.Remove(ctx, "agent-1", "task-001"))
	_, ok, _ := repo.GetByTask(ctx, "task-001")
	require.False(t, ok)
}

func TestRepository_ListOrderedByLease(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_, err := repo.Insert(ctx, testAgent(fmt.Sprintf("agent-%d", i)), fmt.Sprintf("task-%d", i), time.Now())
		require.NoError(t, err)
	}

	entries, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i := 1; i < len(entries); i++ {
		require.Greater(t, entries[i].LeaseID, entries[i-1].LeaseID)
	}
}

func TestRepository_ListDropsCorruptRows(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.Insert(ctx, testAgent("agent-good"), "task-good", time.Now())
	require.NoError(t, err)

	// Sneak in a row whose snapshot is not JSON.
	_, err = db.Conn().ExecContext(ctx,
		`INSERT INTO assignments (agent_id, task_id, lease_id, assigned_at, agent_snapshot)
		 VALUES ('agent-bad', 'task-bad', 99, ?, ?)`,
		time.Now().Unix(), []byte("{not json"))
	require.NoError(t, err)

	entries, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "agent-good", entries[0].AgentID)

	// The corrupt row was deleted, not just skipped.
	var count int
	require.NoError(t, db.Conn().QueryRow(
		`SELECT COUNT(*) FROM assignments WHERE agent_id = 'agent-bad'`).Scan(&count))
	require.Zero(t, count)
}

func TestRepository_ExpireOlderThan(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.Insert(ctx, testAgent("agent-old"), "task-old", time.Now().Add(-2*time.Hour))
	require.NoError(t, err)
	_, err = repo.Insert(ctx, testAgent("agent-new"), "task-new", time.Now())
	require.NoError(t, err)

	expired, err := repo.ExpireOlderThan(ctx, time.Hour)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	require.Equal(t, "agent-old", expired[0].AgentID)

	remaining, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, "agent-new", remaining[0].AgentID)
}

// TestRepository_ConcurrentInsertSameTask exercises the duplicate-task
// race: many writers, one task, exactly one winner.
func TestRepository_ConcurrentInsertSameTask(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	const goroutines = 8
	var wg sync.WaitGroup
	wins := make(chan string, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("agent-%d", n)
			if _, err := repo.Insert(ctx, testAgent(id), "task-contended", time.Now()); err == nil {
				wins <- id
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	var winners []string
	for id := range wins {
		winners = append(winners, id)
	}
	require.Len(t, winners, 1)

	e, ok, err := repo.GetByTask(ctx, "task-contended")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, winners[0], e.AgentID)
}
