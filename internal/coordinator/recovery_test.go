package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/foreman/internal/board/memory"
	"github.com/zjrosen/foreman/internal/domain"
	"github.com/zjrosen/foreman/internal/events"
	"github.com/zjrosen/foreman/internal/ledger"
)

func TestRecoverRestoresMatchingAssignments(t *testing.T) {
	ctx := context.Background()
	b := memory.NewSeeded(domain.Task{
		ID:       "task-001",
		Title:    "Implement ingest worker",
		Status:   domain.StatusInProgress,
		Assignee: "a1",
	})
	l := ledger.NewMemory()
	_, err := l.Insert(ctx, domain.Agent{ID: "a1", Name: "Builder", Role: "implementer", Skills: []string{"go"}}, "task-001", time.Now().Add(-10*time.Minute))
	require.NoError(t, err)

	// Fresh coordinator stands in for the restarted process: the registry
	// is empty, only the ledger survived.
	c, err := New(Config{Board: b, Ledger: l})
	require.NoError(t, err)

	report, err := c.Recover(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Restored)
	require.Zero(t, report.Dropped)
	require.Equal(t, []string{"a1"}, report.Agents)

	st, found, err := c.GetAgentStatus(ctx, "a1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, StateWorking, st.State)
	require.Equal(t, "task-001", st.Agent.CurrentTask)
	require.Equal(t, "Builder", st.Agent.Name, "agent snapshot from the ledger is restored")

	// The restored worker resumes by re-reporting.
	ack, err := c.ReportProgress(ctx, "a1", "task-001", "completed", 100, "resumed after restart")
	require.NoError(t, err)
	require.True(t, ack.Released)
}

func TestRecoverDropsEntriesTheBoardDisowns(t *testing.T) {
	ctx := context.Background()
	b := memory.NewSeeded(
		domain.Task{ID: "task-001", Title: "Finished elsewhere", Status: domain.StatusDone, Assignee: "a1"},
		domain.Task{ID: "task-002", Title: "Reassigned by a human", Status: domain.StatusInProgress, Assignee: "someone-else"},
		domain.Task{ID: "task-003", Title: "Still held", Status: domain.StatusInProgress, Assignee: "a4"},
	)
	l := ledger.NewMemory()
	for _, pair := range []struct{ agent, task string }{
		{"a1", "task-001"}, // board says done
		{"a2", "task-002"}, // board says someone else owns it
		{"a3", "task-404"}, // board never heard of it
		{"a4", "task-003"}, // intact
	} {
		_, err := l.Insert(ctx, domain.Agent{ID: pair.agent}, pair.task, time.Now())
		require.NoError(t, err)
	}

	c, err := New(Config{Board: b, Ledger: l})
	require.NoError(t, err)

	report, err := c.Recover(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Restored)
	require.Equal(t, 3, report.Dropped)

	entries, err := l.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "a4", entries[0].AgentID)

	// Post-recovery every surviving entry reflects board reality.
	for _, e := range entries {
		task, ok := b.Task(e.TaskID)
		require.True(t, ok)
		require.Equal(t, domain.StatusInProgress, task.Status)
		require.Equal(t, e.AgentID, task.Assignee)
	}

	// Dropped holders are not re-seated.
	for _, id := range []string{"a1", "a2", "a3"} {
		_, found, err := c.GetAgentStatus(ctx, id)
		require.NoError(t, err)
		require.False(t, found)
	}
}

func TestRecoverEmptyLedgerPublishesCompletion(t *testing.T) {
	c, _ := newCoordinator(t, memory.New())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := c.Events().Subscribe(ctx)

	report, err := c.Recover(ctx)
	require.NoError(t, err)
	require.Zero(t, report.Restored)
	require.Zero(t, report.Dropped)

	ev := nextEvent(t, stream)
	require.Equal(t, events.TypeRecoveryCompleted, ev.Type)
}

func TestRecoverUnassignedInProgressTaskSurvives(t *testing.T) {
	// Providers without assignee tracking leave the field empty; an
	// in_progress task with no assignee still matches its entry.
	ctx := context.Background()
	b := memory.NewSeeded(domain.Task{ID: "task-001", Title: "Untracked hold", Status: domain.StatusInProgress})
	l := ledger.NewMemory()
	_, err := l.Insert(ctx, domain.Agent{ID: "a1"}, "task-001", time.Now())
	require.NoError(t, err)

	c, err := New(Config{Board: b, Ledger: l})
	require.NoError(t, err)

	report, err := c.Recover(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Restored)
	require.Zero(t, report.Dropped)
}
