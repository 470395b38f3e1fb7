package local

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zjrosen/foreman/internal/board"
	"github.com/zjrosen/foreman/internal/domain"
	"github.com/zjrosen/foreman/internal/errs"
)

func newTestBoard(t *testing.T) *Board {
	t.Helper()
	b, err := Open(filepath.Join(t.TempDir(), "board.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestCreateListRoundTrip(t *testing.T) {
	b := newTestBoard(t)
	ctx := context.Background()

	created, err := b.CreateTask(ctx, domain.TaskSpec{
		Title:          "Design schema",
		Description:    "Tables for users and sessions",
		Labels:         []string{"component:db", "skill:sql"},
		Priority:       domain.PriorityUrgent,
		EstimatedHours: 3,
		Phase:          domain.PhaseDesign,
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	second, err := b.CreateTask(ctx, domain.TaskSpec{
		Title:        "Implement schema",
		Dependencies: []string{created.ID},
		Phase:        domain.PhaseImplementation,
	})
	require.NoError(t, err)

	tasks, err := b.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	byID := make(map[string]domain.Task, len(tasks))
	for _, task := range tasks {
		byID[task.ID] = task
	}

	got := byID[created.ID]
	require.Equal(t, "Design schema", got.Title)
	require.Equal(t, "Tables for users and sessions", got.Description)
	require.Equal(t, domain.StatusTodo, got.Status)
	require.Equal(t, domain.PriorityUrgent, got.Priority)
	require.Equal(t, 3.0, got.EstimatedHours)
	require.Equal(t, domain.PhaseDesign, got.Phase)
	require.ElementsMatch(t, []string{"component:db", "skill:sql"}, got.Labels)

	gotSecond := byID[second.ID]
	require.Equal(t, []string{created.ID}, gotSecond.Dependencies)
	require.Equal(t, domain.PriorityMedium, gotSecond.Priority, "priority defaults to medium")
}

func TestUpdateTask(t *testing.T) {
	b := newTestBoard(t)
	ctx := context.Background()

	created, err := b.CreateTask(ctx, domain.TaskSpec{Title: "Update me"})
	require.NoError(t, err)

	status := domain.StatusInProgress
	assignee := "agent-7"
	labels := []string{"skill:go", "component:api"}
	err = b.UpdateTask(ctx, created.ID, domain.TaskPatch{
		Status:   &status,
		Assignee: &assignee,
		Labels:   &labels,
		Comment:  "claimed",
	})
	require.NoError(t, err)

	tasks, err := b.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, domain.StatusInProgress, tasks[0].Status)
	require.Equal(t, "agent-7", tasks[0].Assignee)
	require.ElementsMatch(t, labels, tasks[0].Labels)

	comments, err := b.Comments(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"claimed"}, comments)
}

func TestUpdateUnknownTask(t *testing.T) {
	b := newTestBoard(t)
	status := domain.StatusDone
	err := b.UpdateTask(context.Background(), "nope", domain.TaskPatch{Status: &status})
	require.True(t, errs.IsNotFound(err))
}

func TestAddCommentUnknownTask(t *testing.T) {
	b := newTestBoard(t)
	err := b.AddComment(context.Background(), "nope", "hello")
	require.True(t, errs.IsNotFound(err))
}

func TestMoveTask(t *testing.T) {
	b := newTestBoard(t)
	ctx := context.Background()

	created, err := b.CreateTask(ctx, domain.TaskSpec{Title: "Move me"})
	require.NoError(t, err)

	require.NoError(t, b.MoveTask(ctx, created.ID, "blocked"))
	tasks, _ := b.ListTasks(ctx)
	require.Equal(t, domain.StatusBlocked, tasks[0].Status)

	err = b.MoveTask(ctx, created.ID, "launchpad")
	require.Error(t, err)
	require.True(t, errs.IsPermanent(err))
}

func TestCreateRejectsInvalidSpec(t *testing.T) {
	b := newTestBoard(t)
	_, err := b.CreateTask(context.Background(), domain.TaskSpec{})
	require.Error(t, err)
	require.True(t, errs.IsPermanent(err))
}

func TestPersistenceAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.db")
	ctx := context.Background()

	b, err := Open(path)
	require.NoError(t, err)
	created, err := b.CreateTask(ctx, domain.TaskSpec{Title: "Durable"})
	require.NoError(t, err)
	require.NoError(t, b.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	tasks, err := reopened.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, created.ID, tasks[0].ID)
}

func TestRegistryRequiresPath(t *testing.T) {
	_, err := board.New(board.ProviderLocal, board.Options{})
	require.Error(t, err)
}

func TestRegistryConstructsLocalBoard(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.db")
	c, err := board.New(board.ProviderLocal, board.Options{Path: path})
	require.NoError(t, err)

	tasks, err := c.ListTasks(context.Background())
	require.NoError(t, err)
	require.Empty(t, tasks)
}
