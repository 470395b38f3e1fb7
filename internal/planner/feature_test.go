package planner

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/foreman/internal/ai"
	"github.com/zjrosen/foreman/internal/ai/mock"
	"github.com/zjrosen/foreman/internal/board/memory"
	"github.com/zjrosen/foreman/internal/domain"
	"github.com/zjrosen/foreman/internal/errs"
)

const notifyFeature = "Add email notifications when a task completes, hooked into the api layer."

func seededProjectBoard() *memory.Board {
	return memory.NewSeeded(
		domain.Task{ID: "task-001", Title: "Set up repository and continuous delivery",
			Status: domain.StatusDone, Labels: []string{"component:infra"}, Phase: domain.PhaseSetup},
		domain.Task{ID: "task-002", Title: "Design service architecture",
			Status: domain.StatusDone, Labels: []string{"component:core"}, Phase: domain.PhaseDesign},
		domain.Task{ID: "task-003", Title: "Implement auth sessions",
			Status: domain.StatusDone, Labels: []string{"component:auth"}, Phase: domain.PhaseImplementation},
		domain.Task{ID: "task-004", Title: "Implement REST api endpoints",
			Status: domain.StatusInProgress, Labels: []string{"component:api"}, Phase: domain.PhaseImplementation},
		domain.Task{ID: "task-005", Title: "Implement web ui screens",
			Status: domain.StatusTodo, Labels: []string{"component:ui"}, Phase: domain.PhaseImplementation},
		domain.Task{ID: "task-006", Title: "Verify api behavior end to end",
			Status: domain.StatusTodo, Labels: []string{"component:api"}, Phase: domain.PhaseTesting,
			Dependencies: []string{"task-004"}},
	)
}

func preexistingIDs(b *memory.Board, t *testing.T) map[string]bool {
	t.Helper()
	tasks, err := b.ListTasks(context.Background())
	require.NoError(t, err)
	out := make(map[string]bool, len(tasks))
	for _, task := range tasks {
		out[task.ID] = true
	}
	return out
}

func TestInsertFeatureAutoDetectAnchorsEveryTask(t *testing.T) {
	b := seededProjectBoard()
	existing := preexistingIDs(b, t)
	p := newPlanner(t, b, ai.Disabled())

	res, err := p.InsertFeature(context.Background(), notifyFeature, "auto_detect")
	require.NoError(t, err)

	assert.Equal(t, "heuristic", res.Source)
	assert.GreaterOrEqual(t, res.TasksCreated, 3)
	assert.LessOrEqual(t, res.TasksCreated, 6)
	assert.Empty(t, res.MissingTasks)
	require.NotEmpty(t, res.IntegrationPoints)
	for _, id := range res.IntegrationPoints {
		assert.True(t, existing[id], "integration point %s must be a pre-existing task", id)
	}

	require.Len(t, res.TaskIDs, res.TasksCreated)
	for _, id := range res.TaskIDs {
		task, ok := b.Task(id)
		require.True(t, ok)
		anchored := false
		for _, dep := range task.Dependencies {
			if existing[dep] {
				anchored = true
				break
			}
		}
		assert.True(t, anchored, "task %q must depend on a pre-existing task", task.Title)
		assert.Contains(t, task.Labels, "component:api", "description names the api component")
	}
}

func TestInsertFeatureAfterCurrentFollowsInProgressWork(t *testing.T) {
	b := seededProjectBoard()
	p := newPlanner(t, b, ai.Disabled())

	res, err := p.InsertFeature(context.Background(), notifyFeature, "after_current")
	require.NoError(t, err)

	assert.Equal(t, []string{"task-004"}, res.IntegrationPoints)

	var design domain.Task
	for _, id := range res.TaskIDs {
		task, ok := b.Task(id)
		require.True(t, ok)
		if strings.HasPrefix(task.Title, "Design ") {
			design = task
		}
	}
	require.NotEmpty(t, design.ID, "heuristic plan starts with a design task")
	assert.Contains(t, design.Dependencies, "task-004")
}

func TestInsertFeatureAfterCurrentFallsBackToLatestTask(t *testing.T) {
	b := memory.NewSeeded(
		domain.Task{ID: "task-001", Title: "Implement auth sessions", Status: domain.StatusDone},
		domain.Task{ID: "task-002", Title: "Implement REST api endpoints", Status: domain.StatusDone},
	)
	p := newPlanner(t, b, ai.Disabled())

	res, err := p.InsertFeature(context.Background(), notifyFeature, "after_current")
	require.NoError(t, err)
	assert.Equal(t, []string{"task-002"}, res.IntegrationPoints)
}

func TestInsertFeatureParallelStaysIndependent(t *testing.T) {
	b := seededProjectBoard()
	existing := preexistingIDs(b, t)
	p := newPlanner(t, b, ai.Disabled())

	res, err := p.InsertFeature(context.Background(), notifyFeature, "parallel")
	require.NoError(t, err)

	assert.Empty(t, res.IntegrationPoints)
	for _, id := range res.TaskIDs {
		task, ok := b.Task(id)
		require.True(t, ok)
		for _, dep := range task.Dependencies {
			assert.False(t, existing[dep], "parallel insertion must not depend on existing work")
		}
	}
}

func TestInsertFeatureNewPhaseLabelsAndOrders(t *testing.T) {
	b := seededProjectBoard()
	p := newPlanner(t, b, ai.Disabled())

	res, err := p.InsertFeature(context.Background(), notifyFeature, "new_phase")
	require.NoError(t, err)

	// task-006 is the latest task in the board's terminal phase (testing).
	assert.Equal(t, []string{"task-006"}, res.IntegrationPoints)

	slugLabel := domain.LabelPhasePrefix + featureSlug(notifyFeature)
	for _, id := range res.TaskIDs {
		task, ok := b.Task(id)
		require.True(t, ok)
		assert.Contains(t, task.Labels, slugLabel)
		assert.Equal(t, featureSlug(notifyFeature), task.EffectivePhase())
	}
}

func TestInsertFeatureUsesAIPlanWhenAvailable(t *testing.T) {
	b := seededProjectBoard()
	client := mock.New()
	client.PlanResult = &ai.TaskPlan{
		Tasks: []ai.PlannedTask{
			{LocalID: "n1", Title: "Design notification fanout", Phase: domain.PhaseDesign,
				Labels: []string{"component:api"}},
			{LocalID: "n2", Title: "Implement notification sender", Phase: domain.PhaseImplementation,
				Labels: []string{"component:api"}, DependsOn: []string{"n1"}},
			{LocalID: "n3", Title: "Verify notification delivery", Phase: domain.PhaseTesting,
				Labels: []string{"component:api"}, DependsOn: []string{"n2"}},
		},
		Phases:        []string{"design", "implementation", "testing"},
		EstimatedDays: 2,
	}
	p := newPlanner(t, b, client)

	res, err := p.InsertFeature(context.Background(), notifyFeature, "auto_detect")
	require.NoError(t, err)

	assert.Equal(t, "ai", res.Source)
	assert.InDelta(t, 0.75, res.Confidence, 1e-9)
	assert.Equal(t, 3, res.TasksCreated)

	slug := featureSlug(notifyFeature)
	for _, id := range res.TaskIDs {
		task, ok := b.Task(id)
		require.True(t, ok)
		assert.Contains(t, task.Labels, "feature:"+slug)
	}
}

func TestInsertFeatureFallsBackWhenAIPlanTooSmall(t *testing.T) {
	// The unscripted mock plans one setup task plus one per feature,
	// which is below the minimum feature plan size.
	b := seededProjectBoard()
	p := newPlanner(t, b, mock.New())

	res, err := p.InsertFeature(context.Background(), notifyFeature, "auto_detect")
	require.NoError(t, err)
	assert.Equal(t, "heuristic", res.Source)
	assert.Equal(t, 4, res.TasksCreated)
}

func TestInsertFeatureRefusesEmptyBoard(t *testing.T) {
	p := newPlanner(t, memory.New(), ai.Disabled())

	_, err := p.InsertFeature(context.Background(), notifyFeature, "auto_detect")
	require.Error(t, err)
	assert.True(t, errs.IsPermanent(err))
}

func TestInsertFeatureRejectsUnknownIntegrationPoint(t *testing.T) {
	p := newPlanner(t, seededProjectBoard(), ai.Disabled())

	_, err := p.InsertFeature(context.Background(), notifyFeature, "sideways")
	require.Error(t, err)
	assert.True(t, errs.IsPermanent(err))
}

func TestParseIntegrationPointDefaultsToAutoDetect(t *testing.T) {
	got, err := ParseIntegrationPoint("")
	require.NoError(t, err)
	assert.Equal(t, IntegrationAutoDetect, got)
}
