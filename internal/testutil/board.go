package testutil

import (
	"fmt"

	"github.com/zjrosen/foreman/internal/domain"
)

// BacklogTasks returns n unassigned todo tasks with sequential board
// ids (task-001, task-002, ...). For tests that care how many
// candidates exist, not what they say.
func BacklogTasks(n int) []domain.Task {
	tasks := make([]domain.Task, n)
	for i := range tasks {
		tasks[i] = domain.Task{
			ID:     fmt.Sprintf("task-%03d", i+1),
			Title:  fmt.Sprintf("Backlog item %d", i+1),
			Status: domain.StatusTodo,
		}
	}
	return tasks
}

// ProjectTasks returns a small planned project laid out the way the
// planner publishes one: phased, estimated, skill-labelled, with
// dependencies running setup through deployment.
func ProjectTasks() []domain.Task {
	return []domain.Task{
		{
			ID:             "task-001",
			Title:          "Design the bookmark schema",
			Description:    "Tables for bookmarks, tags, and the bookmark-tag join.",
			Status:         domain.StatusTodo,
			Labels:         []string{"project:bookmarks", "component:storage", "skill:sql"},
			Priority:       domain.PriorityHigh,
			EstimatedHours: 2,
			Phase:          domain.PhaseSetup,
		},
		{
			ID:             "task-002",
			Title:          "Implement bookmark CRUD endpoints",
			Description:    "REST handlers for create, list, update, and delete.",
			Status:         domain.StatusTodo,
			Labels:         []string{"project:bookmarks", "component:api", "skill:go"},
			Priority:       domain.PriorityHigh,
			EstimatedHours: 4,
			Dependencies:   []string{"task-001"},
			Phase:          domain.PhaseImplementation,
		},
		{
			ID:             "task-003",
			Title:          "Implement tag filtering",
			Description:    "Filter the bookmark list by one or more tags.",
			Status:         domain.StatusTodo,
			Labels:         []string{"project:bookmarks", "component:api", "skill:go"},
			Priority:       domain.PriorityMedium,
			EstimatedHours: 3,
			Dependencies:   []string{"task-001"},
			Phase:          domain.PhaseImplementation,
		},
		{
			ID:             "task-004",
			Title:          "Write API integration tests",
			Description:    "Cover the endpoint surface against a seeded store.",
			Status:         domain.StatusTodo,
			Labels:         []string{"project:bookmarks", "component:api", "skill:go"},
			Priority:       domain.PriorityMedium,
			EstimatedHours: 3,
			Dependencies:   []string{"task-002", "task-003"},
			Phase:          domain.PhaseTesting,
		},
		{
			ID:             "task-005",
			Title:          "Deploy behind the reverse proxy",
			Description:    "Container image, health check, and proxy route.",
			Status:         domain.StatusTodo,
			Labels:         []string{"project:bookmarks", "component:infra", "skill:docker"},
			Priority:       domain.PriorityLow,
			EstimatedHours: 2,
			Dependencies:   []string{"task-004"},
			Phase:          domain.PhaseDeployment,
		},
	}
}
