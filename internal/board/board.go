// Package board abstracts the external task board behind a small client
// interface. The board owns task truth: the coordinator reads fresh state
// per decision and writes through the client, never caching task state
// beyond a single snapshot.
//
// Providers self-register in init() and are selected by the board.provider
// configuration key. Every client method fails with an error classifiable
// by the errs package: transient failures are retried by the WithRetry
// decorator, permanent ones surface to the caller.
package board

import (
	"context"

	"github.com/zjrosen/foreman/internal/domain"
)

// Client is the capability set the coordinator consumes from a provider.
type Client interface {
	// ListTasks returns every task on the active board.
	ListTasks(ctx context.Context) ([]domain.Task, error)

	// CreateTask publishes a new task and returns it with the
	// board-assigned id filled in.
	CreateTask(ctx context.Context, spec domain.TaskSpec) (domain.Task, error)

	// UpdateTask applies a partial update to an existing task.
	UpdateTask(ctx context.Context, taskID string, patch domain.TaskPatch) error

	// AddComment appends a comment to the task's discussion.
	AddComment(ctx context.Context, taskID, text string) error

	// MoveTask moves the task to the named column. Best effort:
	// providers without columns map the canonical column names
	// (todo, in_progress, blocked, done) onto status transitions.
	MoveTask(ctx context.Context, taskID, column string) error
}

// Snapshot captures the board into an immutable ProjectSnapshot.
func Snapshot(ctx context.Context, c Client) (*domain.ProjectSnapshot, error) {
	tasks, err := c.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	return domain.NewSnapshot(tasks), nil
}
