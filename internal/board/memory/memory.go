// Package memory implements an in-process board provider backing tests
// and ephemeral runs. Task truth lives in a mutex-guarded map; ids are
// sequential so assertions stay readable.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zjrosen/foreman/internal/board"
	"github.com/zjrosen/foreman/internal/domain"
	"github.com/zjrosen/foreman/internal/errs"
)

func init() {
	board.Register(board.ProviderMemory, func(board.Options) (board.Client, error) {
		return New(), nil
	})
}

// Comment is one entry in a task's discussion stream.
type Comment struct {
	Text string
	At   time.Time
}

// Board is the in-memory provider. Safe for concurrent use.
type Board struct {
	mu       sync.RWMutex
	seq      int
	tasks    map[string]domain.Task
	order    []string
	comments map[string][]Comment
	failures map[string][]error
}

// New returns an empty board.
func New() *Board {
	return &Board{
		tasks:    make(map[string]domain.Task),
		comments: make(map[string][]Comment),
		failures: make(map[string][]error),
	}
}

// NewSeeded returns a board pre-populated with tasks. Tasks without ids
// get sequential ones; existing ids are kept so fixtures can wire
// dependencies by hand.
func NewSeeded(tasks ...domain.Task) *Board {
	b := New()
	for _, t := range tasks {
		b.Seed(t)
	}
	return b
}

// Seed inserts a task directly, bypassing spec validation. Test helper.
func (b *Board) Seed(t domain.Task) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t.ID == "" {
		b.seq++
		t.ID = fmt.Sprintf("task-%03d", b.seq)
	}
	if t.Status == "" {
		t.Status = domain.StatusTodo
	}
	if t.Priority == "" {
		t.Priority = domain.PriorityMedium
	}
	t.Labels = domain.NormalizeLabels(t.Labels)
	b.tasks[t.ID] = cloneTask(t)
	b.order = append(b.order, t.ID)
	return t.ID
}

// FailNext queues err for the next call to op. Ops: list, create,
// update, comment, move. Multiple calls queue in FIFO order, which lets
// tests script a transient failure followed by success.
func (b *Board) FailNext(op string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[op] = append(b.failures[op], err)
}

func (b *Board) popFailure(op string) error {
	q := b.failures[op]
	if len(q) == 0 {
		return nil
	}
	err := q[0]
	b.failures[op] = q[1:]
	return err
}

// ListTasks returns every task in creation order.
func (b *Board) ListTasks(ctx context.Context) ([]domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Transient("board.list", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.popFailure("list"); err != nil {
		return nil, err
	}
	out := make([]domain.Task, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, cloneTask(b.tasks[id]))
	}
	return out, nil
}

// CreateTask validates the spec, assigns the next id, and stores the task.
func (b *Board) CreateTask(ctx context.Context, spec domain.TaskSpec) (domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return domain.Task{}, errs.Transient("board.create", err)
	}
	if err := spec.Validate(); err != nil {
		return domain.Task{}, errs.Permanent("board.create", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.popFailure("create"); err != nil {
		return domain.Task{}, err
	}
	b.seq++
	t := domain.Task{
		ID:             fmt.Sprintf("task-%03d", b.seq),
		Title:          spec.Title,
		Description:    spec.Description,
		Status:         domain.StatusTodo,
		Labels:         domain.NormalizeLabels(spec.Labels),
		Priority:       spec.Priority,
		EstimatedHours: spec.EstimatedHours,
		Dependencies:   append([]string(nil), spec.Dependencies...),
		Phase:          spec.Phase,
	}
	if t.Priority == "" {
		t.Priority = domain.PriorityMedium
	}
	b.tasks[t.ID] = cloneTask(t)
	b.order = append(b.order, t.ID)
	return t, nil
}

// UpdateTask applies the patch to an existing task.
func (b *Board) UpdateTask(ctx context.Context, taskID string, patch domain.TaskPatch) error {
	if err := ctx.Err(); err != nil {
		return errs.Transient("board.update", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.popFailure("update"); err != nil {
		return err
	}
	t, ok := b.tasks[taskID]
	if !ok {
		return errs.NotFound("task", taskID)
	}
	if patch.Status != nil {
		t.Status = *patch.Status
	}
	if patch.Assignee != nil {
		t.Assignee = *patch.Assignee
	}
	if patch.Labels != nil {
		t.Labels = domain.NormalizeLabels(*patch.Labels)
	}
	if patch.Priority != nil {
		t.Priority = *patch.Priority
	}
	if patch.Comment != "" {
		b.comments[taskID] = append(b.comments[taskID], Comment{Text: patch.Comment, At: time.Now()})
	}
	b.tasks[taskID] = t
	return nil
}

// AddComment appends to the task's discussion.
func (b *Board) AddComment(ctx context.Context, taskID, text string) error {
	if err := ctx.Err(); err != nil {
		return errs.Transient("board.comment", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.popFailure("comment"); err != nil {
		return err
	}
	if _, ok := b.tasks[taskID]; !ok {
		return errs.NotFound("task", taskID)
	}
	b.comments[taskID] = append(b.comments[taskID], Comment{Text: text, At: time.Now()})
	return nil
}

// MoveTask maps the canonical column names onto status transitions.
func (b *Board) MoveTask(ctx context.Context, taskID, column string) error {
	if err := ctx.Err(); err != nil {
		return errs.Transient("board.move", err)
	}
	status, err := domain.ParseStatus(column)
	if err != nil {
		return errs.Permanent("board.move", fmt.Errorf("unknown column %q", column))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.popFailure("move"); err != nil {
		return err
	}
	t, ok := b.tasks[taskID]
	if !ok {
		return errs.NotFound("task", taskID)
	}
	t.Status = status
	b.tasks[taskID] = t
	return nil
}

// Comments returns the discussion stream for a task. Test helper.
func (b *Board) Comments(taskID string) []Comment {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Comment(nil), b.comments[taskID]...)
}

// Task returns a copy of the stored task. Test helper.
func (b *Board) Task(taskID string) (domain.Task, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.tasks[taskID]
	if !ok {
		return domain.Task{}, false
	}
	return cloneTask(t), true
}

// Len returns the number of stored tasks.
func (b *Board) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.tasks)
}

func cloneTask(t domain.Task) domain.Task {
	t.Labels = append([]string(nil), t.Labels...)
	t.Dependencies = append([]string(nil), t.Dependencies...)
	return t
}

var _ board.Client = (*Board)(nil)
