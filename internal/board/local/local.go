// Package local implements the self-hosted board provider: a single
// SQLite file holding tasks, labels, dependencies, and comments. The
// file is owned by foreman but shaped for outside inspection, so
// humans (and the file watcher) can follow along.
package local

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zjrosen/foreman/internal/board"
	"github.com/zjrosen/foreman/internal/domain"
	"github.com/zjrosen/foreman/internal/errs"
	"github.com/zjrosen/foreman/internal/infrastructure/sqlite"
	"github.com/zjrosen/foreman/internal/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func init() {
	board.Register(board.ProviderLocal, func(opts board.Options) (board.Client, error) {
		if opts.Path == "" {
			return nil, fmt.Errorf("local board: board.path is required")
		}
		return Open(opts.Path)
	})
}

// Board is the SQLite-file provider.
type Board struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the board file and migrates its schema.
func Open(path string) (*Board, error) {
	db, err := sqlite.Open(path, migrationsFS)
	if err != nil {
		return nil, fmt.Errorf("local board: %w", err)
	}
	log.Info(log.CatBoard, "Local board ready", "path", path)
	return &Board{db: db, path: path}, nil
}

// Close closes the board file.
func (b *Board) Close() error { return b.db.Close() }

// Path returns the board file location, used by the file watcher.
func (b *Board) Path() string { return b.path }

const taskColumns = `t.id, t.title, t.description, t.status, t.priority, t.assignee, t.estimated_hours, t.phase`

// listQuery aggregates labels and dependencies per task the way the
// beads schema does, one GROUP_CONCAT subquery each.
const listQuery = `
	SELECT ` + taskColumns + `,
		COALESCE((
			SELECT GROUP_CONCAT(l.label)
			FROM labels l
			WHERE l.task_id = t.id
		), '') AS labels,
		COALESCE((
			SELECT GROUP_CONCAT(d.depends_on_id)
			FROM dependencies d
			WHERE d.task_id = t.id
		), '') AS dependencies
	FROM tasks t`

func (b *Board) ListTasks(ctx context.Context) ([]domain.Task, error) {
	rows, err := b.db.QueryContext(ctx, listQuery+` ORDER BY t.created_at, t.id`)
	if err != nil {
		return nil, errs.Transient("board.list", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, errs.Permanent("board.list", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Transient("board.list", err)
	}
	return tasks, nil
}

func (b *Board) CreateTask(ctx context.Context, spec domain.TaskSpec) (domain.Task, error) {
	if err := spec.Validate(); err != nil {
		return domain.Task{}, errs.Permanent("board.create", err)
	}

	t := domain.Task{
		ID:             uuid.NewString(),
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

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, errs.Transient("board.create", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().Unix()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO tasks (id, title, description, status, priority, assignee, estimated_hours, phase, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, '', ?, ?, ?, ?)`,
		t.ID, t.Title, t.Description, string(t.Status), string(t.Priority), t.EstimatedHours, t.Phase, now, now)
	if err != nil {
		return domain.Task{}, errs.Transient("board.create", err)
	}
	for _, label := range t.Labels {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO labels (task_id, label) VALUES (?, ?)`, t.ID, label); err != nil {
			return domain.Task{}, errs.Transient("board.create", err)
		}
	}
	for _, dep := range t.Dependencies {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO dependencies (task_id, depends_on_id) VALUES (?, ?)`, t.ID, dep); err != nil {
			return domain.Task{}, errs.Transient("board.create", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, errs.Transient("board.create", err)
	}
	return t, nil
}

func (b *Board) UpdateTask(ctx context.Context, taskID string, patch domain.TaskPatch) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Transient("board.update", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := taskExists(ctx, tx, taskID); err != nil {
		return err
	}

	now := time.Now().Unix()
	var sets []string
	var args []any
	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if patch.Assignee != nil {
		sets = append(sets, "assignee = ?")
		args = append(args, *patch.Assignee)
	}
	if patch.Priority != nil {
		sets = append(sets, "priority = ?")
		args = append(args, string(*patch.Priority))
	}
	if len(sets) > 0 {
		sets = append(sets, "updated_at = ?")
		args = append(args, now, taskID)
		//nolint:gosec // G202: sets holds literal column assignments, values ride as args
		query := "UPDATE tasks SET " + strings.Join(sets, ", ") + " WHERE id = ?"
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return errs.Transient("board.update", err)
		}
	}
	if patch.Labels != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM labels WHERE task_id = ?`, taskID); err != nil {
			return errs.Transient("board.update", err)
		}
		for _, label := range domain.NormalizeLabels(*patch.Labels) {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO labels (task_id, label) VALUES (?, ?)`, taskID, label); err != nil {
				return errs.Transient("board.update", err)
			}
		}
	}
	if patch.Comment != "" {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO comments (task_id, body, created_at) VALUES (?, ?, ?)`,
			taskID, patch.Comment, now); err != nil {
			return errs.Transient("board.update", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errs.Transient("board.update", err)
	}
	return nil
}

func (b *Board) AddComment(ctx context.Context, taskID, text string) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Transient("board.comment", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := taskExists(ctx, tx, taskID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO comments (task_id, body, created_at) VALUES (?, ?, ?)`,
		taskID, text, time.Now().Unix()); err != nil {
		return errs.Transient("board.comment", err)
	}
	if err := tx.Commit(); err != nil {
		return errs.Transient("board.comment", err)
	}
	return nil
}

func (b *Board) MoveTask(ctx context.Context, taskID, column string) error {
	status, err := domain.ParseStatus(column)
	if err != nil {
		return errs.Permanent("board.move", fmt.Errorf("unknown column %q", column))
	}
	s := status
	return b.UpdateTask(ctx, taskID, domain.TaskPatch{Status: &s})
}

// Comments returns the discussion stream for a task, oldest first.
func (b *Board) Comments(ctx context.Context, taskID string) ([]string, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT body FROM comments WHERE task_id = ? ORDER BY id`, taskID)
	if err != nil {
		return nil, errs.Transient("board.comments", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, errs.Permanent("board.comments", err)
		}
		out = append(out, body)
	}
	return out, rows.Err()
}

func taskExists(ctx context.Context, tx *sql.Tx, taskID string) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?`, taskID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return errs.NotFound("task", taskID)
	}
	if err != nil {
		return errs.Transient("board.lookup", err)
	}
	return nil
}

func scanTask(scanner interface{ Scan(...any) error }) (domain.Task, error) {
	var (
		t               domain.Task
		status          string
		priority        string
		labelsCSV       string
		dependenciesCSV string
	)
	if err := scanner.Scan(&t.ID, &t.Title, &t.Description, &status, &priority,
		&t.Assignee, &t.EstimatedHours, &t.Phase, &labelsCSV, &dependenciesCSV); err != nil {
		return domain.Task{}, err
	}
	t.Status = domain.Status(status)
	t.Priority = domain.Priority(priority)
	if labelsCSV != "" {
		t.Labels = domain.NormalizeLabels(strings.Split(labelsCSV, ","))
	}
	if dependenciesCSV != "" {
		t.Dependencies = strings.Split(dependenciesCSV, ",")
	}
	return t, nil
}

var _ board.Client = (*Board)(nil)
