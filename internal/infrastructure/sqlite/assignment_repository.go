package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zjrosen/foreman/internal/domain"
	"github.com/zjrosen/foreman/internal/errs"
	"github.com/zjrosen/foreman/internal/ledger"
	"github.com/zjrosen/foreman/internal/log"
)

// assignmentColumns is the canonical column list for assignment queries.
const assignmentColumns = `agent_id, task_id, lease_id, assigned_at, agent_snapshot`

// AssignmentRepository is the durable ledger. Lease ids come from a
// single-row sequence bumped inside the insert transaction, which makes
// commits totally ordered: concurrent inserts serialize on the write
// lock, and the loser of a duplicate-task race sees the unique task
// index populated.
type AssignmentRepository struct {
	db *DB
}

// NewAssignmentRepository wires the repository to an open database.
func NewAssignmentRepository(db *DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

func (r *AssignmentRepository) Insert(ctx context.Context, agent domain.Agent, taskID string, at time.Time) (ledger.Entry, error) {
	tx, err := r.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("begin insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// The sequence bump takes the write lock up front, so the index
	// checks below cannot race another writer.
	var leaseID int64
	err = tx.QueryRowContext(ctx,
		`UPDATE lease_seq SET value = value + 1 WHERE id = 1 RETURNING value`,
	).Scan(&leaseID)
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("bump lease sequence: %w", err)
	}

	var held int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM assignments WHERE agent_id = ?`, agent.ID,
	).Scan(&held)
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("check agent index: %w", err)
	}
	if held > 0 {
		return ledger.Entry{}, ledger.ErrAgentHolds
	}

	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM assignments WHERE task_id = ?`, taskID,
	).Scan(&held)
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("check task index: %w", err)
	}
	if held > 0 {
		return ledger.Entry{}, ledger.ErrTaskHeld
	}

	snapshot, err := json.Marshal(agent)
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("encode agent snapshot: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO assignments (`+assignmentColumns+`) VALUES (?, ?, ?, ?, ?)`,
		agent.ID, taskID, leaseID, at.Unix(), snapshot,
	)
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("insert assignment: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return ledger.Entry{}, fmt.Errorf("commit insert: %w", err)
	}

	return ledger.Entry{
		Assignment: domain.Assignment{
			AgentID:    agent.ID,
			TaskID:     taskID,
			LeaseID:    leaseID,
			AssignedAt: time.Unix(at.Unix(), 0),
		},
		Agent: agent,
	}, nil
}

func (r *AssignmentRepository) Remove(ctx context.Context, agentID, taskID string) error {
	res, err := r.db.conn.ExecContext(ctx,
		`DELETE FROM assignments WHERE agent_id = ? AND task_id = ?`, agentID, taskID)
	if err != nil {
		return fmt.Errorf("remove assignment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove assignment: %w", err)
	}
	if n == 0 {
		return &errs.NoSuchAssignmentError{AgentID: agentID, TaskID: taskID}
	}
	return nil
}

func (r *AssignmentRepository) GetByAgent(ctx context.Context, agentID string) (ledger.Entry, bool, error) {
	row := r.db.conn.QueryRowContext(ctx,
		`SELECT `+assignmentColumns+` FROM assignments WHERE agent_id = ?`, agentID)
	return r.scanOne(ctx, row)
}

func (r *AssignmentRepository) GetByTask(ctx context.Context, taskID string) (ledger.Entry, bool, error) {
	row := r.db.conn.QueryRowContext(ctx,
		`SELECT `+assignmentColumns+` FROM assignments WHERE task_id = ?`, taskID)
	return r.scanOne(ctx, row)
}

func (r *AssignmentRepository) scanOne(ctx context.Context, row *sql.Row) (ledger.Entry, bool, error) {
	e, err := scanAssignment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Entry{}, false, nil
	}
	if err != nil {
		return ledger.Entry{}, false, err
	}
	return e, true, nil
}

// List returns all live entries ordered by lease id. Rows that fail to
// decode are logged, deleted, and skipped: a corrupt row must never
// block startup recovery or a sweep.
func (r *AssignmentRepository) List(ctx context.Context) ([]ledger.Entry, error) {
	rows, err := r.db.conn.QueryContext(ctx,
		`SELECT `+assignmentColumns+` FROM assignments ORDER BY lease_id`)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []ledger.Entry
	var corrupt []string
	for rows.Next() {
		e, err := scanAssignment(rows)
		if err != nil {
			log.ErrorErr(log.CatLedger, "Dropping corrupt assignment row", err)
			if e.AgentID != "" {
				corrupt = append(corrupt, e.AgentID)
			}
			continue
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}

	for _, agentID := range corrupt {
		if _, err := r.db.conn.ExecContext(ctx,
			`DELETE FROM assignments WHERE agent_id = ?`, agentID); err != nil {
			log.ErrorErr(log.CatLedger, "Corrupt row delete failed", err, "agent", agentID)
		}
	}
	return entries, nil
}

func (r *AssignmentRepository) ExpireOlderThan(ctx context.Context, age time.Duration) ([]ledger.Entry, error) {
	cutoff := time.Now().Add(-age).Unix()

	tx, err := r.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin expire: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		`SELECT `+assignmentColumns+` FROM assignments WHERE assigned_at < ? ORDER BY lease_id`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("select expired: %w", err)
	}
	var expired []ledger.Entry
	for rows.Next() {
		e, err := scanAssignment(rows)
		if err != nil {
			log.ErrorErr(log.CatLedger, "Dropping corrupt assignment row during expiry", err)
			continue
		}
		expired = append(expired, e)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("select expired: %w", err)
	}
	_ = rows.Close()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM assignments WHERE assigned_at < ?`, cutoff); err != nil {
		return nil, fmt.Errorf("delete expired: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit expire: %w", err)
	}
	return expired, nil
}

// scanAssignment decodes one assignment row. On a snapshot decode
// failure the partially-filled entry is returned alongside the error so
// the caller can identify the row for deletion.
func scanAssignment(scanner interface{ Scan(...any) error }) (ledger.Entry, error) {
	var (
		e          ledger.Entry
		assignedAt int64
		snapshot   []byte
	)
	if err := scanner.Scan(&e.AgentID, &e.TaskID, &e.LeaseID, &assignedAt, &snapshot); err != nil {
		return ledger.Entry{}, err
	}
	e.AssignedAt = time.Unix(assignedAt, 0)
	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, &e.Agent); err != nil {
			return e, fmt.Errorf("decode agent snapshot for %s: %w", e.AgentID, err)
		}
	}
	if e.Agent.ID == "" {
		e.Agent.ID = e.AgentID
	}
	return e, nil
}

var _ ledger.Ledger = (*AssignmentRepository)(nil)
