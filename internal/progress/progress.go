// Package progress handles agent status reports: completion, blockers,
// and incremental updates. Every report is validated against the live
// ledger; reports for pairs the ledger does not hold are rejected so a
// crashed or superseded agent can never move tasks it no longer owns.
package progress

import (
	"context"
	"fmt"
	"strings"

	"github.com/zjrosen/foreman/internal/ai"
	"github.com/zjrosen/foreman/internal/board"
	"github.com/zjrosen/foreman/internal/domain"
	"github.com/zjrosen/foreman/internal/errs"
	"github.com/zjrosen/foreman/internal/ledger"
	"github.com/zjrosen/foreman/internal/log"
)

// ReportStatus is the agent-facing status vocabulary. It is narrower
// than board status: agents report how their work went, not where the
// card sits.
type ReportStatus string

const (
	ReportInProgress ReportStatus = "in_progress"
	ReportCompleted  ReportStatus = "completed"
	ReportBlocked    ReportStatus = "blocked"
)

// ParseReportStatus validates an agent-reported status.
func ParseReportStatus(s string) (ReportStatus, error) {
	switch ReportStatus(s) {
	case ReportInProgress, ReportCompleted, ReportBlocked:
		return ReportStatus(s), nil
	default:
		return "", &errs.InvalidStatusError{Status: s}
	}
}

// Blocker severities.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// ParseSeverity validates a blocker severity. Empty defaults to medium.
func ParseSeverity(s string) (string, error) {
	switch s {
	case "":
		return SeverityMedium, nil
	case SeverityLow, SeverityMedium, SeverityHigh:
		return s, nil
	default:
		return "", errs.Permanent("parse severity",
			fmt.Errorf("severity must be low, medium, or high; got %q", s))
	}
}

// Ack is the tracker's answer to a report.
type Ack struct {
	AgentID   string       `json:"agent_id"`
	TaskID    string       `json:"task_id"`
	Status    ReportStatus `json:"status"`
	Duplicate bool         `json:"duplicate,omitempty"`
	Released  bool         `json:"released,omitempty"`

	// Suggestion is set for blocked reports.
	Suggestion *ai.BlockerSuggestion `json:"suggestion,omitempty"`
}

// Tracker applies progress and blocker reports to the board and ledger.
type Tracker struct {
	board  board.Client
	ledger ledger.Ledger
	ai     ai.Client
}

// New wires a tracker.
func New(b board.Client, l ledger.Ledger, client ai.Client) *Tracker {
	return &Tracker{board: b, ledger: l, ai: client}
}

// ReportProgress processes one status report for the (agent, task) pair.
// The pair must hold a live assignment, with one exception: a completed
// report for a task this agent already completed is acknowledged
// silently, so an agent that crashed between completion and the
// acknowledgment can settle its state by repeating the report.
func (t *Tracker) ReportProgress(ctx context.Context, agentID, taskID string, status ReportStatus, percent int, message string) (Ack, error) {
	if percent < 0 || percent > 100 {
		return Ack{}, errs.Permanent("report progress",
			fmt.Errorf("progress must be between 0 and 100, got %d", percent))
	}

	entry, held, err := t.ledger.GetByAgent(ctx, agentID)
	if err != nil {
		return Ack{}, err
	}
	if !held || entry.TaskID != taskID {
		if status == ReportCompleted {
			if dup, derr := t.alreadyCompleted(ctx, agentID, taskID); derr != nil {
				return Ack{}, derr
			} else if dup {
				log.Debug(log.CatProgress, "Duplicate completion acknowledged",
					"agent", agentID, "task", taskID)
				return Ack{AgentID: agentID, TaskID: taskID, Status: status, Duplicate: true}, nil
			}
		}
		return Ack{}, &errs.NoSuchAssignmentError{AgentID: agentID, TaskID: taskID}
	}

	switch status {
	case ReportCompleted:
		return t.complete(ctx, agentID, taskID, percent, message)
	case ReportBlocked:
		return t.block(ctx, agentID, taskID, message, SeverityMedium)
	case ReportInProgress:
		comment := progressComment(percent, message)
		if err := t.board.AddComment(ctx, taskID, comment); err != nil {
			return Ack{}, err
		}
		log.Debug(log.CatProgress, "Progress noted",
			"agent", agentID, "task", taskID, "percent", percent)
		return Ack{AgentID: agentID, TaskID: taskID, Status: ReportInProgress}, nil
	default:
		return Ack{}, &errs.InvalidStatusError{Status: string(status)}
	}
}

// ReportBlocker records a blocker on a held task, releases the
// assignment, and returns resolution guidance. The board keeps the full
// story: the blocker comment lands on the task before its status flips.
func (t *Tracker) ReportBlocker(ctx context.Context, agentID, taskID, description, severity string) (Ack, error) {
	sev, err := ParseSeverity(severity)
	if err != nil {
		return Ack{}, err
	}
	if strings.TrimSpace(description) == "" {
		return Ack{}, errs.Permanent("report blocker", fmt.Errorf("blocker description is required"))
	}

	entry, held, err := t.ledger.GetByAgent(ctx, agentID)
	if err != nil {
		return Ack{}, err
	}
	if !held || entry.TaskID != taskID {
		return Ack{}, &errs.NoSuchAssignmentError{AgentID: agentID, TaskID: taskID}
	}

	ack, err := t.block(ctx, agentID, taskID, fmt.Sprintf("[%s] %s", sev, description), sev)
	if err != nil {
		return Ack{}, err
	}
	return ack, nil
}

// complete moves the task to done and releases the assignment. Board
// first: if the ledger removal fails the agent can repeat the report and
// land in the duplicate-completion path.
func (t *Tracker) complete(ctx context.Context, agentID, taskID string, percent int, message string) (Ack, error) {
	status := domain.StatusDone
	patch := domain.TaskPatch{Status: &status}
	if message != "" {
		patch.Comment = progressComment(percent, message)
	}
	if err := t.board.UpdateTask(ctx, taskID, patch); err != nil {
		return Ack{}, err
	}
	if err := t.ledger.Remove(ctx, agentID, taskID); err != nil {
		return Ack{}, err
	}
	log.Info(log.CatProgress, "Task completed", "agent", agentID, "task", taskID)
	return Ack{AgentID: agentID, TaskID: taskID, Status: ReportCompleted, Released: true}, nil
}

// block flips the task to blocked, releases the assignment, and asks for
// resolution guidance.
func (t *Tracker) block(ctx context.Context, agentID, taskID, comment, severity string) (Ack, error) {
	status := domain.StatusBlocked
	if err := t.board.UpdateTask(ctx, taskID, domain.TaskPatch{Status: &status, Comment: comment}); err != nil {
		return Ack{}, err
	}
	if err := t.ledger.Remove(ctx, agentID, taskID); err != nil {
		return Ack{}, err
	}

	suggestion := t.suggest(ctx, taskID, comment, severity)
	log.Info(log.CatProgress, "Task blocked",
		"agent", agentID, "task", taskID, "severity", severity)
	return Ack{
		AgentID:    agentID,
		TaskID:     taskID,
		Status:     ReportBlocked,
		Released:   true,
		Suggestion: &suggestion,
	}, nil
}

// suggest asks the reasoning backend for a way past the blocker and
// falls back to canned guidance when it is unavailable.
func (t *Tracker) suggest(ctx context.Context, taskID, description, severity string) ai.BlockerSuggestion {
	task := domain.Task{ID: taskID}
	if snap, err := board.Snapshot(ctx, t.board); err == nil {
		if full, ok := snap.Task(taskID); ok {
			task = full
		}
	}

	suggestion, err := t.ai.SuggestBlockerResolution(ctx, task, description, severity)
	if err == nil {
		return suggestion
	}
	if !errs.IsUnavailable(err) {
		log.Warn(log.CatProgress, "Blocker suggestion failed", "task", taskID, "error", err)
	}
	return CannedSuggestion(severity)
}

// CannedSuggestion is the deterministic fallback guidance used when the
// reasoning backend cannot serve.
func CannedSuggestion(severity string) ai.BlockerSuggestion {
	steps := []string{
		"Write down what was attempted and the exact failure on the task",
		"Check the task's dependencies for missing or incomplete outputs",
		"Pick up a different task while the blocker is triaged",
	}
	summary := "Blocker recorded; the task is released for triage."
	if severity == SeverityHigh {
		summary = "Blocker recorded; escalate to the project owner now."
		steps = append([]string{"Flag the project owner before continuing"}, steps...)
	}
	return ai.BlockerSuggestion{Summary: summary, Steps: steps}
}

// alreadyCompleted reports whether the task is done on the board with
// this agent as assignee, which is the fingerprint of a repeated
// completion report.
func (t *Tracker) alreadyCompleted(ctx context.Context, agentID, taskID string) (bool, error) {
	snap, err := board.Snapshot(ctx, t.board)
	if err != nil {
		return false, err
	}
	task, ok := snap.Task(taskID)
	if !ok {
		return false, nil
	}
	return task.Status == domain.StatusDone && task.Assignee == agentID, nil
}

func progressComment(percent int, message string) string {
	if message == "" {
		return fmt.Sprintf("progress %d%%", percent)
	}
	return fmt.Sprintf("progress %d%%: %s", percent, message)
}
