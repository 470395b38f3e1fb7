package coordinator

import (
	"context"
	"fmt"

	"github.com/zjrosen/foreman/internal/board"
	"github.com/zjrosen/foreman/internal/domain"
	"github.com/zjrosen/foreman/internal/events"
	"github.com/zjrosen/foreman/internal/ledger"
	"github.com/zjrosen/foreman/internal/log"
)

// RecoveryReport summarizes startup reconciliation.
type RecoveryReport struct {
	Restored int      `json:"restored"`
	Dropped  int      `json:"dropped"`
	Agents   []string `json:"agents,omitempty"`
}

// Recover reconciles the ledger against the board after a restart. It
// must finish before the tool surface accepts connections.
//
// Every held lease is cross-checked: a task that is gone, no longer
// in_progress, or assigned to a different agent invalidates its entry.
// Survivors re-seat their agents from the ledger's snapshots so the
// workers can resume by re-reporting progress. Bad rows are logged and
// dropped; they never block startup.
func (c *Coordinator) Recover(ctx context.Context) (RecoveryReport, error) {
	entries, err := c.ledger.List(ctx)
	if err != nil {
		return RecoveryReport{}, err
	}
	if len(entries) == 0 {
		log.Info(log.CatCoord, "Recovery found no outstanding assignments")
		c.publish(events.TypeRecoveryCompleted, "", "", "0 restored, 0 dropped")
		return RecoveryReport{}, nil
	}

	snap, err := board.Snapshot(ctx, c.board)
	if err != nil {
		return RecoveryReport{}, err
	}

	var report RecoveryReport
	for _, e := range entries {
		if reason, ok := c.survives(snap, e); !ok {
			c.dropEntry(ctx, e, reason)
			report.Dropped++
			continue
		}
		c.reseat(e)
		report.Restored++
		report.Agents = append(report.Agents, e.AgentID)
	}

	detail := fmt.Sprintf("%d restored, %d dropped", report.Restored, report.Dropped)
	log.Info(log.CatCoord, "Recovery completed",
		"restored", report.Restored, "dropped", report.Dropped)
	c.publish(events.TypeRecoveryCompleted, "", "", detail)
	return report, nil
}

// survives decides whether a ledger entry still reflects board reality.
func (c *Coordinator) survives(snap *domain.ProjectSnapshot, e ledger.Entry) (string, bool) {
	if e.AgentID == "" || e.TaskID == "" {
		return "corrupt entry", false
	}
	task, ok := snap.Task(e.TaskID)
	if !ok {
		return "task missing from board", false
	}
	if task.Status != domain.StatusInProgress {
		return fmt.Sprintf("task status is %s", task.Status), false
	}
	if task.Assignee != "" && task.Assignee != e.AgentID {
		return fmt.Sprintf("task assigned to %s", task.Assignee), false
	}
	return "", true
}

func (c *Coordinator) dropEntry(ctx context.Context, e ledger.Entry, reason string) {
	log.Warn(log.CatCoord, "Recovery dropped stale assignment",
		"agent", e.AgentID, "task", e.TaskID, "reason", reason)
	if e.AgentID == "" || e.TaskID == "" {
		return
	}
	if err := c.ledger.Remove(ctx, e.AgentID, e.TaskID); err != nil {
		log.ErrorErr(log.CatCoord, "Recovery remove failed", err,
			"agent", e.AgentID, "task", e.TaskID)
	}
}

// reseat restores the agent session from the snapshot captured at
// assignment time. LastSeen resets to now so the returning worker gets a
// full staleness window to reconnect.
func (c *Coordinator) reseat(e ledger.Entry) {
	agent := e.Agent
	if agent.ID == "" {
		agent.ID = e.AgentID
	}
	agent.CurrentTask = e.TaskID
	agent.LastSeen = c.now()

	c.mu.Lock()
	if c.agents == nil {
		c.agents = make(map[string]*session)
	}
	c.agents[agent.ID] = &session{agent: agent}
	c.mu.Unlock()

	log.Info(log.CatCoord, "Recovery restored assignment",
		"agent", agent.ID, "task", e.TaskID, "lease", e.LeaseID)
}
