// Package events defines the typed coordination events published on the
// pubsub broker. Subscribers include the log listener and the durable
// event log used for post-crash forensics; dropping an event never fails
// the operation that produced it.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of coordination event.
type Type string

const (
	// TypeAgentRegistered is emitted when an agent completes registration.
	TypeAgentRegistered Type = "agent_registered"
	// TypeAgentEvicted is emitted when a stale idle agent is dropped.
	TypeAgentEvicted Type = "agent_evicted"
	// TypeTaskAssigned is emitted when the engine commits an assignment.
	TypeTaskAssigned Type = "task_assigned"
	// TypeProgressReported is emitted for in-progress reports.
	TypeProgressReported Type = "progress_reported"
	// TypeTaskCompleted is emitted when a completion report lands.
	TypeTaskCompleted Type = "task_completed"
	// TypeTaskBlocked is emitted when a task is marked blocked.
	TypeTaskBlocked Type = "task_blocked"
	// TypeLeaseExpired is emitted when the sweeper reclaims a task.
	TypeLeaseExpired Type = "lease_expired"
	// TypePlanPublished is emitted after project synthesis creates tasks.
	TypePlanPublished Type = "plan_published"
	// TypeFeatureInserted is emitted after feature insertion creates tasks.
	TypeFeatureInserted Type = "feature_inserted"
	// TypeRecoveryCompleted is emitted after startup ledger reconciliation.
	TypeRecoveryCompleted Type = "recovery_completed"
)

// Event is one coordination occurrence. AgentID and TaskID are empty when
// the event is not about a specific agent or task.
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	AgentID    string    `json:"agent_id,omitempty"`
	TaskID     string    `json:"task_id,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// New stamps an event with a fresh id and the current time.
func New(t Type, agentID, taskID, detail string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		AgentID:    agentID,
		TaskID:     taskID,
		Detail:     detail,
		OccurredAt: time.Now(),
	}
}
