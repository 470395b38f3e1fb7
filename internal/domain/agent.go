package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/zjrosen/foreman/internal/errs"
)

// Agent is a registered worker. Agents live in process memory plus the
// assignment ledger; an agent unreachable beyond the staleness window is
// evicted by the coordinator.
type Agent struct {
	ID             string    `json:"agent_id"`
	Name           string    `json:"name"`
	Role           string    `json:"role"`
	Skills         []string  `json:"skills,omitempty"`
	CurrentTask    string    `json:"current_task,omitempty"`
	CompletedCount int       `json:"completed_count"`
	RegisteredAt   time.Time `json:"registered_at"`
	LastSeen       time.Time `json:"last_seen"`
}

// HasSkill reports whether the agent declared the skill (case-insensitive).
func (a Agent) HasSkill(skill string) bool {
	for _, s := range a.Skills {
		if strings.EqualFold(s, skill) {
			return true
		}
	}
	return false
}

// ValidateAgentID rejects ids that cannot key the ledger or registry.
func ValidateAgentID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errs.Permanent("validate agent", fmt.Errorf("agent_id is required"))
	}
	if strings.ContainsAny(id, " \t\n") {
		return errs.Permanent("validate agent", fmt.Errorf("agent_id %q must not contain whitespace", id))
	}
	return nil
}

// Assignment is a live claim by one agent on one task. LeaseID is
// monotonic per ledger; the assignment stays live until the agent reports
// completed or blocked, or the lease expires.
type Assignment struct {
	AgentID    string    `json:"agent_id"`
	TaskID     string    `json:"task_id"`
	LeaseID    int64     `json:"lease_id"`
	AssignedAt time.Time `json:"assigned_at"`
}

// Age returns how long the assignment has been held as of now.
func (a Assignment) Age(now time.Time) time.Duration {
	return now.Sub(a.AssignedAt)
}
