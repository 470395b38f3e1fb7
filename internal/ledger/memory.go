package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/zjrosen/foreman/internal/domain"
	"github.com/zjrosen/foreman/internal/errs"
)

// Memory is the in-process ledger. Single mutex over both indexes keeps
// inserts totally ordered, matching the durability contract minus the
// durability.
type Memory struct {
	mu      sync.Mutex
	seq     int64
	byAgent map[string]Entry
	byTask  map[string]Entry
}

// NewMemory returns an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{
		byAgent: make(map[string]Entry),
		byTask:  make(map[string]Entry),
	}
}

func (m *Memory) Insert(ctx context.Context, agent domain.Agent, taskID string, at time.Time) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, held := m.byAgent[agent.ID]; held {
		return Entry{}, ErrAgentHolds
	}
	if _, held := m.byTask[taskID]; held {
		return Entry{}, ErrTaskHeld
	}

	m.seq++
	e := Entry{
		Assignment: domain.Assignment{
			AgentID:    agent.ID,
			TaskID:     taskID,
			LeaseID:    m.seq,
			AssignedAt: at,
		},
		Agent: agent,
	}
	m.byAgent[agent.ID] = e
	m.byTask[taskID] = e
	return e, nil
}

func (m *Memory) Remove(ctx context.Context, agentID, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.byAgent[agentID]
	if !ok || e.TaskID != taskID {
		return &errs.NoSuchAssignmentError{AgentID: agentID, TaskID: taskID}
	}
	delete(m.byAgent, agentID)
	delete(m.byTask, taskID)
	return nil
}

func (m *Memory) GetByAgent(ctx context.Context, agentID string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byAgent[agentID]
	return e, ok, nil
}

func (m *Memory) GetByTask(ctx context.Context, taskID string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byTask[taskID]
	return e, ok, nil
}

func (m *Memory) List(ctx context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, 0, len(m.byAgent))
	for _, e := range m.byAgent {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LeaseID < out[j].LeaseID })
	return out, nil
}

func (m *Memory) ExpireOlderThan(ctx context.Context, age time.Duration) ([]Entry, error) {
	cutoff := time.Now().Add(-age)

	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []Entry
	for agentID, e := range m.byAgent {
		if e.AssignedAt.Before(cutoff) {
			expired = append(expired, e)
			delete(m.byAgent, agentID)
			delete(m.byTask, e.TaskID)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].LeaseID < expired[j].LeaseID })
	return expired, nil
}

var _ Ledger = (*Memory)(nil)
