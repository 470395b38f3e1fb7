// Package mock provides a scripted ai.Client for tests and offline
// runs. The registry-constructed instance answers with deterministic
// canned results; tests construct New() directly and script each
// operation.
package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/zjrosen/foreman/internal/ai"
	"github.com/zjrosen/foreman/internal/domain"
)

func init() {
	ai.Register(ai.ProviderMock, func(_ ai.Options) (ai.Client, error) {
		return New(), nil
	})
}

// Client is a scripted ai.Client. Zero value answers with canned
// defaults; set the result/error fields to script behavior.
type Client struct {
	mu sync.Mutex

	PRDResult  *ai.PRDResult
	PRDErr     error
	PlanResult *ai.TaskPlan
	PlanErr    error
	ScoreFn    func(task domain.Task, agent domain.Agent) ai.TaskScore
	ScoreErr   error
	SuggestRes *ai.BlockerSuggestion
	SuggestErr error

	parseCalls   int
	planCalls    int
	scoreCalls   int
	suggestCalls int
}

// New returns an unscripted mock answering with defaults.
func New() *Client { return &Client{} }

func (m *Client) ParsePRD(ctx context.Context, text string, opts ai.PRDOptions) (ai.PRDResult, error) {
	m.mu.Lock()
	m.parseCalls++
	res, errOut := m.PRDResult, m.PRDErr
	m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return ai.PRDResult{}, ai.Unavailable("ai.parse_prd", err)
	}
	if errOut != nil {
		return ai.PRDResult{}, errOut
	}
	if res != nil {
		out := *res
		out.Options = opts
		return out, nil
	}

	// Default: one feature per non-empty line, high confidence for
	// anything that looks like prose.
	var features []ai.Feature
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-*# "))
		if line == "" {
			continue
		}
		features = append(features, ai.Feature{
			Name:        line,
			Description: "Deliver " + line,
		})
	}
	conf := 0.9
	if len(features) == 0 {
		conf = 0.0
	}
	return ai.PRDResult{
		Features:   features,
		TechStack:  opts.TechStack,
		Confidence: conf,
		Options:    opts,
	}, nil
}

func (m *Client) SynthesizeTasks(ctx context.Context, prd ai.PRDResult) (ai.TaskPlan, error) {
	m.mu.Lock()
	m.planCalls++
	res, errOut := m.PlanResult, m.PlanErr
	m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return ai.TaskPlan{}, ai.Unavailable("ai.synthesize_tasks", err)
	}
	if errOut != nil {
		return ai.TaskPlan{}, errOut
	}
	if res != nil {
		return *res, nil
	}

	// Default: setup task plus one implementation task per feature,
	// each depending on setup.
	plan := ai.TaskPlan{
		Phases:        []string{string(domain.PhaseSetup), string(domain.PhaseImplementation)},
		EstimatedDays: float64(1 + len(prd.Features)),
	}
	plan.Tasks = append(plan.Tasks, ai.PlannedTask{
		LocalID:        "t1",
		Title:          "Set up project scaffolding",
		Description:    "Initialize the repository, CI, and base configuration.",
		Phase:          string(domain.PhaseSetup),
		Labels:         []string{"component:infra"},
		Priority:       domain.PriorityHigh,
		EstimatedHours: 4,
	})
	for i, f := range prd.Features {
		plan.Tasks = append(plan.Tasks, ai.PlannedTask{
			LocalID:        fmt.Sprintf("t%d", i+2),
			Title:          "Implement " + f.Name,
			Description:    f.Description,
			Phase:          string(domain.PhaseImplementation),
			Labels:         []string{"component:core"},
			Priority:       domain.PriorityMedium,
			EstimatedHours: 8,
			DependsOn:      []string{"t1"},
		})
	}
	return plan, nil
}

func (m *Client) ScoreTaskForAgent(ctx context.Context, task domain.Task, agent domain.Agent, _ ai.ScoreContext) (ai.TaskScore, error) {
	m.mu.Lock()
	m.scoreCalls++
	fn, errOut := m.ScoreFn, m.ScoreErr
	m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return ai.TaskScore{}, ai.Unavailable("ai.score_task", err)
	}
	if errOut != nil {
		return ai.TaskScore{}, errOut
	}
	if fn != nil {
		return fn(task, agent), nil
	}
	return ai.TaskScore{Score: 0.5, Rationale: "no signal"}, nil
}

func (m *Client) SuggestBlockerResolution(ctx context.Context, task domain.Task, description, severity string) (ai.BlockerSuggestion, error) {
	m.mu.Lock()
	m.suggestCalls++
	res, errOut := m.SuggestRes, m.SuggestErr
	m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return ai.BlockerSuggestion{}, ai.Unavailable("ai.suggest_blocker", err)
	}
	if errOut != nil {
		return ai.BlockerSuggestion{}, errOut
	}
	if res != nil {
		return *res, nil
	}
	return ai.BlockerSuggestion{
		Summary: fmt.Sprintf("Escalate the %s blocker on %q to a human reviewer.", severity, task.Title),
		Steps:   []string{"Document what was attempted", "Flag the task for review"},
	}, nil
}

// ParseCalls reports how many times ParsePRD ran.
func (m *Client) ParseCalls() int { m.mu.Lock(); defer m.mu.Unlock(); return m.parseCalls }

// PlanCalls reports how many times SynthesizeTasks ran.
func (m *Client) PlanCalls() int { m.mu.Lock(); defer m.mu.Unlock(); return m.planCalls }

// ScoreCalls reports how many times ScoreTaskForAgent ran.
func (m *Client) ScoreCalls() int { m.mu.Lock(); defer m.mu.Unlock(); return m.scoreCalls }

// SuggestCalls reports how many times SuggestBlockerResolution ran.
func (m *Client) SuggestCalls() int { m.mu.Lock(); defer m.mu.Unlock(); return m.suggestCalls }

var _ ai.Client = (*Client)(nil)
