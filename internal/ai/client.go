// Package ai abstracts the reasoning backend behind typed operations.
// The engine never parses free-form model output: providers translate
// whatever their backend returns into the DTOs below, and every failure
// collapses to the unavailability contract so callers can fall back to
// deterministic behavior.
package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/zjrosen/foreman/internal/domain"
	"github.com/zjrosen/foreman/internal/errs"
)

// Complexity levels recognized by ParsePRD options.
const (
	ComplexityMVP        = "mvp"
	ComplexityStandard   = "standard"
	ComplexityEnterprise = "enterprise"
)

// Client is the reasoning capability set. All methods respect ctx
// deadlines; the WithRetry decorator caps calls at ai.timeout.
type Client interface {
	// ParsePRD extracts features, stack, and constraints from a
	// natural-language project description.
	ParsePRD(ctx context.Context, text string, opts PRDOptions) (PRDResult, error)

	// SynthesizeTasks expands a parsed PRD into a task plan with
	// plan-local ids and dependencies.
	SynthesizeTasks(ctx context.Context, prd PRDResult) (TaskPlan, error)

	// ScoreTaskForAgent rates how well a task fits an agent, in [0,1].
	ScoreTaskForAgent(ctx context.Context, task domain.Task, agent domain.Agent, sc ScoreContext) (TaskScore, error)

	// SuggestBlockerResolution proposes a way past a reported blocker.
	SuggestBlockerResolution(ctx context.Context, task domain.Task, description, severity string) (BlockerSuggestion, error)
}

// PRDOptions tunes project synthesis. Zero values mean "unspecified".
type PRDOptions struct {
	TeamSize        int      `json:"team_size,omitempty"`
	TechStack       []string `json:"tech_stack,omitempty"`
	Deadline        string   `json:"deadline,omitempty"`
	AllowOnNonempty bool     `json:"allow_on_nonempty,omitempty"`
	Complexity      string   `json:"complexity,omitempty"`
}

// Validate rejects option values outside the recognized set. A zero
// TeamSize means unspecified.
func (o PRDOptions) Validate() error {
	if o.TeamSize < 0 {
		return fmt.Errorf("team_size must be >= 1, got %d", o.TeamSize)
	}
	switch o.Complexity {
	case "", ComplexityMVP, ComplexityStandard, ComplexityEnterprise:
	default:
		return fmt.Errorf("complexity must be one of mvp, standard, enterprise; got %q", o.Complexity)
	}
	if o.Deadline != "" {
		if _, err := time.Parse("2006-01-02", o.Deadline); err != nil {
			if _, err := time.Parse(time.RFC3339, o.Deadline); err != nil {
				return fmt.Errorf("deadline must be ISO-8601, got %q", o.Deadline)
			}
		}
	}
	return nil
}

// EffectiveComplexity returns the complexity with the default applied.
func (o PRDOptions) EffectiveComplexity() string {
	if o.Complexity == "" {
		return ComplexityStandard
	}
	return o.Complexity
}

// Feature is one capability extracted from a PRD.
type Feature struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// PRDResult is the structured reading of a project description.
type PRDResult struct {
	Features    []Feature `json:"features"`
	TechStack   []string  `json:"tech_stack"`
	Constraints []string  `json:"constraints"`
	Confidence  float64   `json:"confidence"`

	// Options carries the caller's synthesis options through to
	// SynthesizeTasks; not part of the model payload.
	Options PRDOptions `json:"-"`
}

// PlannedTask is one task in a plan, identified by a plan-local id
// until publication maps it to a board id.
type PlannedTask struct {
	LocalID        string          `json:"id"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	Phase          string          `json:"phase"`
	Labels         []string        `json:"labels"`
	Priority       domain.Priority `json:"priority"`
	EstimatedHours float64         `json:"estimated_hours"`
	DependsOn      []string        `json:"depends_on"`
}

// TaskPlan is an ordered set of planned tasks plus plan-level estimates.
type TaskPlan struct {
	Tasks         []PlannedTask `json:"tasks"`
	Phases        []string      `json:"phases"`
	EstimatedDays float64       `json:"estimated_days"`
}

// ScoreContext gives the scorer the project-level signals it cannot
// derive from the task alone.
type ScoreContext struct {
	CompletionPct float64 `json:"completion_pct"`
	TodoCount     int     `json:"todo_count"`
	UnblockImpact float64 `json:"unblock_impact"`
}

// TaskScore is the model's fit rating for (task, agent).
type TaskScore struct {
	Score     float64 `json:"score"`
	Rationale string  `json:"rationale"`
}

// BlockerSuggestion is guidance returned to a blocked agent.
type BlockerSuggestion struct {
	Summary string   `json:"summary"`
	Steps   []string `json:"steps"`
}

// Unavailable marks an operation as failed by backend unavailability.
// errs.IsUnavailable matches the result; callers fall back.
func Unavailable(op string, cause error) error {
	if cause != nil {
		return fmt.Errorf("%s: %v: %w", op, cause, errs.ErrUnavailable)
	}
	return fmt.Errorf("%s: %w", op, errs.ErrUnavailable)
}
