package ai

import (
	"context"

	"github.com/zjrosen/foreman/internal/domain"
)

// Disabled returns the client wired when ai.enabled is false: every
// call reports unavailable, which routes callers onto their
// deterministic fallbacks.
func Disabled() Client { return disabled{} }

type disabled struct{}

func (disabled) ParsePRD(context.Context, string, PRDOptions) (PRDResult, error) {
	return PRDResult{}, Unavailable("ai.parse_prd", nil)
}

func (disabled) SynthesizeTasks(context.Context, PRDResult) (TaskPlan, error) {
	return TaskPlan{}, Unavailable("ai.synthesize_tasks", nil)
}

func (disabled) ScoreTaskForAgent(context.Context, domain.Task, domain.Agent, ScoreContext) (TaskScore, error) {
	return TaskScore{}, Unavailable("ai.score_task", nil)
}

func (disabled) SuggestBlockerResolution(context.Context, domain.Task, string, string) (BlockerSuggestion, error) {
	return BlockerSuggestion{}, Unavailable("ai.suggest_blocker", nil)
}
