package ai

import (
	"context"
	"errors"
	"time"

	"github.com/zjrosen/foreman/internal/domain"
	"github.com/zjrosen/foreman/internal/errs"
)

// DefaultTimeout is the per-call cap on reasoning backends.
const DefaultTimeout = 60 * time.Second

// WithRetry decorates a client with the call envelope: a hard timeout
// (cap hits count as unavailable, so scoring paths fall back instead of
// failing) and transient-error retries inside that envelope.
func WithRetry(inner Client, timeout time.Duration) Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	cfg := errs.DefaultRetryConfig()
	cfg.MaxElapsed = timeout
	return &retryClient{inner: inner, cfg: cfg, timeout: timeout}
}

type retryClient struct {
	inner   Client
	cfg     errs.RetryConfig
	timeout time.Duration
}

func call[T any](ctx context.Context, r *retryClient, op string, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	v, err := errs.RetryWith(ctx, r.cfg, func() (T, error) {
		return fn(ctx)
	})
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return v, Unavailable(op, context.DeadlineExceeded)
	}
	return v, err
}

func (r *retryClient) ParsePRD(ctx context.Context, text string, opts PRDOptions) (PRDResult, error) {
	return call(ctx, r, "ai.parse_prd", func(ctx context.Context) (PRDResult, error) {
		return r.inner.ParsePRD(ctx, text, opts)
	})
}

func (r *retryClient) SynthesizeTasks(ctx context.Context, prd PRDResult) (TaskPlan, error) {
	return call(ctx, r, "ai.synthesize_tasks", func(ctx context.Context) (TaskPlan, error) {
		return r.inner.SynthesizeTasks(ctx, prd)
	})
}

func (r *retryClient) ScoreTaskForAgent(ctx context.Context, task domain.Task, agent domain.Agent, sc ScoreContext) (TaskScore, error) {
	return call(ctx, r, "ai.score_task", func(ctx context.Context) (TaskScore, error) {
		return r.inner.ScoreTaskForAgent(ctx, task, agent, sc)
	})
}

func (r *retryClient) SuggestBlockerResolution(ctx context.Context, task domain.Task, description, severity string) (BlockerSuggestion, error) {
	return call(ctx, r, "ai.suggest_blocker", func(ctx context.Context) (BlockerSuggestion, error) {
		return r.inner.SuggestBlockerResolution(ctx, task, description, severity)
	})
}
