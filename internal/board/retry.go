package board

import (
	"context"
	"time"

	"github.com/zjrosen/foreman/internal/domain"
	"github.com/zjrosen/foreman/internal/errs"
)

// retryClient wraps a provider so every call gets the standard
// transient-retry treatment plus a per-call deadline. Callers above the
// board layer never see a raw transient failure, only the final outcome
// after the budget runs out.
type retryClient struct {
	inner   Client
	cfg     errs.RetryConfig
	timeout time.Duration
}

// WithRetry decorates a client with exponential backoff on transient
// errors and a per-call timeout. A zero timeout disables the deadline.
func WithRetry(inner Client, timeout time.Duration) Client {
	return &retryClient{
		inner:   inner,
		cfg:     errs.DefaultRetryConfig(),
		timeout: timeout,
	}
}

func (r *retryClient) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}

func (r *retryClient) ListTasks(ctx context.Context) ([]domain.Task, error) {
	ctx, cancel := r.callCtx(ctx)
	defer cancel()
	return errs.RetryWith(ctx, r.cfg, func() ([]domain.Task, error) {
		return r.inner.ListTasks(ctx)
	})
}

func (r *retryClient) CreateTask(ctx context.Context, spec domain.TaskSpec) (domain.Task, error) {
	ctx, cancel := r.callCtx(ctx)
	defer cancel()
	return errs.RetryWith(ctx, r.cfg, func() (domain.Task, error) {
		return r.inner.CreateTask(ctx, spec)
	})
}

func (r *retryClient) UpdateTask(ctx context.Context, taskID string, patch domain.TaskPatch) error {
	ctx, cancel := r.callCtx(ctx)
	defer cancel()
	_, err := errs.RetryWith(ctx, r.cfg, func() (struct{}, error) {
		return struct{}{}, r.inner.UpdateTask(ctx, taskID, patch)
	})
	return err
}

func (r *retryClient) AddComment(ctx context.Context, taskID, text string) error {
	ctx, cancel := r.callCtx(ctx)
	defer cancel()
	_, err := errs.RetryWith(ctx, r.cfg, func() (struct{}, error) {
		return struct{}{}, r.inner.AddComment(ctx, taskID, text)
	})
	return err
}

func (r *retryClient) MoveTask(ctx context.Context, taskID, column string) error {
	ctx, cancel := r.callCtx(ctx)
	defer cancel()
	_, err := errs.RetryWith(ctx, r.cfg, func() (struct{}, error) {
		return struct{}{}, r.inner.MoveTask(ctx, taskID, column)
	})
	return err
}
