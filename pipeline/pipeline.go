// Package pipeline chains editing steps into a reusable runner with hook
// notification and transient-error retry.
package pipeline

import (
	"context"
	"time"

	"github.com/pixfold/image-editor/core"
	apperrors "github.com/pixfold/image-editor/errors"
)

// Pipeline executes a fixed sequence of editing steps.  A Pipeline is cheap
// to build and safe to share once assembled; use Clone to derive a variant.
type Pipeline struct {
	steps      []core.Step
	hooks      []core.Hook
	maxRetries int
	retryDelay time.Duration
}

// New returns an empty Pipeline.
func New() *Pipeline { return &Pipeline{} }

// Use appends steps to the pipeline.  Returns the same Pipeline for chaining.
func (p *Pipeline) Use(s ...core.Step) *Pipeline {
	p.steps = append(p.steps, s...)
	return p
}

// AddHook registers an observer for step events.
func (p *Pipeline) AddHook(h core.Hook) *Pipeline {
	p.hooks = append(p.hooks, h)
	return p
}

// WithRetry sets the maximum retry count and delay for transient failures.
func (p *Pipeline) WithRetry(maxRetries int, delay time.Duration) *Pipeline {
	p.maxRetries = maxRetries
	p.retryDelay = delay
	return p
}

// Run pushes img through every step in order and returns the final image
// plus cumulative per-step timings.  The first failing step aborts the run
// after its hooks have fired.
func (p *Pipeline) Run(ctx context.Context, img *core.ImageData) (*core.ImageData, map[string]time.Duration, error) {
	timings := make(map[string]time.Duration, len(p.steps))
	current := img

	for _, step := range p.steps {
		next, elapsed, err := p.execute(ctx, step, current)
		timings[step.Name()] += elapsed
		if err != nil {
			return nil, timings, err
		}
		current = next
	}
	return current, timings, nil
}

// execute runs one step between its hook notifications.  A step that returns
// neither a result nor an error is treated as a pipeline fault rather than
// propagating a nil image into the next step.
func (p *Pipeline) execute(ctx context.Context, step core.Step, img *core.ImageData) (*core.ImageData, time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, apperrors.Wrap(apperrors.CategoryPipeline, step.Name(), err)
	}

	for _, h := range p.hooks {
		h.BeforeStep(ctx, step.Name(), img)
	}

	start := time.Now()
	result, err := p.attempt(ctx, step, img)
	elapsed := time.Since(start)

	if err == nil && result == nil {
		err = apperrors.New(apperrors.CategoryPipeline, step.Name(), apperrors.ErrEmptyInput)
	}
	for _, h := range p.hooks {
		h.AfterStep(ctx, step.Name(), result, elapsed, err)
	}
	return result, elapsed, err
}

// attempt executes the step, retrying transient failures up to the
// configured budget.
func (p *Pipeline) attempt(ctx context.Context, step core.Step, img *core.ImageData) (*core.ImageData, error) {
	for attempt := 0; ; attempt++ {
		result, err := step.Execute(ctx, img)
		if err == nil || !apperrors.IsRetryable(err) || attempt >= p.maxRetries {
			return result, err
		}
		select {
		case <-ctx.Done():
			return nil, apperrors.Wrap(apperrors.CategoryPipeline, step.Name(), ctx.Err())
		case <-time.After(p.retryDelay):
		}
	}
}

// Clone returns a shallow copy so a pipeline template can be extended per
// request without racing the original.
func (p *Pipeline) Clone() *Pipeline {
	cp := &Pipeline{
		steps:      make([]core.Step, len(p.steps)),
		hooks:      make([]core.Hook, len(p.hooks)),
		maxRetries: p.maxRetries,
		retryDelay: p.retryDelay,
	}
	copy(cp.steps, p.steps)
	copy(cp.hooks, p.hooks)
	return cp
}
