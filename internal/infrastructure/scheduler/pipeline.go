package scheduler

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Throttle spaces consecutive steps of a batch by a fixed delay. The first
// step runs immediately.
type Throttle struct {
	limiter *rate.Limiter
	delay   time.Duration
}

// NewThrottle creates a throttle allowing one step per delay. A non-positive
// delay disables throttling.
func NewThrottle(delay time.Duration) *Throttle {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &Throttle{
		limiter: rate.NewLimiter(limit, 1),
		delay:   delay,
	}
}

// Delay returns the configured inter-step delay
func (t *Throttle) Delay() time.Duration {
	return t.delay
}

// Wait blocks until the next step may run or ctx is done
func (t *Throttle) Wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}

// StepFunc processes one batch item and returns its result entry.
type StepFunc[T, R any] func(ctx context.Context, item T) R

// AbortFunc converts an item that could not run into a result entry.
type AbortFunc[T, R any] func(item T, err error) R

// RunSequential drains items one at a time through the throttle. Each item
// yields exactly one result, in input order. Step failures are the step's
// business and never stop the batch; if ctx ends, the remaining items are
// reported through abort.
func RunSequential[T, R any](ctx context.Context, throttle *Throttle, items []T, step StepFunc[T, R], abort AbortFunc[T, R]) []R {
	results := make([]R, 0, len(items))
	for i, item := range items {
		if err := throttle.Wait(ctx); err != nil {
			for _, rest := range items[i:] {
				results = append(results, abort(rest, err))
			}
			return results
		}
		results = append(results, step(ctx, item))
	}
	return results
}
