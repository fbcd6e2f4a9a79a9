package scheduler

import (
	"context"
	"time"
)

// RetryPolicy is a bounded retry with a fixed delay between attempts.
type RetryPolicy struct {
	// Attempts is the maximum number of calls
	Attempts int
	// Delay is the fixed wait between two attempts
	Delay time.Duration
	// AttemptTimeout bounds each call; zero means no per-attempt deadline
	AttemptTimeout time.Duration
}

// Validate validates the policy
func (p RetryPolicy) Validate() error {
	if p.Attempts <= 0 || p.Delay < 0 || p.AttemptTimeout < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// AttemptFunc performs one attempt. done reports that no further attempt is
// needed; err is remembered but does not stop the retry loop.
type AttemptFunc func(ctx context.Context, attempt int) (done bool, err error)

// RetryResult describes how a retry loop ended.
type RetryResult struct {
	Done     bool
	Attempts int
	LastErr  error
}

// Retry calls fn until it reports done or the attempts are exhausted.
// Exhaustion is not an error: the result has Done == false. The returned
// error is non-nil only when ctx is cancelled while waiting between attempts.
func Retry(ctx context.Context, policy RetryPolicy, fn AttemptFunc) (RetryResult, error) {
	var result RetryResult
	if err := policy.Validate(); err != nil {
		return result, err
	}

	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		result.Attempts = attempt

		done, err := runAttempt(ctx, policy.AttemptTimeout, attempt, fn)
		if done {
			result.Done = true
			result.LastErr = nil
			return result, nil
		}
		if err != nil {
			result.LastErr = err
		}

		if attempt == policy.Attempts {
			break
		}
		if err := wait(ctx, policy.Delay); err != nil {
			return result, err
		}
	}

	return result, nil
}

func runAttempt(ctx context.Context, timeout time.Duration, attempt int, fn AttemptFunc) (bool, error) {
	if timeout <= 0 {
		return fn(ctx, attempt)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx, attempt)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
