package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// Test Helpers
// ---------------------------------------------------------------------------

func newTestLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

// ---------------------------------------------------------------------------
// Retry Tests
// ---------------------------------------------------------------------------

func TestRetry_SucceedsOnThirdAttempt(t *testing.T) {
	policy := RetryPolicy{Attempts: 5, Delay: time.Millisecond, AttemptTimeout: time.Second}

	var calls int
	result, err := Retry(context.Background(), policy, func(ctx context.Context, attempt int) (bool, error) {
		calls++
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		return attempt == 3, nil
	})

	require.NoError(t, err)
	assert.True(t, result.Done)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 3, calls)
}

func TestRetry_ExhaustionIsNotAnError(t *testing.T) {
	policy := RetryPolicy{Attempts: 5, Delay: time.Millisecond}
	boom := errors.New("boom")

	var calls int
	result, err := Retry(context.Background(), policy, func(ctx context.Context, attempt int) (bool, error) {
		calls++
		return false, boom
	})

	require.NoError(t, err)
	assert.False(t, result.Done)
	assert.Equal(t, 5, result.Attempts)
	assert.Equal(t, 5, calls)
	assert.ErrorIs(t, result.LastErr, boom)
}

func TestRetry_AttemptTimeoutAbortsOnlyTheCall(t *testing.T) {
	policy := RetryPolicy{Attempts: 2, Delay: time.Millisecond, AttemptTimeout: 10 * time.Millisecond}

	result, err := Retry(context.Background(), policy, func(ctx context.Context, attempt int) (bool, error) {
		if attempt == 1 {
			<-ctx.Done()
			return false, ctx.Err()
		}
		return true, nil
	})

	require.NoError(t, err)
	assert.True(t, result.Done)
	assert.Equal(t, 2, result.Attempts)
}

func TestRetry_ContextCancelledDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{Attempts: 3, Delay: time.Hour}

	result, err := Retry(ctx, policy, func(ctx context.Context, attempt int) (bool, error) {
		cancel()
		return false, nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, result.Attempts)
}

func TestRetry_InvalidPolicy(t *testing.T) {
	_, err := Retry(context.Background(), RetryPolicy{}, func(ctx context.Context, attempt int) (bool, error) {
		return true, nil
	})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

// ---------------------------------------------------------------------------
// Pipeline Tests
// ---------------------------------------------------------------------------

func TestRunSequential_KeepsOrderAndSpacing(t *testing.T) {
	throttle := NewThrottle(20 * time.Millisecond)
	items := []int{1, 2, 3}

	var active, maxActive int32
	start := time.Now()
	results := RunSequential(context.Background(), throttle, items,
		func(ctx context.Context, item int) string {
			n := atomic.AddInt32(&active, 1)
			if n > atomic.LoadInt32(&maxActive) {
				atomic.StoreInt32(&maxActive, n)
			}
			defer atomic.AddInt32(&active, -1)
			if item == 2 {
				return "error"
			}
			return "ok"
		},
		func(item int, err error) string { return "aborted" },
	)

	assert.Equal(t, []string{"ok", "error", "ok"}, results)
	assert.Equal(t, int32(1), maxActive)
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
}

func TestRunSequential_CancelledContextAbortsRemaining(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	throttle := NewThrottle(0)

	results := RunSequential(ctx, throttle, []int{1, 2, 3},
		func(ctx context.Context, item int) string {
			if item == 1 {
				cancel()
			}
			return "ok"
		},
		func(item int, err error) string { return "aborted" },
	)

	assert.Equal(t, []string{"ok", "aborted", "aborted"}, results)
}

func TestNewThrottle_Delay(t *testing.T) {
	assert.Equal(t, 1500*time.Millisecond, NewThrottle(1500*time.Millisecond).Delay())
	assert.NoError(t, NewThrottle(0).Wait(context.Background()))
}
