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

type runnerFunc func(ctx context.Context) error

func (f runnerFunc) RunSync(ctx context.Context) error { return f(ctx) }

func TestNewSyncTrigger_InvalidConfig(t *testing.T) {
	_, err := NewSyncTrigger(SyncTriggerConfig{Enabled: true}, runnerFunc(nil), zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestSyncTrigger_TriggerNow(t *testing.T) {
	wantErr := errors.New("erp down")
	trigger, err := NewSyncTrigger(DefaultSyncTriggerConfig(), runnerFunc(func(ctx context.Context) error {
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		return wantErr
	}), zap.NewNop())
	require.NoError(t, err)

	assert.ErrorIs(t, trigger.TriggerNow(context.Background()), wantErr)
	assert.Equal(t, int64(1), trigger.Runs())
}

func TestSyncTrigger_SkipsOverlappingRun(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	trigger, err := NewSyncTrigger(DefaultSyncTriggerConfig(), runnerFunc(func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}), zap.NewNop())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- trigger.TriggerNow(context.Background()) }()
	<-started

	assert.ErrorIs(t, trigger.TriggerNow(context.Background()), ErrSyncAlreadyRunning)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, int64(1), trigger.Runs())
}

func TestSyncTrigger_StartStop(t *testing.T) {
	var calls atomic.Int64
	trigger, err := NewSyncTrigger(SyncTriggerConfig{
		Enabled:    true,
		Interval:   10 * time.Millisecond,
		RunTimeout: time.Second,
	}, runnerFunc(func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}), zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, trigger.Start(context.Background()))
	require.NoError(t, trigger.Start(context.Background()))

	assert.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, trigger.Stop(ctx))
	require.NoError(t, trigger.Stop(ctx))

	after := calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, calls.Load())
}

func TestSyncTrigger_DisabledStartIsNoop(t *testing.T) {
	trigger, err := NewSyncTrigger(DefaultSyncTriggerConfig(), runnerFunc(func(ctx context.Context) error {
		t.Fatal("runner must not be called")
		return nil
	}), zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, trigger.Start(context.Background()))
	require.NoError(t, trigger.Stop(context.Background()))
}

func TestSyncTriggerConfig_Validate(t *testing.T) {
	cfg := SyncTriggerConfig{Interval: 0, RunTimeout: time.Second}
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = DefaultSyncTriggerConfig()
	assert.NoError(t, cfg.Validate())
}
