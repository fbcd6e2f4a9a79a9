package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// SyncRunner runs one reconciliation pass over the RPS queue
type SyncRunner interface {
	RunSync(ctx context.Context) error
}

// SyncTriggerConfig holds configuration for the periodic sync trigger
type SyncTriggerConfig struct {
	// Enabled indicates if periodic sync is enabled
	Enabled bool
	// Interval is the time between two sync runs
	Interval time.Duration
	// RunTimeout is the maximum time a sync run can take
	RunTimeout time.Duration
}

// DefaultSyncTriggerConfig returns default configuration
func DefaultSyncTriggerConfig() SyncTriggerConfig {
	return SyncTriggerConfig{
		Enabled:    false,
		Interval:   15 * time.Minute,
		RunTimeout: 30 * time.Minute,
	}
}

// Validate validates the configuration
func (c *SyncTriggerConfig) Validate() error {
	if c.Interval <= 0 || c.RunTimeout <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

// SyncTrigger runs the queue reconciliation on a fixed interval. A tick that
// arrives while the previous run is still going is skipped.
type SyncTrigger struct {
	config SyncTriggerConfig
	runner SyncRunner
	logger *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	inFlight  atomic.Bool
	runs      atomic.Int64
}

// NewSyncTrigger creates a new sync trigger
func NewSyncTrigger(config SyncTriggerConfig, runner SyncRunner, logger *zap.Logger) (*SyncTrigger, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &SyncTrigger{
		config: config,
		runner: runner,
		logger: logger,
	}, nil
}

// Start starts the trigger loop. It is a no-op when disabled or already started.
func (t *SyncTrigger) Start(ctx context.Context) error {
	if !t.config.Enabled {
		t.logger.Info("Periodic NFSe sync disabled")
		return nil
	}

	t.mu.Lock()
	if t.isRunning {
		t.mu.Unlock()
		return nil
	}
	t.isRunning = true
	t.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	t.wg.Add(1)
	go t.runLoop(ctx)

	t.logger.Info("Periodic NFSe sync started",
		zap.Duration("interval", t.config.Interval),
		zap.Duration("run_timeout", t.config.RunTimeout),
	)
	return nil
}

// Stop stops the trigger and waits for an in-flight run
func (t *SyncTrigger) Stop(ctx context.Context) error {
	t.mu.Lock()
	if !t.isRunning {
		t.mu.Unlock()
		return nil
	}
	t.isRunning = false
	t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.logger.Info("Periodic NFSe sync stopped")
		return nil
	case <-ctx.Done():
		t.logger.Warn("Periodic NFSe sync stop timed out")
		return ctx.Err()
	}
}

// Runs returns how many sync runs completed
func (t *SyncTrigger) Runs() int64 {
	return t.runs.Load()
}

func (t *SyncTrigger) runLoop(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.TriggerNow(ctx); err != nil && err != ErrSyncAlreadyRunning {
				t.logger.Error("Periodic NFSe sync failed", zap.Error(err))
			}
		}
	}
}

// TriggerNow runs one sync immediately unless another run is in flight.
func (t *SyncTrigger) TriggerNow(ctx context.Context) error {
	if !t.inFlight.CompareAndSwap(false, true) {
		t.logger.Debug("Skipping NFSe sync tick, previous run still in progress")
		return ErrSyncAlreadyRunning
	}
	defer t.inFlight.Store(false)

	runCtx, cancel := context.WithTimeout(ctx, t.config.RunTimeout)
	defer cancel()

	start := time.Now()
	err := t.runner.RunSync(runCtx)
	t.runs.Add(1)

	t.logger.Info("Periodic NFSe sync finished",
		zap.Duration("duration", time.Since(start)),
		zap.Bool("failed", err != nil),
	)
	return err
}
