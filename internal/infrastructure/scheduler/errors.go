package scheduler

import "errors"

var (
	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid scheduler configuration")

	// ErrSyncAlreadyRunning is returned when a sync run overlaps the previous one
	ErrSyncAlreadyRunning = errors.New("sync already in progress")
)
