package storage

import (
	"context"
	"time"

	"github.com/erp/nfse-bridge/internal/domain/shared"
)

// ErrArchiveDisabled is returned for payload links when no archive is configured
var ErrArchiveDisabled = shared.NotFoundError("payload archive is disabled")

// NopPayloadArchive discards payloads. It is used when storage is disabled.
type NopPayloadArchive struct{}

// Store discards the payload
func (NopPayloadArchive) Store(ctx context.Context, orderID int64, step string, payload any) error {
	return nil
}

// PayloadURL always fails with ErrArchiveDisabled
func (NopPayloadArchive) PayloadURL(ctx context.Context, orderID int64, step string) (string, time.Time, error) {
	return "", time.Time{}, ErrArchiveDisabled
}
