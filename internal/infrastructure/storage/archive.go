package storage

import (
	"context"
	"time"

	"go.uber.org/zap"

	invoicingapp "github.com/erp/nfse-bridge/internal/application/invoicing"
	infraconfig "github.com/erp/nfse-bridge/internal/infrastructure/config"
)

// Archive stores NFSe payloads and hands out links to them
type Archive interface {
	invoicingapp.PayloadArchive
	PayloadURL(ctx context.Context, orderID int64, step string) (string, time.Time, error)
}

// Ensure both archives satisfy Archive
var (
	_ Archive = (*S3PayloadArchive)(nil)
	_ Archive = NopPayloadArchive{}
)

// NewArchive returns the S3 archive when storage is enabled and a no-op
// archive otherwise. The bucket is created when missing.
func NewArchive(ctx context.Context, cfg *infraconfig.StorageConfig, logger *zap.Logger) (Archive, error) {
	if cfg == nil || !cfg.Enabled {
		logger.Info("NFSe payload archive disabled")
		return NopPayloadArchive{}, nil
	}

	archive, err := NewS3PayloadArchive(cfg, WithLogger(logger))
	if err != nil {
		return nil, err
	}
	if err := archive.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	logger.Info("NFSe payload archive enabled",
		zap.String("bucket", archive.Bucket()),
		zap.String("prefix", archive.prefix),
	)
	return archive, nil
}
