// Package storage archives NFSe request and response payloads in object storage.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	invoicingapp "github.com/erp/nfse-bridge/internal/application/invoicing"
	infraconfig "github.com/erp/nfse-bridge/internal/infrastructure/config"
)

// Ensure S3PayloadArchive implements PayloadArchive
var _ invoicingapp.PayloadArchive = (*S3PayloadArchive)(nil)

const defaultPresignExpiration = 15 * time.Minute

// S3PayloadArchive stores one JSON document per order and step. It works with
// any S3-compatible backend (AWS S3, MinIO, RustFS).
type S3PayloadArchive struct {
	client            *s3.Client
	presignClient     *s3.PresignClient
	bucket            string
	prefix            string
	presignExpiration time.Duration
	logger            *zap.Logger
}

// S3PayloadArchiveOption is a functional option for configuring S3PayloadArchive
type S3PayloadArchiveOption func(*S3PayloadArchive)

// WithLogger sets a custom logger
func WithLogger(logger *zap.Logger) S3PayloadArchiveOption {
	return func(s *S3PayloadArchive) {
		s.logger = logger
	}
}

// WithPresignExpiration sets how long payload download links stay valid
func WithPresignExpiration(d time.Duration) S3PayloadArchiveOption {
	return func(s *S3PayloadArchive) {
		s.presignExpiration = d
	}
}

// NewS3PayloadArchive creates a new S3PayloadArchive from configuration.
// Without static keys the default AWS credential chain is used.
func NewS3PayloadArchive(cfg *infraconfig.StorageConfig, opts ...S3PayloadArchiveOption) (*S3PayloadArchive, error) {
	if cfg == nil {
		return nil, errors.New("storage configuration is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}
	if (cfg.AccessKeyID == "") != (cfg.SecretAccessKey == "") {
		return nil, errors.New("storage access key id and secret access key must be set together")
	}

	endpoint := cfg.Endpoint
	if endpoint != "" && !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	if endpoint != "" {
		if _, err := url.Parse(endpoint); err != nil {
			return nil, fmt.Errorf("invalid storage endpoint: %w", err)
		}
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		// S3-compatible backends often reject streamed trailing checksums
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})

	archive := &S3PayloadArchive{
		client:            client,
		presignClient:     s3.NewPresignClient(client),
		bucket:            cfg.Bucket,
		prefix:            normalizePrefix(cfg.Prefix),
		presignExpiration: defaultPresignExpiration,
		logger:            zap.NewNop(),
	}
	for _, opt := range opts {
		opt(archive)
	}
	if archive.presignExpiration <= 0 {
		archive.presignExpiration = defaultPresignExpiration
	}
	return archive, nil
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

// Key returns the object key of an order's payload for one step
func (s *S3PayloadArchive) Key(orderID int64, step string) string {
	return s.prefix + PayloadKey(orderID, step)
}

// PayloadKey is the prefix-less key layout: nfse/{orderID}/{step}.json
func PayloadKey(orderID int64, step string) string {
	return "nfse/" + strconv.FormatInt(orderID, 10) + "/" + step + ".json"
}

// EnsureBucket creates the bucket if it doesn't exist.
func (s *S3PayloadArchive) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err == nil {
		return nil
	}

	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	s.logger.Info("Creating payload archive bucket", zap.String("bucket", s.bucket))
	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		var alreadyOwned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &alreadyOwned) {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// Store writes payload as JSON, replacing an earlier payload of the same step.
func (s *S3PayloadArchive) Store(ctx context.Context, orderID int64, step string, payload any) error {
	if step == "" {
		return errors.New("payload step is required")
	}
	body, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	key := s.Key(orderID, step)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload payload %s: %w", key, err)
	}

	s.logger.Debug("NFSe payload archived", zap.String("key", key), zap.Int("bytes", len(body)))
	return nil
}

// PayloadURL returns a presigned download link for an archived payload.
func (s *S3PayloadArchive) PayloadURL(ctx context.Context, orderID int64, step string) (string, time.Time, error) {
	if step == "" {
		return "", time.Time{}, errors.New("payload step is required")
	}

	req, err := s.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.Key(orderID, step)),
	}, s3.WithPresignExpires(s.presignExpiration))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to presign payload URL: %w", err)
	}
	return req.URL, time.Now().Add(s.presignExpiration), nil
}

// Bucket returns the bucket name
func (s *S3PayloadArchive) Bucket() string {
	return s.bucket
}
