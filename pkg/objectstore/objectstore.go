// Package objectstore implements the S3-backed object store adapter.
//
// This file contains the main types, configuration, constructor and key
// layout helpers.
package objectstore

import (
	"context"
	"fmt"
	"math/rand/v2"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// EncryptionMode selects the server-side encryption applied on every put.
type EncryptionMode string

const (
	// EncryptionKMS uses SSE-KMS with a managed key. Requires KMSKeyID.
	EncryptionKMS EncryptionMode = "aws:kms"

	// EncryptionAES256 uses S3-managed keys (SSE-S3).
	EncryptionAES256 EncryptionMode = "AES256"
)

// Config contains object store configuration.
type Config struct {
	// Client is the configured S3 client.
	Client *s3.Client

	// Bucket is the S3 bucket name. The bucket must already exist.
	Bucket string

	// Encryption selects the server-side encryption mode (default: aws:kms).
	Encryption EncryptionMode

	// KMSKeyID is the managed key for SSE-KMS. Required when Encryption is
	// aws:kms; puts fail with ErrEncryptionUnavailable otherwise.
	KMSKeyID string

	// PresignGetTTL is the lifetime of download URLs (default: 1h).
	PresignGetTTL time.Duration

	// PresignPutTTL is the lifetime of upload URLs (default: 15m).
	PresignPutTTL time.Duration

	// MaxAttempts caps retries of transient errors, first try included
	// (default: 5).
	MaxAttempts int

	// InitialBackoff is the backoff before the first retry (default: 100ms).
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential backoff (default: 2s).
	MaxBackoff time.Duration
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.Encryption == "" {
		c.Encryption = EncryptionKMS
	}
	if c.PresignGetTTL == 0 {
		c.PresignGetTTL = time.Hour
	}
	if c.PresignPutTTL == 0 {
		c.PresignPutTTL = 15 * time.Minute
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 5
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = 2 * time.Second
	}
}

// Store is the S3-backed object store. Safe for concurrent use.
type Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	config  Config
}

// NewS3ClientFromConfig creates an S3 client from configuration parameters.
// The endpoint override and path-style addressing support MinIO and other
// S3-compatible stores.
func NewS3ClientFromConfig(
	ctx context.Context,
	endpoint,
	region,
	accessKeyID,
	secretAccessKey string,
	forcePathStyle bool,
) (*s3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKeyID,
			secretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = &endpoint
		}
		o.UsePathStyle = forcePathStyle
	})

	return client, nil
}

// New creates the object store and verifies bucket access. The bucket must
// already exist - this function does not create it.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	cfg.ApplyDefaults()

	_, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	return &Store{
		client:  cfg.Client,
		presign: s3.NewPresignClient(cfg.Client),
		config:  cfg,
	}, nil
}

// calculateBackoff returns the backoff before retry number attempt, with
// jitter in [50%, 100%] of the capped exponential value.
func (s *Store) calculateBackoff(attempt int) time.Duration {
	backoff := float64(s.config.InitialBackoff)
	for i := 0; i < attempt; i++ {
		backoff *= 2
	}
	if backoff > float64(s.config.MaxBackoff) {
		backoff = float64(s.config.MaxBackoff)
	}
	return time.Duration(backoff * (0.5 + rand.Float64()/2))
}

// UploadKey returns the object key for an original upload:
// uploads/{owner_id}/{YYYY-MM}/{file_id}/{filename}.
func UploadKey(ownerID, fileID, filename string, at time.Time) string {
	return fmt.Sprintf("uploads/%s/%s/%s/%s",
		ownerID, at.UTC().Format("2006-01"), fileID, sanitizeFilename(filename))
}

// ResultKey returns the object key for an OCR result:
// results/{owner_id}/{task_id}/result.{ext}.
func ResultKey(ownerID, taskID, ext string) string {
	return fmt.Sprintf("results/%s/%s/result.%s", ownerID, taskID, strings.TrimPrefix(ext, "."))
}

// PageImageKey returns the object key for a per-page preview image:
// results/{owner_id}/{task_id}/pages/{page}.png.
func PageImageKey(ownerID, taskID string, page int) string {
	return fmt.Sprintf("results/%s/%s/pages/%d.png", ownerID, taskID, page)
}

// VersionKey returns the object key for an offloaded document version:
// versions/{task_id}/{version_number}.
func VersionKey(taskID string, versionNumber int) string {
	return fmt.Sprintf("versions/%s/%d", taskID, versionNumber)
}

// sanitizeFilename strips any path components from a client-supplied name.
func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	base := path.Base(name)
	if base == "." || base == "/" || base == "" {
		return "file"
	}
	return base
}
