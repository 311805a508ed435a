// Package objectstore implements the S3-backed object store adapter.
//
// This file contains the object read and write operations.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/benfrankstein/untxt-sub002/internal/logger"
)

// ObjectInfo is the metadata returned by Head.
type ObjectInfo struct {
	Key          string
	SizeBytes    int64
	ContentType  string
	ETag         string
	LastModified time.Time
}

// withRetry runs fn with capped exponential backoff and jitter on transient
// errors, up to MaxAttempts tries. Non-retryable errors surface immediately.
func (s *Store) withRetry(ctx context.Context, op, key string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < s.config.MaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := s.calculateBackoff(attempt - 1)
			logger.Debug("retrying object store operation",
				"op", op, "key", key, "attempt", attempt, "backoff", backoff)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isRetryableError(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, s.config.MaxAttempts, lastErr)
}

// Put writes the object with server-side encryption. Refuses to store plain:
// returns ErrEncryptionUnavailable when the KMS mode has no key configured.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.config.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	}

	switch s.config.Encryption {
	case EncryptionKMS:
		if s.config.KMSKeyID == "" {
			return "", ErrEncryptionUnavailable
		}
		input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
		input.SSEKMSKeyId = aws.String(s.config.KMSKeyID)
	case EncryptionAES256:
		input.ServerSideEncryption = types.ServerSideEncryptionAes256
	default:
		return "", ErrEncryptionUnavailable
	}

	var etag string
	err := s.withRetry(ctx, "Put", key, func() error {
		// Rewind between attempts
		if _, err := input.Body.(*bytes.Reader).Seek(0, io.SeekStart); err != nil {
			return err
		}
		out, err := s.client.PutObject(ctx, input)
		if err != nil {
			return err
		}
		etag = aws.ToString(out.ETag)
		return nil
	})
	if err != nil {
		return "", classify(err)
	}

	logger.Debug("object stored", "key", key, "bytes", len(data), "etag", etag)
	return etag, nil
}

// Get returns a reader for the object. The caller must close it.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var body io.ReadCloser
	err := s.withRetry(ctx, "Get", key, func() error {
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.config.Bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return err
		}
		body = out.Body
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return body, nil
}

// GetBytes downloads the whole object into memory. Intended for bounded
// payloads like result HTML and version content.
func (s *Store) GetBytes(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return data, nil
}

// Head returns object metadata without downloading the content.
func (s *Store) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out *s3.HeadObjectOutput
	err := s.withRetry(ctx, "Head", key, func() error {
		var herr error
		out, herr = s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.config.Bucket),
			Key:    aws.String(key),
		})
		return herr
	})
	if err != nil {
		return nil, classify(err)
	}

	info := &ObjectInfo{
		Key:         key,
		SizeBytes:   aws.ToInt64(out.ContentLength),
		ContentType: aws.ToString(out.ContentType),
		ETag:        aws.ToString(out.ETag),
	}
	if out.LastModified != nil {
		info.LastModified = *out.LastModified
	}
	return info, nil
}

// Exists checks object existence without downloading.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Head(ctx, key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrObjectNotFound) {
		return false, nil
	}
	return false, err
}
