// Package objectstore implements the S3-backed object store adapter.
//
// This file contains pre-signed URL minting. Clients download and upload
// directly against the store; the server never proxies object bytes.
package objectstore

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// PresignGet mints a time-limited download URL for the object. A zero ttl
// uses the configured default (1 hour). The signature is bound to the exact
// object key.
func (s *Store) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl == 0 {
		ttl = s.config.PresignGetTTL
	}

	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", classify(err)
	}
	return req.URL, nil
}

// PresignGetAttachment is PresignGet with a response content-disposition
// forcing a download under the given filename.
func (s *Store) PresignGetAttachment(ctx context.Context, key, filename string, ttl time.Duration) (string, error) {
	if ttl == 0 {
		ttl = s.config.PresignGetTTL
	}

	disposition := `attachment; filename="` + sanitizeFilename(filename) + `"`
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket:                     aws.String(s.config.Bucket),
		Key:                        aws.String(key),
		ResponseContentDisposition: aws.String(disposition),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", classify(err)
	}
	return req.URL, nil
}

// PresignPut mints a time-limited upload URL for the object. A zero ttl uses
// the configured default (15 minutes). The content type is part of the
// signature: uploads with a different type are rejected by the store.
func (s *Store) PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	if ttl == 0 {
		ttl = s.config.PresignPutTTL
	}

	req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.config.Bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", classify(err)
	}
	return req.URL, nil
}
