// Package objectstore implements the S3-backed object store adapter.
//
// This file declares the bucket lifecycle policy driving the soft-delete
// expiry tiers.
package objectstore

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/benfrankstein/untxt-sub002/internal/logger"
)

// LifecyclePolicy parameterizes the bucket rules. Zero values take the
// defaults: 30-day expiry, 7-day cold transition, 7-day multipart abort.
type LifecyclePolicy struct {
	// DeletedExpiryDays is the recovery window: objects tagged deleted=true
	// are permanently removed after this many days.
	DeletedExpiryDays int32

	// DeletedColdAfterDays moves deleted-tagged objects to cold storage
	// while still inside the recovery window.
	DeletedColdAfterDays int32

	// MultipartAbortDays aborts incomplete multipart uploads after this
	// many days.
	MultipartAbortDays int32

	// ColdStorageClass is the transition target (default: GLACIER).
	ColdStorageClass types.TransitionStorageClass
}

// ApplyDefaults fills in missing policy values.
func (p *LifecyclePolicy) ApplyDefaults() {
	if p.DeletedExpiryDays == 0 {
		p.DeletedExpiryDays = 30
	}
	if p.DeletedColdAfterDays == 0 {
		p.DeletedColdAfterDays = 7
	}
	if p.MultipartAbortDays == 0 {
		p.MultipartAbortDays = 7
	}
	if p.ColdStorageClass == "" {
		p.ColdStorageClass = types.TransitionStorageClassGlacier
	}
}

// DeclareLifecycle writes the bucket lifecycle configuration. Declaring the
// same policy again is idempotent; the store applies the rules natively from
// then on. Buckets without native lifecycle support fall back to the scan
// reaper.
func (s *Store) DeclareLifecycle(ctx context.Context, policy LifecyclePolicy) error {
	policy.ApplyDefaults()

	deletedFilter := &types.LifecycleRuleFilter{
		Tag: &types.Tag{Key: aws.String(TagDeleted), Value: aws.String("true")},
	}

	rules := []types.LifecycleRule{
		{
			ID:     aws.String("deleted-expiry"),
			Status: types.ExpirationStatusEnabled,
			Filter: deletedFilter,
			Expiration: &types.LifecycleExpiration{
				Days: aws.Int32(policy.DeletedExpiryDays),
			},
		},
		{
			ID:     aws.String("deleted-cold-transition"),
			Status: types.ExpirationStatusEnabled,
			Filter: deletedFilter,
			Transitions: []types.Transition{
				{
					Days:         aws.Int32(policy.DeletedColdAfterDays),
					StorageClass: policy.ColdStorageClass,
				},
			},
		},
		{
			ID:     aws.String("abort-incomplete-multipart"),
			Status: types.ExpirationStatusEnabled,
			Filter: &types.LifecycleRuleFilter{Prefix: aws.String("")},
			AbortIncompleteMultipartUpload: &types.AbortIncompleteMultipartUpload{
				DaysAfterInitiation: aws.Int32(policy.MultipartAbortDays),
			},
		},
	}

	err := s.withRetry(ctx, "DeclareLifecycle", s.config.Bucket, func() error {
		_, err := s.client.PutBucketLifecycleConfiguration(ctx, &s3.PutBucketLifecycleConfigurationInput{
			Bucket: aws.String(s.config.Bucket),
			LifecycleConfiguration: &types.BucketLifecycleConfiguration{
				Rules: rules,
			},
		})
		return err
	})
	if err != nil {
		return classify(err)
	}

	logger.Info("lifecycle policy declared",
		"bucket", s.config.Bucket,
		"expiry_days", policy.DeletedExpiryDays,
		"cold_after_days", policy.DeletedColdAfterDays)
	return nil
}

// ListDeletedBefore returns keys of objects tagged deleted=true whose
// deleted_at timestamp is older than the cutoff. This is the scan path for
// stores without native lifecycle rules; it walks the bucket, so it is meant
// for the background reaper, not request handling.
func (s *Store) ListDeletedBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	var expired []string

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.config.Bucket),
	})

	for paginator.HasMorePages() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify(err)
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			tags, err := s.GetTags(ctx, key)
			if err != nil {
				logger.Warn("failed to read tags during lifecycle scan", "key", key, "error", err)
				continue
			}
			if tags[TagDeleted] != "true" {
				continue
			}
			deletedAt, ok := parseUnixTag(tags[TagDeletedAt])
			if !ok || deletedAt.After(cutoff) {
				continue
			}
			expired = append(expired, key)
		}
	}

	return expired, nil
}

// Delete permanently removes the object. Idempotent: deleting a missing
// object returns nil.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.withRetry(ctx, "Delete", key, func() error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.config.Bucket),
			Key:    aws.String(key),
		})
		return err
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil
		}
		return classify(err)
	}
	return nil
}
