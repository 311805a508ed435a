// Package objectstore implements the S3-backed object store adapter.
//
// This file contains object tagging: the soft-delete markers the lifecycle
// rules act on.
package objectstore

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/benfrankstein/untxt-sub002/internal/logger"
)

const (
	// TagDeleted marks an object as soft-deleted. Lifecycle rules transition
	// and expire objects carrying it.
	TagDeleted = "deleted"

	// TagDeletedAt records the unix timestamp of the soft delete.
	TagDeletedAt = "deleted_at"
)

// Tag merges the given tags into the object's tag set. Existing tags with
// the same names are overwritten; applying the same tags twice is a no-op.
func (s *Store) Tag(ctx context.Context, key string, tags map[string]string) error {
	return s.withRetry(ctx, "Tag", key, func() error {
		return s.mergeTags(ctx, key, tags, nil)
	})
}

// Untag removes the named tags from the object's tag set. Missing names are
// ignored.
func (s *Store) Untag(ctx context.Context, key string, tagNames ...string) error {
	return s.withRetry(ctx, "Untag", key, func() error {
		return s.mergeTags(ctx, key, nil, tagNames)
	})
}

// MarkDeleted tags the object deleted=true together with deleted_at in one
// write, so the recovery window always has a start timestamp.
func (s *Store) MarkDeleted(ctx context.Context, key string, at time.Time) error {
	err := s.Tag(ctx, key, map[string]string{
		TagDeleted:   "true",
		TagDeletedAt: strconv.FormatInt(at.UTC().Unix(), 10),
	})
	if err != nil {
		return err
	}
	logger.Info("object marked deleted", "key", key)
	return nil
}

// Restore removes the soft-delete tags within the recovery window, which
// stops the lifecycle transitions and expiry for the object.
func (s *Store) Restore(ctx context.Context, key string) error {
	return s.Untag(ctx, key, TagDeleted, TagDeletedAt)
}

// mergeTags performs the read-modify-write tag update. S3 tagging has no
// partial update, so the current set is fetched, merged and written back.
func (s *Store) mergeTags(ctx context.Context, key string, set map[string]string, remove []string) error {
	out, err := s.client.GetObjectTagging(ctx, &s3.GetObjectTaggingInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return classify(err)
	}

	merged := make(map[string]string, len(out.TagSet)+len(set))
	for _, t := range out.TagSet {
		merged[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	for k, v := range set {
		merged[k] = v
	}
	for _, name := range remove {
		delete(merged, name)
	}

	tagSet := make([]types.Tag, 0, len(merged))
	for k, v := range merged {
		tagSet = append(tagSet, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}

	_, err = s.client.PutObjectTagging(ctx, &s3.PutObjectTaggingInput{
		Bucket:  aws.String(s.config.Bucket),
		Key:     aws.String(key),
		Tagging: &types.Tagging{TagSet: tagSet},
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

// parseUnixTag parses a deleted_at tag value into a time.
func parseUnixTag(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	secs, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(secs, 0).UTC(), true
}

// GetTags returns the object's current tag set.
func (s *Store) GetTags(ctx context.Context, key string) (map[string]string, error) {
	var tags map[string]string
	err := s.withRetry(ctx, "GetTags", key, func() error {
		out, err := s.client.GetObjectTagging(ctx, &s3.GetObjectTaggingInput{
			Bucket: aws.String(s.config.Bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return err
		}
		tags = make(map[string]string, len(out.TagSet))
		for _, t := range out.TagSet {
			tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
		}
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return tags, nil
}
