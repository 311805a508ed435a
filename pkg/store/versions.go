package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/benfrankstein/untxt-sub002/pkg/models"
)

// CreateVersionAsLatest inserts a new version row and flips the is_latest
// flags so exactly one row per task carries it. The version number is
// assigned inside the transaction: 0 for the original, max+1 otherwise.
// The UPDATE on the previous latest row takes a row lock on postgres, which
// serializes concurrent saves for the same task.
func (s *GORMStore) CreateVersionAsLatest(ctx context.Context, version *models.DocumentVersion) error {
	if version.ID == "" {
		version.ID = models.NewID()
	}
	if version.EditedAt.IsZero() {
		version.EditedAt = time.Now().UTC()
	}
	if version.CreatedAt.IsZero() {
		version.CreatedAt = version.EditedAt
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if version.IsOriginal {
			version.VersionNumber = 0
		} else {
			var maxNumber *int
			if err := tx.Model(&models.DocumentVersion{}).
				Where("task_id = ?", version.TaskID).
				Select("max(version_number)").
				Scan(&maxNumber).Error; err != nil {
				return err
			}
			if maxNumber == nil {
				version.VersionNumber = 0
				version.IsOriginal = true
			} else {
				version.VersionNumber = *maxNumber + 1
			}
		}

		if err := tx.Model(&models.DocumentVersion{}).
			Where("task_id = ? AND is_latest = ?", version.TaskID, true).
			Update("is_latest", false).Error; err != nil {
			return err
		}

		version.IsLatest = true
		if err := tx.Create(version).Error; err != nil {
			return err
		}

		if version.SessionID != nil {
			return tx.Model(&models.EditSession{}).
				Where("id = ?", *version.SessionID).
				Updates(map[string]any{
					"versions_created": gorm.Expr("versions_created + 1"),
					"last_activity_at": version.EditedAt,
				}).Error
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.notifyVersion(ctx, version, OpInsert)
	return nil
}

// OverwriteLatestVersion replaces content, checksum and counts of the
// current latest row in place. This is the auto-save path within the
// snapshot window: no new row, no version number change. created_at is left
// untouched so the snapshot window stays anchored at the row's promotion.
func (s *GORMStore) OverwriteLatestVersion(ctx context.Context, versionID string, content []byte, checksum string, charCount, wordCount int, editedAt time.Time, sessionID *string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.DocumentVersion{}).
			Where("id = ? AND is_latest = ?", versionID, true).
			Updates(map[string]any{
				"content":          content,
				"content_checksum": checksum,
				"character_count":  charCount,
				"word_count":       wordCount,
				"edited_at":        editedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return models.ErrVersionNotFound
		}

		if sessionID != nil {
			return tx.Model(&models.EditSession{}).
				Where("id = ?", *sessionID).
				Update("last_activity_at", editedAt).Error
		}
		return nil
	})
	if err != nil {
		return err
	}

	version, verr := getByField[models.DocumentVersion](s.db, ctx, "id", versionID, models.ErrVersionNotFound)
	if verr == nil {
		s.notifyVersion(ctx, version, OpUpdate)
	}
	return nil
}

// OffloadVersionContent swaps a version's inline bytes for an object-store
// reference. Runs after the object upload succeeded, so readers always find
// the bytes in one of the two places.
func (s *GORMStore) OffloadVersionContent(ctx context.Context, versionID, objectKey string) error {
	res := s.db.WithContext(ctx).Model(&models.DocumentVersion{}).
		Where("id = ?", versionID).
		Updates(map[string]any{
			"content":    []byte(nil),
			"object_key": objectKey,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.ErrVersionNotFound
	}
	return nil
}

// GetLatestVersion returns the unique row with is_latest=true for the task.
func (s *GORMStore) GetLatestVersion(ctx context.Context, taskID string) (*models.DocumentVersion, error) {
	var version models.DocumentVersion
	err := s.db.WithContext(ctx).
		Where("task_id = ? AND is_latest = ?", taskID, true).
		First(&version).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrVersionNotFound)
	}
	return &version, nil
}

// GetOriginalVersion returns the version 0 row for the task.
func (s *GORMStore) GetOriginalVersion(ctx context.Context, taskID string) (*models.DocumentVersion, error) {
	var version models.DocumentVersion
	err := s.db.WithContext(ctx).
		Where("task_id = ? AND is_original = ?", taskID, true).
		First(&version).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrVersionNotFound)
	}
	return &version, nil
}

// ListVersions returns all versions of a task ordered by version number.
func (s *GORMStore) ListVersions(ctx context.Context, taskID string) ([]*models.DocumentVersion, error) {
	var versions []*models.DocumentVersion
	err := s.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("version_number asc").
		Find(&versions).Error
	if err != nil {
		return nil, err
	}
	return versions, nil
}

// notifyVersion emits a document_versions change event with the owning
// task's owner resolved for gateway routing.
func (s *GORMStore) notifyVersion(ctx context.Context, version *models.DocumentVersion, op ChangeOp) {
	if s.notifier == nil {
		return
	}
	ownerID := ""
	if task, err := s.GetTask(ctx, version.TaskID); err == nil {
		ownerID = task.OwnerID
	}
	s.notify(ChangeEvent{
		Table:    "document_versions",
		Op:       op,
		RecordID: version.ID,
		OwnerID:  ownerID,
		Summary: models.JSONMap{
			"task_id":        version.TaskID,
			"version_number": version.VersionNumber,
		},
	})
}
