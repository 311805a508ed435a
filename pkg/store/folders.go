package store

import (
	"context"

	"gorm.io/gorm"

	"github.com/benfrankstein/untxt-sub002/pkg/models"
)

// CreateFolder inserts a folder for the owner.
func (s *GORMStore) CreateFolder(ctx context.Context, folder *models.Folder) (string, error) {
	return createWithID(s.db, ctx, folder, func(f *models.Folder, id string) { f.ID = id }, folder.ID, models.ErrDuplicateFolder)
}

// GetFolder returns one of the owner's folders with its task count.
func (s *GORMStore) GetFolder(ctx context.Context, ownerID, folderID string) (*models.Folder, error) {
	var folder models.Folder
	err := s.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", folderID, ownerID).
		First(&folder).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrFolderNotFound)
	}

	if err := s.db.WithContext(ctx).Model(&models.Task{}).
		Where("folder_id = ?", folderID).
		Count(&folder.TaskCount).Error; err != nil {
		return nil, err
	}
	return &folder, nil
}

// ListFolders returns the owner's folders with task counts.
func (s *GORMStore) ListFolders(ctx context.Context, ownerID string) ([]*models.Folder, error) {
	var folders []*models.Folder
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at asc").
		Find(&folders).Error
	if err != nil {
		return nil, err
	}

	for _, f := range folders {
		if err := s.db.WithContext(ctx).Model(&models.Task{}).
			Where("folder_id = ?", f.ID).
			Count(&f.TaskCount).Error; err != nil {
			return nil, err
		}
	}
	return folders, nil
}

// UpdateFolder updates name, color and description of the owner's folder.
func (s *GORMStore) UpdateFolder(ctx context.Context, folder *models.Folder) error {
	res := s.db.WithContext(ctx).Model(&models.Folder{}).
		Where("id = ? AND owner_id = ?", folder.ID, folder.OwnerID).
		Select("Name", "Color", "Description").
		Updates(folder)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.ErrFolderNotFound
	}
	return nil
}

// DeleteFolder removes the folder and detaches its tasks (tasks keep
// existing with a null folder).
func (s *GORMStore) DeleteFolder(ctx context.Context, ownerID, folderID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND owner_id = ?", folderID, ownerID).Delete(&models.Folder{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return models.ErrFolderNotFound
		}
		return tx.Model(&models.Task{}).
			Where("folder_id = ?", folderID).
			Update("folder_id", nil).Error
	})
}
