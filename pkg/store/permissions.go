package store

import (
	"context"
	"time"

	"github.com/benfrankstein/untxt-sub002/pkg/models"
)

// CreatePermission inserts an edit grant.
func (s *GORMStore) CreatePermission(ctx context.Context, perm *models.EditPermission) (string, error) {
	if perm.GrantedAt.IsZero() {
		perm.GrantedAt = time.Now().UTC()
	}
	perm.IsActive = true
	return createWithID(s.db, ctx, perm, func(p *models.EditPermission, id string) { p.ID = id }, perm.ID, models.ErrPermissionNotFound)
}

// GetPermission returns a grant by id.
func (s *GORMStore) GetPermission(ctx context.Context, permissionID string) (*models.EditPermission, error) {
	return getByField[models.EditPermission](s.db, ctx, "id", permissionID, models.ErrPermissionNotFound)
}

// GetEffectivePermission returns the newest active, unexpired grant for
// (user, task). Read-only; safe under read-committed isolation.
func (s *GORMStore) GetEffectivePermission(ctx context.Context, userID, taskID string) (*models.EditPermission, error) {
	var perm models.EditPermission
	now := time.Now().UTC()
	err := s.db.WithContext(ctx).
		Where("task_id = ? AND user_id = ? AND is_active = ?", taskID, userID, true).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Order("granted_at desc").
		First(&perm).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrPermissionNotFound)
	}
	return &perm, nil
}

// RevokePermission deactivates a grant immediately.
func (s *GORMStore) RevokePermission(ctx context.Context, permissionID, reason string) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&models.EditPermission{}).
		Where("id = ? AND is_active = ?", permissionID, true).
		Updates(map[string]any{
			"is_active":      false,
			"revoked_at":     now,
			"revoked_reason": reason,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var exists int64
		if err := s.db.WithContext(ctx).Model(&models.EditPermission{}).Where("id = ?", permissionID).Count(&exists).Error; err != nil {
			return err
		}
		if exists == 0 {
			return models.ErrPermissionNotFound
		}
		return models.ErrPermissionRevoked
	}
	return nil
}

// ListPermissions returns every grant ever issued for a task.
func (s *GORMStore) ListPermissions(ctx context.Context, taskID string) ([]*models.EditPermission, error) {
	var perms []*models.EditPermission
	err := s.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("granted_at desc").
		Find(&perms).Error
	if err != nil {
		return nil, err
	}
	return perms, nil
}
