package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/benfrankstein/untxt-sub002/pkg/models"
)

// StartSession ends any active session for the same (user, task) with
// outcome superseded, then inserts the new session, in one transaction.
// This keeps the invariant of at most one non-ended session per pair.
func (s *GORMStore) StartSession(ctx context.Context, session *models.EditSession) error {
	if session.ID == "" {
		session.ID = models.NewID()
	}
	now := time.Now().UTC()
	if session.StartedAt.IsZero() {
		session.StartedAt = now
	}
	if session.LastActivityAt.IsZero() {
		session.LastActivityAt = session.StartedAt
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.EditSession{}).
			Where("user_id = ? AND task_id = ? AND ended_at IS NULL", session.UserID, session.TaskID).
			Updates(map[string]any{
				"ended_at": now,
				"outcome":  string(models.OutcomeSuperseded),
			}).Error; err != nil {
			return err
		}
		return tx.Create(session).Error
	})
}

// GetSession returns an edit session by id.
func (s *GORMStore) GetSession(ctx context.Context, sessionID string) (*models.EditSession, error) {
	return getByField[models.EditSession](s.db, ctx, "id", sessionID, models.ErrSessionNotFound)
}

// EndSession records ended_at and the outcome. Only one transition into
// ended is legal: a second end returns models.ErrSessionEnded.
func (s *GORMStore) EndSession(ctx context.Context, sessionID string, outcome models.SessionOutcome, publishedVersionID *string) error {
	updates := map[string]any{
		"ended_at": time.Now().UTC(),
		"outcome":  string(outcome),
	}
	if publishedVersionID != nil {
		updates["published_version_id"] = *publishedVersionID
	}

	res := s.db.WithContext(ctx).Model(&models.EditSession{}).
		Where("id = ? AND ended_at IS NULL", sessionID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var exists int64
		if err := s.db.WithContext(ctx).Model(&models.EditSession{}).Where("id = ?", sessionID).Count(&exists).Error; err != nil {
			return err
		}
		if exists == 0 {
			return models.ErrSessionNotFound
		}
		return models.ErrSessionEnded
	}
	return nil
}

// TouchSession stamps last_activity_at on an active session.
func (s *GORMStore) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.EditSession{}).
		Where("id = ? AND ended_at IS NULL", sessionID).
		Update("last_activity_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.ErrSessionNotFound
	}
	return nil
}

// ListIdleSessions returns active sessions whose last activity is older
// than the cutoff, for the idle reaper.
func (s *GORMStore) ListIdleSessions(ctx context.Context, olderThan time.Time) ([]*models.EditSession, error) {
	var sessions []*models.EditSession
	err := s.db.WithContext(ctx).
		Where("ended_at IS NULL AND last_activity_at < ?", olderThan).
		Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}
