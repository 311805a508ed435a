package store

import (
	"context"

	"gorm.io/gorm/clause"

	"github.com/benfrankstein/untxt-sub002/pkg/models"
)

// GetUserByID returns a user by ID.
func (s *GORMStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return getByField[models.User](s.db, ctx, "id", id, models.ErrUserNotFound)
}

// EnsureUser inserts the user row if it does not exist. Identity is
// resolved by the external auth capability; the row here only anchors
// foreign keys and display attributes.
func (s *GORMStore) EnsureUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = models.NewID()
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(user).Error
}
