package store

import (
	"context"
	"time"

	"github.com/benfrankstein/untxt-sub002/pkg/models"
)

// AppendAudit inserts one audit row. The store intentionally exposes no
// update or delete for audit_records.
func (s *GORMStore) AppendAudit(ctx context.Context, record *models.AuditRecord) error {
	if record.ID == "" {
		record.ID = models.NewID()
	}
	if record.At.IsZero() {
		record.At = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(record).Error
}

// ListAudit returns the task's audit trail newest first.
func (s *GORMStore) ListAudit(ctx context.Context, taskID string, limit int) ([]*models.AuditRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var records []*models.AuditRecord
	err := s.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("at desc").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}
