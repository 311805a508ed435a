// Package permission implements edit grants and the audit appender.
//
// Authorization is a single rule used everywhere: the caller is the task's
// owner, or holds an active, unexpired edit grant. The audit appender is
// best effort: a failed audit insert is logged and counted, never surfaced
// to the caller, so the business operation it trails cannot be rolled back
// by audit trouble.
package permission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benfrankstein/untxt-sub002/internal/logger"
	"github.com/benfrankstein/untxt-sub002/pkg/models"
	"github.com/benfrankstein/untxt-sub002/pkg/store"
)

// Metrics receives permission-layer counters. A nil Metrics disables them.
type Metrics interface {
	AuditWriteMissed()
}

// Service implements grants, checks and audit appends.
type Service struct {
	store   store.Store
	metrics Metrics
}

// New creates the permission service. metrics may be nil.
func New(st store.Store, metrics Metrics) *Service {
	return &Service{store: st, metrics: metrics}
}

// Grant creates an edit grant on the task. Only the task owner can grant.
// expiresAt is optional; a nil value grants until revoked.
func (s *Service) Grant(ctx context.Context, taskID, userID, grantedBy string, expiresAt *time.Time) (*models.EditPermission, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.OwnerID != grantedBy {
		return nil, models.ErrForbidden
	}
	if userID == task.OwnerID {
		return nil, fmt.Errorf("owner already has access to task %s", taskID)
	}
	if expiresAt != nil && !expiresAt.After(time.Now().UTC()) {
		return nil, fmt.Errorf("expiry %s is in the past", expiresAt.Format(time.RFC3339))
	}

	perm := &models.EditPermission{
		ID:        models.NewID(),
		TaskID:    taskID,
		UserID:    userID,
		GrantedBy: grantedBy,
		GrantedAt: time.Now().UTC(),
		ExpiresAt: expiresAt,
		IsActive:  true,
	}
	if _, err := s.store.CreatePermission(ctx, perm); err != nil {
		return nil, err
	}

	s.Audit(ctx, &models.AuditRecord{
		TaskID: taskID,
		UserID: grantedBy,
		Action: models.ActionGrantPermission,
		Details: models.JSONMap{
			"permission_id": perm.ID,
			"grantee_id":    userID,
		},
	})

	logger.Info("edit permission granted",
		"task_id", taskID, "grantee_id", userID, "granted_by", grantedBy)
	return perm, nil
}

// Revoke deactivates a grant. Only the task owner can revoke. Revoking an
// already revoked grant returns models.ErrPermissionRevoked.
func (s *Service) Revoke(ctx context.Context, permissionID, revokedBy, reason string) error {
	perm, err := s.store.GetPermission(ctx, permissionID)
	if err != nil {
		return err
	}
	task, err := s.store.GetTask(ctx, perm.TaskID)
	if err != nil {
		return err
	}
	if task.OwnerID != revokedBy {
		return models.ErrForbidden
	}

	if err := s.store.RevokePermission(ctx, permissionID, reason); err != nil {
		return err
	}

	s.Audit(ctx, &models.AuditRecord{
		TaskID: perm.TaskID,
		UserID: revokedBy,
		Action: models.ActionRevokePermission,
		Details: models.JSONMap{
			"permission_id": permissionID,
			"grantee_id":    perm.UserID,
			"reason":        reason,
		},
	})

	logger.Info("edit permission revoked",
		"task_id", perm.TaskID, "permission_id", permissionID, "revoked_by", revokedBy)
	return nil
}

// Check reports whether the user may access the task: owner, or active
// unexpired grant.
func (s *Service) Check(ctx context.Context, userID, taskID string) (bool, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return false, err
	}
	return s.allowed(ctx, userID, task)
}

// Authorize loads the task and enforces the access rule in one call. Returns
// models.ErrForbidden when the caller has no access.
func (s *Service) Authorize(ctx context.Context, userID, taskID string) (*models.Task, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	ok, err := s.allowed(ctx, userID, task)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.ErrForbidden
	}
	return task, nil
}

func (s *Service) allowed(ctx context.Context, userID string, task *models.Task) (bool, error) {
	if task.OwnerID == userID {
		return true, nil
	}
	perm, err := s.store.GetEffectivePermission(ctx, userID, task.ID)
	if err != nil {
		if errors.Is(err, models.ErrPermissionNotFound) {
			return false, nil
		}
		return false, err
	}
	return perm.Effective(time.Now().UTC()), nil
}

// List returns all grants ever issued on the task, active or not. Owner only.
func (s *Service) List(ctx context.Context, taskID, callerID string) ([]*models.EditPermission, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.OwnerID != callerID {
		return nil, models.ErrForbidden
	}
	return s.store.ListPermissions(ctx, taskID)
}

// Audit appends one audit row, filling ID and timestamp. Failures are logged
// and counted but never returned: the audited operation already happened.
func (s *Service) Audit(ctx context.Context, record *models.AuditRecord) {
	if record.ID == "" {
		record.ID = models.NewID()
	}
	if record.At.IsZero() {
		record.At = time.Now().UTC()
	}

	if err := s.store.AppendAudit(ctx, record); err != nil {
		if s.metrics != nil {
			s.metrics.AuditWriteMissed()
		}
		logger.Error("audit append failed",
			"task_id", record.TaskID, "action", record.Action, "error", err)
	}
}

// Trail returns the newest audit rows for a task. Owner only.
func (s *Service) Trail(ctx context.Context, taskID, callerID string, limit int) ([]*models.AuditRecord, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.OwnerID != callerID {
		return nil, models.ErrForbidden
	}
	return s.store.ListAudit(ctx, taskID, limit)
}
