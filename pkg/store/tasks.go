package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/benfrankstein/untxt-sub002/pkg/models"
)

// CreateTaskWithFile inserts the file and its task in one transaction.
// The queue push happens after this returns: a worker that pops a task id
// it cannot find treats the message as spurious.
func (s *GORMStore) CreateTaskWithFile(ctx context.Context, file *models.File, task *models.Task) error {
	if file.ID == "" {
		file.ID = models.NewID()
	}
	if task.ID == "" {
		task.ID = models.NewID()
	}
	task.FileID = file.ID
	if task.Status == "" {
		task.Status = models.StatusQueued
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(file).Error; err != nil {
			if isUniqueConstraintError(err) {
				return models.ErrDuplicateFile
			}
			return err
		}
		if err := tx.Create(task).Error; err != nil {
			if isUniqueConstraintError(err) {
				return models.ErrDuplicateTask
			}
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.notify(ChangeEvent{Table: "files", Op: OpInsert, RecordID: file.ID, OwnerID: file.OwnerID,
		Summary: models.JSONMap{"filename": file.Filename}})
	s.notify(ChangeEvent{Table: "tasks", Op: OpInsert, RecordID: task.ID, OwnerID: task.OwnerID,
		Summary: models.JSONMap{"status": string(task.Status)}})
	return nil
}

// GetTask returns a task with its file and result preloaded.
func (s *GORMStore) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	return getByField[models.Task](s.db, ctx, "id", taskID, models.ErrTaskNotFound, "File", "Result")
}

// ListTasks returns the owner's tasks newest first plus summary counts.
func (s *GORMStore) ListTasks(ctx context.Context, ownerID string, folderID *string) ([]*models.Task, *models.TaskSummary, error) {
	q := s.db.WithContext(ctx).
		Preload("File").
		Preload("Result").
		Where("owner_id = ?", ownerID)
	if folderID != nil {
		q = q.Where("folder_id = ?", *folderID)
	}

	var tasks []*models.Task
	if err := q.Order("created_at desc").Find(&tasks).Error; err != nil {
		return nil, nil, err
	}

	summary := &models.TaskSummary{}
	type statusCount struct {
		Status models.TaskStatus
		N      int64
	}
	var counts []statusCount
	cq := s.db.WithContext(ctx).Model(&models.Task{}).
		Select("status, count(*) as n").
		Where("owner_id = ?", ownerID)
	if folderID != nil {
		cq = cq.Where("folder_id = ?", *folderID)
	}
	if err := cq.Group("status").Scan(&counts).Error; err != nil {
		return nil, nil, err
	}
	for _, c := range counts {
		summary.Total += c.N
		switch c.Status {
		case models.StatusQueued:
			summary.Queued = c.N
		case models.StatusProcessing:
			summary.Processing = c.N
		case models.StatusCompleted:
			summary.Completed = c.N
		case models.StatusFailed:
			summary.Failed = c.N
		}
	}

	return tasks, summary, nil
}

// TransitionTask compare-and-sets the task status. The WHERE clause on the
// current status serializes concurrent workers: exactly one CAS wins.
func (s *GORMStore) TransitionTask(ctx context.Context, taskID string, from, to models.TaskStatus, workerID, errorMessage string) error {
	if !from.CanTransitionTo(to) {
		return models.ErrInvalidTransition
	}

	updates := map[string]any{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	if workerID != "" {
		updates["worker_id"] = workerID
	}
	if errorMessage != "" {
		updates["error_message"] = errorMessage
	}

	res := s.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ? AND status = ?", taskID, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Either the task is gone or another worker already moved it.
		var exists int64
		if err := s.db.WithContext(ctx).Model(&models.Task{}).Where("id = ?", taskID).Count(&exists).Error; err != nil {
			return err
		}
		if exists == 0 {
			return models.ErrTaskNotFound
		}
		return models.ErrInvalidTransition
	}

	task, err := s.GetTask(ctx, taskID)
	if err == nil {
		s.notify(ChangeEvent{Table: "tasks", Op: OpUpdate, RecordID: taskID, OwnerID: task.OwnerID,
			Summary: models.JSONMap{"status": string(to)}})
	}
	return nil
}

// IncrementTaskAttempts bumps the attempt counter and returns the new value.
func (s *GORMStore) IncrementTaskAttempts(ctx context.Context, taskID string) (int, error) {
	res := s.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ?", taskID).
		UpdateColumn("attempts", gorm.Expr("attempts + 1"))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, models.ErrTaskNotFound
	}

	var task models.Task
	if err := s.db.WithContext(ctx).Select("attempts").Where("id = ?", taskID).First(&task).Error; err != nil {
		return 0, convertNotFoundError(err, models.ErrTaskNotFound)
	}
	return task.Attempts, nil
}

// CompleteTask inserts (or replaces) the result row and moves the task
// processing -> completed in one transaction. Clients therefore never see a
// completed status before the result row is durable. Re-processing a task
// replaces its previous result (unique by task_id).
func (s *GORMStore) CompleteTask(ctx context.Context, taskID string, result *models.Result) error {
	if result.ID == "" {
		result.ID = models.NewID()
	}
	result.TaskID = taskID

	var ownerID string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var task models.Task
		if err := tx.Where("id = ?", taskID).First(&task).Error; err != nil {
			return convertNotFoundError(err, models.ErrTaskNotFound)
		}
		ownerID = task.OwnerID

		if task.Status != models.StatusProcessing {
			return models.ErrInvalidTransition
		}

		// Unique by task_id: a retry replaces the previous result row.
		if err := tx.Where("task_id = ?", taskID).Delete(&models.Result{}).Error; err != nil {
			return err
		}
		if err := tx.Create(result).Error; err != nil {
			return err
		}

		return tx.Model(&models.Task{}).
			Where("id = ? AND status = ?", taskID, models.StatusProcessing).
			Updates(map[string]any{
				"status":     models.StatusCompleted,
				"updated_at": time.Now().UTC(),
			}).Error
	})
	if err != nil {
		return err
	}

	s.notify(ChangeEvent{Table: "results", Op: OpInsert, RecordID: result.ID, OwnerID: ownerID,
		Summary: models.JSONMap{"task_id": taskID}})
	s.notify(ChangeEvent{Table: "tasks", Op: OpUpdate, RecordID: taskID, OwnerID: ownerID,
		Summary: models.JSONMap{"status": string(models.StatusCompleted)}})
	return nil
}

// DeleteTaskCascade hard-deletes the task, its result and all document
// versions in one transaction. Sessions and audit rows survive for
// compliance. The returned task (with file and result preloaded) and the
// offloaded version keys let the caller tag the object-store artifacts for
// expiry; the keys are collected inside the transaction so the version rows
// cannot vanish before their blobs are accounted for.
func (s *GORMStore) DeleteTaskCascade(ctx context.Context, ownerID, taskID string) (*models.Task, []string, error) {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}
	if task.OwnerID != ownerID {
		return nil, nil, models.ErrForbidden
	}

	var versionKeys []string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.DocumentVersion{}).
			Where("task_id = ? AND object_key <> ''", taskID).
			Pluck("object_key", &versionKeys).Error; err != nil {
			return err
		}
		if err := tx.Where("task_id = ?", taskID).Delete(&models.DocumentVersion{}).Error; err != nil {
			return err
		}
		if err := tx.Where("task_id = ?", taskID).Delete(&models.Result{}).Error; err != nil {
			return err
		}
		if err := tx.Where("id = ?", taskID).Delete(&models.Task{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", task.FileID).Delete(&models.File{}).Error
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to delete task %s: %w", taskID, err)
	}

	s.notify(ChangeEvent{Table: "tasks", Op: OpDelete, RecordID: taskID, OwnerID: ownerID})
	s.notify(ChangeEvent{Table: "files", Op: OpDelete, RecordID: task.FileID, OwnerID: ownerID})
	return task, versionKeys, nil
}

// ReleaseTaskForRetry moves a task from processing back to queued so a
// later pop can claim it again. This is the only backward edge in the task
// lifecycle and exists solely for the worker retry path; it keeps the
// attempt counter. Returns models.ErrInvalidTransition when the task is not
// processing.
func (s *GORMStore) ReleaseTaskForRetry(ctx context.Context, taskID string) error {
	res := s.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ? AND status = ?", taskID, models.StatusProcessing).
		Updates(map[string]any{
			"status":     models.StatusQueued,
			"worker_id":  "",
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var exists int64
		if err := s.db.WithContext(ctx).Model(&models.Task{}).Where("id = ?", taskID).Count(&exists).Error; err != nil {
			return err
		}
		if exists == 0 {
			return models.ErrTaskNotFound
		}
		return models.ErrInvalidTransition
	}

	task, err := s.GetTask(ctx, taskID)
	if err == nil {
		s.notify(ChangeEvent{Table: "tasks", Op: OpUpdate, RecordID: taskID, OwnerID: task.OwnerID,
			Summary: models.JSONMap{"status": string(models.StatusQueued)}})
	}
	return nil
}

// ListStuckTasks returns tasks sitting in the given status since before the
// cutoff. The requeue reaper uses this for queued tasks whose push was
// lost; the timeout reaper for processing tasks whose worker died.
func (s *GORMStore) ListStuckTasks(ctx context.Context, status models.TaskStatus, olderThan time.Time) ([]*models.Task, error) {
	var tasks []*models.Task
	err := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", status, olderThan).
		Order("updated_at asc").
		Find(&tasks).Error
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// GetResult returns the result row for a task.
func (s *GORMStore) GetResult(ctx context.Context, taskID string) (*models.Result, error) {
	return getByField[models.Result](s.db, ctx, "task_id", taskID, models.ErrResultNotFound)
}
