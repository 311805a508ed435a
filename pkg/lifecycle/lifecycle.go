// Package lifecycle implements the delete path for tasks and the object
// retention machinery behind it.
//
// A task delete hard-deletes the metadata rows (task, result, versions;
// audit survives) and soft-deletes the blobs: objects are tagged
// deleted=true with a deletion timestamp and left for the store's lifecycle
// rules to expire, cold-transition and purge. For stores without native
// lifecycle support an in-process reaper scans for expired tagged objects
// and removes them itself.
package lifecycle

import (
	"context"
	"time"

	"github.com/benfrankstein/untxt-sub002/internal/logger"
	"github.com/benfrankstein/untxt-sub002/pkg/models"
	"github.com/benfrankstein/untxt-sub002/pkg/objectstore"
	"github.com/benfrankstein/untxt-sub002/pkg/store"
)

// Objects is the object-store surface the service needs.
type Objects interface {
	DeclareLifecycle(ctx context.Context, policy objectstore.LifecyclePolicy) error
	MarkDeleted(ctx context.Context, key string, at time.Time) error
	ListDeletedBefore(ctx context.Context, cutoff time.Time) ([]string, error)
	Delete(ctx context.Context, key string) error
}

// Access authorizes task reads and appends audit rows. Satisfied by the
// permission service.
type Access interface {
	Authorize(ctx context.Context, userID, taskID string) (*models.Task, error)
	Audit(ctx context.Context, record *models.AuditRecord)
}

// Config contains lifecycle configuration.
type Config struct {
	// Policy is the retention policy declared to the object store.
	Policy objectstore.LifecyclePolicy

	// ScanReaper enables the in-process fallback reaper for stores
	// without native lifecycle rules.
	ScanReaper bool

	// ScanInterval is the fallback reaper cadence (default: 1h).
	ScanInterval time.Duration
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	c.Policy.ApplyDefaults()
	if c.ScanInterval == 0 {
		c.ScanInterval = time.Hour
	}
}

// Service owns task deletion and object retention.
type Service struct {
	config  Config
	store   store.Store
	objects Objects
	access  Access
}

// New creates the lifecycle service.
func New(st store.Store, objects Objects, access Access, config Config) *Service {
	config.ApplyDefaults()
	return &Service{config: config, store: st, objects: objects, access: access}
}

// Declare pushes the retention policy to the object store. Called once at
// startup; re-declaring the same policy is idempotent.
func (s *Service) Declare(ctx context.Context) error {
	return s.objects.DeclareLifecycle(ctx, s.config.Policy)
}

// DeleteTask removes a task. Only the owner can delete. Metadata rows are
// hard-deleted in one transaction; the original, result, page-image and
// offloaded version objects are tagged deleted=true and recoverable until
// the retention policy expires
// them. Tagging failures are logged, not returned: the metadata delete is
// the authoritative part and the reaper or policy catches stragglers.
func (s *Service) DeleteTask(ctx context.Context, userID, taskID string) error {
	task, err := s.access.Authorize(ctx, userID, taskID)
	if err != nil {
		return err
	}
	if task.OwnerID != userID {
		return models.ErrForbidden
	}

	deleted, versionKeys, err := s.store.DeleteTaskCascade(ctx, userID, taskID)
	if err != nil {
		return err
	}

	keys := append(objectKeys(deleted), versionKeys...)
	now := time.Now().UTC()
	for _, key := range keys {
		if err := s.objects.MarkDeleted(ctx, key, now); err != nil {
			logger.Warn("failed to tag deleted object",
				"task_id", taskID, "key", key, "error", err)
		}
	}

	s.access.Audit(ctx, &models.AuditRecord{
		TaskID: taskID,
		UserID: userID,
		Action: models.ActionDelete,
		Details: models.JSONMap{
			"objects_tagged": len(keys),
		},
	})

	logger.Info("task deleted", "task_id", taskID, "owner_id", userID)
	return nil
}

// objectKeys collects the blob keys belonging to a deleted task.
func objectKeys(task *models.Task) []string {
	var keys []string
	if task.File != nil && task.File.ObjectKey != "" {
		keys = append(keys, task.File.ObjectKey)
	}
	if task.Result != nil {
		if task.Result.ResultObjectKey != "" {
			keys = append(keys, task.Result.ResultObjectKey)
		}
		for _, v := range task.Result.PageImageKeys {
			if key, ok := v.(string); ok && key != "" {
				keys = append(keys, key)
			}
		}
	}
	return keys
}

// RunScanReaper deletes objects whose deleted_at tag is past the expiry
// window, for stores that do not apply lifecycle rules natively. No-op
// unless enabled.
func (s *Service) RunScanReaper(ctx context.Context) {
	if !s.config.ScanReaper {
		return
	}

	ticker := time.NewTicker(s.config.ScanInterval)
	defer ticker.Stop()

	logger.Info("lifecycle scan reaper running",
		"interval", s.config.ScanInterval,
		"expiry_days", s.config.Policy.DeletedExpiryDays)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reapExpired(ctx)
		}
	}
}

func (s *Service) reapExpired(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -int(s.config.Policy.DeletedExpiryDays))
	keys, err := s.objects.ListDeletedBefore(ctx, cutoff)
	if err != nil {
		logger.Error("lifecycle scan failed", "error", err)
		return
	}

	for _, key := range keys {
		if err := s.objects.Delete(ctx, key); err != nil {
			logger.Error("failed to delete expired object", "key", key, "error", err)
			continue
		}
		logger.Info("expired object deleted", "key", key)
	}
}
