// Package download implements authorized access to stored artifacts.
//
// Originals and results redirect to pre-signed URLs so object bytes never
// pass through the server. The editor preview and page images are the
// exception: they stream through the process because the browser embeds
// them inline and cannot follow cross-origin redirects there.
package download

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/benfrankstein/untxt-sub002/internal/logger"
	"github.com/benfrankstein/untxt-sub002/pkg/models"
	"github.com/benfrankstein/untxt-sub002/pkg/store"
)

// ErrResultNotReady means the task has not completed, so there is no result
// artifact to serve yet.
var ErrResultNotReady = errors.New("task has no completed result")

// ErrPageNotFound means the requested page image was never generated.
var ErrPageNotFound = errors.New("page image not found")

// Objects is the object-store surface the service needs.
type Objects interface {
	PresignGetAttachment(ctx context.Context, key, filename string, ttl time.Duration) (string, error)
	GetBytes(ctx context.Context, key string) ([]byte, error)
}

// Access authorizes task reads and appends audit rows. Satisfied by the
// permission service.
type Access interface {
	Authorize(ctx context.Context, userID, taskID string) (*models.Task, error)
	Audit(ctx context.Context, record *models.AuditRecord)
}

// Service serves originals, results, previews and page images.
type Service struct {
	store   store.Store
	objects Objects
	access  Access
}

// New creates the download service.
func New(st store.Store, objects Objects, access Access) *Service {
	return &Service{store: st, objects: objects, access: access}
}

// OriginalURL mints a pre-signed download URL for the task's uploaded file.
func (s *Service) OriginalURL(ctx context.Context, userID, taskID string) (string, error) {
	task, err := s.access.Authorize(ctx, userID, taskID)
	if err != nil {
		return "", err
	}
	if task.File == nil {
		return "", models.ErrFileNotFound
	}

	url, err := s.objects.PresignGetAttachment(ctx, task.File.ObjectKey, task.File.Filename, 0)
	if err != nil {
		return "", fmt.Errorf("failed to presign original: %w", err)
	}

	s.access.Audit(ctx, &models.AuditRecord{
		TaskID:  taskID,
		UserID:  userID,
		Action:  models.ActionDownload,
		Details: models.JSONMap{"target": "original", "filename": task.File.Filename},
	})
	return url, nil
}

// ResultURL mints a pre-signed download URL for the OCR result document.
// Only completed tasks have one.
func (s *Service) ResultURL(ctx context.Context, userID, taskID string) (string, error) {
	task, err := s.access.Authorize(ctx, userID, taskID)
	if err != nil {
		return "", err
	}
	if task.Status != models.StatusCompleted {
		return "", ErrResultNotReady
	}

	result, err := s.store.GetResult(ctx, taskID)
	if err != nil {
		return "", err
	}

	url, err := s.objects.PresignGetAttachment(ctx, result.ResultObjectKey, resultFilename(task), 0)
	if err != nil {
		return "", fmt.Errorf("failed to presign result: %w", err)
	}

	s.access.Audit(ctx, &models.AuditRecord{
		TaskID:  taskID,
		UserID:  userID,
		Action:  models.ActionDownload,
		Details: models.JSONMap{"target": "result"},
	})
	return url, nil
}

// Preview streams the OCR HTML output for the editor's initial load.
// Returns the bytes and their content type.
func (s *Service) Preview(ctx context.Context, userID, taskID string) ([]byte, string, error) {
	task, err := s.access.Authorize(ctx, userID, taskID)
	if err != nil {
		return nil, "", err
	}
	if task.Status != models.StatusCompleted {
		return nil, "", ErrResultNotReady
	}

	result, err := s.store.GetResult(ctx, taskID)
	if err != nil {
		return nil, "", err
	}

	data, err := s.objects.GetBytes(ctx, result.ResultObjectKey)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch preview: %w", err)
	}

	s.access.Audit(ctx, &models.AuditRecord{
		TaskID: taskID,
		UserID: userID,
		Action: models.ActionOpenViewer,
	})
	return data, "text/html; charset=utf-8", nil
}

// PageImage streams one page thumbnail. Pages are 1-based.
func (s *Service) PageImage(ctx context.Context, userID, taskID string, page int) ([]byte, string, error) {
	if _, err := s.access.Authorize(ctx, userID, taskID); err != nil {
		return nil, "", err
	}

	result, err := s.store.GetResult(ctx, taskID)
	if err != nil {
		if errors.Is(err, models.ErrResultNotFound) {
			return nil, "", ErrResultNotReady
		}
		return nil, "", err
	}

	key, ok := result.PageImageKeys[strconv.Itoa(page)].(string)
	if !ok || key == "" {
		return nil, "", ErrPageNotFound
	}

	data, err := s.objects.GetBytes(ctx, key)
	if err != nil {
		logger.Warn("page image fetch failed", "task_id", taskID, "page", page, "error", err)
		return nil, "", fmt.Errorf("failed to fetch page image: %w", err)
	}
	return data, "image/png", nil
}

// resultFilename derives the result attachment name from the original
// filename, swapping the extension for .html.
func resultFilename(task *models.Task) string {
	name := "result"
	if task.File != nil && task.File.Filename != "" {
		name = task.File.Filename
		if idx := strings.LastIndex(name, "."); idx > 0 {
			name = name[:idx]
		}
	}
	return name + ".html"
}
