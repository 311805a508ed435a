package version

import (
	"bytes"
	"context"
	"fmt"

	"github.com/benfrankstein/untxt-sub002/internal/logger"
	"github.com/benfrankstein/untxt-sub002/pkg/models"
)

// LatestContent is the editor load payload.
type LatestContent struct {
	Content       []byte               `json:"-"`
	VersionID     string               `json:"version_id"`
	VersionNumber int                  `json:"version_number"`
	Source        models.ContentSource `json:"source"`
}

// Latest returns the newest version's bytes for the editor.
//
// Bytes that are detectably not editor HTML (a binary magic number, or an
// embedded copy of the original artifact) mark the version as corrupted: the
// read falls back to the task's original version and the incident is
// recorded in the audit trail.
func (e *Engine) Latest(ctx context.Context, userID, taskID string) (*LatestContent, error) {
	task, err := e.access.Authorize(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != models.StatusCompleted {
		return nil, ErrTaskNotCompleted
	}
	if err := e.ensureOriginal(ctx, task); err != nil {
		return nil, err
	}

	latest, err := e.store.GetLatestVersion(ctx, taskID)
	if err != nil {
		return nil, err
	}

	content, err := e.versionBytes(ctx, latest)
	if err != nil {
		return nil, err
	}

	source := models.SourceInline
	if !latest.Inline() {
		source = models.SourceObjectStore
	}

	if corrupted(content) {
		return e.fallbackToOriginal(ctx, userID, taskID, latest)
	}

	return &LatestContent{
		Content:       content,
		VersionID:     latest.ID,
		VersionNumber: latest.VersionNumber,
		Source:        source,
	}, nil
}

// List returns the task's version history, oldest first. Content bytes are
// not loaded.
func (e *Engine) List(ctx context.Context, userID, taskID string) ([]*models.DocumentVersion, error) {
	if _, err := e.access.Authorize(ctx, userID, taskID); err != nil {
		return nil, err
	}
	return e.store.ListVersions(ctx, taskID)
}

// versionBytes loads a version's content from wherever it lives.
func (e *Engine) versionBytes(ctx context.Context, v *models.DocumentVersion) ([]byte, error) {
	if v.Inline() {
		return v.Content, nil
	}
	data, err := e.objects.GetBytes(ctx, v.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch version content: %w", err)
	}
	return data, nil
}

// fallbackToOriginal serves the version 0 bytes in place of a corrupted
// latest version.
func (e *Engine) fallbackToOriginal(ctx context.Context, userID, taskID string, corrupt *models.DocumentVersion) (*LatestContent, error) {
	if e.metrics != nil {
		e.metrics.CorruptionFallback()
	}
	logger.Error("corrupted version content, falling back to original",
		"task_id", taskID, "version_id", corrupt.ID,
		"version_number", corrupt.VersionNumber)

	e.access.Audit(ctx, &models.AuditRecord{
		TaskID:    taskID,
		UserID:    userID,
		Action:    models.ActionCorruptionFallback,
		VersionID: &corrupt.ID,
		Details: models.JSONMap{
			"version_number": corrupt.VersionNumber,
		},
	})

	original, err := e.store.GetOriginalVersion(ctx, taskID)
	if err != nil {
		return nil, err
	}
	content, err := e.versionBytes(ctx, original)
	if err != nil {
		return nil, err
	}
	return &LatestContent{
		Content:       content,
		VersionID:     original.ID,
		VersionNumber: original.VersionNumber,
		Source:        models.SourceOriginalFallback,
	}, nil
}

// corrupted reports whether the bytes cannot be editor HTML: a PDF magic
// number, or an embed/object tag carrying the original binary artifact
// instead of markup.
func corrupted(content []byte) bool {
	trimmed := bytes.TrimLeft(content, " \t\r\n")
	if bytes.HasPrefix(trimmed, []byte("%PDF-")) {
		return true
	}
	lower := bytes.ToLower(content)
	if bytes.Contains(lower, []byte(`<embed`)) && bytes.Contains(lower, []byte(`application/pdf`)) {
		return true
	}
	if bytes.Contains(lower, []byte(`<object`)) && bytes.Contains(lower, []byte(`application/pdf`)) {
		return true
	}
	return false
}
