package version

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/benfrankstein/untxt-sub002/internal/logger"
	"github.com/benfrankstein/untxt-sub002/pkg/models"
	"github.com/benfrankstein/untxt-sub002/pkg/objectstore"
)

// Edit reasons recorded on version rows.
const (
	ReasonAutoSave = "auto_save"
	ReasonManual   = "manual_save"
	ReasonDownload = "download"
	ReasonRevert   = "revert"
)

// SaveResult describes what one save did.
type SaveResult struct {
	VersionID     string `json:"version_id"`
	VersionNumber int    `json:"version_number"`
	IsSnapshot    bool   `json:"is_snapshot"`
	NoOp          bool   `json:"no_op"`
}

// Save runs the snapshot-or-overwrite algorithm for one auto-save.
//
// An unchanged checksum is a no-op. Otherwise the save overwrites the
// current latest row in place when it was promoted less than the snapshot
// window ago, and promotes a new numbered snapshot when the window passed or
// the latest is the original (the original row is never touched). The window
// is measured from the row's promotion time, not its newest overwrite, so a
// steady stream of auto-saves still yields one snapshot per window.
func (e *Engine) Save(ctx context.Context, userID, sessionID string, html []byte, reason string) (*SaveResult, error) {
	if len(html) == 0 {
		return nil, ErrEmptyContent
	}
	if reason == "" {
		reason = ReasonAutoSave
	}

	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, models.ErrForbidden
	}
	if !session.Active() {
		return nil, models.ErrSessionEnded
	}

	now := time.Now().UTC()
	sum := checksum(html)

	latest, err := e.store.GetLatestVersion(ctx, session.TaskID)
	if err != nil {
		return nil, err
	}

	if latest.ContentChecksum == sum {
		if err := e.store.TouchSession(ctx, sessionID, now); err != nil {
			logger.Warn("failed to touch session", "session_id", sessionID, "error", err)
		}
		return &SaveResult{
			VersionID:     latest.ID,
			VersionNumber: latest.VersionNumber,
			NoOp:          true,
		}, nil
	}

	snapshot := latest.IsOriginal || now.Sub(latest.CreatedAt) > e.config.SnapshotWindow

	var result *SaveResult
	if snapshot {
		result, err = e.promoteSnapshot(ctx, session, html, sum, reason, now)
	} else {
		err = e.store.OverwriteLatestVersion(ctx, latest.ID, html, sum,
			charCount(html), wordCount(html), now, &sessionID)
		result = &SaveResult{VersionID: latest.ID, VersionNumber: latest.VersionNumber}
	}
	if err != nil {
		return nil, err
	}

	versionID := result.VersionID
	e.access.Audit(ctx, &models.AuditRecord{
		TaskID:    session.TaskID,
		UserID:    userID,
		Action:    models.ActionAutoSave,
		VersionID: &versionID,
		SessionID: &sessionID,
		Details: models.JSONMap{
			"reason":      reason,
			"is_snapshot": result.IsSnapshot,
		},
	})
	return result, nil
}

// promoteSnapshot creates a new numbered version row and offloads its bytes
// to the object store when they exceed the inline limit.
func (e *Engine) promoteSnapshot(ctx context.Context, session *models.EditSession, html []byte, sum, reason string, now time.Time) (*SaveResult, error) {
	row := &models.DocumentVersion{
		TaskID:          session.TaskID,
		Content:         html,
		ContentChecksum: sum,
		CharacterCount:  charCount(html),
		WordCount:       wordCount(html),
		EditReason:      reason,
		EditedBy:        session.UserID,
		EditedAt:        now,
		SessionID:       &session.ID,
	}
	if err := e.store.CreateVersionAsLatest(ctx, row); err != nil {
		return nil, err
	}

	if len(html) > e.config.InlineLimit {
		key := objectstore.VersionKey(session.TaskID, row.VersionNumber)
		if _, err := e.objects.Put(ctx, key, html, "text/html; charset=utf-8"); err != nil {
			// The inline copy is still authoritative; offload is an
			// optimization and can be retried by the next snapshot.
			logger.Warn("version offload upload failed",
				"version_id", row.ID, "key", key, "error", err)
		} else if err := e.store.OffloadVersionContent(ctx, row.ID, key); err != nil {
			logger.Warn("version offload record failed",
				"version_id", row.ID, "key", key, "error", err)
		}
	}

	logger.Debug("snapshot promoted",
		"task_id", session.TaskID, "version_id", row.ID,
		"version_number", row.VersionNumber, "reason", reason)
	return &SaveResult{
		VersionID:     row.ID,
		VersionNumber: row.VersionNumber,
		IsSnapshot:    true,
	}, nil
}

func checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func charCount(content []byte) int {
	return utf8.RuneCount(content)
}

func wordCount(content []byte) int {
	return len(strings.Fields(string(content)))
}

// Revert promotes an existing version's content as a new latest snapshot.
// The reverted-to row itself is untouched; history only moves forward.
func (e *Engine) Revert(ctx context.Context, userID, taskID string, versionNumber int) (*SaveResult, error) {
	task, err := e.access.Authorize(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}

	versions, err := e.store.ListVersions(ctx, taskID)
	if err != nil {
		return nil, err
	}
	var target *models.DocumentVersion
	for _, v := range versions {
		if v.VersionNumber == versionNumber {
			target = v
			break
		}
	}
	if target == nil {
		return nil, models.ErrVersionNotFound
	}

	content, err := e.versionBytes(ctx, target)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	row := &models.DocumentVersion{
		TaskID:          taskID,
		Content:         content,
		ContentChecksum: target.ContentChecksum,
		CharacterCount:  target.CharacterCount,
		WordCount:       target.WordCount,
		EditReason:      ReasonRevert,
		EditedBy:        userID,
		EditedAt:        now,
	}
	if err := e.store.CreateVersionAsLatest(ctx, row); err != nil {
		return nil, err
	}

	e.access.Audit(ctx, &models.AuditRecord{
		TaskID:    task.ID,
		UserID:    userID,
		Action:    models.ActionRevert,
		VersionID: &row.ID,
		Details: models.JSONMap{
			"reverted_to": fmt.Sprintf("%d", versionNumber),
		},
	})
	return &SaveResult{
		VersionID:     row.ID,
		VersionNumber: row.VersionNumber,
		IsSnapshot:    true,
	}, nil
}
