// Package version implements the document version engine: edit sessions,
// the snapshot-or-overwrite save path, corruption-safe latest reads and the
// PDF export that records its own version.
//
// Version rows are immutable once superseded. Within the snapshot window an
// auto-save overwrites the current latest row in place; once the window
// passes (or the latest is the untouched original) the next save promotes a
// new numbered snapshot.
package version

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benfrankstein/untxt-sub002/internal/logger"
	"github.com/benfrankstein/untxt-sub002/pkg/models"
	"github.com/benfrankstein/untxt-sub002/pkg/store"
)

var (
	// ErrTaskNotCompleted means the task has no OCR output to edit yet.
	ErrTaskNotCompleted = errors.New("task has not completed processing")

	// ErrEmptyContent means a save carried no bytes.
	ErrEmptyContent = errors.New("version content is empty")
)

// Objects is the object-store surface the engine needs: fetching result and
// offloaded version bytes, and uploading promoted snapshots.
type Objects interface {
	GetBytes(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Access authorizes task reads and appends audit rows. Satisfied by the
// permission service.
type Access interface {
	Authorize(ctx context.Context, userID, taskID string) (*models.Task, error)
	Audit(ctx context.Context, record *models.AuditRecord)
}

// Metrics receives engine counters. A nil Metrics disables them.
type Metrics interface {
	CorruptionFallback()
}

// Config contains version engine configuration.
type Config struct {
	// SnapshotWindow is how long an auto-save keeps overwriting the same
	// latest row before the next save promotes a snapshot (default: 5m).
	SnapshotWindow time.Duration

	// IdleTimeout ends sessions with no activity for this long
	// (default: 30m).
	IdleTimeout time.Duration

	// InlineLimit is the content size above which a version's bytes are
	// offloaded to the object store (default: 1 MiB).
	InlineLimit int

	// ReapInterval is the idle-session reaper cadence (default: 1m).
	ReapInterval time.Duration
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.SnapshotWindow == 0 {
		c.SnapshotWindow = 5 * time.Minute
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 30 * time.Minute
	}
	if c.InlineLimit == 0 {
		c.InlineLimit = 1 << 20
	}
	if c.ReapInterval == 0 {
		c.ReapInterval = time.Minute
	}
}

// Engine is the document version engine.
type Engine struct {
	config  Config
	store   store.Store
	objects Objects
	access  Access
	render  Renderer
	metrics Metrics
}

// New creates the version engine. renderer and metrics may be nil; a nil
// renderer uses the built-in PDF writer.
func New(st store.Store, objects Objects, access Access, renderer Renderer, metrics Metrics, config Config) *Engine {
	config.ApplyDefaults()
	if renderer == nil {
		renderer = &SimplePDF{}
	}
	return &Engine{
		config:  config,
		store:   st,
		objects: objects,
		access:  access,
		render:  renderer,
		metrics: metrics,
	}
}

// StartSession opens an edit session over the task. Any active session for
// the same (user, task) is ended with outcome superseded first. The original
// version row (number 0) is seeded from the OCR output on first open.
func (e *Engine) StartSession(ctx context.Context, userID, taskID string, viewType models.ViewType) (*models.EditSession, error) {
	if !viewType.IsValid() {
		return nil, fmt.Errorf("unknown view type %q", viewType)
	}

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

	now := time.Now().UTC()
	session := &models.EditSession{
		ID:             models.NewID(),
		TaskID:         taskID,
		UserID:         userID,
		ViewType:       viewType,
		StartedAt:      now,
		LastActivityAt: now,
	}
	if err := e.store.StartSession(ctx, session); err != nil {
		return nil, err
	}

	e.access.Audit(ctx, &models.AuditRecord{
		TaskID:    taskID,
		UserID:    userID,
		Action:    models.ActionStartSession,
		SessionID: &session.ID,
		Details:   models.JSONMap{"view_type": string(viewType)},
	})

	logger.Info("edit session started",
		"session_id", session.ID, "task_id", taskID, "user_id", userID, "view_type", viewType)
	return session, nil
}

// EndSession closes a session. Safe to call from best-effort beacons: ending
// an already-ended session is a no-op success. When finalHTML is present one
// last save runs first; its failure is logged, not returned, so the end
// itself always lands.
func (e *Engine) EndSession(ctx context.Context, userID, sessionID string, finalHTML []byte, outcome models.SessionOutcome) error {
	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.UserID != userID {
		return models.ErrForbidden
	}
	if !session.Active() {
		return nil
	}

	if len(finalHTML) > 0 {
		if _, err := e.Save(ctx, userID, sessionID, finalHTML, ReasonAutoSave); err != nil {
			logger.Warn("final save on session end failed",
				"session_id", sessionID, "error", err)
		}
	}

	if outcome == "" {
		outcome = models.OutcomeClosed
	}

	var publishedID *string
	if latest, err := e.store.GetLatestVersion(ctx, session.TaskID); err == nil && !latest.IsOriginal {
		if latest.SessionID != nil && *latest.SessionID == sessionID {
			publishedID = &latest.ID
		}
	}

	if err := e.store.EndSession(ctx, sessionID, outcome, publishedID); err != nil {
		if errors.Is(err, models.ErrSessionEnded) {
			return nil
		}
		return err
	}

	e.access.Audit(ctx, &models.AuditRecord{
		TaskID:    session.TaskID,
		UserID:    userID,
		Action:    models.ActionEndSession,
		SessionID: &sessionID,
		VersionID: publishedID,
		Details:   models.JSONMap{"outcome": string(outcome)},
	})

	logger.Info("edit session ended",
		"session_id", sessionID, "task_id", session.TaskID, "outcome", outcome)
	return nil
}

// ensureOriginal seeds the version 0 row from the stored OCR output if the
// task has no versions yet.
func (e *Engine) ensureOriginal(ctx context.Context, task *models.Task) error {
	_, err := e.store.GetOriginalVersion(ctx, task.ID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, models.ErrVersionNotFound) {
		return err
	}

	result, err := e.store.GetResult(ctx, task.ID)
	if err != nil {
		return err
	}
	content, err := e.objects.GetBytes(ctx, result.ResultObjectKey)
	if err != nil {
		return fmt.Errorf("failed to fetch ocr output: %w", err)
	}

	original := &models.DocumentVersion{
		TaskID:          task.ID,
		IsOriginal:      true,
		Content:         content,
		ContentChecksum: checksum(content),
		CharacterCount:  charCount(content),
		WordCount:       wordCount(content),
		EditReason:      "ocr_output",
		EditedBy:        task.OwnerID,
		EditedAt:        time.Now().UTC(),
	}
	if err := e.store.CreateVersionAsLatest(ctx, original); err != nil {
		return err
	}
	logger.Debug("seeded original version", "task_id", task.ID, "version_id", original.ID)
	return nil
}

// RunIdleReaper ends sessions whose last activity is older than the idle
// timeout, until the context ends.
func (e *Engine) RunIdleReaper(ctx context.Context) {
	ticker := time.NewTicker(e.config.ReapInterval)
	defer ticker.Stop()

	logger.Info("idle session reaper running",
		"idle_timeout", e.config.IdleTimeout, "interval", e.config.ReapInterval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.reapIdleSessions(ctx)
		}
	}
}

func (e *Engine) reapIdleSessions(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-e.config.IdleTimeout)
	sessions, err := e.store.ListIdleSessions(ctx, cutoff)
	if err != nil {
		logger.Error("failed to list idle sessions", "error", err)
		return
	}

	for _, session := range sessions {
		if err := e.store.EndSession(ctx, session.ID, models.OutcomeIdle, nil); err != nil {
			if !errors.Is(err, models.ErrSessionEnded) {
				logger.Error("failed to end idle session",
					"session_id", session.ID, "error", err)
			}
			continue
		}
		e.access.Audit(ctx, &models.AuditRecord{
			TaskID:    session.TaskID,
			UserID:    session.UserID,
			Action:    models.ActionEndSession,
			SessionID: &session.ID,
			Details:   models.JSONMap{"outcome": string(models.OutcomeIdle)},
		})
		logger.Info("idle session ended",
			"session_id", session.ID, "task_id", session.TaskID,
			"last_activity_at", session.LastActivityAt)
	}
}
