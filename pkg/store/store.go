// Package store provides the metadata persistence layer.
//
// It is the only authoritative source for entity state: tasks, files,
// folders, results, document versions, edit sessions, permissions and the
// audit log. Everything else in the platform (redis mirrors, gateway
// caches) is a derivation.
//
// Two backends are supported through the same GORM codebase:
//   - PostgreSQL (production; change capture via LISTEN/NOTIFY triggers)
//   - SQLite (embedded and tests; change events emitted in-process)
package store

import (
	"context"
	"time"

	"github.com/benfrankstein/untxt-sub002/pkg/models"
)

// Store is the metadata repository interface.
//
// Thread safety: implementations must be safe for concurrent use from
// multiple goroutines. Cross-entity writes that must be atomic (file+task
// insert, task delete cascade, version insert with the latest flip) happen
// inside a single transaction.
type Store interface {
	// Users

	// GetUserByID returns a user by ID.
	// Returns models.ErrUserNotFound if no user has this ID.
	GetUserByID(ctx context.Context, id string) (*models.User, error)

	// EnsureUser inserts the user if it does not exist yet. Identity is
	// resolved externally; this keeps the local row in sync on first sight.
	EnsureUser(ctx context.Context, user *models.User) error

	// Folders

	CreateFolder(ctx context.Context, folder *models.Folder) (string, error)
	GetFolder(ctx context.Context, ownerID, folderID string) (*models.Folder, error)
	ListFolders(ctx context.Context, ownerID string) ([]*models.Folder, error)
	UpdateFolder(ctx context.Context, folder *models.Folder) error
	DeleteFolder(ctx context.Context, ownerID, folderID string) error

	// Tasks and files

	// CreateTaskWithFile inserts the file and its task in one transaction.
	// Returns models.ErrDuplicateTask or models.ErrDuplicateFile on
	// constraint violations.
	CreateTaskWithFile(ctx context.Context, file *models.File, task *models.Task) error

	// GetTask returns a task with its file and result preloaded.
	// Returns models.ErrTaskNotFound if the task doesn't exist.
	GetTask(ctx context.Context, taskID string) (*models.Task, error)

	// ListTasks returns the owner's tasks newest first, with per-status
	// summary counts. folderID narrows to one folder when non-nil.
	ListTasks(ctx context.Context, ownerID string, folderID *string) ([]*models.Task, *models.TaskSummary, error)

	// TransitionTask compare-and-sets the task status from one state to
	// another, stamping updated_at and the worker identity. Returns
	// models.ErrInvalidTransition when the CAS loses.
	TransitionTask(ctx context.Context, taskID string, from, to models.TaskStatus, workerID, errorMessage string) error

	// IncrementTaskAttempts bumps the attempt counter and returns the new
	// value.
	IncrementTaskAttempts(ctx context.Context, taskID string) (int, error)

	// CompleteTask inserts (or replaces) the result row and moves the task
	// processing -> completed in one transaction.
	CompleteTask(ctx context.Context, taskID string, result *models.Result) error

	// ReleaseTaskForRetry moves a processing task back to queued for the
	// worker retry path, keeping the attempt counter.
	ReleaseTaskForRetry(ctx context.Context, taskID string) error

	// DeleteTaskCascade hard-deletes the task, its result rows and all of
	// its document versions in one transaction. Edit sessions and audit
	// rows survive. Returns the deleted task plus the object keys of
	// offloaded version blobs for object-store cleanup.
	DeleteTaskCascade(ctx context.Context, ownerID, taskID string) (*models.Task, []string, error)

	// ListStuckTasks returns tasks that have sat in the given status longer
	// than the cutoff, for the requeue and timeout reapers.
	ListStuckTasks(ctx context.Context, status models.TaskStatus, olderThan time.Time) ([]*models.Task, error)

	// Results

	GetResult(ctx context.Context, taskID string) (*models.Result, error)

	// Document versions

	// CreateVersionAsLatest inserts a new version row and flips is_latest
	// so exactly one row per task carries it, in one transaction. The
	// version number is assigned from the task's current maximum + 1
	// unless the row is the original (number 0). When sessionID is
	// non-empty the session's counters are updated in the same
	// transaction.
	CreateVersionAsLatest(ctx context.Context, version *models.DocumentVersion) error

	// OverwriteLatestVersion replaces content, checksum and counts of the
	// current latest row in place (auto-save within the snapshot window).
	OverwriteLatestVersion(ctx context.Context, versionID string, content []byte, checksum string, charCount, wordCount int, editedAt time.Time, sessionID *string) error

	// OffloadVersionContent clears the inline content of a version row and
	// points it at the object store key holding the bytes instead.
	OffloadVersionContent(ctx context.Context, versionID, objectKey string) error

	// GetLatestVersion returns the row with is_latest=true for the task.
	GetLatestVersion(ctx context.Context, taskID string) (*models.DocumentVersion, error)

	// GetOriginalVersion returns the row with is_original=true for the task.
	GetOriginalVersion(ctx context.Context, taskID string) (*models.DocumentVersion, error)

	ListVersions(ctx context.Context, taskID string) ([]*models.DocumentVersion, error)

	// Edit sessions

	// StartSession ends any active session for the same (user, task) with
	// outcome superseded, then inserts the new session, in one transaction.
	StartSession(ctx context.Context, session *models.EditSession) error

	GetSession(ctx context.Context, sessionID string) (*models.EditSession, error)

	// EndSession records ended_at and the outcome. Ending an already-ended
	// session returns models.ErrSessionEnded.
	EndSession(ctx context.Context, sessionID string, outcome models.SessionOutcome, publishedVersionID *string) error

	// TouchSession stamps last_activity_at.
	TouchSession(ctx context.Context, sessionID string, at time.Time) error

	// ListIdleSessions returns active sessions whose last activity is older
	// than the cutoff.
	ListIdleSessions(ctx context.Context, olderThan time.Time) ([]*models.EditSession, error)

	// Permissions

	CreatePermission(ctx context.Context, perm *models.EditPermission) (string, error)
	GetPermission(ctx context.Context, permissionID string) (*models.EditPermission, error)

	// GetEffectivePermission returns the newest active, unexpired grant for
	// (user, task), or models.ErrPermissionNotFound.
	GetEffectivePermission(ctx context.Context, userID, taskID string) (*models.EditPermission, error)

	// RevokePermission deactivates a grant. Idempotent revocations return
	// models.ErrPermissionRevoked.
	RevokePermission(ctx context.Context, permissionID, reason string) error

	ListPermissions(ctx context.Context, taskID string) ([]*models.EditPermission, error)

	// Audit

	// AppendAudit inserts one audit row. There is no update or delete.
	AppendAudit(ctx context.Context, record *models.AuditRecord) error

	ListAudit(ctx context.Context, taskID string, limit int) ([]*models.AuditRecord, error)

	// Lifecycle

	Healthcheck(ctx context.Context) error
	Close() error
}

// AllModels returns every entity for schema auto-migration.
func AllModels() []any {
	return []any{
		&models.User{},
		&models.Folder{},
		&models.File{},
		&models.Task{},
		&models.Result{},
		&models.DocumentVersion{},
		&models.EditSession{},
		&models.EditPermission{},
		&models.AuditRecord{},
	}
}
