package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benfrankstein/untxt-sub002/pkg/models"
)

func newTestStore(t *testing.T) *GORMStore {
	t.Helper()
	s, err := New(&Config{
		Type:   DatabaseTypeSQLite,
		SQLite: SQLiteConfig{Path: ":memory:"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedTask(t *testing.T, s *GORMStore, ownerID string) *models.Task {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.EnsureUser(ctx, &models.User{ID: ownerID, Username: "user-" + ownerID}))

	file := &models.File{
		OwnerID:   ownerID,
		Filename:  "invoice.pdf",
		MimeType:  "application/pdf",
		SizeBytes: 122880,
		ObjectKey: "uploads/" + ownerID + "/2026-08/" + models.NewID() + "/invoice.pdf",
	}
	task := &models.Task{
		OwnerID:          ownerID,
		ProcessingConfig: models.ProcessingConfig{Modes: []models.ProcessingMode{models.ModeText}},
	}
	require.NoError(t, s.CreateTaskWithFile(ctx, file, task))
	return task
}

func TestCreateTaskWithFile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := seedTask(t, s, "u1")

	loaded, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, loaded.Status)
	require.NotNil(t, loaded.File)
	assert.Equal(t, "invoice.pdf", loaded.File.Filename)
	assert.Nil(t, loaded.Result)
}

func TestGetTaskNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetTask(context.Background(), models.NewID())
	assert.ErrorIs(t, err, models.ErrTaskNotFound)
}

func TestTransitionTaskCAS(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := seedTask(t, s, "u1")

	// First CAS wins
	require.NoError(t, s.TransitionTask(ctx, task.ID, models.StatusQueued, models.StatusProcessing, "w1", ""))

	// Second CAS from queued loses: the task already moved
	err := s.TransitionTask(ctx, task.ID, models.StatusQueued, models.StatusProcessing, "w2", "")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	loaded, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, loaded.Status)
	assert.Equal(t, "w1", loaded.WorkerID)
}

func TestTransitionTaskIllegal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := seedTask(t, s, "u1")

	// queued -> completed skips processing
	err := s.TransitionTask(ctx, task.ID, models.StatusQueued, models.StatusCompleted, "w1", "")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestTerminalStateSticky(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := seedTask(t, s, "u1")

	require.NoError(t, s.TransitionTask(ctx, task.ID, models.StatusQueued, models.StatusProcessing, "w1", ""))
	require.NoError(t, s.CompleteTask(ctx, task.ID, &models.Result{
		ResultObjectKey: "results/u1/" + task.ID + "/result.html",
		PageCount:       2, WordCount: 317, ConfidenceScore: 0.94, ProcessingTimeMs: 1200,
	}))

	// No operation moves a terminal task
	for _, next := range []models.TaskStatus{models.StatusProcessing, models.StatusFailed, models.StatusQueued} {
		err := s.TransitionTask(ctx, task.ID, models.StatusCompleted, next, "w2", "")
		assert.ErrorIs(t, err, models.ErrInvalidTransition, "completed -> %s must be rejected", next)
	}

	loaded, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, loaded.Status)
}

func TestReleaseTaskForRetry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := seedTask(t, s, "u1")

	// Not processing yet
	assert.ErrorIs(t, s.ReleaseTaskForRetry(ctx, task.ID), models.ErrInvalidTransition)

	require.NoError(t, s.TransitionTask(ctx, task.ID, models.StatusQueued, models.StatusProcessing, "w1", ""))
	require.NoError(t, s.ReleaseTaskForRetry(ctx, task.ID))

	loaded, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, loaded.Status)
	assert.Empty(t, loaded.WorkerID)

	// The released task can be claimed again
	require.NoError(t, s.TransitionTask(ctx, task.ID, models.StatusQueued, models.StatusProcessing, "w2", ""))
}

func TestCompleteTaskRequiresProcessing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := seedTask(t, s, "u1")

	err := s.CompleteTask(ctx, task.ID, &models.Result{ResultObjectKey: "results/u1/x/result.html"})
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestCompleteTaskReplacesResult(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := seedTask(t, s, "u1")

	require.NoError(t, s.TransitionTask(ctx, task.ID, models.StatusQueued, models.StatusProcessing, "w1", ""))
	require.NoError(t, s.CompleteTask(ctx, task.ID, &models.Result{ResultObjectKey: "results/a", PageCount: 1}))

	// Simulate a reprocess: reset to processing directly, then complete again
	require.NoError(t, s.db.Model(&models.Task{}).Where("id = ?", task.ID).Update("status", models.StatusProcessing).Error)
	require.NoError(t, s.CompleteTask(ctx, task.ID, &models.Result{ResultObjectKey: "results/b", PageCount: 3}))

	res, err := s.GetResult(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "results/b", res.ResultObjectKey)

	var count int64
	require.NoError(t, s.db.Model(&models.Result{}).Where("task_id = ?", task.ID).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestListTasksSummary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t1 := seedTask(t, s, "u1")
	seedTask(t, s, "u1")
	seedTask(t, s, "u2")

	require.NoError(t, s.TransitionTask(ctx, t1.ID, models.StatusQueued, models.StatusProcessing, "w1", ""))

	tasks, summary, err := s.ListTasks(ctx, "u1", nil)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
	assert.EqualValues(t, 2, summary.Total)
	assert.EqualValues(t, 1, summary.Queued)
	assert.EqualValues(t, 1, summary.Processing)
}

func TestDeleteTaskCascade(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := seedTask(t, s, "u1")

	require.NoError(t, s.CreateVersionAsLatest(ctx, &models.DocumentVersion{
		TaskID:     task.ID,
		IsOriginal: true,
		Content:    []byte("<html>v0</html>"),
		EditedBy:   "u1",
	}))
	require.NoError(t, s.CreateVersionAsLatest(ctx, &models.DocumentVersion{
		TaskID:   task.ID,
		EditedBy: "u1",
	}))
	latest, err := s.GetLatestVersion(ctx, task.ID)
	require.NoError(t, err)
	require.NoError(t, s.OffloadVersionContent(ctx, latest.ID, "versions/"+task.ID+"/1"))
	require.NoError(t, s.AppendAudit(ctx, &models.AuditRecord{
		TaskID: task.ID, UserID: "u1", Action: models.ActionOpenViewer,
	}))

	deleted, versionKeys, err := s.DeleteTaskCascade(ctx, "u1", task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, deleted.ID)

	// Offloaded version blobs surface for the lifecycle tagging pass
	assert.Equal(t, []string{"versions/" + task.ID + "/1"}, versionKeys)

	_, err = s.GetTask(ctx, task.ID)
	assert.ErrorIs(t, err, models.ErrTaskNotFound)

	_, err = s.GetLatestVersion(ctx, task.ID)
	assert.ErrorIs(t, err, models.ErrVersionNotFound)

	// Audit survives deletion
	audit, err := s.ListAudit(ctx, task.ID, 10)
	require.NoError(t, err)
	assert.Len(t, audit, 1)
}

func TestDeleteTaskCascadeWrongOwner(t *testing.T) {
	s := newTestStore(t)
	task := seedTask(t, s, "u1")

	_, _, err := s.DeleteTaskCascade(context.Background(), "u2", task.ID)
	assert.ErrorIs(t, err, models.ErrForbidden)
}

func TestVersionLatestFlip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := seedTask(t, s, "u1")

	require.NoError(t, s.CreateVersionAsLatest(ctx, &models.DocumentVersion{
		TaskID: task.ID, IsOriginal: true, Content: []byte("v0"), EditedBy: "u1",
	}))
	require.NoError(t, s.CreateVersionAsLatest(ctx, &models.DocumentVersion{
		TaskID: task.ID, Content: []byte("v1"), EditedBy: "u1",
	}))
	require.NoError(t, s.CreateVersionAsLatest(ctx, &models.DocumentVersion{
		TaskID: task.ID, Content: []byte("v2"), EditedBy: "u1",
	}))

	// Exactly one latest
	var latestCount int64
	require.NoError(t, s.db.Model(&models.DocumentVersion{}).
		Where("task_id = ? AND is_latest = ?", task.ID, true).
		Count(&latestCount).Error)
	assert.EqualValues(t, 1, latestCount)

	latest, err := s.GetLatestVersion(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.VersionNumber)
	assert.Equal(t, []byte("v2"), latest.Content)

	// Monotone numbers
	versions, err := s.ListVersions(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, versions, 3)
	for i, v := range versions {
		assert.Equal(t, i, v.VersionNumber)
	}

	original, err := s.GetOriginalVersion(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, original.VersionNumber)
}

func TestOverwriteLatestVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := seedTask(t, s, "u1")

	v := &models.DocumentVersion{TaskID: task.ID, IsOriginal: true, Content: []byte("old"), EditedBy: "u1"}
	require.NoError(t, s.CreateVersionAsLatest(ctx, v))

	now := time.Now().UTC()
	require.NoError(t, s.OverwriteLatestVersion(ctx, v.ID, []byte("new"), "abc", 3, 1, now, nil))

	latest, err := s.GetLatestVersion(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), latest.Content)
	assert.Equal(t, "abc", latest.ContentChecksum)
	assert.Equal(t, 0, latest.VersionNumber) // no new row

	err = s.OverwriteLatestVersion(ctx, models.NewID(), []byte("x"), "y", 1, 1, now, nil)
	assert.ErrorIs(t, err, models.ErrVersionNotFound)
}

func TestSessionSupersede(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := seedTask(t, s, "u1")

	first := &models.EditSession{TaskID: task.ID, UserID: "u1", ViewType: models.ViewEdit}
	require.NoError(t, s.StartSession(ctx, first))

	second := &models.EditSession{TaskID: task.ID, UserID: "u1", ViewType: models.ViewEdit}
	require.NoError(t, s.StartSession(ctx, second))

	old, err := s.GetSession(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, old.Active())
	assert.Equal(t, string(models.OutcomeSuperseded), old.Outcome)

	current, err := s.GetSession(ctx, second.ID)
	require.NoError(t, err)
	assert.True(t, current.Active())
}

func TestEndSessionOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := seedTask(t, s, "u1")

	session := &models.EditSession{TaskID: task.ID, UserID: "u1", ViewType: models.ViewEdit}
	require.NoError(t, s.StartSession(ctx, session))

	require.NoError(t, s.EndSession(ctx, session.ID, models.OutcomeClosed, nil))
	assert.ErrorIs(t, s.EndSession(ctx, session.ID, models.OutcomeClosed, nil), models.ErrSessionEnded)
	assert.ErrorIs(t, s.EndSession(ctx, models.NewID(), models.OutcomeClosed, nil), models.ErrSessionNotFound)
}

func TestListIdleSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := seedTask(t, s, "u1")

	session := &models.EditSession{TaskID: task.ID, UserID: "u1", ViewType: models.ViewEdit}
	require.NoError(t, s.StartSession(ctx, session))
	require.NoError(t, s.TouchSession(ctx, session.ID, time.Now().UTC().Add(-time.Hour)))

	idle, err := s.ListIdleSessions(ctx, time.Now().UTC().Add(-30*time.Minute))
	require.NoError(t, err)
	require.Len(t, idle, 1)
	assert.Equal(t, session.ID, idle[0].ID)
}

func TestPermissionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := seedTask(t, s, "u1")

	expiry := time.Now().UTC().Add(time.Hour)
	perm := &models.EditPermission{TaskID: task.ID, UserID: "u2", GrantedBy: "u1", ExpiresAt: &expiry}
	id, err := s.CreatePermission(ctx, perm)
	require.NoError(t, err)

	effective, err := s.GetEffectivePermission(ctx, "u2", task.ID)
	require.NoError(t, err)
	assert.Equal(t, id, effective.ID)

	require.NoError(t, s.RevokePermission(ctx, id, "no longer needed"))
	assert.ErrorIs(t, s.RevokePermission(ctx, id, "again"), models.ErrPermissionRevoked)

	_, err = s.GetEffectivePermission(ctx, "u2", task.ID)
	assert.ErrorIs(t, err, models.ErrPermissionNotFound)
}

func TestPermissionExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := seedTask(t, s, "u1")

	past := time.Now().UTC().Add(-time.Minute)
	_, err := s.CreatePermission(ctx, &models.EditPermission{
		TaskID: task.ID, UserID: "u2", GrantedBy: "u1", ExpiresAt: &past,
	})
	require.NoError(t, err)

	_, err = s.GetEffectivePermission(ctx, "u2", task.ID)
	assert.ErrorIs(t, err, models.ErrPermissionNotFound)
}

func TestChangeNotifier(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var events []ChangeEvent
	s.SetChangeNotifier(func(ev ChangeEvent) { events = append(events, ev) })

	task := seedTask(t, s, "u1")
	require.NoError(t, s.TransitionTask(ctx, task.ID, models.StatusQueued, models.StatusProcessing, "w1", ""))

	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, "files", events[0].Table)
	assert.Equal(t, OpInsert, events[0].Op)
	assert.Equal(t, "tasks", events[1].Table)
	last := events[len(events)-1]
	assert.Equal(t, "tasks", last.Table)
	assert.Equal(t, OpUpdate, last.Op)
	assert.Equal(t, "u1", last.OwnerID)
	assert.Equal(t, string(models.StatusProcessing), last.Summary["status"])
}

func TestFolderCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	folder := &models.Folder{OwnerID: "u1", Name: "Invoices", Color: "#ff8800"}
	id, err := s.CreateFolder(ctx, folder)
	require.NoError(t, err)

	task := seedTask(t, s, "u1")
	require.NoError(t, s.db.Model(&models.Task{}).Where("id = ?", task.ID).Update("folder_id", id).Error)

	loaded, err := s.GetFolder(ctx, "u1", id)
	require.NoError(t, err)
	assert.EqualValues(t, 1, loaded.TaskCount)

	folder.Name = "Receipts"
	require.NoError(t, s.UpdateFolder(ctx, folder))

	folders, err := s.ListFolders(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, folders, 1)
	assert.Equal(t, "Receipts", folders[0].Name)

	require.NoError(t, s.DeleteFolder(ctx, "u1", id))

	// Task survives with folder detached
	remaining, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Nil(t, remaining.FolderID)
}

func TestStuckTasks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := seedTask(t, s, "u1")

	require.NoError(t, s.db.Model(&models.Task{}).Where("id = ?", task.ID).
		Update("updated_at", time.Now().UTC().Add(-20*time.Minute)).Error)

	stuck, err := s.ListStuckTasks(ctx, models.StatusQueued, time.Now().UTC().Add(-10*time.Minute))
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, task.ID, stuck[0].ID)
}
