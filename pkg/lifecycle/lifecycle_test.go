package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benfrankstein/untxt-sub002/pkg/models"
	"github.com/benfrankstein/untxt-sub002/pkg/objectstore"
	"github.com/benfrankstein/untxt-sub002/pkg/permission"
	"github.com/benfrankstein/untxt-sub002/pkg/store"
)

type fakeObjects struct {
	declared []objectstore.LifecyclePolicy
	marked   map[string]time.Time
	expired  []string
	deleted  []string
}

func (f *fakeObjects) DeclareLifecycle(_ context.Context, policy objectstore.LifecyclePolicy) error {
	f.declared = append(f.declared, policy)
	return nil
}

func (f *fakeObjects) MarkDeleted(_ context.Context, key string, at time.Time) error {
	f.marked[key] = at
	return nil
}

func (f *fakeObjects) ListDeletedBefore(context.Context, time.Time) ([]string, error) {
	return f.expired, nil
}

func (f *fakeObjects) Delete(_ context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

func newTestService(t *testing.T, config Config) (*Service, store.Store, *fakeObjects) {
	t.Helper()
	st, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: ":memory:"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	for _, id := range []string{"owner", "grantee"} {
		require.NoError(t, st.EnsureUser(ctx, &models.User{ID: id, Username: id}))
	}

	objects := &fakeObjects{marked: map[string]time.Time{}}
	return New(st, objects, permission.New(st, nil), config), st, objects
}

func seedCompletedTask(t *testing.T, st store.Store, taskID string) {
	t.Helper()
	ctx := context.Background()
	file := &models.File{
		ID: models.NewID(), OwnerID: "owner", Filename: "scan.pdf",
		MimeType: "application/pdf", SizeBytes: 10,
		ObjectKey: "uploads/owner/2026-08/" + taskID + "/scan.pdf",
	}
	task := &models.Task{
		ID: taskID, OwnerID: "owner", FileID: file.ID, Status: models.StatusQueued,
		ProcessingConfig: models.ProcessingConfig{Modes: []models.ProcessingMode{models.ModeText}},
	}
	require.NoError(t, st.CreateTaskWithFile(ctx, file, task))
	require.NoError(t, st.TransitionTask(ctx, taskID, models.StatusQueued, models.StatusProcessing, "w1", ""))
	require.NoError(t, st.CompleteTask(ctx, taskID, &models.Result{
		ID: models.NewID(), TaskID: taskID,
		ResultObjectKey: "results/owner/" + taskID + "/result.html",
		PageCount:       1, WordCount: 2, ConfidenceScore: 0.9,
		PageImageKeys: models.JSONMap{"1": "results/owner/" + taskID + "/pages/1.png"},
	}))
}

func TestDeclare(t *testing.T) {
	svc, _, objects := newTestService(t, Config{})

	require.NoError(t, svc.Declare(context.Background()))
	require.Len(t, objects.declared, 1)
	assert.EqualValues(t, 30, objects.declared[0].DeletedExpiryDays)
}

func TestDeleteTask(t *testing.T) {
	svc, st, objects := newTestService(t, Config{})
	seedCompletedTask(t, st, "t1")
	ctx := context.Background()

	require.NoError(t, svc.DeleteTask(ctx, "owner", "t1"))

	_, err := st.GetTask(ctx, "t1")
	assert.ErrorIs(t, err, models.ErrTaskNotFound)

	// Original, result and page image objects are all tagged
	assert.Contains(t, objects.marked, "uploads/owner/2026-08/t1/scan.pdf")
	assert.Contains(t, objects.marked, "results/owner/t1/result.html")
	assert.Contains(t, objects.marked, "results/owner/t1/pages/1.png")

	// The audit trail survives the cascade
	trail, err := st.ListAudit(ctx, "t1", 10)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, models.ActionDelete, trail[0].Action)
}

func TestDeleteTaskTagsOffloadedVersions(t *testing.T) {
	svc, st, objects := newTestService(t, Config{})
	seedCompletedTask(t, st, "t1")
	ctx := context.Background()

	// A promoted version whose bytes were offloaded to the object store
	require.NoError(t, st.CreateVersionAsLatest(ctx, &models.DocumentVersion{
		TaskID: "t1", IsOriginal: true, Content: []byte("<p>v0</p>"), EditedBy: "owner",
	}))
	require.NoError(t, st.CreateVersionAsLatest(ctx, &models.DocumentVersion{
		TaskID: "t1", Content: []byte("<p>v1</p>"), EditedBy: "owner",
	}))
	latest, err := st.GetLatestVersion(ctx, "t1")
	require.NoError(t, err)
	require.NoError(t, st.OffloadVersionContent(ctx, latest.ID, "versions/t1/1"))

	require.NoError(t, svc.DeleteTask(ctx, "owner", "t1"))

	// The version blob expires with the rest of the task's objects
	assert.Contains(t, objects.marked, "versions/t1/1")
	assert.Contains(t, objects.marked, "uploads/owner/2026-08/t1/scan.pdf")
}

func TestDeleteTaskOwnerOnly(t *testing.T) {
	svc, st, _ := newTestService(t, Config{})
	seedCompletedTask(t, st, "t1")
	ctx := context.Background()

	// Even a grantee cannot delete
	perms := permission.New(st, nil)
	_, err := perms.Grant(ctx, "t1", "grantee", "owner", nil)
	require.NoError(t, err)

	err = svc.DeleteTask(ctx, "grantee", "t1")
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = st.GetTask(ctx, "t1")
	assert.NoError(t, err)
}

func TestScanReaperDeletesExpired(t *testing.T) {
	svc, _, objects := newTestService(t, Config{ScanReaper: true})
	objects.expired = []string{"uploads/owner/2026-01/f1/old.pdf"}

	svc.reapExpired(context.Background())
	assert.Equal(t, []string{"uploads/owner/2026-01/f1/old.pdf"}, objects.deleted)
}
