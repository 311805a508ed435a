package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benfrankstein/untxt-sub002/pkg/models"
	"github.com/benfrankstein/untxt-sub002/pkg/store"
)

type fakeObjects struct {
	putErr error
	keys   []string
}

func (f *fakeObjects) Put(_ context.Context, key string, _ []byte, _ string) (string, error) {
	if f.putErr != nil {
		return "", f.putErr
	}
	f.keys = append(f.keys, key)
	return "etag", nil
}

type fakeQueue struct {
	pushErr    error
	overloaded bool
	pushed     []string
}

func (f *fakeQueue) Push(_ context.Context, taskID string) error {
	if f.pushErr != nil {
		return f.pushErr
	}
	f.pushed = append(f.pushed, taskID)
	return nil
}

func (f *fakeQueue) Overloaded(context.Context) (bool, error) {
	return f.overloaded, nil
}

func newTestService(t *testing.T, objects *fakeObjects, q *fakeQueue, credit CreditCheck) (*Service, store.Store) {
	t.Helper()
	st, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: ":memory:"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.EnsureUser(context.Background(), &models.User{ID: "u1", Username: "u1"}))

	return New(st, objects, q, credit, Config{}), st
}

func pdfRequest() *UploadRequest {
	return &UploadRequest{
		OwnerID:          "u1",
		Filename:         "scan.pdf",
		MimeType:         "application/pdf",
		Data:             []byte("%PDF-1.7 test"),
		ProcessingConfig: models.ProcessingConfig{Modes: []models.ProcessingMode{models.ModeText}},
	}
}

func TestUpload(t *testing.T) {
	objects := &fakeObjects{}
	q := &fakeQueue{}
	svc, st := newTestService(t, objects, q, nil)
	ctx := context.Background()

	task, err := svc.Upload(ctx, pdfRequest())
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, task.Status)

	loaded, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded.File)
	assert.Equal(t, "scan.pdf", loaded.File.Filename)
	assert.Len(t, loaded.File.ContentHash, 64)
	assert.Contains(t, loaded.File.ObjectKey, "uploads/u1/")

	require.Len(t, objects.keys, 1)
	assert.Equal(t, loaded.File.ObjectKey, objects.keys[0])
	assert.Equal(t, []string{task.ID}, q.pushed)
}

func TestUploadRejectsMimeType(t *testing.T) {
	svc, _ := newTestService(t, &fakeObjects{}, &fakeQueue{}, nil)

	req := pdfRequest()
	req.MimeType = "application/zip"
	_, err := svc.Upload(context.Background(), req)
	assert.ErrorIs(t, err, ErrUnsupportedMediaType)
}

func TestUploadRejectsOversize(t *testing.T) {
	objects := &fakeObjects{}
	q := &fakeQueue{}
	st, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: ":memory:"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	svc := New(st, objects, q, nil, Config{MaxUploadBytes: 8})
	req := pdfRequest()
	req.Data = []byte("123456789")

	_, err = svc.Upload(context.Background(), req)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestUploadOverloaded(t *testing.T) {
	svc, _ := newTestService(t, &fakeObjects{}, &fakeQueue{overloaded: true}, nil)

	_, err := svc.Upload(context.Background(), pdfRequest())
	assert.ErrorIs(t, err, ErrServiceOverloaded)
}

func TestUploadCreditCheck(t *testing.T) {
	credit := func(context.Context, string) error { return errors.New("no credits") }
	svc, _ := newTestService(t, &fakeObjects{}, &fakeQueue{}, credit)

	_, err := svc.Upload(context.Background(), pdfRequest())
	assert.ErrorIs(t, err, ErrCreditExhausted)
}

func TestUploadStorageFailureFailsTask(t *testing.T) {
	objects := &fakeObjects{putErr: errors.New("bucket gone")}
	q := &fakeQueue{}
	svc, st := newTestService(t, objects, q, nil)
	ctx := context.Background()

	_, err := svc.Upload(ctx, pdfRequest())
	assert.ErrorIs(t, err, ErrStorage)

	// The task exists and is failed; nothing was queued.
	tasks, _, err := st.ListTasks(ctx, "u1", nil)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, models.StatusFailed, tasks[0].Status)
	assert.Empty(t, q.pushed)
}

func TestUploadQueueFailureStillSucceeds(t *testing.T) {
	q := &fakeQueue{pushErr: errors.New("redis down")}
	svc, st := newTestService(t, &fakeObjects{}, q, nil)
	ctx := context.Background()

	task, err := svc.Upload(ctx, pdfRequest())
	require.NoError(t, err)

	loaded, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, loaded.Status)
}

func TestRequeueReaper(t *testing.T) {
	q := &fakeQueue{pushErr: errors.New("redis down")}
	svc, st := newTestService(t, &fakeObjects{}, q, nil)
	ctx := context.Background()

	task, err := svc.Upload(ctx, pdfRequest())
	require.NoError(t, err)

	// Age the task past the requeue threshold, then let the queue recover.
	require.NoError(t, st.(*store.GORMStore).DB().Model(&models.Task{}).
		Where("id = ?", task.ID).
		Update("updated_at", time.Now().UTC().Add(-10*time.Minute)).Error)
	q.pushErr = nil

	svc.requeueStuck(ctx)
	assert.Equal(t, []string{task.ID}, q.pushed)
}
