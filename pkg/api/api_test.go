package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benfrankstein/untxt-sub002/pkg/auth"
	"github.com/benfrankstein/untxt-sub002/pkg/download"
	"github.com/benfrankstein/untxt-sub002/pkg/ingest"
	"github.com/benfrankstein/untxt-sub002/pkg/lifecycle"
	"github.com/benfrankstein/untxt-sub002/pkg/models"
	"github.com/benfrankstein/untxt-sub002/pkg/objectstore"
	"github.com/benfrankstein/untxt-sub002/pkg/permission"
	"github.com/benfrankstein/untxt-sub002/pkg/store"
	"github.com/benfrankstein/untxt-sub002/pkg/version"
)

const ocrHTML = "<html><body><p>ocr output</p></body></html>"

// fakeObjects stands in for the object store across every service the
// server wires.
type fakeObjects struct {
	data    map[string][]byte
	deleted map[string]time.Time
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{data: map[string][]byte{}, deleted: map[string]time.Time{}}
}

func (f *fakeObjects) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	f.data[key] = data
	return "etag", nil
}

func (f *fakeObjects) GetBytes(_ context.Context, key string) ([]byte, error) {
	data, ok := f.data[key]
	if !ok {
		return nil, objectstore.ErrObjectNotFound
	}
	return data, nil
}

func (f *fakeObjects) PresignGetAttachment(_ context.Context, key, filename string, _ time.Duration) (string, error) {
	return "https://store.test/" + key + "?sig=abc&dl=" + filename, nil
}

func (f *fakeObjects) DeclareLifecycle(context.Context, objectstore.LifecyclePolicy) error {
	return nil
}

func (f *fakeObjects) MarkDeleted(_ context.Context, key string, at time.Time) error {
	f.deleted[key] = at
	return nil
}

func (f *fakeObjects) ListDeletedBefore(_ context.Context, cutoff time.Time) ([]string, error) {
	var keys []string
	for key, at := range f.deleted {
		if at.Before(cutoff) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (f *fakeObjects) Delete(_ context.Context, key string) error {
	delete(f.data, key)
	delete(f.deleted, key)
	return nil
}

type fakeQueue struct {
	pushed []string
}

func (q *fakeQueue) Push(_ context.Context, taskID string) error {
	q.pushed = append(q.pushed, taskID)
	return nil
}

func (q *fakeQueue) Overloaded(context.Context) (bool, error) { return false, nil }

type testServer struct {
	handler http.Handler
	store   store.Store
	objects *fakeObjects
	queue   *fakeQueue
	auth    *auth.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	st, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: ":memory:"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	objects := newFakeObjects()
	queue := &fakeQueue{}
	perms := permission.New(st, nil)

	authSvc, err := auth.New(auth.Config{Secret: "test-secret-test-secret-test-secret"})
	require.NoError(t, err)

	server := NewServer(Config{}, Deps{
		Auth:        authSvc,
		Store:       st,
		Ingest:      ingest.New(st, objects, queue, nil, ingest.Config{}),
		Download:    download.New(st, objects, perms),
		Versions:    version.New(st, objects, perms, nil, nil, version.Config{}),
		Permissions: perms,
		Lifecycle:   lifecycle.New(st, objects, perms, lifecycle.Config{}),
		QueueCheck:  func(context.Context) error { return nil },
	})

	return &testServer{
		handler: server.Handler(),
		store:   st,
		objects: objects,
		queue:   queue,
		auth:    authSvc,
	}
}

func (ts *testServer) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := ts.auth.IssueToken(userID, userID)
	require.NoError(t, err)
	return token
}

func (ts *testServer) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+ts.token(t, userID))
	}

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

// envelope decodes the standard response wrapper.
func envelope(t *testing.T, rec *httptest.ResponseRecorder) (bool, json.RawMessage, string) {
	t.Helper()
	var resp struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Success, resp.Data, resp.Error
}

func uploadRequest(t *testing.T, mimeType string, content []byte) (io.Reader, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="file"; filename="scan.pdf"`)
	header.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)

	require.NoError(t, mw.WriteField("processing_config", `{"modes":["text"]}`))
	require.NoError(t, mw.Close())

	return &buf, mw.FormDataContentType()
}

func (ts *testServer) upload(t *testing.T, userID string) string {
	t.Helper()

	body, contentType := uploadRequest(t, "application/pdf", []byte("%PDF-1.4 test"))
	req := httptest.NewRequest(http.MethodPost, "/api/tasks", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+ts.token(t, userID))

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	_, data, _ := envelope(t, rec)
	var task models.Task
	require.NoError(t, json.Unmarshal(data, &task))
	return task.ID
}

// complete moves a queued task to completed with OCR output in the fake
// store, the way a worker would.
func (ts *testServer) complete(t *testing.T, taskID string) {
	t.Helper()
	ctx := context.Background()

	task, err := ts.store.GetTask(ctx, taskID)
	require.NoError(t, err)
	require.NoError(t, ts.store.TransitionTask(ctx, taskID, models.StatusQueued, models.StatusProcessing, "w1", ""))

	resultKey := "results/" + task.OwnerID + "/" + taskID + "/result.html"
	ts.objects.data[resultKey] = []byte(ocrHTML)
	require.NoError(t, ts.store.CompleteTask(ctx, taskID, &models.Result{
		ID: models.NewID(), TaskID: taskID, ResultObjectKey: resultKey,
		PageCount: 1, WordCount: 2, ConfidenceScore: 0.9,
	}))
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/tasks", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	success, _, errMsg := envelope(t, rec)
	assert.False(t, success)
	assert.NotEmpty(t, errMsg)
}

func TestUploadAndList(t *testing.T) {
	ts := newTestServer(t)

	taskID := ts.upload(t, "owner")
	assert.Len(t, ts.queue.pushed, 1)
	assert.Equal(t, taskID, ts.queue.pushed[0])

	rec := ts.do(t, http.MethodGet, "/api/tasks", "owner", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	_, data, _ := envelope(t, rec)
	var listing struct {
		Tasks   []*models.Task      `json:"tasks"`
		Summary *models.TaskSummary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(data, &listing))
	require.Len(t, listing.Tasks, 1)
	assert.Equal(t, models.StatusQueued, listing.Tasks[0].Status)
	assert.Equal(t, int64(1), listing.Summary.Total)
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	ts := newTestServer(t)

	body, contentType := uploadRequest(t, "text/plain", []byte("hello"))
	req := httptest.NewRequest(http.MethodPost, "/api/tasks", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+ts.token(t, "owner"))

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestGetTaskAccessControl(t *testing.T) {
	ts := newTestServer(t)
	taskID := ts.upload(t, "owner")

	rec := ts.do(t, http.MethodGet, "/api/tasks/"+taskID, "owner", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/tasks/"+taskID, "stranger", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/tasks/missing", "owner", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGrantOpensAccess(t *testing.T) {
	ts := newTestServer(t)
	taskID := ts.upload(t, "owner")

	rec := ts.do(t, http.MethodPost, "/api/tasks/"+taskID+"/permissions", "owner",
		map[string]any{"user_id": "grantee"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	_, data, _ := envelope(t, rec)
	var perm models.EditPermission
	require.NoError(t, json.Unmarshal(data, &perm))

	rec = ts.do(t, http.MethodGet, "/api/tasks/"+taskID, "grantee", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/permissions/"+perm.ID, "owner", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/tasks/"+taskID, "grantee", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSessionSaveLatestFlow(t *testing.T) {
	ts := newTestServer(t)
	taskID := ts.upload(t, "owner")

	// Sessions require a completed task
	rec := ts.do(t, http.MethodPost, "/api/sessions/"+taskID+"/start", "owner",
		map[string]any{"view_type": "edit"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	ts.complete(t, taskID)

	rec = ts.do(t, http.MethodPost, "/api/sessions/"+taskID+"/start", "owner",
		map[string]any{"view_type": "edit"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	_, data, _ := envelope(t, rec)
	var session models.EditSession
	require.NoError(t, json.Unmarshal(data, &session))

	edited := "<html><body><p>edited</p></body></html>"
	rec = ts.do(t, http.MethodPost, "/api/versions/"+taskID+"/save", "owner",
		map[string]any{"session_id": session.ID, "html": edited})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	_, data, _ = envelope(t, rec)
	var saved version.SaveResult
	require.NoError(t, json.Unmarshal(data, &saved))
	assert.Equal(t, 1, saved.VersionNumber)
	assert.True(t, saved.IsSnapshot)

	rec = ts.do(t, http.MethodGet, "/api/versions/"+taskID+"/latest", "owner", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, edited, rec.Body.String())
	assert.Equal(t, "1", rec.Header().Get("X-Version-Number"))
	assert.Equal(t, "inline", rec.Header().Get("X-Content-Source"))

	rec = ts.do(t, http.MethodGet, "/api/versions/"+taskID, "owner", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	_, data, _ = envelope(t, rec)
	var versions []*models.DocumentVersion
	require.NoError(t, json.Unmarshal(data, &versions))
	assert.Len(t, versions, 2)
}

func TestEndSessionBeaconTolerant(t *testing.T) {
	ts := newTestServer(t)
	taskID := ts.upload(t, "owner")
	ts.complete(t, taskID)

	rec := ts.do(t, http.MethodPost, "/api/sessions/"+taskID+"/start", "owner",
		map[string]any{"view_type": "edit"})
	require.Equal(t, http.StatusCreated, rec.Code)
	_, data, _ := envelope(t, rec)
	var session models.EditSession
	require.NoError(t, json.Unmarshal(data, &session))

	end := map[string]any{"session_id": session.ID}
	rec = ts.do(t, http.MethodPost, "/api/sessions/"+taskID+"/end", "owner", end)
	assert.Equal(t, http.StatusOK, rec.Code)

	// The beacon may fire again after the session already ended
	rec = ts.do(t, http.MethodPost, "/api/sessions/"+taskID+"/end", "owner", end)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDownloadPDFStream(t *testing.T) {
	ts := newTestServer(t)
	taskID := ts.upload(t, "owner")
	ts.complete(t, taskID)

	rec := ts.do(t, http.MethodPost, "/api/sessions/"+taskID+"/download-result", "owner", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")))
	assert.NotEmpty(t, rec.Header().Get("X-Version-Number"))
}

func TestDownloadOriginalRedirect(t *testing.T) {
	ts := newTestServer(t)
	taskID := ts.upload(t, "owner")

	rec := ts.do(t, http.MethodGet, "/api/tasks/"+taskID+"/download", "owner", nil)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "https://store.test/uploads/owner/")
}

func TestPreviewStream(t *testing.T) {
	ts := newTestServer(t)
	taskID := ts.upload(t, "owner")

	// Not ready before the worker finished
	rec := ts.do(t, http.MethodGet, "/api/tasks/"+taskID+"/preview", "owner", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	ts.complete(t, taskID)

	rec = ts.do(t, http.MethodGet, "/api/tasks/"+taskID+"/preview", "owner", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ocrHTML, rec.Body.String())
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html"))
}

func TestPageImageValidation(t *testing.T) {
	ts := newTestServer(t)
	taskID := ts.upload(t, "owner")

	rec := ts.do(t, http.MethodGet, "/api/tasks/"+taskID+"/page-image/zero", "owner", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteTask(t *testing.T) {
	ts := newTestServer(t)
	taskID := ts.upload(t, "owner")

	// Grantees cannot delete
	rec := ts.do(t, http.MethodPost, "/api/tasks/"+taskID+"/permissions", "owner",
		map[string]any{"user_id": "grantee"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = ts.do(t, http.MethodDelete, "/api/tasks/"+taskID, "grantee", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/tasks/"+taskID, "owner", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/tasks/"+taskID, "owner", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// The uploaded object is tagged, not removed
	assert.Len(t, ts.objects.deleted, 1)
}

func TestFoldersCRUD(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/folders", "owner",
		map[string]any{"name": "Invoices", "color": "blue"})
	require.Equal(t, http.StatusCreated, rec.Code)
	_, data, _ := envelope(t, rec)
	var folder models.Folder
	require.NoError(t, json.Unmarshal(data, &folder))
	assert.Equal(t, "Invoices", folder.Name)

	rec = ts.do(t, http.MethodPut, "/api/folders/"+folder.ID, "owner",
		map[string]any{"name": "Receipts"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/folders", "owner", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	_, data, _ = envelope(t, rec)
	var folders []*models.Folder
	require.NoError(t, json.Unmarshal(data, &folders))
	require.Len(t, folders, 1)
	assert.Equal(t, "Receipts", folders[0].Name)

	// Folders are private to their owner
	rec = ts.do(t, http.MethodGet, "/api/folders/"+folder.ID, "stranger", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/folders/"+folder.ID, "owner", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuditTrail(t *testing.T) {
	ts := newTestServer(t)
	taskID := ts.upload(t, "owner")
	ts.complete(t, taskID)

	rec := ts.do(t, http.MethodPost, "/api/sessions/"+taskID+"/start", "owner",
		map[string]any{"view_type": "edit"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/tasks/"+taskID+"/audit", "owner", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	_, data, _ := envelope(t, rec)
	var records []*models.AuditRecord
	require.NoError(t, json.Unmarshal(data, &records))
	require.NotEmpty(t, records)
	assert.Equal(t, models.ActionStartSession, records[0].Action)

	// The trail is owner-only
	rec = ts.do(t, http.MethodGet, "/api/tasks/"+taskID+"/audit", "stranger", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHealthProbes(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
