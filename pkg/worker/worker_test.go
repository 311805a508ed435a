package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benfrankstein/untxt-sub002/pkg/bus"
	"github.com/benfrankstein/untxt-sub002/pkg/models"
	"github.com/benfrankstein/untxt-sub002/pkg/objectstore"
	"github.com/benfrankstein/untxt-sub002/pkg/store"
)

type fakeObjects struct {
	data   map[string][]byte
	getErr error
	putErr error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{data: map[string][]byte{}}
}

func (f *fakeObjects) GetBytes(_ context.Context, key string) ([]byte, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.data[key]
	if !ok {
		return nil, objectstore.ErrObjectNotFound
	}
	return data, nil
}

func (f *fakeObjects) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	if f.putErr != nil {
		return "", f.putErr
	}
	f.data[key] = data
	return "etag", nil
}

type fakePublisher struct {
	updates       []*bus.TaskUpdate
	notifications []*bus.Notification
}

func (f *fakePublisher) PublishTaskUpdate(_ context.Context, u *bus.TaskUpdate) error {
	f.updates = append(f.updates, u)
	return nil
}

func (f *fakePublisher) PublishNotification(_ context.Context, n *bus.Notification) error {
	f.notifications = append(f.notifications, n)
	return nil
}

type fakeSource struct {
	pushed []string
}

func (f *fakeSource) Pop(context.Context, time.Duration) (string, error) {
	return "", errors.New("not used")
}

func (f *fakeSource) Push(_ context.Context, taskID string) error {
	f.pushed = append(f.pushed, taskID)
	return nil
}

type harness struct {
	store   *store.GORMStore
	objects *fakeObjects
	pub     *fakePublisher
	source  *fakeSource
	pool    *Pool
	worker  *worker
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	st, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: ":memory:"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	h := &harness{
		store:   st,
		objects: newFakeObjects(),
		pub:     &fakePublisher{},
		source:  &fakeSource{},
	}
	h.pool = NewPool(st, h.objects, h.source, h.pub, Simulated{}, nil, cfg)
	h.worker = &worker{pool: h.pool, id: "test-0"}
	return h
}

func (h *harness) seedTask(t *testing.T) *models.Task {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.store.EnsureUser(ctx, &models.User{ID: "u1", Username: "u1"}))

	file := &models.File{
		OwnerID:   "u1",
		Filename:  "scan.pdf",
		MimeType:  "application/pdf",
		SizeBytes: 10,
		ObjectKey: "uploads/u1/2026-08/" + models.NewID() + "/scan.pdf",
	}
	task := &models.Task{
		OwnerID:          "u1",
		ProcessingConfig: models.ProcessingConfig{Modes: []models.ProcessingMode{models.ModeText}},
	}
	require.NoError(t, h.store.CreateTaskWithFile(ctx, file, task))
	h.objects.data[file.ObjectKey] = []byte("%PDF-1.7 content")
	return task
}

func TestProcessOneCompletes(t *testing.T) {
	h := newHarness(t, Config{})
	task := h.seedTask(t)
	ctx := context.Background()

	h.worker.processOne(ctx, task.ID)

	loaded, err := h.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, loaded.Status)
	assert.Equal(t, 1, loaded.Attempts)
	require.NotNil(t, loaded.Result)
	assert.Equal(t, 1, loaded.Result.PageCount)
	assert.Greater(t, loaded.Result.WordCount, 0)

	// Result object uploaded under the results layout
	resultKey := objectstore.ResultKey("u1", task.ID, "html")
	assert.Contains(t, h.objects.data, resultKey)

	// processing then completed on the bus
	require.Len(t, h.pub.updates, 2)
	assert.Equal(t, models.StatusProcessing, h.pub.updates[0].Status)
	assert.Equal(t, models.StatusCompleted, h.pub.updates[1].Status)

	require.Len(t, h.pub.notifications, 1)
	assert.Equal(t, "task_completed", h.pub.notifications[0].Kind)
	assert.Equal(t, "u1", h.pub.notifications[0].UserID)
}

func TestProcessOneDuplicateDelivery(t *testing.T) {
	h := newHarness(t, Config{})
	task := h.seedTask(t)
	ctx := context.Background()

	h.worker.processOne(ctx, task.ID)
	updates := len(h.pub.updates)

	// Second delivery of the same id is dropped without a transition
	h.worker.processOne(ctx, task.ID)

	loaded, err := h.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, loaded.Status)
	assert.Equal(t, 1, loaded.Attempts)
	assert.Len(t, h.pub.updates, updates)
}

// claimRacingStore lets a rival worker claim the task between this worker's
// queued check and its CAS.
type claimRacingStore struct {
	store.Store
	raced bool
}

func (s *claimRacingStore) TransitionTask(ctx context.Context, taskID string, from, to models.TaskStatus, workerID, message string) error {
	if !s.raced && from == models.StatusQueued && to == models.StatusProcessing {
		s.raced = true
		if err := s.Store.TransitionTask(ctx, taskID, from, to, "rival", message); err != nil {
			return err
		}
	}
	return s.Store.TransitionTask(ctx, taskID, from, to, workerID, message)
}

func TestProcessOneLostClaimKeepsRetryBudget(t *testing.T) {
	h := newHarness(t, Config{})
	task := h.seedTask(t)
	ctx := context.Background()

	h.pool.store = &claimRacingStore{Store: h.store}
	h.worker.processOne(ctx, task.ID)

	// The loser backs off without publishing or spending an attempt
	loaded, err := h.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, loaded.Status)
	assert.Equal(t, "rival", loaded.WorkerID)
	assert.Equal(t, 0, loaded.Attempts)
	assert.Empty(t, h.pub.updates)
}

func TestProcessOneSpuriousID(t *testing.T) {
	h := newHarness(t, Config{})

	// Must not panic or publish anything
	h.worker.processOne(context.Background(), models.NewID())
	assert.Empty(t, h.pub.updates)
}

func TestProcessOneRetryableFailureRequeues(t *testing.T) {
	h := newHarness(t, Config{})
	task := h.seedTask(t)
	ctx := context.Background()

	h.objects.getErr = fmt.Errorf("%w: timeout", objectstore.ErrUnavailable)
	h.worker.processOne(ctx, task.ID)

	loaded, err := h.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, loaded.Status)
	assert.Equal(t, 1, loaded.Attempts)
	assert.Equal(t, []string{task.ID}, h.source.pushed)
}

func TestProcessOneExhaustsAttempts(t *testing.T) {
	h := newHarness(t, Config{MaxAttempts: 1})
	task := h.seedTask(t)
	ctx := context.Background()

	h.objects.getErr = fmt.Errorf("%w: down", objectstore.ErrUnavailable)
	h.worker.processOne(ctx, task.ID)

	loaded, err := h.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, loaded.Status)
	assert.NotEmpty(t, loaded.ErrorMessage)
	assert.Empty(t, h.source.pushed)

	require.Len(t, h.pub.notifications, 1)
	assert.Equal(t, "task_failed", h.pub.notifications[0].Kind)
}

func TestProcessOneNonRetryableFailsImmediately(t *testing.T) {
	h := newHarness(t, Config{})
	task := h.seedTask(t)
	ctx := context.Background()

	h.objects.getErr = objectstore.ErrObjectNotFound
	h.worker.processOne(ctx, task.ID)

	loaded, err := h.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, loaded.Status)
	assert.Equal(t, 1, loaded.Attempts)
	assert.Empty(t, h.source.pushed)
}

func TestTimeoutReaper(t *testing.T) {
	h := newHarness(t, Config{TaskTimeout: time.Minute})
	task := h.seedTask(t)
	ctx := context.Background()

	require.NoError(t, h.store.TransitionTask(ctx, task.ID,
		models.StatusQueued, models.StatusProcessing, "dead-worker", ""))
	require.NoError(t, h.store.DB().Model(&models.Task{}).
		Where("id = ?", task.ID).
		Update("updated_at", time.Now().UTC().Add(-time.Hour)).Error)

	h.pool.reapStuckProcessing(ctx)

	loaded, err := h.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, loaded.Status)
	assert.Equal(t, "Timeout", loaded.ErrorMessage)
}

func TestSimulatedOCR(t *testing.T) {
	out, err := Simulated{}.Process(context.Background(), &Input{
		TaskID:   "t1",
		Filename: "invoice.pdf",
		MimeType: "application/pdf",
		Data:     []byte("%PDF-1.7"),
		Config: models.ProcessingConfig{
			Modes:     []models.ProcessingMode{models.ModeText, models.ModeKVP},
			KVPFields: []string{"total", "due_date"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, out.PageCount)
	assert.Greater(t, out.WordCount, 0)
	assert.Contains(t, string(out.HTML), "invoice.pdf")
	assert.Contains(t, string(out.HTML), "total")

	_, err = Simulated{}.Process(context.Background(), &Input{TaskID: "t2"})
	assert.Error(t, err)
}

func TestMirror(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	m := NewMirror(client, time.Hour)
	task := &models.Task{
		ID:       "t1",
		OwnerID:  "u1",
		Status:   models.StatusProcessing,
		Attempts: 2,
		WorkerID: "w1",
	}
	require.NoError(t, m.RecordTask(ctx, task))

	data, err := m.GetTaskData(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "processing", data["status"])
	assert.Equal(t, "u1", data["owner_id"])
	assert.Equal(t, "2", data["attempts"])

	require.NoError(t, m.IncrCompleted(ctx))
	require.NoError(t, m.IncrCompleted(ctx))
	require.NoError(t, m.IncrFailed(ctx))

	completed, failed, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, completed)
	assert.EqualValues(t, 1, failed)

	// Hash expires on its own
	mr.FastForward(2 * time.Hour)
	data, err = m.GetTaskData(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestNilMirrorIsNoop(t *testing.T) {
	var m *Mirror
	ctx := context.Background()

	assert.NoError(t, m.RecordTask(ctx, &models.Task{ID: "t1"}))
	assert.NoError(t, m.IncrCompleted(ctx))
	assert.NoError(t, m.IncrFailed(ctx))

	completed, failed, err := m.Stats(ctx)
	assert.NoError(t, err)
	assert.Zero(t, completed)
	assert.Zero(t, failed)
}
