//go:build integration

package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/benfrankstein/untxt-sub002/pkg/models"
)

// One container for the whole package; each test gets fresh rows via unique
// ids rather than a fresh database.
var pgConfig *Config

func TestMain(m *testing.M) {
	ctx := context.Background()

	// Postgres logs the ready line twice during bootstrap; wait for the
	// second one.
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("untxt_test"),
		postgres.WithUsername("untxt_test"),
		postgres.WithPassword("untxt_test"),
		testcontainers.WithWaitStrategyAndDeadline(5*time.Minute,
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		),
	)
	if err != nil {
		panic("failed to start postgres container: " + err.Error())
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		panic(err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		_ = container.Terminate(ctx)
		panic(err)
	}

	pgConfig = &Config{
		Type: DatabaseTypePostgres,
		Postgres: PostgresConfig{
			Host:     host,
			Port:     port.Int(),
			Database: "untxt_test",
			User:     "untxt_test",
			Password: "untxt_test",
			SSLMode:  "disable",
		},
	}

	code := m.Run()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func newPostgresStore(t *testing.T) Store {
	t.Helper()

	st, err := New(pgConfig)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, RunMigrations(context.Background(), pgConfig))
	return st
}

func seedPostgresTask(t *testing.T, st Store, ownerID string) string {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, st.EnsureUser(ctx, &models.User{ID: ownerID, Username: ownerID}))

	taskID := models.NewID()
	file := &models.File{
		ID: models.NewID(), OwnerID: ownerID, Filename: "scan.pdf",
		MimeType: "application/pdf", SizeBytes: 10,
		ObjectKey: "uploads/" + ownerID + "/2026-08/" + taskID + "/scan.pdf",
	}
	task := &models.Task{
		ID: taskID, OwnerID: ownerID, FileID: file.ID, Status: models.StatusQueued,
		ProcessingConfig: models.ProcessingConfig{Modes: []models.ProcessingMode{models.ModeText}},
	}
	require.NoError(t, st.CreateTaskWithFile(ctx, file, task))
	return taskID
}

func TestPostgresTaskLifecycle(t *testing.T) {
	st := newPostgresStore(t)
	ctx := context.Background()
	owner := models.NewID()
	taskID := seedPostgresTask(t, st, owner)

	// CAS transitions behave the same as on sqlite
	require.NoError(t, st.TransitionTask(ctx, taskID, models.StatusQueued, models.StatusProcessing, "w1", ""))
	err := st.TransitionTask(ctx, taskID, models.StatusQueued, models.StatusProcessing, "w2", "")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	require.NoError(t, st.CompleteTask(ctx, taskID, &models.Result{
		ID: models.NewID(), TaskID: taskID,
		ResultObjectKey: "results/" + owner + "/" + taskID + "/result.html",
		PageCount:       1, WordCount: 5, ConfidenceScore: 0.9,
	}))

	task, err := st.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, task.Status)
	require.NotNil(t, task.Result)
	assert.Equal(t, 1, task.Result.PageCount)

	tasks, summary, err := st.ListTasks(ctx, owner, nil)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
	assert.Equal(t, int64(1), summary.Completed)
}

func TestPostgresVersionFlipIsAtomic(t *testing.T) {
	st := newPostgresStore(t)
	ctx := context.Background()
	owner := models.NewID()
	taskID := seedPostgresTask(t, st, owner)

	original := &models.DocumentVersion{
		ID: models.NewID(), TaskID: taskID, IsOriginal: true,
		Content: []byte("<p>original</p>"), ContentChecksum: "a",
		EditedBy: owner, EditedAt: time.Now().UTC(), EditReason: "ocr_output",
	}
	require.NoError(t, st.CreateVersionAsLatest(ctx, original))

	next := &models.DocumentVersion{
		ID: models.NewID(), TaskID: taskID,
		Content: []byte("<p>edited</p>"), ContentChecksum: "b",
		EditedBy: owner, EditedAt: time.Now().UTC(), EditReason: "manual_save",
	}
	require.NoError(t, st.CreateVersionAsLatest(ctx, next))

	latest, err := st.GetLatestVersion(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, next.ID, latest.ID)
	assert.Equal(t, 1, latest.VersionNumber)

	versions, err := st.ListVersions(ctx, taskID)
	require.NoError(t, err)
	require.Len(t, versions, 2)

	// Exactly one latest row survives the flip
	latestCount := 0
	for _, v := range versions {
		if v.IsLatest {
			latestCount++
		}
	}
	assert.Equal(t, 1, latestCount)
}

func TestPostgresDeleteCascade(t *testing.T) {
	st := newPostgresStore(t)
	ctx := context.Background()
	owner := models.NewID()
	taskID := seedPostgresTask(t, st, owner)

	require.NoError(t, st.AppendAudit(ctx, &models.AuditRecord{
		ID: models.NewID(), TaskID: taskID, UserID: owner,
		Action: models.ActionOpenViewer, At: time.Now().UTC(),
	}))

	deleted, _, err := st.DeleteTaskCascade(ctx, owner, taskID)
	require.NoError(t, err)
	require.NotNil(t, deleted.File)

	_, err = st.GetTask(ctx, taskID)
	assert.ErrorIs(t, err, models.ErrTaskNotFound)

	// Audit rows outlive the task
	trail, err := st.ListAudit(ctx, taskID, 10)
	require.NoError(t, err)
	assert.Len(t, trail, 1)
}

func TestPostgresEffectivePermission(t *testing.T) {
	st := newPostgresStore(t)
	ctx := context.Background()
	owner := models.NewID()
	grantee := models.NewID()
	require.NoError(t, st.EnsureUser(ctx, &models.User{ID: grantee, Username: grantee}))
	taskID := seedPostgresTask(t, st, owner)

	past := time.Now().UTC().Add(-time.Hour)
	_, err := st.CreatePermission(ctx, &models.EditPermission{
		ID: models.NewID(), TaskID: taskID, UserID: grantee,
		GrantedBy: owner, GrantedAt: past.Add(-time.Hour), ExpiresAt: &past, IsActive: true,
	})
	require.NoError(t, err)

	// Expired grants are not effective
	_, err = st.GetEffectivePermission(ctx, grantee, taskID)
	assert.ErrorIs(t, err, models.ErrPermissionNotFound)

	permID, err := st.CreatePermission(ctx, &models.EditPermission{
		ID: models.NewID(), TaskID: taskID, UserID: grantee,
		GrantedBy: owner, GrantedAt: time.Now().UTC(), IsActive: true,
	})
	require.NoError(t, err)

	effective, err := st.GetEffectivePermission(ctx, grantee, taskID)
	require.NoError(t, err)
	assert.Equal(t, permID, effective.ID)
}
