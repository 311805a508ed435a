// Package ingest implements the upload pipeline: validation, content
// hashing, the file+task metadata insert, the encrypted object write and the
// queue push, in that order. The metadata insert precedes the queue push so
// a worker never pops a task id it cannot load.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/benfrankstein/untxt-sub002/internal/logger"
	"github.com/benfrankstein/untxt-sub002/pkg/models"
	"github.com/benfrankstein/untxt-sub002/pkg/objectstore"
	"github.com/benfrankstein/untxt-sub002/pkg/store"
)

var (
	// ErrUnsupportedMediaType means the mime type is not in the whitelist.
	ErrUnsupportedMediaType = errors.New("unsupported media type")

	// ErrPayloadTooLarge means the upload exceeds the size limit.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrServiceOverloaded means the queue reached its high-water mark and
	// ingest is shedding load.
	ErrServiceOverloaded = errors.New("service overloaded")

	// ErrCreditExhausted means the credit check rejected the upload.
	ErrCreditExhausted = errors.New("credit exhausted")

	// ErrStorage means the object write failed after the metadata insert;
	// the task has been marked failed.
	ErrStorage = errors.New("storage error")
)

// allowedMimeTypes is the upload whitelist.
var allowedMimeTypes = map[string]bool{
	"application/pdf": true,
	"image/png":       true,
	"image/jpeg":      true,
	"image/jpg":       true,
	"image/tiff":      true,
	"image/webp":      true,
}

// ObjectWriter is the slice of the object store the pipeline writes through.
type ObjectWriter interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// TaskQueue is the slice of the work queue the pipeline pushes to.
type TaskQueue interface {
	Push(ctx context.Context, taskID string) error
	Overloaded(ctx context.Context) (bool, error)
}

// CreditCheck is the external billing capability consulted before accepting
// an upload. A nil check accepts everything.
type CreditCheck func(ctx context.Context, userID string) error

// Config contains ingestion configuration.
type Config struct {
	// MaxUploadBytes rejects larger uploads (default: 50 MiB).
	MaxUploadBytes int64

	// RequeueAfter is how long a task may sit in queued before the reaper
	// re-pushes it (default: 5m).
	RequeueAfter time.Duration

	// RequeueInterval is the reaper tick (default: 1m).
	RequeueInterval time.Duration
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.MaxUploadBytes == 0 {
		c.MaxUploadBytes = 50 * 1024 * 1024
	}
	if c.RequeueAfter == 0 {
		c.RequeueAfter = 5 * time.Minute
	}
	if c.RequeueInterval == 0 {
		c.RequeueInterval = time.Minute
	}
}

// Service is the ingestion pipeline.
type Service struct {
	store   store.Store
	objects ObjectWriter
	queue   TaskQueue
	credit  CreditCheck
	config  Config
}

// New creates the ingestion service. credit may be nil.
func New(st store.Store, objects ObjectWriter, q TaskQueue, credit CreditCheck, config Config) *Service {
	config.ApplyDefaults()
	return &Service{
		store:   st,
		objects: objects,
		queue:   q,
		credit:  credit,
		config:  config,
	}
}

// UploadRequest is one upload submission.
type UploadRequest struct {
	OwnerID          string
	Filename         string
	MimeType         string
	Data             []byte
	ProcessingConfig models.ProcessingConfig
	FolderID         *string
}

// Upload runs the ingestion pipeline and returns the queued task.
//
// The object write failing after the metadata insert marks the task failed
// and surfaces ErrStorage. The queue push failing leaves the task queued and
// still returns success: the requeue reaper re-pushes it and the client
// observes completion through the normal channels.
func (s *Service) Upload(ctx context.Context, req *UploadRequest) (*models.Task, error) {
	if err := s.validate(ctx, req); err != nil {
		return nil, err
	}

	hash := sha256.Sum256(req.Data)
	contentHash := hex.EncodeToString(hash[:])

	fileID := models.NewID()
	now := time.Now().UTC()

	file := &models.File{
		ID:          fileID,
		OwnerID:     req.OwnerID,
		Filename:    req.Filename,
		MimeType:    req.MimeType,
		SizeBytes:   int64(len(req.Data)),
		ContentHash: contentHash,
		ObjectKey:   objectstore.UploadKey(req.OwnerID, fileID, req.Filename, now),
	}
	task := &models.Task{
		OwnerID:          req.OwnerID,
		FolderID:         req.FolderID,
		ProcessingConfig: req.ProcessingConfig,
	}

	if err := s.store.CreateTaskWithFile(ctx, file, task); err != nil {
		return nil, err
	}

	if _, err := s.objects.Put(ctx, file.ObjectKey, req.Data, req.MimeType); err != nil {
		logger.Error("object write failed, failing task",
			"task_id", task.ID, "key", file.ObjectKey, "error", err)

		if terr := s.store.TransitionTask(ctx, task.ID, models.StatusQueued, models.StatusFailed,
			"", "upload storage write failed"); terr != nil {
			logger.Error("failed to mark task failed after storage error",
				"task_id", task.ID, "error", terr)
		}
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	if err := s.queue.Push(ctx, task.ID); err != nil {
		// Leave the task queued; the reaper re-pushes it.
		logger.Warn("queue push failed, leaving task for requeue reaper",
			"task_id", task.ID, "error", err)
	}

	logger.Info("upload accepted",
		"task_id", task.ID, "owner_id", req.OwnerID,
		"filename", req.Filename, "bytes", len(req.Data))
	return task, nil
}

func (s *Service) validate(ctx context.Context, req *UploadRequest) error {
	if !allowedMimeTypes[req.MimeType] {
		return fmt.Errorf("%w: %s", ErrUnsupportedMediaType, req.MimeType)
	}
	if int64(len(req.Data)) > s.config.MaxUploadBytes {
		return fmt.Errorf("%w: %d bytes (limit %d)",
			ErrPayloadTooLarge, len(req.Data), s.config.MaxUploadBytes)
	}
	if len(req.Data) == 0 {
		return fmt.Errorf("%w: empty payload", ErrUnsupportedMediaType)
	}
	if err := req.ProcessingConfig.Validate(); err != nil {
		return err
	}

	over, err := s.queue.Overloaded(ctx)
	if err != nil {
		// Backpressure is advisory; a failing depth check must not block
		// uploads.
		logger.Warn("queue depth check failed", "error", err)
	} else if over {
		return ErrServiceOverloaded
	}

	if s.credit != nil {
		if err := s.credit(ctx, req.OwnerID); err != nil {
			return fmt.Errorf("%w: %v", ErrCreditExhausted, err)
		}
	}
	return nil
}
