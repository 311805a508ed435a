// Package worker implements the OCR worker pool.
//
// Each worker is a single-flight processor over the shared queue:
// parallelism comes from running N workers, never from one worker juggling
// tasks. The compare-and-set on the task status serializes competing workers
// so at-least-once queue delivery still yields exactly one progression per
// task.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/benfrankstein/untxt-sub002/internal/logger"
	"github.com/benfrankstein/untxt-sub002/pkg/bus"
	"github.com/benfrankstein/untxt-sub002/pkg/models"
	"github.com/benfrankstein/untxt-sub002/pkg/objectstore"
	"github.com/benfrankstein/untxt-sub002/pkg/queue"
	"github.com/benfrankstein/untxt-sub002/pkg/store"
)

// ObjectStore is the slice of the object store the workers use.
type ObjectStore interface {
	GetBytes(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Publisher is the slice of the event bus the workers publish on.
type Publisher interface {
	PublishTaskUpdate(ctx context.Context, update *bus.TaskUpdate) error
	PublishNotification(ctx context.Context, n *bus.Notification) error
}

// TaskSource is the slice of the work queue the workers consume and requeue
// through.
type TaskSource interface {
	Pop(ctx context.Context, timeout time.Duration) (string, error)
	Push(ctx context.Context, taskID string) error
}

// Config contains worker pool configuration.
type Config struct {
	// Workers is the pool size (default: 4).
	Workers int

	// PopTimeout is the blocking-pop timeout per loop iteration (default: 5s).
	PopTimeout time.Duration

	// TaskTimeout bounds one processing attempt (default: 10m).
	TaskTimeout time.Duration

	// MaxAttempts gives up on a task after this many attempts (default: 3).
	MaxAttempts int

	// IDPrefix prefixes worker identities (default: hostname).
	IDPrefix string
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.Workers == 0 {
		c.Workers = 4
	}
	if c.PopTimeout == 0 {
		c.PopTimeout = 5 * time.Second
	}
	if c.TaskTimeout == 0 {
		c.TaskTimeout = 10 * time.Minute
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.IDPrefix == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "worker"
		}
		c.IDPrefix = host
	}
}

// Pool runs N workers over one queue.
type Pool struct {
	store     store.Store
	objects   ObjectStore
	queue     TaskSource
	publisher Publisher
	ocr       OCR
	mirror    *Mirror
	config    Config
}

// NewPool creates the worker pool. mirror may be nil.
func NewPool(st store.Store, objects ObjectStore, q TaskSource, pub Publisher, ocr OCR, mirror *Mirror, config Config) *Pool {
	config.ApplyDefaults()
	return &Pool{
		store:     st,
		objects:   objects,
		queue:     q,
		publisher: pub,
		ocr:       ocr,
		mirror:    mirror,
		config:    config,
	}
}

// Run starts the workers and blocks until the context is cancelled and all
// workers have drained their current task.
func (p *Pool) Run(ctx context.Context) error {
	logger.Info("worker pool starting",
		"workers", p.config.Workers,
		"task_timeout", p.config.TaskTimeout,
		"max_attempts", p.config.MaxAttempts)

	var wg sync.WaitGroup
	for i := 0; i < p.config.Workers; i++ {
		w := &worker{
			pool: p,
			id:   fmt.Sprintf("%s-%d", p.config.IDPrefix, i),
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.run(ctx)
		}()
	}

	wg.Wait()
	logger.Info("worker pool stopped")
	return ctx.Err()
}

// worker is one single-flight processor.
type worker struct {
	pool *Pool
	id   string
}

func (w *worker) run(ctx context.Context) {
	logger.Info("worker started", "worker_id", w.id)

	for {
		if ctx.Err() != nil {
			return
		}

		taskID, err := w.pool.queue.Pop(ctx, w.pool.config.PopTimeout)
		if err != nil {
			if errors.Is(err, queue.ErrEmpty) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			logger.Warn("queue pop failed", "worker_id", w.id, "error", err)
			continue
		}

		w.processOne(ctx, taskID)
	}
}

// processOne drives one queue delivery through the worker state machine.
func (w *worker) processOne(ctx context.Context, taskID string) {
	p := w.pool

	task, err := p.store.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, models.ErrTaskNotFound) {
			// Spurious delivery: the row was never durable or was deleted.
			logger.Debug("dropping unknown task id", "worker_id", w.id, "task_id", taskID)
			return
		}
		logger.Error("failed to load task", "worker_id", w.id, "task_id", taskID, "error", err)
		return
	}

	if task.Status != models.StatusQueued {
		// Already picked up or terminal; at-least-once delivery duplicate.
		logger.Debug("dropping task not in queued state",
			"worker_id", w.id, "task_id", taskID, "status", string(task.Status))
		return
	}

	// The CAS is the serialization point: exactly one worker wins.
	err = p.store.TransitionTask(ctx, taskID, models.StatusQueued, models.StatusProcessing, w.id, "")
	if err != nil {
		if errors.Is(err, models.ErrInvalidTransition) || errors.Is(err, models.ErrTaskNotFound) {
			logger.Debug("lost claim", "worker_id", w.id, "task_id", taskID)
			return
		}
		logger.Error("claim failed", "worker_id", w.id, "task_id", taskID, "error", err)
		return
	}

	// Counted only after winning the claim: a delivery that loses the CAS
	// must not spend the retry budget.
	attempts, err := p.store.IncrementTaskAttempts(ctx, taskID)
	if err != nil {
		logger.Warn("failed to increment attempts", "worker_id", w.id, "task_id", taskID, "error", err)
		attempts = task.Attempts + 1
	}

	task.Status = models.StatusProcessing
	task.Attempts = attempts
	task.WorkerID = w.id
	w.publishUpdate(ctx, task, "")
	w.recordMirror(ctx, task)

	logger.Info("processing task",
		"worker_id", w.id, "task_id", taskID, "attempt", attempts)

	start := time.Now()
	taskCtx, cancel := context.WithTimeout(ctx, p.config.TaskTimeout)
	result, err := w.execute(taskCtx, task)
	cancel()

	if err != nil {
		w.handleFailure(ctx, task, attempts, err)
		return
	}

	result.ProcessingTimeMs = time.Since(start).Milliseconds()
	if err := p.store.CompleteTask(ctx, taskID, result); err != nil {
		w.handleFailure(ctx, task, attempts, fmt.Errorf("failed to complete task: %w", err))
		return
	}

	task.Status = models.StatusCompleted
	w.publishUpdate(ctx, task, "")
	w.notify(ctx, task, "task_completed", "Document processing completed")
	w.recordMirror(ctx, task)
	if err := p.mirror.IncrCompleted(ctx); err != nil {
		logger.Warn("stats counter update failed", "error", err)
	}

	logger.Info("task completed",
		"worker_id", w.id, "task_id", taskID,
		"duration_ms", result.ProcessingTimeMs, "pages", result.PageCount)
}

// execute downloads the original, runs OCR and uploads the result artifacts.
func (w *worker) execute(ctx context.Context, task *models.Task) (*models.Result, error) {
	p := w.pool

	if task.File == nil {
		return nil, fmt.Errorf("task %s has no file", task.ID)
	}

	data, err := p.objects.GetBytes(ctx, task.File.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("failed to download original: %w", err)
	}

	out, err := p.ocr.Process(ctx, &Input{
		TaskID:   task.ID,
		Filename: task.File.Filename,
		MimeType: task.File.MimeType,
		Data:     data,
		Config:   task.ProcessingConfig,
	})
	if err != nil {
		return nil, fmt.Errorf("ocr failed: %w", err)
	}

	resultKey := objectstore.ResultKey(task.OwnerID, task.ID, "html")
	if _, err := p.objects.Put(ctx, resultKey, out.HTML, "text/html; charset=utf-8"); err != nil {
		return nil, fmt.Errorf("failed to upload result: %w", err)
	}

	pageImageKeys := models.JSONMap{}
	for i, img := range out.PageImages {
		key := objectstore.PageImageKey(task.OwnerID, task.ID, i+1)
		if _, err := p.objects.Put(ctx, key, img, "image/png"); err != nil {
			return nil, fmt.Errorf("failed to upload page image %d: %w", i+1, err)
		}
		pageImageKeys[fmt.Sprintf("%d", i+1)] = key
	}

	return &models.Result{
		TaskID:          task.ID,
		ResultObjectKey: resultKey,
		PageCount:       out.PageCount,
		WordCount:       out.WordCount,
		ConfidenceScore: out.ConfidenceScore,
		ModelVersion:    out.ModelVersion,
		PageImageKeys:   pageImageKeys,
	}, nil
}

// handleFailure decides between requeue and terminal failure.
func (w *worker) handleFailure(ctx context.Context, task *models.Task, attempts int, cause error) {
	p := w.pool

	message := cause.Error()
	if errors.Is(cause, context.DeadlineExceeded) {
		message = "Timeout"
	}

	if attempts < p.config.MaxAttempts && isRetryable(cause) {
		logger.Warn("task attempt failed, requeueing",
			"worker_id", w.id, "task_id", task.ID,
			"attempt", attempts, "max_attempts", p.config.MaxAttempts, "error", cause)

		if err := p.store.ReleaseTaskForRetry(ctx, task.ID); err != nil {
			logger.Error("failed to release task for retry", "task_id", task.ID, "error", err)
			return
		}
		if err := p.queue.Push(ctx, task.ID); err != nil {
			// The requeue reaper covers this push loss.
			logger.Warn("requeue push failed", "task_id", task.ID, "error", err)
		}
		task.Status = models.StatusQueued
		w.recordMirror(ctx, task)
		return
	}

	logger.Error("task failed",
		"worker_id", w.id, "task_id", task.ID, "attempts", attempts, "error", cause)

	if err := p.store.TransitionTask(ctx, task.ID,
		models.StatusProcessing, models.StatusFailed, w.id, message); err != nil {
		logger.Error("failed to mark task failed", "task_id", task.ID, "error", err)
		return
	}

	task.Status = models.StatusFailed
	task.ErrorMessage = message
	w.publishUpdate(ctx, task, message)
	w.notify(ctx, task, "task_failed", "Document processing failed")
	w.recordMirror(ctx, task)
	if err := p.mirror.IncrFailed(ctx); err != nil {
		logger.Warn("stats counter update failed", "error", err)
	}
}

// isRetryable classifies failures for the requeue decision.
func isRetryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, objectstore.ErrObjectNotFound),
		errors.Is(err, objectstore.ErrAccessDenied),
		errors.Is(err, objectstore.ErrEncryptionUnavailable):
		return false
	default:
		// Timeouts, transient store and transport errors.
		return true
	}
}

func (w *worker) publishUpdate(ctx context.Context, task *models.Task, errorMessage string) {
	err := w.pool.publisher.PublishTaskUpdate(ctx, &bus.TaskUpdate{
		TaskID:       task.ID,
		OwnerID:      task.OwnerID,
		Status:       task.Status,
		ErrorMessage: errorMessage,
		Attempts:     task.Attempts,
		WorkerID:     w.id,
	})
	if err != nil {
		logger.Warn("failed to publish task update", "task_id", task.ID, "error", err)
	}
}

func (w *worker) notify(ctx context.Context, task *models.Task, kind, message string) {
	err := w.pool.publisher.PublishNotification(ctx, &bus.Notification{
		UserID:  task.OwnerID,
		TaskID:  task.ID,
		Kind:    kind,
		Message: message,
	})
	if err != nil {
		logger.Warn("failed to publish notification", "task_id", task.ID, "error", err)
	}
}

func (w *worker) recordMirror(ctx context.Context, task *models.Task) {
	if err := w.pool.mirror.RecordTask(ctx, task); err != nil {
		logger.Warn("task mirror update failed", "task_id", task.ID, "error", err)
	}
}
