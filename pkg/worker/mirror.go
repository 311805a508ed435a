// Package worker implements the OCR worker pool.
//
// This file contains the redis task metadata mirror: a short-lived hash per
// task plus the running terminal-status counters. The mirror exists for
// cheap dashboard reads; the metadata store stays authoritative and the
// mirror expires on its own.
package worker

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/benfrankstein/untxt-sub002/pkg/models"
)

const (
	taskDataPrefix     = "ocr:task:data:"
	statTasksCompleted = "ocr:stats:tasks:completed"
	statTasksFailed    = "ocr:stats:tasks:failed"
)

// Mirror writes task state into redis with a TTL. A nil *Mirror is a valid
// no-op receiver, so deployments without the mirror skip it entirely.
type Mirror struct {
	client *redis.Client
	ttl    time.Duration
}

// NewMirror creates the mirror. A zero ttl defaults to 24h.
func NewMirror(client *redis.Client, ttl time.Duration) *Mirror {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &Mirror{client: client, ttl: ttl}
}

// RecordTask updates the task's hash and refreshes its TTL.
func (m *Mirror) RecordTask(ctx context.Context, task *models.Task) error {
	if m == nil {
		return nil
	}
	key := taskDataPrefix + task.ID

	pipe := m.client.Pipeline()
	pipe.HSet(ctx, key, map[string]any{
		"status":     string(task.Status),
		"owner_id":   task.OwnerID,
		"attempts":   strconv.Itoa(task.Attempts),
		"worker_id":  task.WorkerID,
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	})
	pipe.Expire(ctx, key, m.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// GetTaskData returns the mirrored hash, or nil when it expired.
func (m *Mirror) GetTaskData(ctx context.Context, taskID string) (map[string]string, error) {
	if m == nil {
		return nil, nil
	}
	data, err := m.client.HGetAll(ctx, taskDataPrefix+taskID).Result()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}

// IncrCompleted bumps the completed-task counter.
func (m *Mirror) IncrCompleted(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return m.client.Incr(ctx, statTasksCompleted).Err()
}

// IncrFailed bumps the failed-task counter.
func (m *Mirror) IncrFailed(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return m.client.Incr(ctx, statTasksFailed).Err()
}

// Stats returns the terminal-status counters.
func (m *Mirror) Stats(ctx context.Context) (completed, failed int64, err error) {
	if m == nil {
		return 0, 0, nil
	}
	completed, err = m.client.Get(ctx, statTasksCompleted).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, err
	}
	failed, err = m.client.Get(ctx, statTasksFailed).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, err
	}
	return completed, failed, nil
}
