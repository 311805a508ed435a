// Package ingest implements the upload pipeline.
//
// This file contains the requeue reaper covering queue pushes lost between
// the metadata insert and the worker pop.
package ingest

import (
	"context"
	"time"

	"github.com/benfrankstein/untxt-sub002/internal/logger"
	"github.com/benfrankstein/untxt-sub002/pkg/models"
)

// RunRequeueReaper periodically re-pushes tasks sitting in queued for longer
// than the configured threshold. At-least-once delivery makes double pushes
// harmless: the worker CAS drops duplicates.
func (s *Service) RunRequeueReaper(ctx context.Context) {
	ticker := time.NewTicker(s.config.RequeueInterval)
	defer ticker.Stop()

	logger.Info("requeue reaper started",
		"requeue_after", s.config.RequeueAfter, "interval", s.config.RequeueInterval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.requeueStuck(ctx)
		}
	}
}

func (s *Service) requeueStuck(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.config.RequeueAfter)
	stuck, err := s.store.ListStuckTasks(ctx, models.StatusQueued, cutoff)
	if err != nil {
		logger.Error("requeue reaper scan failed", "error", err)
		return
	}

	for _, task := range stuck {
		if err := s.queue.Push(ctx, task.ID); err != nil {
			logger.Warn("requeue push failed", "task_id", task.ID, "error", err)
			continue
		}
		logger.Info("requeued stuck task", "task_id", task.ID)
	}
}
