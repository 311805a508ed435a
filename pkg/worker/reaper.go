// Package worker implements the OCR worker pool.
//
// This file contains the processing-stuck reaper: tasks whose worker died
// mid-flight would otherwise sit in processing forever.
package worker

import (
	"context"
	"time"

	"github.com/benfrankstein/untxt-sub002/internal/logger"
	"github.com/benfrankstein/untxt-sub002/pkg/bus"
	"github.com/benfrankstein/untxt-sub002/pkg/models"
)

// RunTimeoutReaper periodically fails tasks stuck in processing longer than
// the task timeout plus a grace period. Interval zero defaults to 1 minute.
func (p *Pool) RunTimeoutReaper(ctx context.Context, interval time.Duration) {
	if interval == 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("processing timeout reaper started",
		"task_timeout", p.config.TaskTimeout, "interval", interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.reapStuckProcessing(ctx)
		}
	}
}

func (p *Pool) reapStuckProcessing(ctx context.Context) {
	// Grace period past the in-process timeout so the reaper never races a
	// live worker's own failure handling.
	cutoff := time.Now().UTC().Add(-(p.config.TaskTimeout + time.Minute))

	stuck, err := p.store.ListStuckTasks(ctx, models.StatusProcessing, cutoff)
	if err != nil {
		logger.Error("timeout reaper scan failed", "error", err)
		return
	}

	for _, task := range stuck {
		err := p.store.TransitionTask(ctx, task.ID,
			models.StatusProcessing, models.StatusFailed, "", "Timeout")
		if err != nil {
			// Someone else already moved it.
			logger.Debug("timeout reaper lost race", "task_id", task.ID, "error", err)
			continue
		}

		logger.Warn("reaped stuck processing task",
			"task_id", task.ID, "worker_id", task.WorkerID)

		if perr := p.publisher.PublishTaskUpdate(ctx, &bus.TaskUpdate{
			TaskID:       task.ID,
			OwnerID:      task.OwnerID,
			Status:       models.StatusFailed,
			ErrorMessage: "Timeout",
		}); perr != nil {
			logger.Warn("failed to publish reaped task update", "task_id", task.ID, "error", perr)
		}
		if merr := p.mirror.IncrFailed(ctx); merr != nil {
			logger.Warn("stats counter update failed", "error", merr)
		}
	}
}
