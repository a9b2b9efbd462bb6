// Package worker runs background media cleanup jobs off the Redis queue.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/metinemredonmez/podcast-app-sub001/pkg/queue"
	"github.com/metinemredonmez/podcast-app-sub001/pkg/storage"
)

// MediaProcessor executes media cleanup jobs: purging a finished session's
// live segments from object storage once its recording is archived.
type MediaProcessor struct {
	store  storage.ObjectStore
	queue  *queue.Queue
	logger *zap.Logger
}

// NewMediaProcessor creates a media cleanup processor.
func NewMediaProcessor(store storage.ObjectStore, q *queue.Queue, logger *zap.Logger) *MediaProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MediaProcessor{store: store, queue: q, logger: logger}
}

// Process executes one job.
func (p *MediaProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeSegmentPurge {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.SegmentPurgePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	prefix := storage.SegmentPrefix(payload.SessionID.String())
	if err := p.store.DeletePrefix(ctx, prefix); err != nil {
		return fmt.Errorf("purge segments: %w", err)
	}
	p.logger.Info("live segments purged",
		zap.String("session_id", payload.SessionID.String()),
		zap.String("prefix", prefix))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *MediaProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("media worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
		}
	}
}
