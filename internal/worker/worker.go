// Package worker implements the loop that claims queued runs and executes
// them.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Lunyoo/adlibrary-crawler/internal/crawler"
	queuemem "github.com/Lunyoo/adlibrary-crawler/internal/queue/memory"
)

// Executor runs one dequeued item to a terminal state;
// *orchestrator.Orchestrator satisfies it.
type Executor interface {
	Execute(ctx context.Context, item crawler.QueueItem) error
}

// Worker consumes queue items and hands them to the executor one at a time.
type Worker struct {
	id       int
	queue    crawler.Queue
	executor Executor
	logger   *zap.Logger
}

// New constructs a Worker.
func New(id int, queue crawler.Queue, executor Executor, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:       id,
		queue:    queue,
		executor: executor,
		logger:   logger.With(zap.Int("worker", id)),
	}
}

// Run blocks, consuming queue items until the context finishes or the
// queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queuemem.ErrClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued run",
			zap.String("run_id", item.RunID),
			zap.Duration("waited", time.Since(item.Submitted)),
		)
		w.process(ctx, item)
	}
}

func (w *Worker) process(ctx context.Context, item crawler.QueueItem) {
	if w.executor == nil {
		w.logger.Error("no executor configured", zap.String("run_id", item.RunID))
		return
	}
	start := time.Now()
	if err := w.executor.Execute(ctx, item); err != nil {
		// The executor has already recorded the failure on the run.
		w.logger.Warn("run ended with error",
			zap.String("run_id", item.RunID),
			zap.Duration("dur", time.Since(start)),
			zap.Error(err),
		)
		return
	}
	w.logger.Debug("run processed", zap.String("run_id", item.RunID), zap.Duration("dur", time.Since(start)))
}
