// Package dispatcher manages worker fan-out over the run queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Lunyoo/adlibrary-crawler/internal/crawler"
	"github.com/Lunyoo/adlibrary-crawler/internal/worker"
)

// Dispatcher fans out queue work to a pool of workers. The worker count
// bounds how many async runs compete for browsing sessions at once.
type Dispatcher struct {
	queue   crawler.Queue
	workers []*worker.Worker
}

// New creates a Dispatcher.
func New(queue crawler.Queue, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// NewWithExecutor builds count workers that all feed executor. count below
// 1 becomes 1.
func NewWithExecutor(queue crawler.Queue, count int, executor worker.Executor, logger *zap.Logger) *Dispatcher {
	if count < 1 {
		count = 1
	}
	workers := make([]*worker.Worker, 0, count)
	for i := range count {
		workers = append(workers, worker.New(i+1, queue, executor, logger))
	}
	return New(queue, workers)
}

// Size returns the number of workers.
func (d *Dispatcher) Size() int {
	return len(d.workers)
}

// Run starts all workers and blocks until the context finishes and every
// worker has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
