// Package dispatcher manages worker fan-out over the run queue.
package dispatcher

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/scrapeworks/harvester/internal/scrape"
)

// Runner executes one reserved job through its full lifecycle.
type Runner interface {
	Run(ctx context.Context, job scrape.Job) error
}

// Dispatcher fans queued jobs out to a fixed pool of run workers.
type Dispatcher struct {
	queue   scrape.Queue
	runner  Runner
	workers int
	logger  *zap.Logger
}

// New creates a Dispatcher with at least one worker.
func New(queue scrape.Queue, runner Runner, workers int, logger *zap.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		queue:   queue,
		runner:  runner,
		workers: workers,
		logger:  logger,
	}
}

// Run starts the worker pool and blocks until the context finishes and all
// in-flight jobs have drained.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			d.work(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (d *Dispatcher) work(ctx context.Context, id int) {
	logger := d.logger.With(zap.Int("worker", id))
	for {
		item, err := d.queue.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				logger.Warn("dequeue failed", zap.Error(err))
			}
			return
		}
		logger.Info("running job",
			zap.String("job_id", item.Job.ID),
			zap.String("owner_id", item.Job.OwnerID),
		)
		if err := d.runner.Run(ctx, item.Job); err != nil {
			logger.Error("job run failed",
				zap.String("job_id", item.Job.ID),
				zap.Error(err),
			)
		}
	}
}
