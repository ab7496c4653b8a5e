package jobs

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/maltedev/retail-scraper/internal/queue"
	"github.com/maltedev/retail-scraper/internal/scraper"
)

// StartWorkers runs n workers until ctx is done or the queue is closed and
// drained.
func (m *Manager) StartWorkers(ctx context.Context, n int) {
	if n < 1 {
		n = 1
	}
	m.logger.Info("job workers started", zap.Int("workers", n))

	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			m.work(ctx, i)
			return nil
		})
	}
	_ = g.Wait()

	m.logger.Info("job workers stopped")
}

func (m *Manager) work(ctx context.Context, worker int) {
	for {
		task, err := m.queue.Pop(ctx)
		if err != nil {
			if !errors.Is(err, queue.ErrQueueClosed) && ctx.Err() == nil {
				m.logger.Error("failed to pop task", zap.Int("worker", worker), zap.Error(err))
			}
			return
		}
		m.processJob(ctx, task)
	}
}

// processJob runs a single job and stores its result.
func (m *Manager) processJob(ctx context.Context, task *queue.Task) {
	started := m.now()
	m.update(task.ID, func(j *Job) {
		j.Status = StatusRunning
		j.StartedAt = &started
	})
	m.logger.Info("processing job", zap.String("id", task.ID), zap.String("site", task.Site))

	result := scraper.RunJob(ctx, scraper.Job{
		Site: task.Site,
		Request: scraper.Request{
			Zipcode:    task.Zipcode,
			Query:      task.Query,
			MaxResults: task.MaxResults,
		},
	}, m.build, m.logger)

	if m.sink != nil {
		if err := m.sink.Write(ctx, result); err != nil {
			m.logger.Error("failed to store result", zap.String("id", task.ID), zap.Error(err))
		}
	}

	completed := m.now()
	m.update(task.ID, func(j *Job) {
		j.CompletedAt = &completed
		j.ProductsFound = result.ProductsFound
		j.Result = result
		if result.Success {
			j.Status = StatusCompleted
		} else {
			j.Status = StatusFailed
			j.Error = result.Error
		}
	})

	if result.Success {
		m.logger.Info("job completed", zap.String("id", task.ID), zap.Int("products", result.ProductsFound))
	} else {
		m.logger.Error("job failed", zap.String("id", task.ID), zap.String("error", result.Error))
	}
}
