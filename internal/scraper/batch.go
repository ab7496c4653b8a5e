package scraper

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/maltedev/retail-scraper/internal/models"
)

// Job is one independent run, usually one per site.
type Job struct {
	Site    string
	Request Request
}

// BuildFunc opens a scraper, with its own browser, for site.
type BuildFunc func(ctx context.Context, site string) (*Adapter, error)

// RunAll executes jobs with at most limit running at once and returns the
// results in job order. Per-site pacing is left to the governor.
func RunAll(ctx context.Context, jobs []Job, limit int, build BuildFunc, logger *zap.Logger) []*models.ScrapeResult {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limit < 1 {
		limit = 1
	}

	results := make([]*models.ScrapeResult, len(jobs))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, job := range jobs {
		g.Go(func() error {
			results[i] = RunJob(ctx, job, build, logger)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// RunJob builds a scraper for job.Site, runs it and always cleans it up.
// Build failures come back as a failed result.
func RunJob(ctx context.Context, job Job, build BuildFunc, logger *zap.Logger) *models.ScrapeResult {
	a, err := build(ctx, job.Site)
	if err != nil {
		logger.Error("failed to build scraper", zap.String("site", job.Site), zap.Error(err))
		result := models.NewScrapeResult(job.Site, job.Request.Zipcode, job.Request.Query)
		result.Complete(fmt.Errorf("failed to build scraper: %w", err))
		return result
	}
	defer func() {
		if err := a.Cleanup(); err != nil {
			logger.Warn("cleanup failed", zap.String("site", job.Site), zap.Error(err))
		}
	}()

	return a.Run(ctx, job.Request)
}
