package scraper

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/maltedev/retail-scraper/internal/metrics"
	"github.com/maltedev/retail-scraper/internal/models"
)

// Adapter supplies the shared behavior around a site Scraper: location
// validation, cleanup and the complete scrape run.
type Adapter struct {
	Scraper

	closer  io.Closer
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewAdapter wraps s. closer is released by Cleanup unless s implements
// Cleaner itself.
func NewAdapter(s Scraper, closer io.Closer, m *metrics.Metrics, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		Scraper: s,
		closer:  closer,
		metrics: m,
		logger:  logger.Named("workflow").With(zap.String("site", s.Site())),
	}
}

func (a *Adapter) ValidateLocation(ctx context.Context, expected string) bool {
	if v, ok := a.Scraper.(LocationValidator); ok {
		return v.ValidateLocation(ctx, expected)
	}
	return a.Zipcode() == expected
}

func (a *Adapter) Cleanup() error {
	if c, ok := a.Scraper.(Cleaner); ok {
		return c.Cleanup()
	}
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}

// Run performs location, search and the sequential detail fetches. It always
// returns a completed result; records gathered before a failure are kept.
func (a *Adapter) Run(ctx context.Context, req Request) *models.ScrapeResult {
	result := models.NewScrapeResult(a.Site(), req.Zipcode, req.Query)

	a.logger.Info("scrape started",
		zap.String("zipcode", req.Zipcode),
		zap.String("query", req.Query),
		zap.Int("max_results", req.MaxResults))

	err := a.run(ctx, req, result)
	result.Complete(err)

	if err != nil {
		a.logger.Error("scrape failed", zap.Error(err), zap.Int("products", result.Count()))
	} else {
		a.logger.Info("scrape completed", zap.Int("products", result.Count()))
	}
	if result.DurationSeconds != nil {
		a.metrics.ObserveRun(a.Site(), result.Success, secondsToDuration(*result.DurationSeconds))
	}
	return result
}

func (a *Adapter) run(ctx context.Context, req Request, result *models.ScrapeResult) error {
	ok, err := a.SetLocation(ctx, req.Zipcode)
	if err != nil {
		return fmt.Errorf("failed to set location: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w to %s", ErrLocationFailed, req.Zipcode)
	}
	if !a.ValidateLocation(ctx, req.Zipcode) {
		return fmt.Errorf("%w: location validation for %s", ErrLocationFailed, req.Zipcode)
	}

	urls, err := a.SearchProducts(ctx, req.Query, req.MaxResults)
	if err != nil {
		return fmt.Errorf("failed to search products: %w", err)
	}
	if len(urls) == 0 {
		a.logger.Info("no products found", zap.String("query", req.Query))
	}

	for i, u := range urls {
		if err := ctx.Err(); err != nil {
			return err
		}

		a.logger.Info("scraping product", zap.Int("n", i+1), zap.Int("of", len(urls)))
		rec, err := a.GetProductDetails(ctx, u)
		if err != nil {
			return fmt.Errorf("failed to fetch %s: %w", u, err)
		}
		result.Add(rec)
	}

	if c, ok := a.Scraper.(Completer); ok {
		c.Complete()
	}
	return nil
}
