// Package storage writes completed scrape results to their destinations.
package storage

import (
	"context"
	"errors"

	"github.com/maltedev/retail-scraper/internal/models"
)

// Sink receives every completed ScrapeResult.
type Sink interface {
	Write(ctx context.Context, result *models.ScrapeResult) error
}

// Multi writes to every sink, in order, and joins their errors.
type Multi []Sink

func (m Multi) Write(ctx context.Context, result *models.ScrapeResult) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
