package scraper

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/maltedev/retail-scraper/internal/config"
)

// Cookies walmart.com uses to remember the shopper's delivery location.
var walmartLocationCookies = []string{"locDataV3", "locGuestData", "location-data", "assortmentStoreId"}

// Walmart is the configuration-driven scraper with a cookie check on top of
// the zipcode comparison.
type Walmart struct {
	*SiteScraper
}

func NewWalmart(cfg *config.Site, deps Deps) Scraper {
	return &Walmart{SiteScraper: NewSiteScraper(cfg, deps)}
}

// ValidateLocation trusts the location cookies when walmart.com set any,
// and the zipcode the workflow recorded otherwise.
func (w *Walmart) ValidateLocation(ctx context.Context, expected string) bool {
	if w.Zipcode() != expected {
		return false
	}

	cookies, err := w.driver.Cookies(ctx)
	if err != nil {
		w.logger.Warn("could not read cookies to validate location", zap.Error(err))
		return true
	}

	found := false
	for _, c := range cookies {
		for _, name := range walmartLocationCookies {
			if c.Name != name {
				continue
			}
			found = true
			if strings.Contains(c.Value, expected) {
				return true
			}
		}
	}
	if found {
		w.logger.Warn("location cookies do not mention zipcode", zap.String("zipcode", expected))
	}
	return !found
}
