package scraper

import (
	"go.uber.org/zap"

	"github.com/maltedev/retail-scraper/internal/extract"
	"github.com/maltedev/retail-scraper/internal/models"
)

const unknownZipcode = "unknown"

// ParseProduct builds a record from a product page. It returns nil only
// when no name selector matches; records failing validation are returned
// as they are.
func (s *SiteScraper) ParseProduct(html, productURL string) *models.ProductRecord {
	eng, err := extract.New(html, extract.WithLogger(s.logger))
	if err != nil {
		s.logger.Error("failed to parse product page", zap.String("url", productURL), zap.Error(err))
		return nil
	}

	sel := s.cfg.Product.Selectors

	name, ok := eng.SelectOne(sel.Name, "")
	if !ok {
		s.logger.Warn("product name not found", zap.String("url", productURL))
		return nil
	}

	zipcode := s.Zipcode()
	if zipcode == "" {
		zipcode = unknownZipcode
	}

	rec := models.NewProductRecord(name, productURL, s.name, zipcode, s.now().UTC())

	text := func(selectors []string) string {
		v, _ := eng.SelectOne(selectors, "")
		return v
	}
	optional := func(selectors []string) *string {
		if v, ok := eng.SelectOne(selectors, ""); ok {
			return &v
		}
		return nil
	}

	rec.CurrentPrice = extract.NormalizePrice(text(sel.CurrentPrice))
	rec.OriginalPrice = extract.NormalizePrice(text(sel.OriginalPrice))
	rec.DiscountPercent = models.DiscountPercent(rec.CurrentPrice, rec.OriginalPrice)

	rec.StockStatusText = optional(sel.StockStatus)
	avail := extract.ParseAvailability(rec.StockStatusText)
	rec.InStock = avail.InStock
	rec.QuantityAvailable = avail.Quantity
	rec.StockStatus = avail.Status

	rec.RatingAvg = extract.NormalizeRating(text(sel.RatingAvg))
	rec.RatingCount = extract.ParseCount(text(sel.RatingCount))
	rec.ReviewSummary = optional(sel.ReviewSummary)

	rec.ShippingCost = extract.NormalizePrice(text(sel.ShippingCost))
	free := extract.IsFreeShipping(text(sel.FreeShipping))
	rec.FreeShipping = &free
	rec.DeliveryDate = optional(sel.DeliveryDate)
	if rec.DeliveryDate != nil {
		rec.DeliveryDays = extract.ParseDeliveryDays(*rec.DeliveryDate)
	}

	rec.Brand = optional(sel.Brand)
	rec.Model = optional(sel.Model)
	rec.SKU = optional(sel.SKU)
	rec.UPC = optional(sel.UPC)
	rec.Category = optional(sel.Category)
	rec.ProductID = optional(sel.ProductID)
	rec.Description = optional(sel.Description)

	if specs := eng.ExtractTable(sel.SpecsTable); len(specs) > 0 {
		rec.Specs = specs
	}

	for _, src := range eng.SelectMany(sel.Images, "src", s.cfg.Product.MaxImages) {
		if abs, ok := s.resolve(src); ok {
			rec.ImageURLs = append(rec.ImageURLs, abs)
		}
	}
	if len(rec.ImageURLs) > 0 {
		primary := rec.ImageURLs[0]
		rec.PrimaryImageURL = &primary
	}

	if problems := rec.Validate(); len(problems) > 0 {
		s.logger.Warn("product validation failed", zap.String("url", productURL), zap.Strings("problems", problems))
	}

	return rec
}
