package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	StockInStock    = "in_stock"
	StockOutOfStock = "out_of_stock"
	StockLimited    = "limited"
	StockUnknown    = "unknown"
)

// ProductRecord is the normalized result of one product detail page.
// Optional values are pointers so that absent fields serialize as null.
type ProductRecord struct {
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Site      string    `json:"site"`
	Zipcode   string    `json:"zipcode"`
	ScrapedAt time.Time `json:"scraped_at"`

	CurrentPrice    *float64 `json:"current_price"`
	OriginalPrice   *float64 `json:"original_price"`
	DiscountPercent *float64 `json:"discount_percent"`
	Currency        string   `json:"currency"`

	InStock           *bool   `json:"in_stock"`
	QuantityAvailable *int    `json:"quantity_available"`
	StockStatus       string  `json:"stock_status"`
	StockStatusText   *string `json:"stock_status_text"`

	RatingAvg     *float64 `json:"rating_avg"`
	RatingCount   *int     `json:"rating_count"`
	ReviewSummary *string  `json:"review_summary"`

	ShippingCost *float64 `json:"shipping_cost"`
	FreeShipping *bool    `json:"free_shipping"`
	DeliveryDate *string  `json:"delivery_date"`
	DeliveryDays *int     `json:"delivery_days"`

	Brand           *string           `json:"brand"`
	Model           *string           `json:"model"`
	UPC             *string           `json:"upc"`
	SKU             *string           `json:"sku"`
	Category        *string           `json:"category"`
	Description     *string           `json:"description"`
	ProductID       *string           `json:"product_id"`
	Specs           map[string]string `json:"specs"`
	ImageURLs       []string          `json:"image_urls"`
	PrimaryImageURL *string           `json:"primary_image_url"`
}

func NewProductRecord(name, url, site, zipcode string, scrapedAt time.Time) *ProductRecord {
	return &ProductRecord{
		Name:        name,
		URL:         url,
		Site:        site,
		Zipcode:     zipcode,
		ScrapedAt:   scrapedAt,
		Currency:    "USD",
		StockStatus: StockUnknown,
		Specs:       make(map[string]string),
		ImageURLs:   make([]string, 0),
	}
}

// DiscountPercent returns (original-current)/original*100 rounded to two
// decimals, or nil unless both prices are known and original > current.
func DiscountPercent(current, original *float64) *float64 {
	if current == nil || original == nil || *original <= *current || *original <= 0 {
		return nil
	}
	pct := (*original - *current) / *original * 100
	pct = math.Round(pct*100) / 100
	return &pct
}

func (p *ProductRecord) Validate() []string {
	var errors []string

	if p.Name == "" {
		errors = append(errors, "name is required")
	}
	if p.URL == "" {
		errors = append(errors, "url is required")
	}
	if p.Site == "" {
		errors = append(errors, "site is required")
	}
	if p.Zipcode == "" {
		errors = append(errors, "zipcode is required")
	}

	if p.CurrentPrice != nil && *p.CurrentPrice < 0 {
		errors = append(errors, "current price must not be negative")
	}
	if p.OriginalPrice != nil && *p.OriginalPrice < 0 {
		errors = append(errors, "original price must not be negative")
	}
	if p.ShippingCost != nil && *p.ShippingCost < 0 {
		errors = append(errors, "shipping cost must not be negative")
	}
	if p.RatingAvg != nil && (*p.RatingAvg < 0 || *p.RatingAvg > 5) {
		errors = append(errors, "rating must be between 0 and 5")
	}
	if p.RatingCount != nil && *p.RatingCount < 0 {
		errors = append(errors, "rating count must not be negative")
	}
	if p.QuantityAvailable != nil && *p.QuantityAvailable < 0 {
		errors = append(errors, "quantity must not be negative")
	}
	if p.DeliveryDays != nil && *p.DeliveryDays < 0 {
		errors = append(errors, "delivery days must not be negative")
	}

	return errors
}

func (p *ProductRecord) Valid() bool {
	return len(p.Validate()) == 0
}

func (p *ProductRecord) String() string {
	price := "N/A"
	if p.CurrentPrice != nil {
		price = fmt.Sprintf("$%.2f", *p.CurrentPrice)
	}

	stock := "Unknown"
	if p.InStock != nil {
		if *p.InStock {
			stock = "In Stock"
		} else {
			stock = "Out of Stock"
		}
	}

	name := p.Name
	if len(name) > 50 {
		name = strings.TrimSpace(name[:50]) + "..."
	}

	return fmt.Sprintf("%s - %s (%s) [%s]", name, price, stock, p.Site)
}
