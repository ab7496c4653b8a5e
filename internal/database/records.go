package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/maltedev/retail-scraper/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS scrape_runs (
	id             UUID PRIMARY KEY,
	site           TEXT NOT NULL,
	zipcode        TEXT NOT NULL,
	query          TEXT NOT NULL,
	success        BOOLEAN NOT NULL,
	error          TEXT,
	products_found INTEGER NOT NULL,
	started_at     TIMESTAMPTZ NOT NULL,
	completed_at   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS product_records (
	id                 BIGSERIAL PRIMARY KEY,
	run_id             UUID NOT NULL REFERENCES scrape_runs(id) ON DELETE CASCADE,
	position           INTEGER NOT NULL,
	site               TEXT NOT NULL,
	zipcode            TEXT NOT NULL,
	name               TEXT NOT NULL,
	url                TEXT NOT NULL,
	scraped_at         TIMESTAMPTZ NOT NULL,
	current_price      NUMERIC(12,2),
	original_price     NUMERIC(12,2),
	discount_percent   NUMERIC(5,2),
	currency           TEXT NOT NULL,
	in_stock           BOOLEAN,
	quantity_available INTEGER,
	stock_status       TEXT NOT NULL,
	rating_avg         NUMERIC(3,2),
	rating_count       INTEGER,
	free_shipping      BOOLEAN,
	delivery_date      TEXT,
	brand              TEXT,
	model              TEXT,
	sku                TEXT,
	upc                TEXT,
	category           TEXT,
	specs              JSONB,
	image_urls         JSONB,
	data               JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_product_records_site_zipcode ON product_records(site, zipcode);
CREATE INDEX IF NOT EXISTS idx_product_records_url ON product_records(url);
`

const (
	insertRun = `INSERT INTO scrape_runs (id, site, zipcode, query, success, error, products_found, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9)`

	insertProduct = `INSERT INTO product_records (run_id, position, site, zipcode, name, url, scraped_at,
		current_price, original_price, discount_percent, currency, in_stock, quantity_available, stock_status,
		rating_avg, rating_count, free_shipping, delivery_date, brand, model, sku, upc, category,
		specs, image_urls, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
		$21, $22, $23, $24, $25, $26)`
)

// RecordStore writes each run and its product records in one transaction.
type RecordStore struct {
	db *DB
}

func NewRecordStore(db *DB) *RecordStore {
	return &RecordStore{db: db}
}

func (s *RecordStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *RecordStore) Write(ctx context.Context, result *models.ScrapeResult) error {
	return s.db.Transaction(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, insertRun,
			result.ID, result.Site, result.Zipcode, result.Query, result.Success,
			result.Error, result.ProductsFound, result.StartedAt, result.CompletedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert run %s: %w", result.ID, err)
		}

		for i, p := range result.Products {
			data, err := json.Marshal(p)
			if err != nil {
				return fmt.Errorf("failed to marshal product: %w", err)
			}
			specs, _ := json.Marshal(p.Specs)
			images, _ := json.Marshal(p.ImageURLs)

			_, err = tx.Exec(ctx, insertProduct,
				result.ID, i, p.Site, p.Zipcode, p.Name, p.URL, p.ScrapedAt,
				p.CurrentPrice, p.OriginalPrice, p.DiscountPercent, p.Currency, p.InStock, p.QuantityAvailable, p.StockStatus,
				p.RatingAvg, p.RatingCount, p.FreeShipping, p.DeliveryDate, p.Brand, p.Model, p.SKU, p.UPC, p.Category,
				specs, images, data,
			)
			if err != nil {
				return fmt.Errorf("failed to insert product %s: %w", p.URL, err)
			}
		}
		return nil
	})
}

// ProductCount reports how many records were stored for a site and zipcode.
func (s *RecordStore) ProductCount(ctx context.Context, site, zipcode string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM product_records WHERE site = $1 AND zipcode = $2`,
		site, zipcode,
	).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count products: %w", err)
	}
	return n, nil
}
