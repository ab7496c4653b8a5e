package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/maltedev/retail-scraper/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS scrape_runs (
	id             TEXT PRIMARY KEY,
	site           TEXT NOT NULL,
	zipcode        TEXT NOT NULL,
	query          TEXT NOT NULL,
	success        INTEGER NOT NULL,
	error          TEXT,
	products_found INTEGER NOT NULL,
	started_at     DATETIME NOT NULL,
	completed_at   DATETIME
);

CREATE TABLE IF NOT EXISTS product_records (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id             TEXT NOT NULL REFERENCES scrape_runs(id),
	position           INTEGER NOT NULL,
	site               TEXT NOT NULL,
	zipcode            TEXT NOT NULL,
	name               TEXT NOT NULL,
	url                TEXT NOT NULL,
	scraped_at         DATETIME NOT NULL,
	current_price      REAL,
	original_price     REAL,
	discount_percent   REAL,
	currency           TEXT NOT NULL,
	in_stock           INTEGER,
	quantity_available INTEGER,
	stock_status       TEXT NOT NULL,
	rating_avg         REAL,
	rating_count       INTEGER,
	free_shipping      INTEGER,
	delivery_date      TEXT,
	brand              TEXT,
	model              TEXT,
	sku                TEXT,
	upc                TEXT,
	category           TEXT,
	specs              TEXT,
	image_urls         TEXT,
	data               TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_product_records_run_id ON product_records(run_id);
CREATE INDEX IF NOT EXISTS idx_product_records_site_zipcode ON product_records(site, zipcode);
`

// SQLite stores runs and their records in a local database file.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(ctx context.Context, dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: exec %s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Write(ctx context.Context, result *models.ScrapeResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO scrape_runs (id, site, zipcode, query, success, error, products_found, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.ID, result.Site, result.Zipcode, result.Query, result.Success,
		nullString(result.Error), result.ProductsFound, result.StartedAt.UTC(), utcPtr(result.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert run %s: %w", result.ID, err)
	}

	for i, p := range result.Products {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("sqlite: marshal product: %w", err)
		}
		specs, _ := json.Marshal(p.Specs)
		images, _ := json.Marshal(p.ImageURLs)

		_, err = tx.ExecContext(ctx,
			`INSERT INTO product_records (run_id, position, site, zipcode, name, url, scraped_at,
				current_price, original_price, discount_percent, currency, in_stock, quantity_available,
				stock_status, rating_avg, rating_count, free_shipping, delivery_date, brand, model, sku,
				upc, category, specs, image_urls, data)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			result.ID, i, p.Site, p.Zipcode, p.Name, p.URL, p.ScrapedAt.UTC(),
			p.CurrentPrice, p.OriginalPrice, p.DiscountPercent, p.Currency, p.InStock, p.QuantityAvailable,
			p.StockStatus, p.RatingAvg, p.RatingCount, p.FreeShipping, p.DeliveryDate, p.Brand, p.Model, p.SKU,
			p.UPC, p.Category, string(specs), string(images), string(data),
		)
		if err != nil {
			return fmt.Errorf("sqlite: insert product %s: %w", p.URL, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

// Run loads a stored result with its products in discovery order.
func (s *SQLite) Run(ctx context.Context, id string) (*models.ScrapeResult, error) {
	var (
		r           models.ScrapeResult
		errText     sql.NullString
		completedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, site, zipcode, query, success, error, products_found, started_at, completed_at
		 FROM scrape_runs WHERE id = ?`, id,
	).Scan(&r.ID, &r.Site, &r.Zipcode, &r.Query, &r.Success, &errText, &r.ProductsFound, &r.StartedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get run %s: %w", id, err)
	}
	r.Error = errText.String
	if completedAt.Valid {
		r.CompletedAt = &completedAt.Time
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM product_records WHERE run_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list products %s: %w", id, err)
	}
	defer rows.Close()

	r.Products = make([]*models.ProductRecord, 0, r.ProductsFound)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("sqlite: scan product: %w", err)
		}
		var p models.ProductRecord
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, fmt.Errorf("sqlite: decode product: %w", err)
		}
		r.Products = append(r.Products, &p)
	}
	return &r, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func utcPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
