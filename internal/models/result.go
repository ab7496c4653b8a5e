package models

import (
	"time"

	"github.com/google/uuid"
)

// ScrapeResult describes one (site, zipcode, query) run.
type ScrapeResult struct {
	ID              string           `json:"id"`
	Site            string           `json:"site"`
	Zipcode         string           `json:"zipcode"`
	Query           string           `json:"query"`
	Products        []*ProductRecord `json:"products"`
	Success         bool             `json:"success"`
	Error           string           `json:"error,omitempty"`
	StartedAt       time.Time        `json:"started_at"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
	DurationSeconds *float64         `json:"duration_seconds,omitempty"`
	ProductsFound   int              `json:"products_found"`
}

func NewScrapeResult(site, zipcode, query string) *ScrapeResult {
	return &ScrapeResult{
		ID:        uuid.New().String(),
		Site:      site,
		Zipcode:   zipcode,
		Query:     query,
		Products:  make([]*ProductRecord, 0),
		StartedAt: time.Now(),
	}
}

func (r *ScrapeResult) Add(p *ProductRecord) {
	if p == nil {
		return
	}
	r.Products = append(r.Products, p)
	r.ProductsFound = len(r.Products)
}

// Complete stamps the end of the run. A nil err marks the run successful.
func (r *ScrapeResult) Complete(err error) {
	now := time.Now()
	r.CompletedAt = &now

	d := now.Sub(r.StartedAt).Seconds()
	r.DurationSeconds = &d

	r.Success = err == nil
	if err != nil {
		r.Error = err.Error()
	}
	r.ProductsFound = len(r.Products)
}

func (r *ScrapeResult) Count() int {
	return len(r.Products)
}

// Cookie mirrors the browser cookie shape shared by drivers and session stores.
// Expires is seconds since the epoch, -1 for session cookies.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}
