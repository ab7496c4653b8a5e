// Package session caches the cookies that pin a browser to a delivery
// location, keyed by (site, zipcode).
package session

import (
	"context"
	"time"

	"github.com/maltedev/retail-scraper/internal/models"
)

const (
	FormatVersion = "1.0"
	DefaultMaxAge = 24 * time.Hour
)

// Record is the persisted form of one location session.
type Record struct {
	Site      string          `json:"site"`
	Zipcode   string          `json:"zipcode"`
	Cookies   []models.Cookie `json:"cookies"`
	Metadata  map[string]any  `json:"metadata"`
	CreatedAt time.Time       `json:"created_at"`
	Version   string          `json:"version"`
}

// Info summarizes a stored record for listings.
type Info struct {
	Site      string    `json:"site"`
	Zipcode   string    `json:"zipcode"`
	CreatedAt time.Time `json:"created_at"`
	Valid     bool      `json:"valid"`
}

// Store persists location sessions. Load returns (nil, nil) when no valid
// record exists, deleting expired ones on the way.
type Store interface {
	Save(ctx context.Context, site, zipcode string, cookies []models.Cookie, metadata map[string]any) error
	Load(ctx context.Context, site, zipcode string) (*Record, error)
	IsValid(r *Record) bool
	Delete(ctx context.Context, site, zipcode string) (bool, error)
	List(ctx context.Context, site string) ([]Info, error)
	PurgeExpired(ctx context.Context) (int, error)
	ClearAll(ctx context.Context, site string) (int, error)
}

// expiry holds the validity rule shared by all backends.
type expiry struct {
	maxAge time.Duration
	now    func() time.Time
}

func newExpiry(maxAge time.Duration) expiry {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return expiry{maxAge: maxAge, now: time.Now}
}

func (e expiry) valid(r *Record) bool {
	if r == nil || r.CreatedAt.IsZero() {
		return false
	}
	return e.now().Sub(r.CreatedAt) < e.maxAge
}

func (e expiry) newRecord(site, zipcode string, cookies []models.Cookie, metadata map[string]any) *Record {
	if cookies == nil {
		cookies = []models.Cookie{}
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &Record{
		Site:      site,
		Zipcode:   zipcode,
		Cookies:   cookies,
		Metadata:  metadata,
		CreatedAt: e.now().UTC(),
		Version:   FormatVersion,
	}
}
