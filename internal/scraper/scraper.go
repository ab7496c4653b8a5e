package scraper

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/maltedev/retail-scraper/internal/browser"
	"github.com/maltedev/retail-scraper/internal/cache"
	"github.com/maltedev/retail-scraper/internal/metrics"
	"github.com/maltedev/retail-scraper/internal/models"
	"github.com/maltedev/retail-scraper/internal/session"
)

var (
	ErrDriverNotReady   = errors.New("browser driver not ready")
	ErrLocationNotSet   = errors.New("location not set")
	ErrLocationFailed   = errors.New("failed to set location")
	ErrRateLimited      = errors.New("rate limited by site")
	ErrUnexpectedStatus = errors.New("unexpected HTTP status")
)

const DefaultMaxResults = 20

// Scraper is the per-site workflow. The error results are reserved for
// conditions that make the rest of the run pointless: a missing driver, a
// search before the location is set, or ctx ending. Everything else is
// reported as false, an empty slice or a nil record.
type Scraper interface {
	Site() string
	Zipcode() string
	SetLocation(ctx context.Context, zipcode string) (bool, error)
	SearchProducts(ctx context.Context, query string, maxResults int) ([]string, error)
	GetProductDetails(ctx context.Context, url string) (*models.ProductRecord, error)
	ParseProduct(html, url string) *models.ProductRecord
}

// LocationValidator overrides the default zipcode comparison of the Adapter.
type LocationValidator interface {
	ValidateLocation(ctx context.Context, expected string) bool
}

// Cleaner overrides the default driver shutdown of the Adapter.
type Cleaner interface {
	Cleanup() error
}

// Completer is notified when a run has processed every URL.
type Completer interface {
	Complete()
}

// RateGovernor is the admission control a scraper needs.
type RateGovernor interface {
	Acquire(ctx context.Context, site string) error
	TriggerBackoff(site string)
	ResetBackoff(site string)
}

// Deps are the shared components a scraper is built from. Only Driver is
// required.
type Deps struct {
	Driver   browser.Driver
	Governor RateGovernor
	Sessions session.Store
	Pages    *cache.Pages
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
	Clock    func() time.Time
	Sleep    func(ctx context.Context, d time.Duration) error
}

type Request struct {
	Zipcode    string `json:"zipcode"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type State int

const (
	StateIdle State = iota
	StateLocationPending
	StateLocationSet
	StateSearching
	StateFetchingDetail
	StateDone
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLocationPending:
		return "location_pending"
	case StateLocationSet:
		return "location_set"
	case StateSearching:
		return "searching"
	case StateFetchingDetail:
		return "fetching_detail"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
