package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/maltedev/retail-scraper/internal/models"
)

var ErrNotReady = errors.New("browser driver not ready")

const (
	WaitLoad             = "load"
	WaitDOMContentLoaded = "domcontentloaded"
	WaitNetworkIdle      = "networkidle"
)

const (
	EnginePlaywright = "playwright"
	EngineChromedp   = "chromedp"
)

type NavigateOptions struct {
	WaitUntil string
	Timeout   time.Duration
}

// Response is the rendered page after a navigation. StatusCode is 0 when the
// engine could not observe the main document response.
type Response struct {
	URL        string
	StatusCode int
	HTML       string
}

// Driver is a single-page browser session.
type Driver interface {
	Navigate(ctx context.Context, url string, opts NavigateOptions) (*Response, error)
	Click(ctx context.Context, selector string, timeout time.Duration) error
	Fill(ctx context.Context, selector, value string, timeout time.Duration) error
	Cookies(ctx context.Context) ([]models.Cookie, error)
	SetCookies(ctx context.Context, cookies []models.Cookie) error
	Ready() bool
	Close() error
}

// Open starts the driver for the named engine.
func Open(ctx context.Context, engine string, opts *Options, logger *zap.Logger) (Driver, error) {
	switch engine {
	case EnginePlaywright, "":
		return New(opts, logger)
	case EngineChromedp:
		return NewCDP(ctx, opts, logger)
	default:
		return nil, fmt.Errorf("unknown browser engine %q", engine)
	}
}
